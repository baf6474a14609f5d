package nlm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Studio generation states reported by "studio status"
const (
	StudioCompleted  = "completed"
	StudioInProgress = "in_progress"
	StudioFailed     = "failed"
	StudioUnknown    = "unknown"

	artifactSlideDeck = "slide_deck"
)

// Notebook is one entry of "list notebooks"
type Notebook struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// StudioArtifact is one generated artifact of a notebook
type StudioArtifact struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Status string `json:"status"`
	Title  string `json:"title,omitempty"`
}

// StudioStatus is the parsed "studio status" output
type StudioStatus struct {
	Status    string
	Artifacts []StudioArtifact
}

// SlideDecks returns the slide deck artifacts
func (s StudioStatus) SlideDecks() []StudioArtifact {
	var decks []StudioArtifact
	for _, a := range s.Artifacts {
		if a.Type == artifactSlideDeck {
			decks = append(decks, a)
		}
	}
	return decks
}

var importedPattern = regexp.MustCompile(`Imported\s+(\d+)\s+source`)

// CheckSession reports whether the stored CLI session is valid
func (c *Client) CheckSession(ctx context.Context) (bool, error) {
	stdout, err := c.run(ctx, c.callTimeout, "login", "--check")
	if err != nil {
		var cerr *CommandError
		if errors.Is(err, ErrAuthExpired) || (errors.As(err, &cerr) && cerr.ExitCode > 0) {
			return false, nil
		}
		return false, err
	}

	lower := strings.ToLower(stdout)
	if strings.Contains(lower, "invalid") || strings.Contains(lower, "expired") {
		return false, nil
	}
	return strings.Contains(lower, "valid"), nil
}

// Login runs the interactive login flow
func (c *Client) Login(ctx context.Context) error {
	if _, err := c.run(ctx, c.loginTimeout, "login"); err != nil {
		return fmt.Errorf("nlm login: %w", err)
	}
	return nil
}

// ListNotebooks returns every notebook of the account
func (c *Client) ListNotebooks(ctx context.Context) ([]Notebook, error) {
	stdout, err := c.run(ctx, c.callTimeout, "list", "notebooks")
	if err != nil {
		return nil, err
	}

	var notebooks []Notebook
	if err := json.Unmarshal([]byte(stdout), &notebooks); err != nil {
		return nil, fmt.Errorf("%w: list notebooks: %v", ErrUnexpectedOutput, err)
	}
	return notebooks, nil
}

// CreateNotebook creates a notebook and returns its ID
func (c *Client) CreateNotebook(ctx context.Context, title string) (string, error) {
	stdout, err := c.run(ctx, c.callTimeout, "notebook", "create", title)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if json.Unmarshal([]byte(stdout), &created) == nil && created.ID != "" {
		return created.ID, nil
	}
	if id := fieldValue(stdout, "id"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: notebook create printed no id", ErrUnexpectedOutput)
}

// StartResearch starts a research task and returns its task ID
func (c *Client) StartResearch(ctx context.Context, notebookID, query, mode string) (string, error) {
	stdout, err := c.run(ctx, c.callTimeout, "research", "start", query, "--notebook-id", notebookID, "--mode", mode)
	if err != nil {
		return "", err
	}
	if id := afterMarker(stdout, "Task ID:"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: research start printed no task id", ErrUnexpectedOutput)
}

// ResearchCompleted reports whether the notebook's research task finished
func (c *Client) ResearchCompleted(ctx context.Context, notebookID string) (bool, error) {
	stdout, err := c.run(ctx, c.callTimeout, "research", "status", notebookID)
	if err != nil {
		return false, err
	}
	return strings.Contains(strings.ToLower(stdout), "completed"), nil
}

// ImportResearch imports a finished research task and returns the number of sources added
func (c *Client) ImportResearch(ctx context.Context, notebookID, taskID string) (int, error) {
	stdout, err := c.run(ctx, c.callTimeout, "research", "import", notebookID, taskID)
	if err != nil {
		return 0, err
	}
	if m := importedPattern.FindStringSubmatch(stdout); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n, nil
	}
	return 0, nil
}

// CreateSlides starts slide deck generation and returns the artifact ID
func (c *Client) CreateSlides(ctx context.Context, notebookID, language, focus string) (string, error) {
	args := []string{"slides", "create", notebookID, "--language", language, "--confirm"}
	if focus != "" {
		args = append(args, "--focus", focus)
	}

	stdout, err := c.run(ctx, c.callTimeout, args...)
	if err != nil {
		return "", err
	}
	if id := afterMarker(stdout, "Artifact ID:"); id != "" {
		return id, nil
	}
	return "", fmt.Errorf("%w: slides create printed no artifact id", ErrUnexpectedOutput)
}

// StudioStatus returns the notebook's generation state
func (c *Client) StudioStatus(ctx context.Context, notebookID string) (StudioStatus, error) {
	stdout, err := c.run(ctx, c.callTimeout, "studio", "status", notebookID)
	if err != nil {
		return StudioStatus{Status: StudioUnknown}, err
	}
	return parseStudioStatus(stdout), nil
}

// DownloadSlideDeck writes the notebook's slide deck PDF to output
func (c *Client) DownloadSlideDeck(ctx context.Context, notebookID, output string) error {
	_, err := c.run(ctx, 0, "download", "slide-deck", notebookID, "--output", output)
	return err
}

// parseStudioStatus accepts a status object, an artifact list or plain text
func parseStudioStatus(stdout string) StudioStatus {
	trimmed := strings.TrimSpace(stdout)

	var object struct {
		Status    string           `json:"status"`
		Artifacts []StudioArtifact `json:"artifacts"`
	}
	if strings.HasPrefix(trimmed, "{") && json.Unmarshal([]byte(trimmed), &object) == nil {
		status := StudioStatus{Status: normalizeStatus(object.Status), Artifacts: object.Artifacts}
		if status.Status == StudioUnknown {
			status.Status = aggregate(status.SlideDecks())
		}
		return status
	}

	var artifacts []StudioArtifact
	if strings.HasPrefix(trimmed, "[") && json.Unmarshal([]byte(trimmed), &artifacts) == nil {
		status := StudioStatus{Artifacts: artifacts}
		status.Status = aggregate(status.SlideDecks())
		return status
	}

	lower := strings.ToLower(trimmed)
	for _, s := range []string{StudioCompleted, StudioInProgress, StudioFailed} {
		if strings.Contains(lower, `"status": "`+s+`"`) || strings.Contains(lower, "'"+s+"'") {
			return StudioStatus{Status: s}
		}
	}
	return StudioStatus{Status: StudioUnknown}
}

// aggregate is completed if any deck completed, in progress if any is running
func aggregate(decks []StudioArtifact) string {
	status := StudioUnknown
	for _, d := range decks {
		switch normalizeStatus(d.Status) {
		case StudioCompleted:
			return StudioCompleted
		case StudioInProgress:
			status = StudioInProgress
		case StudioFailed:
			if status == StudioUnknown {
				status = StudioFailed
			}
		}
	}
	return status
}

func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "completed", "complete", "done", "ready":
		return StudioCompleted
	case "in_progress", "in-progress", "running", "generating", "pending":
		return StudioInProgress
	case "failed", "error":
		return StudioFailed
	}
	return StudioUnknown
}

func afterMarker(output, marker string) string {
	for _, line := range strings.Split(output, "\n") {
		if idx := strings.Index(line, marker); idx >= 0 {
			return strings.Trim(strings.TrimSpace(line[idx+len(marker):]), `"`)
		}
	}
	return ""
}

// fieldValue reads "name: value" from line oriented output
func fieldValue(output, name string) string {
	for _, line := range strings.Split(output, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.Trim(strings.TrimSpace(key), `"`), name) {
			return strings.Trim(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(value), ",")), `"`)
		}
	}
	return ""
}
