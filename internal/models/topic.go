package models

import (
	"fmt"
	"strings"
)

// TopicKey is the dedup key of a Topic: normalized title plus language tag
type TopicKey string

// Topic is the unit of work
type Topic struct {
	Title    string   `json:"title" yaml:"title" validate:"required"`
	Queries  []string `json:"queries" yaml:"queries" validate:"dive,required"`
	Focus    string   `json:"focus,omitempty" yaml:"focus,omitempty"`
	Language string   `json:"language,omitempty" yaml:"language,omitempty"`
	Design   string   `json:"design,omitempty" yaml:"design,omitempty"` // preset ID, slug or name; see LookupDesign
}

// Key returns the stable identity of the topic.
// Title case and inner whitespace do not affect the key.
func (t Topic) Key() TopicKey {
	title := strings.ToLower(strings.Join(strings.Fields(t.Title), " "))
	return TopicKey(title + "|" + strings.ToLower(strings.TrimSpace(t.Language)))
}

// DesignFocus is the focus prompt sent with slide generation: the design
// preset prompt followed by the topic focus. Without a known design it is
// the focus alone.
func (t Topic) DesignFocus() string {
	preset, ok := LookupDesign(t.Design)
	if !ok {
		return t.Focus
	}
	focus := strings.TrimSpace(t.Focus)
	if focus == "" {
		return preset.Prompt()
	}
	return preset.Prompt() + "\n\nFocus: " + focus
}

// RemoteName is the name of the remote resource backing the topic.
// It carries the language so each key maps to one remote resource.
func (t Topic) RemoteName() string {
	return fmt.Sprintf("%s (%s)", strings.Join(strings.Fields(t.Title), " "), strings.ToLower(strings.TrimSpace(t.Language)))
}

// FileStem is a filesystem-safe base name for the topic's output files
func (t Topic) FileStem() string {
	var b strings.Builder
	for _, r := range t.RemoteName() {
		switch {
		case r == '/' || r == '\\' || r == ':' || r == '*' || r == '?' || r == '"' || r == '<' || r == '>' || r == '|':
			b.WriteRune('_')
		case r == ' ':
			b.WriteRune('_')
		case r == '(' || r == ')':
			// dropped
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
