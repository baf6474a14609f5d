package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/noterang/internal/models"
)

func writeBatch(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadTopics(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"yaml list", "topics.yaml", `
- title: Ankle sprain
  queries: [ankle sprain rehabilitation, RICE protocol]
  focus: patient education
  language: ko
- title: Plantar fasciitis
`},
		{"yaml keyed", "topics.yml", `
topics:
  - title: Ankle sprain
    queries:
      - ankle sprain rehabilitation
      - RICE protocol
    focus: patient education
    language: ko
  - title: Plantar fasciitis
`},
		{"json list", "topics.json", `[
  {"title": "Ankle sprain", "queries": ["ankle sprain rehabilitation", "RICE protocol"], "focus": "patient education", "language": "ko"},
  {"title": "Plantar fasciitis"}
]`},
		{"json keyed", "topics.json", `{"topics": [
  {"title": "Ankle sprain", "queries": ["ankle sprain rehabilitation", "RICE protocol"], "focus": "patient education", "language": "ko"},
  {"title": "Plantar fasciitis"}
]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			topics, err := loadTopics(writeBatch(t, tt.file, tt.content))
			require.NoError(t, err)
			require.Len(t, topics, 2)

			assert.Equal(t, "Ankle sprain", topics[0].Title)
			assert.Equal(t, []string{"ankle sprain rehabilitation", "RICE protocol"}, topics[0].Queries)
			assert.Equal(t, "patient education", topics[0].Focus)
			assert.Equal(t, "ko", topics[0].Language)
			assert.Equal(t, "Plantar fasciitis", topics[1].Title)
			assert.Empty(t, topics[1].Language)
		})
	}
}

func TestLoadTopics_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"empty", "topics.yaml", "  \n"},
		{"unknown yaml field", "topics.yaml", "- title: Ankle sprain\n  lang: ko\n"},
		{"unknown json field", "topics.json", `[{"title": "Ankle sprain", "lang": "ko"}]`},
		{"malformed json", "topics.json", `[{"title": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadTopics(writeBatch(t, tt.file, tt.content))
			assert.Error(t, err)
		})
	}

	_, err := loadTopics(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadTopics_Design(t *testing.T) {
	topics, err := loadTopics(writeBatch(t, "topics.yaml", "- title: Ankle sprain\n  design: medical-care\n  focus: return to sport\n"))
	require.NoError(t, err)
	require.Len(t, topics, 1)
	assert.Equal(t, "medical-care", topics[0].Design)
	assert.Contains(t, topics[0].DesignFocus(), "메디컬 케어")
}

func TestPrintDesigns(t *testing.T) {
	var out bytes.Buffer
	printDesigns(&out)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, len(models.DesignPresets)+1)
	assert.Contains(t, lines[1], "minimal-zen")
	assert.Contains(t, lines[9], "dark-mode")
}
