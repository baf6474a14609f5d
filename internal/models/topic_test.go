package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTopicKey(t *testing.T) {
	tests := []struct {
		name string
		a, b Topic
		same bool
	}{
		{
			name: "case and whitespace do not matter",
			a:    Topic{Title: "Ankle  Sprain", Language: "ko"},
			b:    Topic{Title: " ankle sprain ", Language: "KO"},
			same: true,
		},
		{
			name: "language is part of the key",
			a:    Topic{Title: "ankle sprain", Language: "ko"},
			b:    Topic{Title: "ankle sprain", Language: "en"},
			same: false,
		},
		{
			name: "queries and focus are not part of the key",
			a:    Topic{Title: "ankle sprain", Language: "ko", Queries: []string{"cause"}},
			b:    Topic{Title: "ankle sprain", Language: "ko", Focus: "rehab"},
			same: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.same, tt.a.Key() == tt.b.Key())
		})
	}
}

func TestTopicRemoteNameAndFileStem(t *testing.T) {
	topic := Topic{Title: "ankle  sprain / rehab", Language: "ko"}

	assert.Equal(t, "ankle sprain / rehab (ko)", topic.RemoteName())
	assert.Equal(t, "ankle_sprain___rehab_ko", topic.FileStem())
}

func TestStateTransitions(t *testing.T) {
	// Walking NextStage/Target from INIT visits every stage in order and ends at CONVERTED
	state := StateInit
	var visited []Stage
	for {
		stage, ok := state.NextStage()
		if !ok {
			break
		}
		visited = append(visited, stage)
		state = stage.Target()
	}

	assert.Equal(t, Stages(), visited)
	assert.Equal(t, StateConverted, state)

	_, ok := StateDone.NextStage()
	assert.False(t, ok)
	assert.True(t, StateDone.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateRecovering.IsTerminal())
}

func TestStageExclusive(t *testing.T) {
	for _, stage := range Stages() {
		want := stage == StageExport || stage == StageConvert
		assert.Equal(t, want, stage.Exclusive(), string(stage))
	}
}

func TestLookupDesign(t *testing.T) {
	tests := []struct {
		design string
		slug   string
		found  bool
	}{
		{"3", "medical-care", true},
		{"Medical-Care", "medical-care", true},
		{" 클레이 3D ", "clay-3d", true},
		{"10", "", false},
		{"neon-vapor", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.design, func(t *testing.T) {
			preset, ok := LookupDesign(tt.design)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.slug, preset.Slug)
		})
	}
}

func TestTopicDesignFocus(t *testing.T) {
	infographic, _ := LookupDesign("infographic")

	assert.Equal(t, "return to sport", Topic{Focus: "return to sport"}.DesignFocus())
	assert.Equal(t, infographic.Prompt(), Topic{Design: "6"}.DesignFocus())
	assert.Equal(t, infographic.Prompt()+"\n\nFocus: return to sport",
		Topic{Design: "infographic", Focus: " return to sport "}.DesignFocus())
	assert.Contains(t, infographic.Prompt(), "인포그래픽")
}
