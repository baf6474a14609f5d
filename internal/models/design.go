package models

import (
	"fmt"
	"strconv"
	"strings"
)

// DesignPreset is a named slide style applied through the generation focus prompt
type DesignPreset struct {
	ID          int    `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Category    string `json:"category"`
	Description string `json:"description"`
}

// DesignPresets is the built-in style catalogue, ordered by ID
var DesignPresets = []DesignPreset{
	{ID: 1, Slug: "minimal-zen", Name: "미니멀 젠", Category: "심플", Description: "Clean, minimal base style"},
	{ID: 2, Slug: "clay-3d", Name: "클레이 3D", Category: "카툰", Description: "Soft 3D clay illustrations"},
	{ID: 3, Slug: "medical-care", Name: "메디컬 케어", Category: "비즈니스", Description: "Medical and healthcare professional style"},
	{ID: 4, Slug: "science-lab", Name: "사이언스 랩", Category: "학술", Description: "Science and research style"},
	{ID: 5, Slug: "academic-paper", Name: "학술 논문", Category: "학술", Description: "Academic presentation style"},
	{ID: 6, Slug: "infographic", Name: "인포그래픽", Category: "테크니컬", Description: "Data visualization style"},
	{ID: 7, Slug: "corporate", Name: "코퍼레이트", Category: "비즈니스", Description: "Business presentation style"},
	{ID: 8, Slug: "clean-modern", Name: "클린 모던", Category: "심플", Description: "Modern, clean style"},
	{ID: 9, Slug: "dark-mode", Name: "다크 모드", Category: "모던", Description: "Dark background style"},
}

// LookupDesign finds a preset by ID ("3"), slug ("medical-care") or name ("메디컬 케어").
// Matching ignores case and surrounding whitespace.
func LookupDesign(design string) (DesignPreset, bool) {
	design = strings.TrimSpace(design)
	if design == "" {
		return DesignPreset{}, false
	}
	if id, err := strconv.Atoi(design); err == nil {
		for _, preset := range DesignPresets {
			if preset.ID == id {
				return preset, true
			}
		}
		return DesignPreset{}, false
	}
	for _, preset := range DesignPresets {
		if strings.EqualFold(preset.Slug, design) || preset.Name == design {
			return preset, true
		}
	}
	return DesignPreset{}, false
}

// Prompt is the slide design request sent ahead of the topic focus
func (d DesignPreset) Prompt() string {
	var b strings.Builder
	b.WriteString("[Slide design request]\n")
	b.WriteString("Role: professional presentation designer\n")
	fmt.Fprintf(&b, "Style: %s (%s)\n", d.Name, d.Slug)
	fmt.Fprintf(&b, "Category: %s\n", d.Category)
	fmt.Fprintf(&b, "Reflect the core visual elements of the '%s' style: %s.\n", d.Name, strings.ToLower(d.Description))
	fmt.Fprintf(&b, "Keep a tone that fits the '%s' category and a consistent layout on every slide.", d.Category)
	return b.String()
}
