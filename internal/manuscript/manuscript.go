// Package manuscript holds the raw domain model the coherence pipeline
// analyzes: a manuscript is an ordered list of scenes, where order is the
// thing writers change and the pipeline judges.
package manuscript

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Scene is the raw unit of a manuscript. Position reflects the current
// ordering; reordering tools mutate Position and re-run the analysis.
type Scene struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	WordCount   int      `json:"wordCount"`
	Position    int      `json:"position"`
	Characters  []string `json:"characters,omitempty"`
	TimeMarkers []string `json:"timeMarkers,omitempty"`
	Locations   []string `json:"locationMarkers,omitempty"`
	HasMovement bool     `json:"hasMovement,omitempty"`
}

type Manuscript struct {
	Title  string  `json:"title"`
	Scenes []Scene `json:"scenes"`
}

// Load reads a manuscript from a JSON file, normalizing positions and word
// counts so downstream code can trust them.
func Load(path string) (*Manuscript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manuscript: %w", err)
	}

	var m Manuscript
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing manuscript: %w", err)
	}

	m.Normalize()
	return &m, nil
}

// Save writes the manuscript as indented JSON.
func (m *Manuscript) Save(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manuscript: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Normalize fills derived fields: positions follow slice order, word counts
// are recomputed from text, and empty IDs get positional ones.
func (m *Manuscript) Normalize() {
	for i := range m.Scenes {
		s := &m.Scenes[i]
		s.Position = i
		s.WordCount = WordCount(s.Text)
		if s.ID == "" {
			s.ID = fmt.Sprintf("scene-%d", i)
		}
	}
}

// SceneByID returns the scene with the given ID, or nil.
func (m *Manuscript) SceneByID(id string) *Scene {
	for i := range m.Scenes {
		if m.Scenes[i].ID == id {
			return &m.Scenes[i]
		}
	}
	return nil
}

// WordCount counts whitespace-separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// TruncateWords returns at most n words of text, appending an ellipsis
// marker when anything was cut.
func TruncateWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ") + "..."
}

// LastWords returns the final n words of text, or the whole text if shorter.
func LastWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[len(words)-n:], " ")
}

// FirstWords returns the opening n words of text, or the whole text if shorter.
func FirstWords(text string, n int) string {
	words := strings.Fields(text)
	if len(words) <= n {
		return text
	}
	return strings.Join(words[:n], " ")
}
