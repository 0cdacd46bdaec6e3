package manuscript

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	m := Manuscript{
		Title: "Draft",
		Scenes: []Scene{
			{Text: "one two three"},
			{ID: "keep-me", Text: "four five"},
		},
	}
	m.Normalize()

	assert.Equal(t, "scene-0", m.Scenes[0].ID)
	assert.Equal(t, "keep-me", m.Scenes[1].ID)
	assert.Equal(t, 0, m.Scenes[0].Position)
	assert.Equal(t, 1, m.Scenes[1].Position)
	assert.Equal(t, 3, m.Scenes[0].WordCount)
	assert.Equal(t, 2, m.Scenes[1].WordCount)
}

func TestLoadSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "draft.json")
	m := &Manuscript{Title: "Draft", Scenes: []Scene{{Text: "a b c", Characters: []string{"Mara"}}}}
	m.Normalize()
	require.NoError(t, m.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, m.Title, loaded.Title)
	require.Len(t, loaded.Scenes, 1)
	assert.Equal(t, []string{"Mara"}, loaded.Scenes[0].Characters)
}

func TestWordHelpers(t *testing.T) {
	text := "one two three four five"

	assert.Equal(t, 5, WordCount(text))
	assert.Equal(t, "one two", FirstWords(text, 2))
	assert.Equal(t, "four five", LastWords(text, 2))
	assert.Equal(t, text, FirstWords(text, 10))
	assert.Equal(t, text, LastWords(text, 10))
	assert.Equal(t, "one two...", TruncateWords(text, 2))
	assert.Equal(t, text, TruncateWords(text, 5))
}
