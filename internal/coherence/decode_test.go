package coherence

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeJSON(t *testing.T, raw string) *decoder {
	t.Helper()
	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	return newDecoder(data)
}

func TestDecoderFloat(t *testing.T) {
	d := decodeJSON(t, `{"score": 1.7, "asString": "0.4", "nested": {"transitionScore": 0.8}, "junk": []}`)

	assert.Equal(t, 1.0, d.Float(0.5, 0, 1, "score"), "clamped to max")
	assert.Equal(t, 0.4, d.Float(0.5, 0, 1, "asString"), "numeric strings parse")
	assert.Equal(t, 0.8, d.Float(0.5, 0, 1, "missing", "nested.transitionScore"), "falls through paths")
	assert.Equal(t, 0.5, d.Float(0.5, 0, 1, "junk"), "wrong type yields default")
	assert.Equal(t, 0.5, d.Float(0.5, 0, 1, "absent"), "missing yields default")
}

func TestDecoderSnakeCaseFallback(t *testing.T) {
	d := decodeJSON(t, `{"structural_integrity": 0.9, "act_balance": {"act1": 0.2}}`)

	assert.Equal(t, 0.9, d.Float(0.6, 0, 1, "structuralIntegrity"))
	assert.Equal(t, 0.2, d.Section("actBalance").Float(0.33, 0, 1, "act1"))
}

func TestDecoderBool(t *testing.T) {
	d := decodeJSON(t, `{"a": true, "b": "false", "c": 1, "d": "maybe"}`)

	assert.True(t, d.Bool(false, "a"))
	assert.False(t, d.Bool(true, "b"))
	assert.True(t, d.Bool(false, "c"))
	assert.False(t, d.Bool(false, "d"), "unparsable string yields default")
	assert.True(t, d.Bool(true, "missing"))
}

func TestDecoderStringSlice(t *testing.T) {
	d := decodeJSON(t, `{"list": ["a", 2, "b"], "single": "solo"}`)

	assert.Equal(t, []string{"a", "b"}, d.StringSlice("list"))
	assert.Equal(t, []string{"solo"}, d.StringSlice("single"))
	assert.Nil(t, d.StringSlice("missing"))
}

func TestDecoderObjects(t *testing.T) {
	d := decodeJSON(t, `{"issues": [{"type": "x"}, "junk", {"type": "y"}]}`)

	objs := d.Objects("issues")
	require.Len(t, objs, 2)
	assert.Equal(t, "x", objs[0].String("", "type"))
	assert.Equal(t, "y", objs[1].String("", "type"))
}

func TestDecoderNilSafe(t *testing.T) {
	d := newDecoder(nil)
	assert.Equal(t, 0.6, d.Float(0.6, 0, 1, "anything"))
	assert.Equal(t, "def", d.Section("a", "b").String("def", "c"))
}
