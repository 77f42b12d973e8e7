package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIndexList_Plain(t *testing.T) {
	indices, err := ParseIndexList("1, 4, 17")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 17}, indices)
}

func TestParseIndexList_None(t *testing.T) {
	for _, reply := range []string{"NONE", "none", "  None  "} {
		indices, err := ParseIndexList(reply)
		require.NoError(t, err, reply)
		assert.Empty(t, indices)
		assert.NotNil(t, indices)
	}
}

func TestParseIndexList_WithLeadingProse(t *testing.T) {
	reply := "The relevant sources are listed below.\n\n2, 5, 9"
	indices, err := ParseIndexList(reply)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5, 9}, indices)
}

func TestParseIndexList_Garbage(t *testing.T) {
	_, err := ParseIndexList("I think sources two and five look good")
	assert.ErrorIs(t, err, ErrNoIndices)

	_, err = ParseIndexList("")
	assert.ErrorIs(t, err, ErrNoIndices)

	_, err = ParseIndexList(",,,")
	assert.ErrorIs(t, err, ErrNoIndices)
}

func TestExtractJSON_Bare(t *testing.T) {
	raw, err := ExtractJSON(`{"a": 1}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1}`, raw)
}

func TestExtractJSON_Fenced(t *testing.T) {
	reply := "Here is the plan:\n```json\n{\"steps\": [\"one\", \"two\"]}\n```\nLet me know."
	raw, err := ExtractJSON(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"steps": ["one", "two"]}`, raw)
}

func TestExtractJSON_SurroundingProse(t *testing.T) {
	reply := `Sure! The result is {"ok": true, "note": "braces } in strings { are fine"} as requested.`
	raw, err := ExtractJSON(reply)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok": true, "note": "braces } in strings { are fine"}`, raw)
}

func TestExtractJSON_Array(t *testing.T) {
	raw, err := ExtractJSON(`The variants: ["a", "b", "c"]`)
	require.NoError(t, err)
	assert.JSONEq(t, `["a", "b", "c"]`, raw)
}

func TestExtractJSON_Missing(t *testing.T) {
	_, err := ExtractJSON("no structured data here")
	assert.Error(t, err)
}

func TestExtractJSON_Unbalanced(t *testing.T) {
	_, err := ExtractJSON(`{"a": 1`)
	assert.Error(t, err)
}

func TestUnmarshalReply(t *testing.T) {
	var out struct {
		Variants []string `json:"variants"`
	}
	err := UnmarshalReply("```json\n{\"variants\": [\"x\"]}\n```", &out)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, out.Variants)

	err = UnmarshalReply(`{"variants": "not-a-list"}`, &out)
	assert.Error(t, err)
}
