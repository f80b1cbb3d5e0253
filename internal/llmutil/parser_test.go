package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	RowLocator string   `json:"row_locator"`
	Columns    []string `json:"columns"`
}

func TestParseJSONResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"bare object", `{"row_locator":"tr","columns":["a","b"]}`},
		{"fenced with language", "```json\n{\"row_locator\":\"tr\",\"columns\":[\"a\",\"b\"]}\n```"},
		{"fenced without language", "```\n{\"row_locator\":\"tr\",\"columns\":[\"a\",\"b\"]}\n```"},
		{"conversational wrapper", "Here is the profile you asked for: {\"row_locator\":\"tr\",\"columns\":[\"a\",\"b\"]} Let me know."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSONResponse[sample](tt.response)
			require.NoError(t, err)
			assert.Equal(t, "tr", got.RowLocator)
			assert.Equal(t, []string{"a", "b"}, got.Columns)
		})
	}
}

func TestParseJSONResponse_Array(t *testing.T) {
	got, err := ParseJSONResponse[[]int]("The values are [1, 2, 3].")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, *got)
}

func TestParseJSONResponse_Errors(t *testing.T) {
	_, err := ParseJSONResponse[sample]("   ")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	_, err = ParseJSONResponse[sample]("{not json at all}")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal")
}
