package llmutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fieldValues struct {
	Values map[string]string `json:"values"`
}

func TestParseJSONResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"bare object", `{"values": {"first_name": "Ada"}}`},
		{"fenced json", "```json\n{\"values\": {\"first_name\": \"Ada\"}}\n```"},
		{"fenced without tag", "```\n{\"values\": {\"first_name\": \"Ada\"}}\n```"},
		{"conversational wrapper", "Here are the values:\n{\"values\": {\"first_name\": \"Ada\"}}\nLet me know!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSONResponse[fieldValues](tt.response)
			require.NoError(t, err)
			assert.Equal(t, "Ada", got.Values["first_name"])
		})
	}
}

func TestParseJSONResponse_Array(t *testing.T) {
	got, err := ParseJSONResponse[[]string]("The options are [\"yes\", \"no\"].")
	require.NoError(t, err)
	assert.Equal(t, []string{"yes", "no"}, *got)
}

func TestParseJSONResponse_Invalid(t *testing.T) {
	_, err := ParseJSONResponse[fieldValues]("I cannot help with that.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "I cannot help with that.")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "", truncateString("abc", 0))
	assert.Equal(t, "ab...", truncateString("abcdef", 2))
	// "é" is two bytes; cutting inside it backs up to the rune start.
	assert.Equal(t, "a...", truncateString("aé", 2))
}
