package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name string `json:"name"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name     string
		response string
		want     string
	}{
		{"bare", `{"name": "fever"}`, "fever"},
		{"chatter", `Sure! Here it is: {"name": "cough"} Hope that helps.`, "cough"},
		{"fenced", "```json\n{\"name\": \"rash\"}\n```\ntrailing {braces}", "rash"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON[payload](tt.response)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Name)
		})
	}
}

func TestParseJSON_Array(t *testing.T) {
	got, err := ParseJSON[[]payload]("cases:\n[{\"name\": \"a\"}, {\"name\": \"b\"}]")
	require.NoError(t, err)
	assert.Equal(t, []payload{{"a"}, {"b"}}, got)
}

func TestParseJSON_Errors(t *testing.T) {
	_, err := ParseJSON[payload]("I cannot help with that.")
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = ParseJSON[payload](`{"name": `)
	assert.ErrorIs(t, err, ErrNoJSON)

	_, err = ParseJSON[payload](`{"name": 3}`)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoJSON)
}
