package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatches(t *testing.T) {
	tests := []struct {
		grant, required string
		want            bool
	}{
		{"tasks:*", "tasks:read", true},
		{"tasks:*", "tasks:admin", true},
		{"tasks:*", "tasks", true},
		{"tasks:*", "tasksx:read", false},
		{"*", "campaigns:run", true},
		{"*", "anything", true},
		{"tasks:read", "tasks:read", true},
		{"tasks:read", "tasks:admin", false},
		{"tasks", "tasks:read", false},
		{"", "tasks:read", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Matches(tt.grant, tt.required), "%q covers %q", tt.grant, tt.required)
	}
}

func TestIntersect(t *testing.T) {
	allowed := []string{"tasks:*", "system:read"}
	assert.Equal(t,
		[]string{"tasks:read", "system:read"},
		Intersect([]string{"tasks:read", " ", "tasks:read", "campaigns:run", "system:read"}, allowed))
	assert.Empty(t, Intersect([]string{"*"}, allowed))
	assert.Equal(t, []string{"*"}, Intersect([]string{"*"}, []string{"*"}))
}

func TestMissingScopes(t *testing.T) {
	assert.Nil(t, MissingScopes([]string{"*"}, []string{"a:b", "c:d"}))
	assert.Equal(t, []string{"c:d"}, MissingScopes([]string{"a:*"}, []string{"a:b", "c:d"}))
}
