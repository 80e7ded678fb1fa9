package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFailureMessage(t *testing.T) {
	env := map[string]string{failEnv: "license expired"}
	getenv := func(key string) string { return env[key] }
	empty := func(string) string { return "" }

	tests := []struct {
		name     string
		flag     string
		getenv   func(string) string
		expected string
	}{
		{"flag", "bad config", empty, "bad config"},
		{"environment", "", getenv, "license expired"},
		{"flag_wins", "bad config", getenv, "bad config"},
		{"neither", "", empty, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, failureMessage(tt.flag, tt.getenv))
		})
	}
}
