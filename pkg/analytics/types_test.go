package analytics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseServiceType(t *testing.T) {
	for _, st := range AllServiceTypes() {
		got, err := ParseServiceType(string(st))
		assert.NoError(t, err)
		assert.Equal(t, st, got)
	}

	_, err := ParseServiceType("LLM_CHAT")
	assert.True(t, IsValidationError(err))
}

func TestParseEventType(t *testing.T) {
	for _, s := range []string{"request", "success", "error", "generation"} {
		_, err := ParseEventType(s)
		assert.NoError(t, err)
	}

	_, err := ParseEventType("")
	assert.True(t, IsValidationError(err))
}

func TestEventString(t *testing.T) {
	e := event(nil, ServiceLLMChat, EventSuccess, testNow, Metadata{})
	assert.Contains(t, e.String(), "user=<anonymous>")
	assert.True(t, e.Anonymous())
}
