package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadOptions_EffectiveLimit(t *testing.T) {
	assert.Equal(t, DefaultLoadLimit, LoadOptions{}.EffectiveLimit())
	assert.Equal(t, 3, LoadOptions{Limit: 3}.EffectiveLimit())
	assert.Equal(t, -1, LoadOptions{Limit: -1}.EffectiveLimit())

	assert.Equal(t, DefaultMemoryLimit, MemoryQuery{}.EffectiveLimit())
	assert.Equal(t, 7, MemoryQuery{Limit: 7}.EffectiveLimit())
}

func TestErrors(t *testing.T) {
	err := SessionNotFound("abc")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Contains(t, err.Error(), "abc")

	cause := errors.New("rate limited")
	cerr := fmt.Errorf("compile: %w", &CollaboratorError{Step: "memory_retrieval", Err: cause})
	assert.ErrorIs(t, cerr, cause)

	var ce *CollaboratorError
	assert.ErrorAs(t, cerr, &ce)
	assert.Equal(t, "memory_retrieval", ce.Step)
}
