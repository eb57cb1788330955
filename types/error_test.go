package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Formatting(t *testing.T) {
	t.Parallel()

	err := NewError(ErrRetrieval, "vector index unavailable")
	assert.Equal(t, "[RETRIEVAL] vector index unavailable", err.Error())

	cause := errors.New("connection refused")
	err = NewError(ErrRetrieval, "vector index unavailable").WithCause(cause)
	assert.Contains(t, err.Error(), "connection refused")
	assert.ErrorIs(t, err, cause)
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"direct", NewError(ErrToolPolicy, "denied"), ErrToolPolicy},
		{"wrapped", fmt.Errorf("stage: %w", NewError(ErrValidation, "bad json")), ErrValidation},
		{"plain error", errors.New("boom"), ErrorCode("")},
		{"nil", nil, ErrorCode("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIsCode(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("tool call: %w", NewError(ErrTimeout, "deadline exceeded"))
	assert.True(t, IsCode(err, ErrTimeout))
	assert.False(t, IsCode(err, ErrRetrieval))
}

func TestNormalizeEvidenceText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"Type 2 Diabetes  treated by\tMetformin.", "type 2 diabetes treated by metformin"},
		{"  ASPIRIN -treats-> Headache ", "aspirin -treats-> headache"},
		{"same text", "same text"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeEvidenceText(tt.in))
	}
}

func TestChunkID_Deterministic(t *testing.T) {
	t.Parallel()

	a := ChunkID("doc-1", OffsetRange{Start: 0, End: 512})
	b := ChunkID("doc-1", OffsetRange{Start: 0, End: 512})
	c := ChunkID("doc-1", OffsetRange{Start: 462, End: 900})

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "doc-1:0-512", a)
}
