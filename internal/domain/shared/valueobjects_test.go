package shared

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStudentID(t *testing.T) {
	id, err := NewStudentID("  stu-42 ")
	require.NoError(t, err)
	assert.Equal(t, StudentID("stu-42"), id)

	invalid := []string{
		"", "   ", "a:b", "a b", "a*", "a?", "[ab]", "a]", `a\b`, "a\tb",
		strings.Repeat("x", MaxStudentIDLength+1),
	}
	for _, bad := range invalid {
		_, err := NewStudentID(bad)
		assert.ErrorIs(t, err, ErrInvalidStudentID, bad)
		assert.True(t, IsValidation(err), bad)
	}

	for _, good := range []string{"stu-42", "a.b_c", "9f1c2e", "élève-7"} {
		_, err := NewStudentID(good)
		assert.NoError(t, err, good)
	}
}

func TestTopN(t *testing.T) {
	n, err := NewTopN(0)
	require.NoError(t, err)
	assert.Equal(t, 7, n.Apply(7))

	n, err = NewTopN(3)
	require.NoError(t, err)
	assert.Equal(t, 3, n.Apply(7))
	assert.Equal(t, 2, n.Apply(2))

	n, err = NewTopN(MaxTopN * 2)
	require.NoError(t, err)
	assert.Equal(t, TopN(MaxTopN), n)

	_, err = NewTopN(-1)
	assert.Error(t, err)
}

func TestDomainError_Is(t *testing.T) {
	wrapped := WrapError("cache", "Get", ErrServiceUnavailable, "redis down", errors.New("dial tcp"))

	assert.ErrorIs(t, wrapped, ErrServiceUnavailable)
	assert.True(t, IsRetryable(wrapped))
	assert.True(t, IsExternalService(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Contains(t, wrapped.Error(), "cache.Get: redis down: dial tcp")

	assert.True(t, IsNotFound(ErrProfileNotFound))
	assert.ErrorIs(t, ErrInvalidMode, ErrInvalidInput)
}
