package errors

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelWrapping(t *testing.T) {
	err := NewNotFoundError("job %s", "JOB_missing")
	require.Error(t, err)
	assert.True(t, IsNotFoundError(err))
	assert.Contains(t, err.Error(), "JOB_missing")

	wrapped := Wrap(err, "loading job")
	assert.True(t, IsNotFoundError(wrapped), "wrapping must preserve the sentinel")
}

func TestIsPassthrough(t *testing.T) {
	err := Wrap(sql.ErrNoRows, "query failed")
	assert.True(t, Is(err, sql.ErrNoRows))
	assert.False(t, IsNotFoundError(err))
}

func TestDetailsAccumulate(t *testing.T) {
	err := New("base failure")
	err = WithDetail(err, "Task ID: T1")
	err = WithDetail(err, "Handler: article")

	details := GetAllDetails(err)
	assert.Len(t, details, 2)
}
