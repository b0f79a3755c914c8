package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsConflict(t *testing.T) {
	assert.False(t, isConflict(nil))
	assert.False(t, isConflict(errors.New("no such table")))
	assert.True(t, isConflict(errors.New("database is locked (5) (SQLITE_BUSY)")))
	assert.True(t, isConflict(fmt.Errorf("end session: %w", errors.New("database is locked"))))
}

func TestWithRetry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "test", func() error {
		calls++
		if calls < 2 {
			return errors.New("SQLITE_BUSY")
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = withRetry(context.Background(), "test", func() error {
		calls++
		return errors.New("constraint failed")
	})
	assert.Error(t, err)
	assert.Equal(t, 1, calls, "non-conflict errors are not retried")

	calls = 0
	err = withRetry(context.Background(), "test", func() error {
		calls++
		return errors.New("database is locked")
	})
	assert.Error(t, err)
	assert.Equal(t, retryAttempts, calls)
}
