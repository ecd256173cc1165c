package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := NewError(ErrSigningFailed, "invalid key")
	assert.Equal(t, "[SIGNING_FAILED] invalid key", err.Error())

	cause := errors.New("boom")
	err = NewError(ErrPublishFailed, "publish").WithCause(cause)
	assert.Equal(t, "[PUBLISH_FAILED] publish: boom", err.Error())
	assert.True(t, errors.Is(err, cause))
}

func TestError_Metadata(t *testing.T) {
	err := NewErrorf(ErrRequestTimeout, "request %s timed out", "req-1").WithRetryable(true)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, ErrRequestTimeout, GetErrorCode(err))

	plain := fmt.Errorf("plain")
	assert.False(t, IsRetryable(plain))
	assert.Equal(t, ErrorCode(""), GetErrorCode(plain))
}

func TestTaskStatus_Terminal(t *testing.T) {
	assert.False(t, TaskStatusPending.Terminal())
	assert.False(t, TaskStatusVerifying.Terminal())
	assert.True(t, TaskStatusCompleted.Terminal())
	assert.True(t, TaskStatusPartiallyCompleted.Terminal())
	assert.True(t, TaskStatusFailed.Terminal())
}
