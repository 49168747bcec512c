package crawlerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapPreservesKind(t *testing.T) {
	err := Wrapf(KindInvalidInput, "bad url %q", "x")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.NotErrorIs(t, err, ErrPreconditionFailed)
	assert.Equal(t, KindInvalidInput, KindOf(err))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindStorageFailure, nil))
}

func TestKindSurvivesFurtherWrapping(t *testing.T) {
	inner := Wrapf(KindPreconditionFailed, "session expired")
	outer := fmt.Errorf("confirm failed: %w", inner)

	assert.ErrorIs(t, outer, ErrPreconditionFailed)
	assert.Equal(t, KindPreconditionFailed, KindOf(outer))
}

func TestUnclassifiedIsInternal(t *testing.T) {
	assert.Equal(t, KindInternal, KindOf(errors.New("mystery")))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Wrapf(KindTransientNetwork, "timeout")))
	assert.False(t, IsRetryable(Wrapf(KindPermanentHTTP, "404")))
}
