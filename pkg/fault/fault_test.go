package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := New(KindBusiness, "payment declined for %s", "sg-1")
	assert.Equal(t, KindBusiness, KindOf(err))
	assert.Equal(t, "business: payment declined for sg-1", err.Error())
}

func TestKindOfWrapped(t *testing.T) {
	inner := errors.New("connection refused")
	err := fmt.Errorf("reserve step: %w", Wrap(KindRetryable, inner, "flight service unavailable"))

	assert.True(t, Is(err, KindRetryable))
	assert.True(t, errors.Is(err, inner))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.False(t, Is(nil, KindValidation))
}
