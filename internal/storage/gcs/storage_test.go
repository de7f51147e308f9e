package gcs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewStorage_RequiresBucket(t *testing.T) {
	_, err := NewStorage(context.Background(), "")
	assert.Error(t, err)
}
