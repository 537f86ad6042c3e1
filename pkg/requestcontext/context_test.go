package requestcontext

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestID(ctx))

	ctx, id := EnsureRequestID(ctx)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, RequestID(ctx))

	again, same := EnsureRequestID(ctx)
	assert.Equal(t, id, same)
	assert.Equal(t, id, RequestID(again))
}
