package trace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithContext_RoundTrip(t *testing.T) {
	ctx := WithContext(context.Background(), "abc")
	assert.Equal(t, "abc", FromContext(ctx))
	assert.Equal(t, "", FromContext(context.Background()))
}

func TestWithContext_EmptyIDLeavesContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithContext(ctx, ""))
}

func TestEnsure(t *testing.T) {
	ctx, id := Ensure(context.Background())
	assert.NotEmpty(t, id)
	assert.Equal(t, id, FromContext(ctx))

	again, same := Ensure(ctx)
	assert.Equal(t, id, same)
	assert.Equal(t, ctx, again)
}
