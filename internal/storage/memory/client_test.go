package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowConnectWindow(t *testing.T) {
	c := New()
	ctx := context.Background()

	for i := 0; i < connectLimitMax; i++ {
		ok, err := c.AllowConnect(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := c.AllowConnect(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, ok, "limit reached")

	// Another IP has its own budget.
	ok, err = c.AllowConnect(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestAllowRequestIndependentOfConnect(t *testing.T) {
	c := New()
	ctx := context.Background()

	for i := 0; i < connectLimitMax+1; i++ {
		c.AllowConnect(ctx, "10.0.0.1")
	}
	ok, err := c.AllowRequest(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, ok, "request budget untouched by connects")
}
