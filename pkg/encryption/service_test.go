package encryption

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNullService_RoundTrip(t *testing.T) {
	svc := NewNullService()
	ctx := context.Background()

	in := map[string]any{"token": "secret-token", "base_url": "https://example.atlassian.net"}

	encrypted, err := svc.Encrypt(ctx, in)
	require.NoError(t, err)

	out, err := svc.Decrypt(ctx, encrypted)
	require.NoError(t, err)
	assert.Equal(t, "secret-token", out["token"])
	assert.Equal(t, "https://example.atlassian.net", out["base_url"])
}

func TestNullService_EmptyAndGarbage(t *testing.T) {
	svc := NewNullService()
	ctx := context.Background()

	out, err := svc.Decrypt(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, out)

	out, err = svc.Decrypt(ctx, "not-json")
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestNullService_NotConfigured(t *testing.T) {
	assert.False(t, NewNullService().IsConfigured())
}
