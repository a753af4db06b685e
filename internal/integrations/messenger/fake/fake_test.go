package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeClient_Send(t *testing.T) {
	c := New()
	require.NoError(t, c.Send(context.Background(), "+79001234567", "hello"))
	sent := c.Sent()
	require.Len(t, sent, 1)
	require.Equal(t, "+79001234567", sent[0].Phone)
	require.Equal(t, "hello", sent[0].Body)
}

func TestFakeClient_Flaky(t *testing.T) {
	c := NewFlaky(1) // каждый вызов падает
	err := c.Send(context.Background(), "+79001234567", "hello")
	require.ErrorIs(t, err, ErrGatewayUnavailable)
	require.Empty(t, c.Sent())
}
