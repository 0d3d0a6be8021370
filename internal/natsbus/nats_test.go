package natsbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := Connect("", "courier", nil)
	require.Error(t, err)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	t.Parallel()

	_, err := Connect("nats://127.0.0.1:1", "courier", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect nats")
}

func TestDisconnectedClientRejectsCalls(t *testing.T) {
	t.Parallel()

	var c *Client
	_, err := c.Publish(context.Background(), "subject", map[string]string{"a": "b"})
	require.Error(t, err)

	_, err = c.Subscribe("subject", func(context.Context, []byte) {})
	require.Error(t, err)

	c.Close()
}
