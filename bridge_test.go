package bridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	bridge "github.com/forgeworks/forge-bridge"
)

func TestNew(t *testing.T) {
	c := bridge.New("ws://localhost:9900/ws", bridge.WithClientName("conform"))
	require.NotNil(t, c)
	require.NotNil(t, bridge.NewBridge(c))
}

func TestStoppedClientRejectsRequests(t *testing.T) {
	c := bridge.New("ws://localhost:9900/ws")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Start(ctx)
	require.Error(t, err)

	_, err = bridge.NewBridge(c).ListProjects(context.Background())
	assert.True(t, errors.Is(err, bridge.ErrClosed) || errors.Is(err, bridge.ErrDisconnected))
}
