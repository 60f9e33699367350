package rpc

import (
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/buddyAllocator/buddy"
	"github.com/shenjiangwei/buddyAllocator/mpool"
)

func startTestServer(t *testing.T, capacity uint64) (*Server, string) {
	t.Helper()

	allocator, err := buddy.New(capacity)
	require.NoError(t, err)
	pool, err := mpool.NewMemoryPool(allocator, nil)
	require.NoError(t, err)
	server, err := NewServer(pool)
	require.NoError(t, err)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		done <- server.Serve(listener)
	}()
	t.Cleanup(func() {
		require.NoError(t, server.Close())
		require.NoError(t, <-done)
	})
	return server, listener.Addr().String()
}

func TestRPCClientServer(t *testing.T) {
	_, address := startTestServer(t, 8*mpool.MB)

	numClients := 5
	clients := make([]*Client, numClients)
	for i := 0; i < numClients; i++ {
		client, err := NewClient(address)
		require.NoError(t, err, "client %d", i)
		clients[i] = client
	}

	var wg sync.WaitGroup
	for i, client := range clients {
		wg.Add(1)
		go func(id int, c *Client) {
			defer wg.Done()
			start, err := c.Allocate(1 * mpool.MB)
			if err != nil {
				t.Errorf("Client %d allocation failed: %v", id, err)
				return
			}
			if err := c.Free(start); err != nil {
				t.Errorf("Client %d free failed: %v", id, err)
			}
		}(i, client)
	}
	wg.Wait()

	stats, err := clients[0].Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(8*mpool.MB), stats.Capacity)
	assert.Equal(t, uint64(8*mpool.MB), stats.Remaining)
	assert.Equal(t, uint64(numClients), stats.Stats.TotalAllocations)
	assert.Equal(t, uint64(numClients), stats.Stats.TotalFrees)

	for _, c := range clients {
		require.NoError(t, c.Close())
	}
}

func TestRPCErrors(t *testing.T) {
	_, address := startTestServer(t, 64)

	client, err := NewClient(address)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Allocate(0)
	assert.ErrorIs(t, err, buddy.ErrInvalidSize)

	_, err = client.Allocate(128)
	assert.ErrorIs(t, err, buddy.ErrInsufficientSpace)

	addr, err := client.Allocate(64)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), addr.Offset())

	_, err = client.Allocate(1)
	assert.ErrorIs(t, err, buddy.ErrInsufficientSpace)
}

func TestClientCloseReleasesOutstanding(t *testing.T) {
	_, address := startTestServer(t, 1*mpool.MB)

	holder, err := NewClient(address)
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err := holder.Allocate(64 * mpool.KB)
		require.NoError(t, err)
	}
	assert.Equal(t, 4, holder.Outstanding())
	require.NoError(t, holder.Close())

	observer, err := NewClient(address)
	require.NoError(t, err)
	defer observer.Close()

	stats, err := observer.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), stats.Used)
	assert.NotEqual(t, holder.ID(), observer.ID())
}

func TestServerCloseDropsConnections(t *testing.T) {
	server, address := startTestServer(t, 1*mpool.MB)

	client, err := NewClient(address)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Stats()
	require.NoError(t, err)

	require.NoError(t, server.Close())

	_, err = client.Allocate(16)
	require.Error(t, err)
	assert.NotErrorIs(t, err, mpool.ErrPoolClosed)
	assert.Equal(t, 0, server.conns.Cardinality())
}
