package rpc

import (
	"fmt"
	"net/rpc"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"

	"github.com/shenjiangwei/buddyAllocator/buddy"
	"github.com/shenjiangwei/buddyAllocator/mpool"
)

// Client represents a memory pool client
type Client struct {
	id        uuid.UUID
	client    *rpc.Client
	allocated mapset.Set // outstanding addresses
}

// NewClient creates a new memory pool client
func NewClient(address string) (*Client, error) {
	client, err := rpc.Dial("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to server: %w", err)
	}

	return &Client{
		id:        uuid.New(),
		client:    client,
		allocated: mapset.NewSet(),
	}, nil
}

// ID returns the identity the client sends with every request
func (c *Client) ID() string {
	return c.id.String()
}

// knownErrors maps error strings sent by the server back to their sentinels
var knownErrors = []error{
	buddy.ErrInvalidSize,
	buddy.ErrInsufficientSpace,
	buddy.ErrDestroyed,
	mpool.ErrPoolClosed,
}

func serverError(msg string) error {
	for _, err := range knownErrors {
		if err.Error() == msg {
			return fmt.Errorf("server error: %w", err)
		}
	}
	return fmt.Errorf("server error: %s", msg)
}

// Allocate allocates memory through the server
func (c *Client) Allocate(size uint64) (buddy.Address, error) {
	req := &AllocRequest{ClientID: c.ID(), Size: size}
	resp := &AllocResponse{}

	if err := c.client.Call(serviceName+".Allocate", req, resp); err != nil {
		return buddy.NilAddress, fmt.Errorf("RPC call failed: %w", err)
	}
	if resp.Error != "" {
		return buddy.NilAddress, serverError(resp.Error)
	}

	addr := buddy.Address(resp.Address)
	c.allocated.Add(addr)
	return addr, nil
}

// Free frees memory through the server
func (c *Client) Free(addr buddy.Address) error {
	req := &FreeRequest{ClientID: c.ID(), Address: uint64(addr)}
	resp := &FreeResponse{}

	if err := c.client.Call(serviceName+".Free", req, resp); err != nil {
		return fmt.Errorf("RPC call failed: %w", err)
	}
	if resp.Error != "" {
		return serverError(resp.Error)
	}

	c.allocated.Remove(addr)
	return nil
}

// Stats fetches the server's occupancy and pool statistics
func (c *Client) Stats() (*StatsResponse, error) {
	resp := &StatsResponse{}
	if err := c.client.Call(serviceName+".Stats", &StatsRequest{ClientID: c.ID()}, resp); err != nil {
		return nil, fmt.Errorf("RPC call failed: %w", err)
	}
	return resp, nil
}

// Outstanding returns the number of addresses this client still holds
func (c *Client) Outstanding() int {
	return c.allocated.Cardinality()
}

// Close frees every address the client still holds and closes the connection
func (c *Client) Close() error {
	var firstErr error
	for _, v := range c.allocated.ToSlice() {
		if err := c.Free(v.(buddy.Address)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := c.client.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
