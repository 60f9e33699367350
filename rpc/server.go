package rpc

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"sync"

	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"

	"github.com/shenjiangwei/buddyAllocator/buddy"
	"github.com/shenjiangwei/buddyAllocator/mpool"
)

// serviceName is the name the allocator methods are registered under
const serviceName = "Server"

// Server represents the memory pool server
type Server struct {
	pool      *mpool.MemoryPool
	rpcServer *rpc.Server

	mu       sync.Mutex
	listener net.Listener
	conns    mapset.Set // connections being served
	closed   bool
}

// AllocRequest represents a memory allocation request
type AllocRequest struct {
	ClientID string
	Size     uint64
}

// AllocResponse represents a memory allocation response
type AllocResponse struct {
	Address uint64
	Error   string
}

// FreeRequest represents a memory free request
type FreeRequest struct {
	ClientID string
	Address  uint64
}

// FreeResponse represents a memory free response
type FreeResponse struct {
	Error string
}

// StatsRequest represents a statistics request
type StatsRequest struct {
	ClientID string
}

// StatsResponse carries the allocator occupancy and pool statistics
type StatsResponse struct {
	Capacity  uint64
	Remaining uint64
	Used      uint64
	Stats     mpool.PoolStats
}

// NewServer creates a new memory pool server. The server takes ownership of
// the pool and closes it in Close.
func NewServer(pool *mpool.MemoryPool) (*Server, error) {
	server := &Server{
		pool:      pool,
		rpcServer: rpc.NewServer(),
		conns:     mapset.NewSet(),
	}

	// Register RPC methods
	if err := server.rpcServer.RegisterName(serviceName, server); err != nil {
		return nil, fmt.Errorf("failed to register rpc service: %w", err)
	}
	return server, nil
}

// Start starts the server on the specified address
func (s *Server) Start(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until the server is closed
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		listener.Close()
		return net.ErrClosed
	}
	s.listener = listener
	s.mu.Unlock()

	logrus.Infof("Server listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.isClosed() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			logrus.Warnf("Failed to accept connection: %v", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		go func() {
			s.rpcServer.ServeConn(conn)
			s.conns.Remove(conn)
		}()
	}
}

// track registers conn so that Close can shut it down. It reports false once
// the server is closed.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns.Add(conn)
	return true
}

// Addr returns the address the server is listening on, or nil before Serve
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Server) Allocate(req *AllocRequest, resp *AllocResponse) error {
	addr, err := s.pool.Allocate(req.Size)
	if err != nil {
		logrus.WithField("client", req.ClientID).Debugf("Allocation of %d bytes failed: %v", req.Size, err)
		resp.Error = err.Error()
		return nil
	}

	resp.Address = uint64(addr)
	logrus.WithField("client", req.ClientID).Debugf("Allocated %d bytes at offset %d", req.Size, addr.Offset())
	return nil
}

func (s *Server) Free(req *FreeRequest, resp *FreeResponse) error {
	if err := s.pool.Free(buddy.Address(req.Address)); err != nil {
		resp.Error = err.Error()
		return nil
	}
	logrus.WithField("client", req.ClientID).Debugf("Freed %d", req.Address)
	return nil
}

func (s *Server) Stats(req *StatsRequest, resp *StatsResponse) error {
	resp.Capacity = s.pool.Capacity()
	resp.Remaining = s.pool.Remaining()
	resp.Used = s.pool.UsedSize()
	resp.Stats = s.pool.Stats()
	return nil
}

// Close stops accepting connections, closes the ones being served and closes
// the pool.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}
	for _, c := range s.conns.ToSlice() {
		c.(net.Conn).Close()
	}
	s.conns.Clear()
	return s.pool.Close()
}
