package electrum

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"golang.org/x/net/proxy"
)

type dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// streamSocket is the socket implementation for plain tcp, tls and tor
// connections. They all end up with a net.Conn and differ only in the way
// it is dialed.
type streamSocket struct {
	endpoint Endpoint
	opts     SocketOptions
	dial     dialFunc

	lock *sync.Mutex
	conn net.Conn
}

func newTCPSocket(endpoint Endpoint, opts SocketOptions) Socket {
	return &streamSocket{
		endpoint: endpoint,
		opts:     opts,
		dial:     opts.dialer().DialContext,
		lock:     &sync.Mutex{},
	}
}

func newTLSSocket(endpoint Endpoint, opts SocketOptions) Socket {
	dialer := &tls.Dialer{
		NetDialer: opts.dialer(),
		Config:    opts.tlsConfig(endpoint.Host),
	}
	return &streamSocket{
		endpoint: endpoint,
		opts:     opts,
		dial:     dialer.DialContext,
		lock:     &sync.Mutex{},
	}
}

func newTorSocket(endpoint Endpoint, opts SocketOptions) Socket {
	dial := func(ctx context.Context, network, addr string) (net.Conn, error) {
		dialer, err := proxy.SOCKS5(network, opts.Tor.address(), nil, opts.dialer())
		if err != nil {
			return nil, err
		}
		ctxDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support context")
		}
		return ctxDialer.DialContext(ctx, network, addr)
	}
	return &streamSocket{
		endpoint: endpoint,
		opts:     opts,
		dial:     dial,
		lock:     &sync.Mutex{},
	}
}

func (s *streamSocket) Connect(
	ctx context.Context, listener SocketListener,
) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.conn != nil {
		return domain.ErrAlreadyConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout())
	defer cancel()

	conn, err := s.dial(ctx, "tcp", s.endpoint.Address())
	if err != nil {
		return err
	}
	s.conn = conn

	listener.OnConnect()
	go s.listen(conn, listener)

	return nil
}

func (s *streamSocket) Send(msg []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.conn == nil {
		return domain.ErrNotConnected
	}
	_, err := s.conn.Write(msg)
	return err
}

func (s *streamSocket) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *streamSocket) listen(conn net.Conn, listener SocketListener) {
	defer listener.OnClose()

	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			listener.OnReceive(chunk)
		}
		if err != nil {
			switch {
			case errors.Is(err, net.ErrClosed):
			case errors.Is(err, io.EOF):
				listener.OnEnd(err)
			default:
				listener.OnError(err)
			}
			s.release(conn)
			return
		}
	}
}

// release forgets the given connection if it's still the current one so that
// the socket can be connected again after a drop.
func (s *streamSocket) release(conn net.Conn) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.conn == conn {
		s.conn.Close()
		s.conn = nil
	}
}
