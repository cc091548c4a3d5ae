package electrum

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

// wsSocket carries the newline-delimited stream over websocket text
// messages. Frames are passed on as they are, a message may span several
// frames and a frame may hold several messages.
type wsSocket struct {
	endpoint Endpoint
	opts     SocketOptions

	lock      *sync.Mutex
	writeLock *sync.Mutex
	conn      *websocket.Conn
}

func newWSSocket(endpoint Endpoint, opts SocketOptions) Socket {
	return &wsSocket{
		endpoint:  endpoint,
		opts:      opts,
		lock:      &sync.Mutex{},
		writeLock: &sync.Mutex{},
	}
}

func (s *wsSocket) Connect(ctx context.Context, listener SocketListener) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.conn != nil {
		return domain.ErrAlreadyConnected
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout())
	defer cancel()

	dialer := &websocket.Dialer{
		NetDialContext:   s.opts.dialer().DialContext,
		HandshakeTimeout: s.opts.timeout(),
	}
	if s.endpoint.Scheme == "wss" {
		dialer.TLSClientConfig = s.opts.tlsConfig(s.endpoint.Host)
	}

	url := fmt.Sprintf("%s://%s", s.endpoint.Scheme, s.endpoint.Address())
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	s.conn = conn

	listener.OnConnect()
	go s.listen(conn, listener)

	return nil
}

func (s *wsSocket) Send(msg []byte) error {
	s.lock.Lock()
	conn := s.conn
	s.lock.Unlock()

	if conn == nil {
		return domain.ErrNotConnected
	}

	s.writeLock.Lock()
	defer s.writeLock.Unlock()

	return conn.WriteMessage(websocket.TextMessage, msg)
}

func (s *wsSocket) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

func (s *wsSocket) listen(conn *websocket.Conn, listener SocketListener) {
	defer listener.OnClose()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, net.ErrClosed):
			case websocket.IsCloseError(
				err, websocket.CloseNormalClosure, websocket.CloseGoingAway,
			):
				listener.OnEnd(err)
			default:
				listener.OnError(err)
			}
			s.release(conn)
			return
		}

		if len(msg) == 0 {
			continue
		}
		listener.OnReceive(msg)
	}
}

func (s *wsSocket) release(conn *websocket.Conn) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.conn == conn {
		s.conn.Close()
		s.conn = nil
	}
}
