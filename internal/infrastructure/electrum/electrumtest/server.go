// Package electrumtest provides a minimal Electrum server on a loopback tcp
// listener for tests.
package electrumtest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// GenesisHeader is the header served as chain tip by default.
const GenesisHeader = "0100000000000000000000000000000000000000000000000000000000000000" +
	"000000003ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a" +
	"29ab5f49ffff001d1dac2b7c"

// NoReply makes the server swallow the request.
var NoReply = &struct{}{}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Handler returns the result or the error of a request.
type Handler func(params json.RawMessage) (interface{}, *RPCError)

type Request struct {
	ID     uint64
	Method string
	Params json.RawMessage
}

// Server is a minimal Electrum server on a loopback tcp listener. It is
// closed when the test ends.
type Server struct {
	t        *testing.T
	listener net.Listener

	lock     *sync.Mutex
	handlers map[string]Handler
	conns    []net.Conn
	requests []Request
}

func NewServer(t *testing.T) *Server {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &Server{
		t:        t,
		listener: ln,
		lock:     &sync.Mutex{},
		handlers: map[string]Handler{
			"server.banner": func(json.RawMessage) (interface{}, *RPCError) {
				return "hello", nil
			},
			"server.version": func(json.RawMessage) (interface{}, *RPCError) {
				return []string{"ElectrumX", "1.4"}, nil
			},
			"blockchain.headers.subscribe": func(json.RawMessage) (interface{}, *RPCError) {
				return map[string]interface{}{"height": 100, "hex": GenesisHeader}, nil
			},
			"server.ping": func(json.RawMessage) (interface{}, *RPCError) {
				return nil, nil
			},
		},
	}
	go s.serve()
	t.Cleanup(s.Close)

	return s
}

// URL returns the endpoint of the server.
func (s *Server) URL() string {
	return fmt.Sprintf("tcp://%s", s.listener.Addr().String())
}

// Handle sets the handler of the given method.
func (s *Server) Handle(method string, h Handler) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.handlers[method] = h
}

// Received returns the requests received so far for the given method, or
// all of them if method is empty.
func (s *Server) Received(method string) []Request {
	s.lock.Lock()
	defer s.lock.Unlock()

	list := make([]Request, 0)
	for _, req := range s.requests {
		if method == "" || req.Method == method {
			list = append(list, req)
		}
	}
	return list
}

// Send writes the given raw line to every open connection.
func (s *Server) Send(line string) {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, conn := range s.conns {
		conn.Write([]byte(line + "\n"))
	}
}

// Push sends a notification to every open connection.
func (s *Server) Push(method string, params ...interface{}) {
	buf, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
	})
	require.NoError(s.t, err)
	s.Send(string(buf))
}

// DropConnections closes every open connection on the server side.
func (s *Server) DropConnections() {
	s.lock.Lock()
	defer s.lock.Unlock()

	for _, conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *Server) Close() {
	s.listener.Close()
	s.DropConnections()
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		s.lock.Lock()
		s.conns = append(s.conns, conn)
		s.lock.Unlock()

		go s.serveConn(conn)
	}
}

func (s *Server) serveConn(conn net.Conn) {
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}

		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}
		var id uint64
		json.Unmarshal(req.ID, &id)

		s.lock.Lock()
		s.requests = append(s.requests, Request{id, req.Method, req.Params})
		h, ok := s.handlers[req.Method]
		s.lock.Unlock()

		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if !ok {
			resp["error"] = RPCError{-32601, "unknown method"}
		} else {
			result, rpcErr := h(req.Params)
			if result == NoReply {
				continue
			}
			if rpcErr != nil {
				resp["error"] = rpcErr
			} else {
				resp["result"] = result
			}
		}

		buf, _ := json.Marshal(resp)
		s.lock.Lock()
		conn.Write(append(buf, '\n'))
		s.lock.Unlock()
	}
}
