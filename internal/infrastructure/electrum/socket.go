package electrum

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultTorHost        = "127.0.0.1"
	defaultTorPort        = 9050
	readBufferSize        = 4096
)

var supportedSchemes = map[string]struct{}{
	"tcp": {}, "tls": {}, "ssl": {}, "tor": {}, "ws": {}, "wss": {},
}

// SocketListener receives the lifecycle events of a Socket. OnReceive is
// called with chunks in arrival order, OnEnd/OnError report a drop happened
// after the connection was established, and OnClose is called exactly once
// per connection, always last.
type SocketListener interface {
	OnConnect()
	OnReceive(chunk []byte)
	OnEnd(reason error)
	OnError(err error)
	OnClose()
}

// Socket is the stream transport used by the client. All variants share the
// same behavior and differ only in how the stream is established.
type Socket interface {
	// Connect establishes the stream within the configured timeout.
	Connect(ctx context.Context, listener SocketListener) error
	// Send writes the given message to the stream.
	Send(msg []byte) error
	// Close closes the stream, it's safe to call it multiple times.
	Close() error
}

// TorOptions holds the address of the local Tor SOCKS5 proxy.
type TorOptions struct {
	Host string
	Port int
}

func (o *TorOptions) address() string {
	host, port := defaultTorHost, defaultTorPort
	if o != nil {
		if o.Host != "" {
			host = o.Host
		}
		if o.Port > 0 {
			port = o.Port
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// SocketOptions holds the transport configuration.
type SocketOptions struct {
	// Timeout bounds the connection attempt, handshakes included.
	Timeout time.Duration
	// KeepAlive enables TCP keep-alive probes.
	KeepAlive bool
	// TLSConfig is used by tls and wss sockets, ServerName defaults to the
	// endpoint host.
	TLSConfig *tls.Config
	// Tor is the SOCKS5 proxy used by tor sockets, defaults to 127.0.0.1:9050.
	Tor *TorOptions
}

func (o SocketOptions) timeout() time.Duration {
	if o.Timeout <= 0 {
		return defaultConnectTimeout
	}
	return o.Timeout
}

func (o SocketOptions) dialer() *net.Dialer {
	d := &net.Dialer{Timeout: o.timeout()}
	if !o.KeepAlive {
		d.KeepAlive = -1
	}
	return d
}

func (o SocketOptions) tlsConfig(host string) *tls.Config {
	cfg := &tls.Config{}
	if o.TLSConfig != nil {
		cfg = o.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = host
	}
	return cfg
}

// Endpoint is a parsed server url in the form scheme://host:port.
type Endpoint struct {
	Scheme string
	Host   string
	Port   int
}

// ParseEndpoint parses and validates the given server url.
func ParseEndpoint(url string) (*Endpoint, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: endpoint not set", domain.ErrConfig)
	}
	split := strings.SplitN(url, "://", 2)
	if len(split) != 2 {
		return nil, fmt.Errorf(
			"%w: endpoint %s must be in the form scheme://host:port",
			domain.ErrConfig, url,
		)
	}
	scheme, hostPort := strings.ToLower(split[0]), strings.TrimSuffix(split[1], "/")
	if _, ok := supportedSchemes[scheme]; !ok {
		return nil, fmt.Errorf(
			"%w: invalid protocol %s, must be one of tcp, tls, tor, ws, wss",
			domain.ErrConfig, scheme,
		)
	}

	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrConfig, err)
	}
	if host == "" {
		return nil, fmt.Errorf("%w: missing host", domain.ErrConfig)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("%w: invalid port %q", domain.ErrConfig, portStr)
	}

	return &Endpoint{scheme, host, port}, nil
}

// Address returns the endpoint in host:port format.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Scheme, e.Address())
}

// NewSocket returns the socket for the given url. Configuration errors are
// returned before any connection attempt.
func NewSocket(url string, opts SocketOptions) (Socket, error) {
	endpoint, err := ParseEndpoint(url)
	if err != nil {
		return nil, err
	}

	switch endpoint.Scheme {
	case "tcp":
		return newTCPSocket(*endpoint, opts), nil
	case "tls", "ssl":
		return newTLSSocket(*endpoint, opts), nil
	case "tor":
		return newTorSocket(*endpoint, opts), nil
	default:
		return newWSSocket(*endpoint, opts), nil
	}
}
