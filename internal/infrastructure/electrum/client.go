package electrum

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"github.com/vulpemventures/electrum-link/internal/core/ports"
)

const (
	defaultClientName        = "electrum-link"
	defaultKeepAliveInterval = 2 * time.Minute
	defaultRetryBackoff      = time.Second
	maxRetryBackoff          = time.Minute
	opsQueueSize             = 64
)

var defaultProtocolVersion = []string{"1.4"}

// ErrClientStopped is returned by every operation of a client after Shutdown.
var ErrClientStopped = fmt.Errorf("%w: client stopped", domain.ErrNotConnected)

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
	StatusClosing
)

// Status is the connection state of the client.
type Status int

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// PersistencePolicy configures the reconnection attempts made after the
// connection drops unexpectedly. A zero MaxRetry disables reconnection.
type PersistencePolicy struct {
	MaxRetry int
	// Backoff is the delay before the first attempt, doubled at every failure
	// and capped to one minute.
	Backoff time.Duration
	// OnGiveUp is called with the last error once all attempts failed.
	OnGiveUp func(err error)
}

func (p PersistencePolicy) enabled() bool {
	return p.MaxRetry > 0
}

func (p PersistencePolicy) backoff() time.Duration {
	if p.Backoff <= 0 {
		return defaultRetryBackoff
	}
	return p.Backoff
}

// ClientOptions holds the client configuration.
type ClientOptions struct {
	// URL is the server endpoint in the form scheme://host:port.
	URL string
	// ClientName is sent to the server with server.version.
	ClientName string
	// ProtocolVersion is either a single version or a [min, max] range.
	ProtocolVersion []string
	// Socket overrides the socket created from URL.
	Socket        Socket
	SocketOptions SocketOptions
	// KeepAliveInterval defaults to 2 minutes.
	KeepAliveInterval time.Duration
	Persistence       PersistencePolicy
	Metrics           *Metrics
	// Debug enables the tracing of every sent and received message.
	Debug bool
}

func (o ClientOptions) validate() error {
	if o.Socket == nil {
		if _, err := ParseEndpoint(o.URL); err != nil {
			return err
		}
	}
	if l := len(o.ProtocolVersion); l > 2 {
		return fmt.Errorf(
			"%w: protocol version must be either a single version or a range",
			domain.ErrConfig,
		)
	}
	if o.Persistence.MaxRetry < 0 {
		return fmt.Errorf("%w: max retry must not be negative", domain.ErrConfig)
	}
	return nil
}

type result struct {
	value json.RawMessage
	err   error
}

type pendingRequest struct {
	method   string
	chResult chan result
}

type listener struct {
	sub      ports.Subscription
	active   *atomic.Bool
	onHeader func(domain.BlockHeader)
	onStatus func(domain.ScripthashStatus)
	onClose  func(error)
}

// Client is the JSON-RPC client engine. Every piece of connection state is
// owned by a single goroutine and only touched through its operation queue,
// while registered listeners are invoked in order by a separate dispatcher.
type Client struct {
	opts     ClientOptions
	metrics  *Metrics
	chOps    chan func()
	chQuit   chan struct{}
	quitOnce *sync.Once
	events   *eventQueue
	interval time.Duration

	// Owned by the loop goroutine.
	status          Status
	socket          Socket
	epoch           uint64
	nextID          uint64
	nextListenerID  uint64
	pending         map[uint64]*pendingRequest
	listeners       map[ports.EventKind][]*listener
	closeListeners  []*listener
	parser          *MessageParser
	banner          string
	version         domain.Version
	tip             *domain.BlockHeader
	lastCall        time.Time
	chStopKeepAlive chan struct{}
	cancelReconnect context.CancelFunc

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

// NewClient returns a disconnected client for the given options. The client
// owns two goroutines for its whole lifetime.
func NewClient(opts ClientOptions) (*Client, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.ClientName == "" {
		opts.ClientName = defaultClientName
	}
	if len(opts.ProtocolVersion) == 0 {
		opts.ProtocolVersion = defaultProtocolVersion
	}
	interval := opts.KeepAliveInterval
	if interval <= 0 {
		interval = defaultKeepAliveInterval
	}

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("electrum: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("electrum: %s", format)
		log.WithError(err).Warnf(format, a...)
	}

	c := &Client{
		opts:      opts,
		metrics:   opts.Metrics,
		chOps:     make(chan func(), opsQueueSize),
		chQuit:    make(chan struct{}),
		quitOnce:  &sync.Once{},
		events:    newEventQueue(),
		interval:  interval,
		pending:   make(map[uint64]*pendingRequest),
		listeners: make(map[ports.EventKind][]*listener),
		log:       logFn,
		warn:      warnFn,
	}
	c.parser = NewMessageParser(c.onMessage)

	go c.loop()

	return c, nil
}

func (c *Client) loop() {
	for {
		select {
		case op := <-c.chOps:
			op()
		case <-c.chQuit:
			return
		}
	}
}

// exec runs fn in the loop goroutine and waits for it to return. It returns
// false without running fn if the client is stopped. It must never be called
// from the loop itself.
func (c *Client) exec(fn func()) bool {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case c.chOps <- op:
	case <-c.chQuit:
		return false
	}
	select {
	case <-done:
		return true
	case <-c.chQuit:
		return false
	}
}

// post enqueues fn without waiting for it.
func (c *Client) post(fn func()) {
	select {
	case c.chOps <- fn:
	case <-c.chQuit:
	}
}

// Shutdown closes the connection and stops the goroutines of the client.
// The client can't be used anymore afterwards, every operation fails with
// ErrClientStopped.
func (c *Client) Shutdown() {
	c.Close()
	c.quitOnce.Do(func() {
		close(c.chQuit)
		c.events.stop()
		c.log("client stopped")
	})
}

// Connect opens the socket and performs the handshake: server.banner,
// server.version and the subscription to new block headers. Any failure
// leaves the client disconnected.
// Connect returns only after the close listeners of the previous connection
// have run, so it must not be called from a listener.
func (c *Client) Connect(ctx context.Context) (domain.Version, error) {
	var (
		socket Socket
		epoch  uint64
		err    error
	)
	c.events.flush()
	ok := c.exec(func() {
		if c.status != StatusDisconnected {
			err = domain.ErrAlreadyConnected
			return
		}
		if socket, err = c.newSocket(); err != nil {
			return
		}

		c.epoch++
		epoch = c.epoch
		c.status = StatusConnecting
		c.socket = socket
		c.tip = nil
		c.parser.Reset()
	})
	if !ok {
		return nil, ErrClientStopped
	}
	if err != nil {
		return nil, err
	}

	c.log("connecting to %s", c.url())

	version, err := c.connect(ctx, socket, epoch)
	if err != nil {
		var toClose Socket
		c.exec(func() {
			if c.epoch == epoch {
				toClose = c.teardown(domain.ErrConnectionClosed)
			}
		})
		if toClose != nil {
			toClose.Close()
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrConnectFailed, err)
	}

	c.log("connected to %s, server version %v", c.url(), version)
	return version, nil
}

func (c *Client) connect(
	ctx context.Context, socket Socket, epoch uint64,
) (domain.Version, error) {
	if err := socket.Connect(ctx, &socketListener{c, epoch}); err != nil {
		return nil, err
	}

	rawBanner, err := c.call(ctx, true, methodBanner)
	if err != nil {
		return nil, err
	}
	var banner string
	if err := decodeResult(methodBanner, rawBanner, &banner); err != nil {
		return nil, err
	}

	var protocolVersion interface{} = c.opts.ProtocolVersion
	if len(c.opts.ProtocolVersion) == 1 {
		protocolVersion = c.opts.ProtocolVersion[0]
	}
	rawVersion, err := c.call(
		ctx, true, methodVersion, c.opts.ClientName, protocolVersion,
	)
	if err != nil {
		return nil, err
	}
	var version domain.Version
	if err := decodeResult(methodVersion, rawVersion, &version); err != nil {
		return nil, err
	}

	rawTip, err := c.call(ctx, true, methodHeadersSubscribe)
	if err != nil {
		return nil, err
	}
	var tip domain.BlockHeader
	if err := decodeResult(methodHeadersSubscribe, rawTip, &tip); err != nil {
		return nil, err
	}

	ok := c.exec(func() {
		if c.epoch != epoch || c.status != StatusConnecting {
			err = domain.ErrConnectionClosed
			return
		}
		c.banner = banner
		c.version = version
		if c.tip == nil || tip.Height >= c.tip.Height {
			c.tip = &tip
		}
		c.status = StatusConnected
		c.lastCall = time.Now()
		c.startKeepAlive(epoch)
		c.metrics.setConnected(true)
	})
	if !ok {
		return nil, ErrClientStopped
	}
	if err != nil {
		return nil, err
	}

	return version, nil
}

// Close closes the connection, rejects every pending request with
// ErrConnectionClosed and removes all listeners. It also stops any
// reconnection in progress. It's a no-op if the client is disconnected.
func (c *Client) Close() {
	var socket Socket
	c.exec(func() {
		if c.cancelReconnect != nil {
			c.cancelReconnect()
			c.cancelReconnect = nil
		}
		if c.status == StatusDisconnected {
			return
		}
		c.status = StatusClosing
		socket = c.teardown(domain.ErrConnectionClosed)
	})
	if socket == nil {
		return
	}

	if err := socket.Close(); err != nil {
		c.warn(err, "failed to close socket")
	}
	c.log("connection to %s closed", c.url())
}

// IsConnected returns whether the handshake completed and the connection is
// still alive.
func (c *Client) IsConnected() bool {
	var connected bool
	c.exec(func() {
		connected = c.status == StatusConnected
	})
	return connected
}

// Status returns the current connection state.
func (c *Client) Status() Status {
	var status Status
	c.exec(func() {
		status = c.status
	})
	return status
}

// GetInfo returns the server url and version negotiated with the handshake
// along with the latest known block header.
func (c *Client) GetInfo() (*domain.ServerInfo, bool) {
	var info *domain.ServerInfo
	c.exec(func() {
		if c.status != StatusConnected || c.tip == nil {
			return
		}
		version := make(domain.Version, len(c.version))
		copy(version, c.version)
		info = &domain.ServerInfo{
			URL:     c.url(),
			Version: version,
			Block:   *c.tip,
		}
	})
	return info, info != nil
}

// Banner returns the banner sent by the server during the handshake.
func (c *Client) Banner() string {
	var banner string
	c.exec(func() {
		banner = c.banner
	})
	return banner
}

// Request sends a JSON-RPC request and waits for its result. It fails with
// ErrNotConnected without any I/O if the client is not connected. Canceling
// ctx only stops waiting, the request is not aborted on the server.
func (c *Client) Request(
	ctx context.Context, method string, params ...interface{},
) (json.RawMessage, error) {
	return c.call(ctx, false, method, params...)
}

func (c *Client) call(
	ctx context.Context, handshake bool, method string, params ...interface{},
) (json.RawMessage, error) {
	var (
		socket   Socket
		id       uint64
		buf      []byte
		chResult chan result
		err      error
	)
	ok := c.exec(func() {
		live := c.status == StatusConnected ||
			(handshake && c.status == StatusConnecting)
		if !live || c.socket == nil {
			err = domain.ErrNotConnected
			return
		}

		c.nextID++
		id = c.nextID
		if buf, err = newRequest(id, method, params...).encode(); err != nil {
			return
		}

		chResult = make(chan result, 1)
		c.pending[id] = &pendingRequest{method, chResult}
		c.lastCall = time.Now()
		socket = c.socket

		c.metrics.requestSent(method)
		c.metrics.setPending(len(c.pending))
	})
	if !ok {
		return nil, ErrClientStopped
	}
	if err != nil {
		return nil, err
	}

	if c.opts.Debug {
		c.log("SENT: %s", bytes.TrimSpace(buf))
	}

	if err := socket.Send(buf); err != nil {
		c.exec(func() {
			c.removePending(id)
		})
		return nil, err
	}

	select {
	case res := <-chResult:
		return res.value, res.err
	case <-ctx.Done():
		c.exec(func() {
			c.removePending(id)
		})
		return nil, ctx.Err()
	case <-c.chQuit:
		// Shutdown rejects pending requests before stopping the loop.
		select {
		case res := <-chResult:
			return res.value, res.err
		default:
			return nil, ErrClientStopped
		}
	}
}

// OnHeaders registers a listener for new block headers pushed by the server.
func (c *Client) OnHeaders(fn func(domain.BlockHeader)) ports.Subscription {
	return c.addListener(&listener{onHeader: fn}, ports.HeadersEvent)
}

// OnScripthashStatus registers a listener for scripthash status changes
// pushed by the server.
func (c *Client) OnScripthashStatus(
	fn func(domain.ScripthashStatus),
) ports.Subscription {
	return c.addListener(&listener{onStatus: fn}, ports.ScripthashStatusEvent)
}

// OnClose registers a listener invoked whenever the connection is torn
// down, either by Close or because it dropped. The server forgets every
// subscription at that point. Unlike the other listeners, it survives the
// end of the connection and is removed only with Off.
func (c *Client) OnClose(fn func(reason error)) ports.Subscription {
	l := &listener{onClose: fn, active: &atomic.Bool{}}
	l.active.Store(true)
	c.exec(func() {
		c.nextListenerID++
		l.sub = ports.Subscription{Kind: ports.CloseEvent, ID: c.nextListenerID}
		c.closeListeners = append(c.closeListeners, l)
	})
	return l.sub
}

// Off removes the listener, no event is delivered to it once Off returns.
func (c *Client) Off(sub ports.Subscription) {
	c.exec(func() {
		if sub.Kind == ports.CloseEvent {
			for i, l := range c.closeListeners {
				if l.sub.ID == sub.ID {
					l.active.Store(false)
					c.closeListeners = append(
						c.closeListeners[:i:i], c.closeListeners[i+1:]...,
					)
					break
				}
			}
			return
		}

		list := c.listeners[sub.Kind]
		for i, l := range list {
			if l.sub.ID == sub.ID {
				l.active.Store(false)
				c.listeners[sub.Kind] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
		if len(c.listeners[sub.Kind]) == 0 {
			delete(c.listeners, sub.Kind)
		}
	})
}

func (c *Client) addListener(l *listener, kind ports.EventKind) ports.Subscription {
	l.active = &atomic.Bool{}
	l.active.Store(true)
	c.exec(func() {
		c.nextListenerID++
		l.sub = ports.Subscription{Kind: kind, ID: c.nextListenerID}
		c.listeners[kind] = append(c.listeners[kind], l)
	})
	return l.sub
}

func (c *Client) newSocket() (Socket, error) {
	if c.opts.Socket != nil {
		return c.opts.Socket, nil
	}
	return NewSocket(c.opts.URL, c.opts.SocketOptions)
}

func (c *Client) url() string {
	return c.opts.URL
}

// The methods below run in the loop goroutine.

func (c *Client) removePending(id uint64) {
	delete(c.pending, id)
	c.metrics.setPending(len(c.pending))
}

// teardown resets the connection state and returns the socket that the
// caller must close outside of the loop.
func (c *Client) teardown(reason error) Socket {
	c.stopKeepAlive()
	c.epoch++

	for id, req := range c.pending {
		req.chResult <- result{err: reason}
		delete(c.pending, id)
	}
	for kind, list := range c.listeners {
		for _, l := range list {
			l.active.Store(false)
		}
		delete(c.listeners, kind)
	}
	for _, l := range c.closeListeners {
		l := l
		c.events.push(func() {
			if l.active.Load() {
				l.onClose(reason)
			}
		})
	}
	c.parser.Reset()

	socket := c.socket
	c.socket = nil
	c.status = StatusDisconnected

	c.metrics.setPending(0)
	c.metrics.setConnected(false)

	return socket
}

func (c *Client) onChunk(chunk []byte) {
	if err := c.parser.Run(chunk); err != nil {
		c.log("%s, resumed parsing of pending messages", err)
	}
}

func (c *Client) onMessage(buf []byte, _ int) {
	if c.opts.Debug {
		c.log("RECEIVED: %s", buf)
	}

	msg, err := parseMessage(buf)
	if err != nil {
		if errors.Is(err, errBatchResponse) {
			c.log("ignoring batch response")
			c.metrics.messageDropped("batch")
			return
		}
		c.warn(err, "dropping malformed message")
		c.metrics.messageDropped("malformed")
		return
	}

	switch {
	case msg.hasID():
		c.handleResponse(msg)
	case msg.isNotification():
		c.handleNotification(msg)
	default:
		c.warn(domain.ErrProtocol, "dropping message with neither id nor method")
		c.metrics.messageDropped("malformed")
	}
}

func (c *Client) handleResponse(msg *message) {
	id, err := msg.id()
	if err != nil {
		c.warn(err, "dropping response")
		c.metrics.messageDropped("malformed")
		return
	}

	req, ok := c.pending[id]
	if !ok {
		c.log("dropping response for unexpected request id %d", id)
		c.metrics.messageDropped("unknown_id")
		return
	}
	c.removePending(id)

	if err := msg.error(); err != nil {
		c.metrics.remoteError(req.method)
		req.chResult <- result{err: err}
		return
	}
	req.chResult <- result{value: msg.result()}
}

func (c *Client) handleNotification(msg *message) {
	c.metrics.notificationReceived(msg.Method)

	switch msg.Method {
	case methodHeadersSubscribe:
		header, err := parseHeadersParams(msg.Params)
		if err != nil {
			c.warn(err, "dropping notification")
			c.metrics.messageDropped("malformed")
			return
		}
		c.tip = header
		for _, l := range c.listeners[ports.HeadersEvent] {
			l, header := l, *header
			c.events.push(func() {
				if l.active.Load() {
					l.onHeader(header)
				}
			})
		}
	case methodScripthashSubscribe:
		status, err := parseScripthashParams(msg.Params)
		if err != nil {
			c.warn(err, "dropping notification")
			c.metrics.messageDropped("malformed")
			return
		}
		for _, l := range c.listeners[ports.ScripthashStatusEvent] {
			l, status := l, *status
			c.events.push(func() {
				if l.active.Load() {
					l.onStatus(status)
				}
			})
		}
	default:
		c.log("ignoring notification for unsupported method %s", msg.Method)
	}
}

// onSocketClose handles a connection closed by the other end or by an
// error. Reconnection is attempted only if the connection was established.
func (c *Client) onSocketClose() {
	if c.status == StatusDisconnected || c.status == StatusClosing {
		return
	}

	wasConnected := c.status == StatusConnected
	c.warn(domain.ErrConnectionClosed, "connection to %s dropped", c.url())
	c.teardown(domain.ErrConnectionClosed)

	if wasConnected && c.opts.Persistence.enabled() {
		c.startReconnect()
	}
}

type socketListener struct {
	client *Client
	epoch  uint64
}

func (l *socketListener) OnConnect() {
	l.client.log("socket connected")
}

func (l *socketListener) OnReceive(chunk []byte) {
	l.client.post(func() {
		if l.client.epoch == l.epoch {
			l.client.onChunk(chunk)
		}
	})
}

func (l *socketListener) OnEnd(reason error) {
	l.client.post(func() {
		if l.client.epoch == l.epoch {
			l.client.log("connection ended by server: %s", reason)
		}
	})
}

func (l *socketListener) OnError(err error) {
	l.client.post(func() {
		if l.client.epoch == l.epoch {
			l.client.warn(err, "socket error")
		}
	})
}

func (l *socketListener) OnClose() {
	l.client.post(func() {
		if l.client.epoch == l.epoch {
			l.client.onSocketClose()
		}
	})
}

var _ ports.ElectrumClient = (*Client)(nil)
