package domain

import "errors"

var (
	// ErrConfig is returned for malformed endpoints or unsupported protocols.
	ErrConfig = errors.New("invalid configuration")
	// ErrConnectFailed is returned when either the transport or the protocol
	// handshake fails while connecting.
	ErrConnectFailed = errors.New("failed to connect to electrum server")
	// ErrAlreadyConnected is returned by Connect when the client is not
	// disconnected.
	ErrAlreadyConnected = errors.New("client already connected")
	// ErrNotConnected is returned when a request is made without a live
	// connection.
	ErrNotConnected = errors.New("connection not established")
	// ErrConnectionClosed is returned to pending requests invalidated by the
	// connection shutting down.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrProtocol marks malformed frames, invalid JSON or unexpected results.
	ErrProtocol = errors.New("protocol error")
	// ErrParseLimitExceeded is reported when the frame parser hits its
	// per-pass depth cap.
	ErrParseLimitExceeded = errors.New("parse limit exceeded")

	ErrTransactionNotFound = errors.New("transaction not found")
	ErrMissingDescriptor   = errors.New("missing descriptor")
	ErrMissingTxid         = errors.New("missing txid")
)

// RemoteError is the error returned by the server in the error field of a
// response. Its message is the one of the server, the code is available as a
// field.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return e.Message
}

// ErrorKind returns the name of the error class err belongs to, or an empty
// string if it's not one of the known ones.
func ErrorKind(err error) string {
	var remoteErr *RemoteError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConnectFailed):
		return "ConnectFailed"
	case errors.As(err, &remoteErr):
		return "RemoteError"
	case errors.Is(err, ErrConfig):
		return "ConfigError"
	case errors.Is(err, ErrAlreadyConnected):
		return "AlreadyConnected"
	case errors.Is(err, ErrNotConnected):
		return "NotConnected"
	case errors.Is(err, ErrConnectionClosed):
		return "ConnectionClosed"
	case errors.Is(err, ErrParseLimitExceeded):
		return "ParseLimitExceeded"
	case errors.Is(err, ErrProtocol):
		return "ProtocolError"
	default:
		return ""
	}
}
