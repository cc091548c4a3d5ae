package ports

import (
	"context"
	"encoding/json"

	"github.com/shopspring/decimal"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

const (
	HeadersEvent EventKind = iota
	ScripthashStatusEvent
	CloseEvent
)

// EventKind is the closed set of server-initiated events a listener can
// register for.
type EventKind int

func (k EventKind) String() string {
	switch k {
	case HeadersEvent:
		return "blockchain.headers.subscribe"
	case ScripthashStatusEvent:
		return "blockchain.scripthash.subscribe"
	case CloseEvent:
		return "close"
	default:
		return "unknown"
	}
}

// Subscription identifies a registered event listener.
type Subscription struct {
	Kind EventKind
	ID   uint64
}

// ElectrumClient is the abstraction for the JSON-RPC client talking to an
// Electrum server. It correlates requests to responses and multiplexes
// server-push notifications to typed listeners.
type ElectrumClient interface {
	// Connect opens the transport and performs the protocol handshake.
	Connect(ctx context.Context) (domain.Version, error)
	// Close tears down the connection, rejecting any pending request.
	Close()
	// IsConnected returns whether the handshake completed and the connection
	// is still alive.
	IsConnected() bool
	// GetInfo returns the metadata of the current connection.
	GetInfo() (*domain.ServerInfo, bool)

	// Request sends a raw JSON-RPC request and waits for its result.
	Request(
		ctx context.Context, method string, params ...interface{},
	) (json.RawMessage, error)

	GetBalance(ctx context.Context, scriptHash string) (*domain.Balance, error)
	GetHistory(ctx context.Context, scriptHash string) ([]domain.HistoryEntry, error)
	ListUnspent(ctx context.Context, scriptHash string) ([]domain.Unspent, error)
	GetTransaction(ctx context.Context, txid string) (*domain.VerboseTransaction, error)
	GetBlockHeader(ctx context.Context, height uint32) (string, error)
	EstimateFee(ctx context.Context, blocks uint32) (decimal.Decimal, error)
	SubscribeScripthash(ctx context.Context, scriptHash string) (string, error)
	UnsubscribeScripthash(ctx context.Context, scriptHash string) (bool, error)

	// OnHeaders registers a listener for new tip notifications.
	OnHeaders(listener func(domain.BlockHeader)) Subscription
	// OnScripthashStatus registers a listener for scripthash status changes.
	OnScripthashStatus(listener func(domain.ScripthashStatus)) Subscription
	// OnClose registers a listener for the end of the connection, after
	// which the server no longer knows about any subscription. It is kept
	// across reconnections.
	OnClose(listener func(reason error)) Subscription
	// Off removes a previously registered listener.
	Off(sub Subscription)
}
