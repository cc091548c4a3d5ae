package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"github.com/vulpemventures/electrum-link/internal/core/ports"
)

const (
	MessageConnect                  = "connect"
	MessageDisconnect               = "disconnect"
	MessageGetInfo                  = "get_info"
	MessageSubscribe                = "subscribe"
	MessageUnsubscribe              = "unsubscribe"
	MessageGetAccountInfo           = "get_account_info"
	MessageGetAccountUtxo           = "get_account_utxo"
	MessageGetTransaction           = "get_transaction"
	MessageGetAccountBalanceHistory = "get_account_balance_history"
	MessageGetBlockHash             = "get_block_hash"
	MessageEstimateFee              = "estimate_fee"
)

var ErrUnknownMessage = errors.New("unknown message type")

// Message is a command sent by the host.
type Message struct {
	ID      int64           `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the result of a Message, with the same id. Error is set if the
// command failed.
type Response struct {
	ID      int64          `json:"id"`
	Type    string         `json:"type"`
	Payload interface{}    `json:"payload,omitempty"`
	Error   *ResponseError `json:"error,omitempty"`
}

type ResponseError struct {
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type descriptorPayload struct {
	Descriptor string `json:"descriptor"`
}

type txidPayload struct {
	Txid string `json:"txid"`
}

type blockHashPayload struct {
	Height uint32 `json:"height"`
}

type estimateFeePayload struct {
	Blocks []uint32 `json:"blocks"`
}

// WorkerService is the only entry point for the host: it dispatches every
// Message to the right service and makes sure the client is connected before
// any command requiring the server.
type WorkerService struct {
	client        ports.ElectrumClient
	accountSvc    *AccountService
	txSvc         *TransactionService
	subscriptions *SubscriptionService

	log func(format string, a ...interface{})
}

func NewWorkerService(
	client ports.ElectrumClient, accountSvc *AccountService,
	txSvc *TransactionService, subscriptions *SubscriptionService,
) *WorkerService {
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("worker: %s", format)
		log.Debugf(format, a...)
	}
	return &WorkerService{client, accountSvc, txSvc, subscriptions, logFn}
}

// Notifications returns the channel of address and block notifications.
func (ws *WorkerService) Notifications() <-chan domain.Notification {
	return ws.subscriptions.Notifications()
}

func (ws *WorkerService) Handle(ctx context.Context, msg Message) Response {
	ws.log("handling message %d of type %s", msg.ID, msg.Type)

	payload, err := ws.handle(ctx, msg)
	if err != nil {
		ws.log("message %d failed: %s", msg.ID, err)
		return Response{
			ID:   msg.ID,
			Type: msg.Type,
			Error: &ResponseError{
				Kind:    domain.ErrorKind(err),
				Message: err.Error(),
			},
		}
	}
	return Response{ID: msg.ID, Type: msg.Type, Payload: payload}
}

// Close unsubscribes from everything and closes the connection.
func (ws *WorkerService) Close() {
	ws.subscriptions.Close()
	ws.client.Close()
}

func (ws *WorkerService) handle(
	ctx context.Context, msg Message,
) (interface{}, error) {
	switch msg.Type {
	case MessageConnect:
		return ws.connect(ctx)
	case MessageDisconnect:
		ws.subscriptions.Reset()
		ws.client.Close()
		return true, nil
	}

	if _, ok := handledMessages[msg.Type]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessage, msg.Type)
	}
	if err := ws.ensureConnected(ctx); err != nil {
		return nil, err
	}

	switch msg.Type {
	case MessageGetInfo:
		return ws.getInfo()
	case MessageSubscribe:
		var req SubscribeRequest
		if err := decodePayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		return ws.subscriptions.Subscribe(ctx, req)
	case MessageUnsubscribe:
		var req SubscribeRequest
		if err := decodePayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		return ws.subscriptions.Unsubscribe(ctx, req)
	case MessageGetAccountInfo:
		var req AccountInfoRequest
		if err := decodePayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		return ws.accountSvc.GetAccountInfo(ctx, req)
	case MessageGetAccountUtxo:
		var req descriptorPayload
		if err := decodePayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		return ws.accountSvc.GetAccountUtxo(ctx, req.Descriptor)
	case MessageGetTransaction:
		var req txidPayload
		if err := decodePayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		return ws.txSvc.GetTransaction(ctx, req.Txid)
	case MessageGetAccountBalanceHistory:
		var req BalanceHistoryRequest
		if err := decodePayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		return ws.accountSvc.GetAccountBalanceHistory(ctx, req)
	case MessageGetBlockHash:
		var req blockHashPayload
		if err := decodePayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		return ws.txSvc.GetBlockHash(ctx, req.Height)
	default:
		var req estimateFeePayload
		if err := decodePayload(msg.Payload, &req); err != nil {
			return nil, err
		}
		if len(req.Blocks) <= 0 {
			req.Blocks = []uint32{1}
		}
		return ws.txSvc.EstimateFee(ctx, req.Blocks)
	}
}

// connect opens the connection if not already open and returns the info
// about the server.
func (ws *WorkerService) connect(ctx context.Context) (*ServerInfo, error) {
	if err := ws.ensureConnected(ctx); err != nil {
		return nil, err
	}
	return ws.getInfo()
}

func (ws *WorkerService) ensureConnected(ctx context.Context) error {
	if ws.client.IsConnected() {
		return nil
	}
	// Watches left from a previous connection are unknown to the server.
	ws.subscriptions.Reset()
	version, err := ws.client.Connect(ctx)
	if err != nil && !errors.Is(err, domain.ErrAlreadyConnected) {
		return err
	}
	ws.log("connected, server version %v", version)
	return nil
}

func (ws *WorkerService) getInfo() (*ServerInfo, error) {
	info, ok := ws.client.GetInfo()
	if !ok {
		return nil, domain.ErrNotConnected
	}

	blockHash := ""
	if info.Block.Hex != "" {
		hash, err := info.Block.Hash()
		if err != nil {
			return nil, err
		}
		blockHash = hash
	}
	return &ServerInfo{
		URL:         info.URL,
		Version:     info.Version,
		BlockHeight: info.Block.Height,
		BlockHash:   blockHash,
	}, nil
}

var handledMessages = map[string]struct{}{
	MessageGetInfo:                  {},
	MessageSubscribe:                {},
	MessageUnsubscribe:              {},
	MessageGetAccountInfo:           {},
	MessageGetAccountUtxo:           {},
	MessageGetTransaction:           {},
	MessageGetAccountBalanceHistory: {},
	MessageGetBlockHash:             {},
	MessageEstimateFee:              {},
}

func decodePayload(payload json.RawMessage, v interface{}) error {
	if len(payload) <= 0 {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: invalid payload: %s", domain.ErrConfig, err)
	}
	return nil
}
