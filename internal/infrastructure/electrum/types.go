package electrum

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

const (
	methodBanner              = "server.banner"
	methodVersion             = "server.version"
	methodPing                = "server.ping"
	methodHeadersSubscribe    = "blockchain.headers.subscribe"
	methodBlockHeader         = "blockchain.block.header"
	methodEstimateFee         = "blockchain.estimatefee"
	methodGetBalance          = "blockchain.scripthash.get_balance"
	methodGetHistory          = "blockchain.scripthash.get_history"
	methodListUnspent         = "blockchain.scripthash.listunspent"
	methodScripthashSubscribe = "blockchain.scripthash.subscribe"
	methodScripthashUnsub     = "blockchain.scripthash.unsubscribe"
	methodGetTransaction      = "blockchain.transaction.get"
)

type request struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

func newRequest(id uint64, method string, params ...interface{}) request {
	params = append([]interface{}{}, params...)
	return request{"2.0", method, params, id}
}

func (r request) encode() ([]byte, error) {
	buf, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return append(buf, delim), nil
}

// message is any inbound json object, either a response or a server
// notification. Fields are kept raw so that presence can be told apart from
// zero values.
type message struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	Result json.RawMessage `json:"result"`
	Error  json.RawMessage `json:"error"`
}

func parseMessage(buf []byte) (*message, error) {
	buf = bytes.TrimSpace(buf)
	if len(buf) > 0 && buf[0] == '[' {
		return nil, errBatchResponse
	}

	var msg message
	if err := json.Unmarshal(buf, &msg); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrProtocol, err)
	}
	return &msg, nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func (m *message) hasID() bool {
	return !isNull(m.ID)
}

func (m *message) id() (uint64, error) {
	var id uint64
	if err := json.Unmarshal(m.ID, &id); err != nil {
		return 0, fmt.Errorf("%w: invalid id %s", domain.ErrProtocol, m.ID)
	}
	return id, nil
}

func (m *message) isNotification() bool {
	return !m.hasID() && m.Method != ""
}

// error returns the RemoteError carried by the response, if any. Servers
// either send an object with code and message or a plain string.
func (m *message) error() error {
	if isNull(m.Error) {
		return nil
	}

	var remoteErr domain.RemoteError
	if err := json.Unmarshal(m.Error, &remoteErr); err == nil {
		return &remoteErr
	}

	var msg string
	if err := json.Unmarshal(m.Error, &msg); err == nil {
		return &domain.RemoteError{Message: msg}
	}
	return &domain.RemoteError{Message: strings.Trim(string(m.Error), `"`)}
}

// result returns the raw result, a missing field is reported as JSON null.
func (m *message) result() json.RawMessage {
	if len(m.Result) == 0 {
		return json.RawMessage("null")
	}
	return m.Result
}

// decodeResult unmarshals the raw result into the given value.
func decodeResult(method string, raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf(
			"%w: failed to decode result of %s: %s", domain.ErrProtocol, method, err,
		)
	}
	return nil
}

var errBatchResponse = fmt.Errorf(
	"%w: batch responses are not supported", domain.ErrProtocol,
)

// parseHeadersParams decodes the params of a headers push, [header].
func parseHeadersParams(raw json.RawMessage) (*domain.BlockHeader, error) {
	var params []domain.BlockHeader
	if err := json.Unmarshal(raw, &params); err != nil || len(params) == 0 {
		return nil, fmt.Errorf("%w: invalid headers notification", domain.ErrProtocol)
	}
	return &params[0], nil
}

// parseScripthashParams decodes the params of a scripthash push,
// [scripthash, status] where status is null for a scripthash without history.
func parseScripthashParams(raw json.RawMessage) (*domain.ScripthashStatus, error) {
	var params []*string
	if err := json.Unmarshal(raw, &params); err != nil || len(params) == 0 ||
		params[0] == nil {
		return nil, fmt.Errorf(
			"%w: invalid scripthash notification", domain.ErrProtocol,
		)
	}

	status := domain.ScripthashStatus{ScriptHash: *params[0]}
	if len(params) > 1 && params[1] != nil {
		status.Status = *params[1]
	}
	return &status, nil
}
