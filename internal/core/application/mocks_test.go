package application_test

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"github.com/vulpemventures/electrum-link/internal/core/ports"
)

var ctx = context.Background()

// ports.ElectrumClient
type mockElectrumClient struct {
	mock.Mock

	lock               *sync.Mutex
	headersListener    func(domain.BlockHeader)
	scripthashListener func(domain.ScripthashStatus)
	closeListener      func(error)
}

func newMockedElectrumClient() *mockElectrumClient {
	return &mockElectrumClient{lock: &sync.Mutex{}}
}

func (m *mockElectrumClient) Connect(ctx context.Context) (domain.Version, error) {
	args := m.Called(ctx)
	var res domain.Version
	if a := args.Get(0); a != nil {
		res = a.(domain.Version)
	}
	return res, args.Error(1)
}

func (m *mockElectrumClient) Close() {
	m.Called()
}

func (m *mockElectrumClient) IsConnected() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockElectrumClient) GetInfo() (*domain.ServerInfo, bool) {
	args := m.Called()
	var res *domain.ServerInfo
	if a := args.Get(0); a != nil {
		res = a.(*domain.ServerInfo)
	}
	return res, args.Bool(1)
}

func (m *mockElectrumClient) Request(
	ctx context.Context, method string, params ...interface{},
) (json.RawMessage, error) {
	args := m.Called(ctx, method, params)
	var res json.RawMessage
	if a := args.Get(0); a != nil {
		res = a.(json.RawMessage)
	}
	return res, args.Error(1)
}

func (m *mockElectrumClient) GetBalance(
	ctx context.Context, scriptHash string,
) (*domain.Balance, error) {
	args := m.Called(ctx, scriptHash)
	var res *domain.Balance
	if a := args.Get(0); a != nil {
		res = a.(*domain.Balance)
	}
	return res, args.Error(1)
}

func (m *mockElectrumClient) GetHistory(
	ctx context.Context, scriptHash string,
) ([]domain.HistoryEntry, error) {
	args := m.Called(ctx, scriptHash)
	var res []domain.HistoryEntry
	if a := args.Get(0); a != nil {
		res = a.([]domain.HistoryEntry)
	}
	return res, args.Error(1)
}

func (m *mockElectrumClient) ListUnspent(
	ctx context.Context, scriptHash string,
) ([]domain.Unspent, error) {
	args := m.Called(ctx, scriptHash)
	var res []domain.Unspent
	if a := args.Get(0); a != nil {
		res = a.([]domain.Unspent)
	}
	return res, args.Error(1)
}

func (m *mockElectrumClient) GetTransaction(
	ctx context.Context, txid string,
) (*domain.VerboseTransaction, error) {
	args := m.Called(ctx, txid)
	var res *domain.VerboseTransaction
	if a := args.Get(0); a != nil {
		res = a.(*domain.VerboseTransaction)
	}
	return res, args.Error(1)
}

func (m *mockElectrumClient) GetBlockHeader(
	ctx context.Context, height uint32,
) (string, error) {
	args := m.Called(ctx, height)
	return args.String(0), args.Error(1)
}

func (m *mockElectrumClient) EstimateFee(
	ctx context.Context, blocks uint32,
) (decimal.Decimal, error) {
	args := m.Called(ctx, blocks)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *mockElectrumClient) SubscribeScripthash(
	ctx context.Context, scriptHash string,
) (string, error) {
	args := m.Called(ctx, scriptHash)
	return args.String(0), args.Error(1)
}

func (m *mockElectrumClient) UnsubscribeScripthash(
	ctx context.Context, scriptHash string,
) (bool, error) {
	args := m.Called(ctx, scriptHash)
	return args.Bool(0), args.Error(1)
}

func (m *mockElectrumClient) OnHeaders(
	listener func(domain.BlockHeader),
) ports.Subscription {
	m.lock.Lock()
	m.headersListener = listener
	m.lock.Unlock()

	m.Called()
	return ports.Subscription{Kind: ports.HeadersEvent, ID: 1}
}

func (m *mockElectrumClient) OnScripthashStatus(
	listener func(domain.ScripthashStatus),
) ports.Subscription {
	m.lock.Lock()
	m.scripthashListener = listener
	m.lock.Unlock()

	m.Called()
	return ports.Subscription{Kind: ports.ScripthashStatusEvent, ID: 2}
}

// OnClose is registered by every subscription service, therefore it's not
// tracked as a call.
func (m *mockElectrumClient) OnClose(listener func(error)) ports.Subscription {
	m.lock.Lock()
	m.closeListener = listener
	m.lock.Unlock()
	return ports.Subscription{Kind: ports.CloseEvent, ID: 3}
}

func (m *mockElectrumClient) Off(sub ports.Subscription) {
	if sub.Kind == ports.CloseEvent {
		m.lock.Lock()
		m.closeListener = nil
		m.lock.Unlock()
		return
	}
	m.Called(sub)
}

// pushClose simulates the end of the connection.
func (m *mockElectrumClient) pushClose(reason error) {
	m.lock.Lock()
	listener := m.closeListener
	m.lock.Unlock()
	if listener != nil {
		listener(reason)
	}
}

func (m *mockElectrumClient) pushHeaders(header domain.BlockHeader) {
	m.lock.Lock()
	listener := m.headersListener
	m.lock.Unlock()
	listener(header)
}

func (m *mockElectrumClient) pushStatus(scriptHash, status string) {
	m.lock.Lock()
	listener := m.scripthashListener
	m.lock.Unlock()
	listener(domain.ScripthashStatus{ScriptHash: scriptHash, Status: status})
}

// mockEmptyHistories makes every scripthash without a specific expectation
// have no history. It must be called after the specific expectations.
func (m *mockElectrumClient) mockEmptyHistories() {
	m.On("GetHistory", mock.Anything, mock.Anything).
		Return([]domain.HistoryEntry{}, nil)
}

func (m *mockElectrumClient) mockTip(height int64) {
	m.On("GetInfo").Return(&domain.ServerInfo{
		URL:     "tcp://127.0.0.1:50001",
		Version: domain.Version{"ElectrumX 1.16.0", "1.4"},
		Block:   domain.BlockHeader{Height: height, Hex: genesisHeader},
	}, true)
}

// ports.AddressService
// Addresses are deterministic strings and their script is the raw bytes of
// the address itself.
type fakeAddressService struct{}

func (fakeAddressService) DeriveAddresses(
	descriptor string, chain domain.Chain, from, count uint32,
) ([]domain.DerivedAddress, error) {
	if strings.HasPrefix(descriptor, "invalid") {
		return nil, fmt.Errorf("invalid descriptor %s", descriptor)
	}
	addresses := make([]domain.DerivedAddress, 0, count)
	for i := from; i < from+count; i++ {
		addr := derivedAddress(descriptor, chain, i)
		addresses = append(addresses, domain.DerivedAddress{
			Address:        addr,
			DerivationPath: fmt.Sprintf("m/%d/%d", chain, i),
			Script:         []byte(addr),
		})
	}
	return addresses, nil
}

func (fakeAddressService) OutputScript(address string) ([]byte, error) {
	if address == "" || strings.HasPrefix(address, "invalid") {
		return nil, fmt.Errorf("invalid address %s", address)
	}
	return []byte(address), nil
}

func (fakeAddressService) IsAddress(descriptor string) bool {
	return !strings.HasPrefix(descriptor, "xpub")
}

func derivedAddress(descriptor string, chain domain.Chain, index uint32) string {
	return fmt.Sprintf("%s-%d-%d", descriptor, chain, index)
}

func scriptHashOf(address string) string {
	return domain.ScriptHash([]byte(address))
}

func scriptHexOf(address string) string {
	return hex.EncodeToString([]byte(address))
}

const genesisHeader = "0100000000000000000000000000000000000000000000000000000000000000" +
	"000000003ba3edfd7a7b12b27ac72c3e67768f617fc81bc3888a51323a9fb8aa4b1e5e4a" +
	"29ab5f49ffff001d1dac2b7c"

const genesisHash = "000000000019d6689c085ae165831e934ff763ae46a2a6c172b3f1b60a8ce26f"

type output struct {
	address string
	value   string
}

type input struct {
	txid string
	vout uint32
}

func verboseTx(
	txid string, confirmations int64, ins []input, outs []output,
) *domain.VerboseTransaction {
	tx := &domain.VerboseTransaction{
		TxID:          txid,
		Hash:          txid,
		Version:       2,
		Hex:           "02000000" + txid,
		Confirmations: confirmations,
		Vin:           make([]domain.Vin, 0, len(ins)),
		Vout:          make([]domain.Vout, 0, len(outs)),
	}
	if confirmations > 0 {
		tx.BlockHash = "blockhash-" + txid
		tx.BlockTime = 1700000000 + 600*(100-confirmations)
		tx.Time = tx.BlockTime
	}
	for _, in := range ins {
		if in.txid == "" {
			tx.Vin = append(tx.Vin, domain.Vin{Coinbase: "03abcdef", Sequence: 0xffffffff})
			continue
		}
		tx.Vin = append(tx.Vin, domain.Vin{
			TxID: in.txid, Vout: in.vout, Sequence: 0xfffffffd,
		})
	}
	for i, out := range outs {
		tx.Vout = append(tx.Vout, domain.Vout{
			Value: json.Number(out.value),
			N:     uint32(i),
			ScriptPubKey: domain.ScriptPubKey{
				Hex:     scriptHexOf(out.address),
				Type:    "witness_v0_keyhash",
				Address: out.address,
			},
		})
	}
	return tx
}
