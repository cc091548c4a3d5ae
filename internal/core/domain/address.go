package domain

import "fmt"

const (
	ChainReceive Chain = iota
	ChainChange
)

// Chain selects the receive (external) or change (internal) branch of a
// descriptor.
type Chain uint32

func (c Chain) String() string {
	switch c {
	case ChainReceive:
		return "receive"
	case ChainChange:
		return "change"
	default:
		return fmt.Sprintf("chain(%d)", uint32(c))
	}
}

// DerivedAddress is an address derived from a descriptor, together with its
// output script.
type DerivedAddress struct {
	Address        string
	DerivationPath string
	Script         []byte
}

// ScriptHash returns the electrum scripthash of the address.
func (a DerivedAddress) ScriptHash() string {
	return ScriptHash(a.Script)
}

// HistoryEntry is an item of the history of a scripthash. Height <= 0 means
// the tx is in mempool (-1 if it has unconfirmed parents).
type HistoryEntry struct {
	TxHash string `json:"tx_hash"`
	Height int64  `json:"height"`
	Fee    int64  `json:"fee,omitempty"`
}

// IsConfirmed returns whether the tx is included in a block.
func (e HistoryEntry) IsConfirmed() bool {
	return e.Height > 0
}

// Balance is the confirmed and unconfirmed balance of a scripthash in
// satoshis. Unconfirmed can be negative.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// Unspent is an unspent output as returned by blockchain.scripthash.listunspent.
type Unspent struct {
	TxHash string `json:"tx_hash"`
	TxPos  uint32 `json:"tx_pos"`
	Height int64  `json:"height"`
	Value  int64  `json:"value"`
}

// AddressInfo is the result of the discovery of a single address.
type AddressInfo struct {
	Address        string
	DerivationPath string
	ScriptHash     string
	History        []HistoryEntry
	Confirmed      int64
	Unconfirmed    int64
}

// IsUsed returns whether the address has any history.
func (i AddressInfo) IsUsed() bool {
	return len(i.History) > 0
}

// AddressesInfo is a list of AddressInfo.
type AddressesInfo []AddressInfo

// History returns the concatenated history of all addresses.
func (l AddressesInfo) History() []HistoryEntry {
	history := make([]HistoryEntry, 0)
	for _, info := range l {
		history = append(history, info.History...)
	}
	return history
}

// Balance returns the sum of confirmed and unconfirmed balances.
func (l AddressesInfo) Balance() (confirmed, unconfirmed int64) {
	for _, info := range l {
		confirmed += info.Confirmed
		unconfirmed += info.Unconfirmed
	}
	return
}

// Used returns only the addresses with history.
func (l AddressesInfo) Used() AddressesInfo {
	return l.filter(func(i AddressInfo) bool { return i.IsUsed() })
}

// Unused returns only the addresses without history.
func (l AddressesInfo) Unused() AddressesInfo {
	return l.filter(func(i AddressInfo) bool { return !i.IsUsed() })
}

func (l AddressesInfo) filter(fn func(AddressInfo) bool) AddressesInfo {
	res := make(AddressesInfo, 0, len(l))
	for _, info := range l {
		if fn(info) {
			res = append(res, info)
		}
	}
	return res
}
