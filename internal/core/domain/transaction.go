package domain

import "encoding/json"

// VerboseTransaction is the decoded tx returned by
// blockchain.transaction.get with verbose=true.
type VerboseTransaction struct {
	TxID          string `json:"txid"`
	Hash          string `json:"hash"`
	Version       int32  `json:"version"`
	Size          uint32 `json:"size"`
	VSize         uint32 `json:"vsize"`
	LockTime      uint32 `json:"locktime"`
	Hex           string `json:"hex"`
	BlockHash     string `json:"blockhash,omitempty"`
	Confirmations int64  `json:"confirmations,omitempty"`
	Time          int64  `json:"time,omitempty"`
	BlockTime     int64  `json:"blocktime,omitempty"`
	Vin           []Vin  `json:"vin"`
	Vout          []Vout `json:"vout"`
}

// IsConfirmed returns whether the tx is included in a block.
func (t *VerboseTransaction) IsConfirmed() bool {
	return t.Confirmations > 0
}

// Vin is an input of a verbose tx.
type Vin struct {
	TxID     string    `json:"txid,omitempty"`
	Vout     uint32    `json:"vout"`
	Coinbase string    `json:"coinbase,omitempty"`
	Sequence uint32    `json:"sequence"`
	N        uint32    `json:"n,omitempty"`
	Script   ScriptSig `json:"scriptSig"`
}

// IsCoinbase returns whether the input mints new coins, and therefore has no
// previous output.
func (v Vin) IsCoinbase() bool {
	return v.Coinbase != "" || v.TxID == ""
}

// ScriptSig is the unlocking script of an input.
type ScriptSig struct {
	Asm string `json:"asm"`
	Hex string `json:"hex"`
}

// Vout is an output of a verbose tx. Value is expressed in coins and kept as
// a json number to not lose precision.
type Vout struct {
	Value        json.Number  `json:"value"`
	N            uint32       `json:"n"`
	ScriptPubKey ScriptPubKey `json:"scriptPubKey"`
}

// ScriptPubKey is the locking script of an output.
type ScriptPubKey struct {
	Asm       string   `json:"asm"`
	Hex       string   `json:"hex"`
	Type      string   `json:"type"`
	Address   string   `json:"address,omitempty"`
	Addresses []string `json:"addresses,omitempty"`
}

// ParsedAddresses returns the list of addresses of the script, either from
// the single address field (newer nodes) or from the addresses list.
func (s ScriptPubKey) ParsedAddresses() []string {
	if s.Address != "" {
		return []string{s.Address}
	}
	if s.Addresses == nil {
		return []string{}
	}
	return s.Addresses
}

// Transaction is the canonical tx record returned to the host. All values are
// in satoshis.
type Transaction struct {
	TxID          string  `json:"txid"`
	Version       int32   `json:"version"`
	Hex           string  `json:"hex"`
	LockTime      uint32  `json:"lockTime"`
	BlockHash     string  `json:"blockHash,omitempty"`
	BlockHeight   int64   `json:"blockHeight"`
	BlockTime     int64   `json:"blockTime,omitempty"`
	Confirmations int64   `json:"confirmations"`
	Value         int64   `json:"value"`
	ValueIn       int64   `json:"valueIn"`
	Fees          int64   `json:"fees"`
	Vin           []TxIn  `json:"vin"`
	Vout          []TxOut `json:"vout"`
}

// TxIn is an input of a canonical tx.
type TxIn struct {
	TxID      string   `json:"txid,omitempty"`
	Vout      uint32   `json:"vout"`
	Sequence  uint32   `json:"sequence"`
	N         uint32   `json:"n"`
	Value     int64    `json:"value"`
	Addresses []string `json:"addresses"`
	IsAddress bool     `json:"isAddress"`
	Coinbase  bool     `json:"coinbase,omitempty"`
}

// TxOut is an output of a canonical tx.
type TxOut struct {
	Value     int64    `json:"value"`
	N         uint32   `json:"n"`
	Spent     bool     `json:"spent"`
	Hex       string   `json:"hex"`
	Addresses []string `json:"addresses"`
	IsAddress bool     `json:"isAddress"`
}

// HasAddress returns whether any of the inputs or outputs of the tx belongs
// to the given set of addresses.
func (t *Transaction) HasAddress(addresses map[string]struct{}) bool {
	for _, in := range t.Vin {
		if containsAny(in.Addresses, addresses) {
			return true
		}
	}
	for _, out := range t.Vout {
		if containsAny(out.Addresses, addresses) {
			return true
		}
	}
	return false
}

func containsAny(list []string, set map[string]struct{}) bool {
	for _, item := range list {
		if _, ok := set[item]; ok {
			return true
		}
	}
	return false
}
