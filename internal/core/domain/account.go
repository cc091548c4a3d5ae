package domain

const (
	DetailsBasic         = "basic"
	DetailsTokens        = "tokens"
	DetailsTokenBalances = "tokenBalances"
	DetailsTxids         = "txids"
	DetailsTxs           = "txs"
)

// AccountInfo is the account-level view computed from the discovered
// addresses of a descriptor. It's never stored, but computed fresh for every
// request.
type AccountInfo struct {
	Descriptor       string            `json:"descriptor"`
	Balance          int64             `json:"balance"`
	AvailableBalance int64             `json:"availableBalance"`
	Empty            bool              `json:"empty"`
	History          AccountHistory    `json:"history"`
	Addresses        *AccountAddresses `json:"addresses,omitempty"`
	Page             *Page             `json:"page,omitempty"`
}

// AccountHistory summarizes the history of an account.
type AccountHistory struct {
	Total        int            `json:"total"`
	Unconfirmed  int            `json:"unconfirmed"`
	Txids        []string       `json:"txids,omitempty"`
	Transactions []*Transaction `json:"transactions,omitempty"`
}

// AccountAddresses splits the addresses of an account.
type AccountAddresses struct {
	Change []Address `json:"change"`
	Used   []Address `json:"used"`
	Unused []Address `json:"unused"`
}

// Address is the host-facing view of a discovered address.
type Address struct {
	Address   string `json:"address"`
	Path      string `json:"path"`
	Transfers int    `json:"transfers"`
	Balance   *int64 `json:"balance,omitempty"`
}

// Page describes the requested page of the history.
type Page struct {
	Index int `json:"index"`
	Size  int `json:"size"`
	Total int `json:"total"`
}

// AccountUtxo is an unspent output owned by an account.
type AccountUtxo struct {
	TxID          string `json:"txid"`
	Vout          uint32 `json:"vout"`
	Amount        int64  `json:"amount"`
	BlockHeight   int64  `json:"blockHeight"`
	Address       string `json:"address"`
	Path          string `json:"path"`
	Confirmations int64  `json:"confirmations"`
}

// BalanceHistoryEntry aggregates the movements of an account within a time
// bucket.
type BalanceHistoryEntry struct {
	Time       int64 `json:"time"`
	Txs        int   `json:"txs"`
	Received   int64 `json:"received"`
	Sent       int64 `json:"sent"`
	SentToSelf int64 `json:"sentToSelf"`
}
