package application

import (
	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

const (
	SubscribeAddresses = "addresses"
	SubscribeAccounts  = "accounts"
	SubscribeBlocks    = "blocks"

	DefaultGapLimit       = 20
	DefaultPageSize       = 25
	DefaultBalanceGroupBy = int64(3600)
)

type AccountInfoRequest struct {
	Descriptor string `json:"descriptor"`
	Details    string `json:"details,omitempty"`
	Page       int    `json:"page,omitempty"`
	PageSize   int    `json:"pageSize,omitempty"`
}

type BalanceHistoryRequest struct {
	Descriptor string `json:"descriptor"`
	From       int64  `json:"from,omitempty"`
	To         int64  `json:"to,omitempty"`
	GroupBy    int64  `json:"groupBy,omitempty"`
}

// Account is a descriptor to watch. If Addresses is empty, the ones to watch
// are found by running the discovery of the descriptor.
type Account struct {
	Descriptor string   `json:"descriptor"`
	Addresses  []string `json:"addresses,omitempty"`
}

type SubscribeRequest struct {
	Type      string    `json:"type"`
	Addresses []string  `json:"addresses,omitempty"`
	Accounts  []Account `json:"accounts,omitempty"`
}

type SubscribeResult struct {
	Subscribed bool `json:"subscribed"`
}

type FeeEstimate struct {
	Blocks uint32 `json:"blocks"`
	// FeePerKb is expressed in satoshis, -1 if the server can't provide any
	// estimation for the given target.
	FeePerKb int64 `json:"feePerKb"`
}

type ServerInfo struct {
	URL         string         `json:"url"`
	Version     domain.Version `json:"version"`
	BlockHeight int64          `json:"blockHeight"`
	BlockHash   string         `json:"blockHash"`
}
