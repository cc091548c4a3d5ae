package electrum

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

func (c *Client) GetBalance(
	ctx context.Context, scriptHash string,
) (*domain.Balance, error) {
	raw, err := c.Request(ctx, methodGetBalance, scriptHash)
	if err != nil {
		return nil, err
	}

	var balance domain.Balance
	if err := decodeResult(methodGetBalance, raw, &balance); err != nil {
		return nil, err
	}
	return &balance, nil
}

func (c *Client) GetHistory(
	ctx context.Context, scriptHash string,
) ([]domain.HistoryEntry, error) {
	raw, err := c.Request(ctx, methodGetHistory, scriptHash)
	if err != nil {
		return nil, err
	}

	history := make([]domain.HistoryEntry, 0)
	if err := decodeResult(methodGetHistory, raw, &history); err != nil {
		return nil, err
	}
	if history == nil {
		history = make([]domain.HistoryEntry, 0)
	}
	return history, nil
}

func (c *Client) ListUnspent(
	ctx context.Context, scriptHash string,
) ([]domain.Unspent, error) {
	raw, err := c.Request(ctx, methodListUnspent, scriptHash)
	if err != nil {
		return nil, err
	}

	utxos := make([]domain.Unspent, 0)
	if err := decodeResult(methodListUnspent, raw, &utxos); err != nil {
		return nil, err
	}
	if utxos == nil {
		utxos = make([]domain.Unspent, 0)
	}
	return utxos, nil
}

// GetTransaction returns the verbose form of the given transaction.
func (c *Client) GetTransaction(
	ctx context.Context, txid string,
) (*domain.VerboseTransaction, error) {
	raw, err := c.Request(ctx, methodGetTransaction, txid, true)
	if err != nil {
		return nil, err
	}

	var tx domain.VerboseTransaction
	if err := decodeResult(methodGetTransaction, raw, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetRawTransaction returns the hex serialization of the given transaction.
func (c *Client) GetRawTransaction(
	ctx context.Context, txid string,
) (string, error) {
	raw, err := c.Request(ctx, methodGetTransaction, txid)
	if err != nil {
		return "", err
	}

	var txHex string
	if err := decodeResult(methodGetTransaction, raw, &txHex); err != nil {
		return "", err
	}
	return txHex, nil
}

// GetBlockHeader returns the hex serialized header of the block at the given
// height.
func (c *Client) GetBlockHeader(
	ctx context.Context, height uint32,
) (string, error) {
	raw, err := c.Request(ctx, methodBlockHeader, height)
	if err != nil {
		return "", err
	}

	var header string
	if err := decodeResult(methodBlockHeader, raw, &header); err != nil {
		return "", err
	}
	return header, nil
}

// EstimateFee returns the estimated fee rate, in coins per kilobyte, for a
// transaction to be confirmed within the given number of blocks. The server
// returns -1 if it has not enough data to make an estimation.
func (c *Client) EstimateFee(
	ctx context.Context, blocks uint32,
) (decimal.Decimal, error) {
	raw, err := c.Request(ctx, methodEstimateFee, blocks)
	if err != nil {
		return decimal.Zero, err
	}

	var fee decimal.Decimal
	if err := decodeResult(methodEstimateFee, raw, &fee); err != nil {
		return decimal.Zero, err
	}
	return fee, nil
}

// SubscribeScripthash subscribes to the status changes of the given
// scripthash and returns its current status, empty if it has no history.
func (c *Client) SubscribeScripthash(
	ctx context.Context, scriptHash string,
) (string, error) {
	raw, err := c.Request(ctx, methodScripthashSubscribe, scriptHash)
	if err != nil {
		return "", err
	}

	var status *string
	if err := decodeResult(methodScripthashSubscribe, raw, &status); err != nil {
		return "", err
	}
	if status == nil {
		return "", nil
	}
	return *status, nil
}

// UnsubscribeScripthash returns whether the scripthash was subscribed.
func (c *Client) UnsubscribeScripthash(
	ctx context.Context, scriptHash string,
) (bool, error) {
	raw, err := c.Request(ctx, methodScripthashUnsub, scriptHash)
	if err != nil {
		return false, err
	}

	var ok bool
	if err := decodeResult(methodScripthashUnsub, raw, &ok); err != nil {
		return false, err
	}
	return ok, nil
}
