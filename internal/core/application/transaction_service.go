package application

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	"github.com/vulpemventures/electrum-link/internal/core/ports"
	"golang.org/x/sync/errgroup"
)

// TransactionService reconstructs canonical transactions out of the verbose
// ones returned by the server, their previous transactions and the unspent
// lists of their outputs' scripts.
//
// Previous transactions are confirmed most of the times and can't change
// anymore, so they're cached in the given repository.
type TransactionService struct {
	client ports.ElectrumClient
	repo   domain.TransactionRepository

	log  func(format string, a ...interface{})
	warn func(err error, format string, a ...interface{})
}

func NewTransactionService(
	client ports.ElectrumClient, repo domain.TransactionRepository,
) *TransactionService {
	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("transaction service: %s", format)
		log.Debugf(format, a...)
	}
	warnFn := func(err error, format string, a ...interface{}) {
		format = fmt.Sprintf("transaction service: %s", format)
		log.WithError(err).Warnf(format, a...)
	}
	return &TransactionService{client, repo, logFn, warnFn}
}

func (ts *TransactionService) GetTransaction(
	ctx context.Context, txid string,
) (*domain.Transaction, error) {
	if txid == "" {
		return nil, domain.ErrMissingTxid
	}
	txs, err := ts.GetTransactions(ctx, []string{txid})
	if err != nil {
		return nil, err
	}
	return txs[0], nil
}

// GetTransactions returns the canonical version of the given txs, in the same
// order and without duplicates. It fails if any of them can't be
// reconstructed.
func (ts *TransactionService) GetTransactions(
	ctx context.Context, txids []string,
) ([]*domain.Transaction, error) {
	txids = distinct(txids)
	if len(txids) <= 0 {
		return []*domain.Transaction{}, nil
	}

	origTxs, err := ts.fetchTransactions(ctx, txids)
	if err != nil {
		return nil, err
	}

	prevTxids := make([]string, 0)
	for _, tx := range origTxs {
		for _, in := range tx.Vin {
			if in.IsCoinbase() {
				continue
			}
			if _, ok := origTxs[in.TxID]; !ok {
				prevTxids = append(prevTxids, in.TxID)
			}
		}
	}
	prevTxs, err := ts.fetchPrevTransactions(ctx, distinct(prevTxids))
	if err != nil {
		return nil, err
	}

	unspents, err := ts.fetchUnspents(ctx, origTxs)
	if err != nil {
		return nil, err
	}

	getTx := func(txid string) *domain.VerboseTransaction {
		if tx, ok := origTxs[txid]; ok {
			return tx
		}
		return prevTxs[txid]
	}
	isSpent := func(txid string, n uint32) bool {
		_, ok := unspents[txid][n]
		return !ok
	}

	var tip int64
	if info, ok := ts.client.GetInfo(); ok {
		tip = info.Block.Height
	}

	txs := make([]*domain.Transaction, 0, len(txids))
	for _, txid := range txids {
		tx, err := formatTransaction(origTxs[txid], getTx, isSpent, tip)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

// GetBlockHash returns the hash of the block at the given height.
func (ts *TransactionService) GetBlockHash(
	ctx context.Context, height uint32,
) (string, error) {
	header, err := ts.client.GetBlockHeader(ctx, height)
	if err != nil {
		return "", err
	}
	return domain.BlockHashFromHeader(header)
}

// EstimateFee returns the fee rate estimations for the given confirmation
// targets.
func (ts *TransactionService) EstimateFee(
	ctx context.Context, blocks []uint32,
) ([]FeeEstimate, error) {
	estimates := make([]FeeEstimate, len(blocks))

	eg, ctx := errgroup.WithContext(ctx)
	for i, target := range blocks {
		i, target := i, target
		eg.Go(func() error {
			fee, err := ts.client.EstimateFee(ctx, target)
			if err != nil {
				return err
			}
			feePerKb := int64(-1)
			if fee.IsPositive() {
				feePerKb = fee.Shift(8).Round(0).IntPart()
			}
			estimates[i] = FeeEstimate{target, feePerKb}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return estimates, nil
}

func (ts *TransactionService) fetchTransactions(
	ctx context.Context, txids []string,
) (map[string]*domain.VerboseTransaction, error) {
	txs := make(map[string]*domain.VerboseTransaction)
	lock := &sync.Mutex{}

	eg, ctx := errgroup.WithContext(ctx)
	for _, txid := range txids {
		txid := txid
		eg.Go(func() error {
			tx, err := ts.client.GetTransaction(ctx, txid)
			if err != nil {
				return err
			}
			lock.Lock()
			txs[txid] = tx
			lock.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return txs, nil
}

func (ts *TransactionService) fetchPrevTransactions(
	ctx context.Context, txids []string,
) (map[string]*domain.VerboseTransaction, error) {
	txs := make(map[string]*domain.VerboseTransaction)
	missing := make([]string, 0, len(txids))
	for _, txid := range txids {
		tx, err := ts.repo.GetTransaction(ctx, txid)
		if err != nil {
			if !errors.Is(err, domain.ErrTransactionNotFound) {
				ts.warn(err, "failed to get cached tx %s", txid)
			}
			missing = append(missing, txid)
			continue
		}
		txs[txid] = tx
	}
	if len(missing) <= 0 {
		return txs, nil
	}

	ts.log("fetching %d/%d previous txs", len(missing), len(txids))
	fetched, err := ts.fetchTransactions(ctx, missing)
	if err != nil {
		return nil, err
	}
	for txid, tx := range fetched {
		txs[txid] = tx
		if !tx.IsConfirmed() {
			continue
		}
		if _, err := ts.repo.AddTransaction(ctx, tx); err != nil {
			ts.warn(err, "failed to cache tx %s", txid)
		}
	}
	return txs, nil
}

// fetchUnspents returns, for every given tx, the set of its outputs still
// unspent.
func (ts *TransactionService) fetchUnspents(
	ctx context.Context, txs map[string]*domain.VerboseTransaction,
) (map[string]map[uint32]struct{}, error) {
	scripts := make([]string, 0)
	for _, tx := range txs {
		for _, out := range tx.Vout {
			scripts = append(scripts, out.ScriptPubKey.Hex)
		}
	}
	scripts = distinct(scripts)

	unspents := make(map[string]map[uint32]struct{})
	lock := &sync.Mutex{}

	eg, ctx := errgroup.WithContext(ctx)
	for _, script := range scripts {
		script := script
		eg.Go(func() error {
			scriptHash, err := domain.ScriptHashFromHex(script)
			if err != nil {
				return err
			}
			utxos, err := ts.client.ListUnspent(ctx, scriptHash)
			if err != nil {
				return err
			}

			lock.Lock()
			defer lock.Unlock()
			for _, u := range utxos {
				if _, ok := txs[u.TxHash]; !ok {
					continue
				}
				if _, ok := unspents[u.TxHash]; !ok {
					unspents[u.TxHash] = make(map[uint32]struct{})
				}
				unspents[u.TxHash][u.TxPos] = struct{}{}
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return unspents, nil
}

func formatTransaction(
	tx *domain.VerboseTransaction,
	getTx func(txid string) *domain.VerboseTransaction,
	isSpent func(txid string, n uint32) bool,
	tip int64,
) (*domain.Transaction, error) {
	blockHeight := int64(-1)
	if tx.IsConfirmed() && tip > 0 {
		blockHeight = tip - tx.Confirmations + 1
	}

	var value, valueIn int64
	isCoinbase := false

	vout := make([]domain.TxOut, 0, len(tx.Vout))
	for _, out := range tx.Vout {
		amount, err := domain.ToSatoshis(out.Value)
		if err != nil {
			return nil, err
		}
		value += amount

		addresses := out.ScriptPubKey.ParsedAddresses()
		vout = append(vout, domain.TxOut{
			Value:     amount,
			N:         out.N,
			Spent:     isSpent(tx.TxID, out.N),
			Hex:       out.ScriptPubKey.Hex,
			Addresses: addresses,
			IsAddress: len(addresses) == 1,
		})
	}

	vin := make([]domain.TxIn, 0, len(tx.Vin))
	for i, in := range tx.Vin {
		n := in.N
		if n == 0 {
			n = uint32(i)
		}

		if in.IsCoinbase() {
			isCoinbase = true
			vin = append(vin, domain.TxIn{
				Sequence:  in.Sequence,
				N:         n,
				Addresses: []string{},
				Coinbase:  true,
			})
			continue
		}

		prevTx := getTx(in.TxID)
		if prevTx == nil || int(in.Vout) >= len(prevTx.Vout) {
			return nil, fmt.Errorf(
				"%w: missing prevout %s:%d for tx %s",
				domain.ErrProtocol, in.TxID, in.Vout, tx.TxID,
			)
		}
		prevOut := prevTx.Vout[in.Vout]
		amount, err := domain.ToSatoshis(prevOut.Value)
		if err != nil {
			return nil, err
		}
		valueIn += amount

		addresses := prevOut.ScriptPubKey.ParsedAddresses()
		vin = append(vin, domain.TxIn{
			TxID:      in.TxID,
			Vout:      in.Vout,
			Sequence:  in.Sequence,
			N:         n,
			Value:     amount,
			Addresses: addresses,
			IsAddress: len(addresses) == 1,
		})
	}

	fees := valueIn - value
	if isCoinbase {
		fees = 0
	}

	return &domain.Transaction{
		TxID:          tx.TxID,
		Version:       tx.Version,
		Hex:           tx.Hex,
		LockTime:      tx.LockTime,
		BlockHash:     tx.BlockHash,
		BlockHeight:   blockHeight,
		BlockTime:     tx.BlockTime,
		Confirmations: tx.Confirmations,
		Value:         value,
		ValueIn:       valueIn,
		Fees:          fees,
		Vin:           vin,
		Vout:          vout,
	}, nil
}

func distinct(list []string) []string {
	seen := make(map[string]struct{}, len(list))
	res := make([]string, 0, len(list))
	for _, item := range list {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		res = append(res, item)
	}
	return res
}
