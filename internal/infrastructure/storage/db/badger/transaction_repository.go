package dbbadger

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/dgraph-io/badger/v4"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

type transactionRepository struct {
	store  *badgerhold.Store
	chQuit chan struct{}
	once   *sync.Once

	log func(format string, a ...interface{})
}

// NewTransactionRepository returns a badger implementation of
// domain.TransactionRepository storing data under baseDbDir, or in memory if
// it's empty.
func NewTransactionRepository(
	baseDbDir string, logger badger.Logger,
) (domain.TransactionRepository, error) {
	var txDir string
	if len(baseDbDir) > 0 {
		txDir = filepath.Join(baseDbDir, "txs")
	}

	chQuit := make(chan struct{})
	store, err := createDb(txDir, logger, chQuit)
	if err != nil {
		return nil, fmt.Errorf("opening tx db: %w", err)
	}

	logFn := func(format string, a ...interface{}) {
		format = fmt.Sprintf("transaction repository: %s", format)
		log.Debugf(format, a...)
	}

	return &transactionRepository{store, chQuit, &sync.Once{}, logFn}, nil
}

func (r *transactionRepository) AddTransaction(
	_ context.Context, tx *domain.VerboseTransaction,
) (bool, error) {
	if err := r.store.Insert(tx.TxID, *tx); err != nil {
		if err == badgerhold.ErrKeyExists {
			return false, nil
		}
		return false, err
	}

	r.log("added transaction %s", tx.TxID)
	return true, nil
}

func (r *transactionRepository) GetTransaction(
	_ context.Context, txid string,
) (*domain.VerboseTransaction, error) {
	var tx domain.VerboseTransaction
	if err := r.store.Get(txid, &tx); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) Close() {
	r.once.Do(func() {
		close(r.chQuit)
		r.store.Close()
	})
}
