package inmemory

import (
	"context"
	"sync"

	"github.com/vulpemventures/electrum-link/internal/core/domain"
)

type txInmemoryStore struct {
	txs  map[string]domain.VerboseTransaction
	lock *sync.RWMutex
}

type txRepository struct {
	store *txInmemoryStore
}

func NewTransactionRepository() domain.TransactionRepository {
	return &txRepository{
		store: &txInmemoryStore{
			txs:  make(map[string]domain.VerboseTransaction),
			lock: &sync.RWMutex{},
		},
	}
}

func (r *txRepository) AddTransaction(
	_ context.Context, tx *domain.VerboseTransaction,
) (bool, error) {
	r.store.lock.Lock()
	defer r.store.lock.Unlock()

	if _, ok := r.store.txs[tx.TxID]; ok {
		return false, nil
	}

	r.store.txs[tx.TxID] = *tx
	return true, nil
}

func (r *txRepository) GetTransaction(
	_ context.Context, txid string,
) (*domain.VerboseTransaction, error) {
	r.store.lock.RLock()
	defer r.store.lock.RUnlock()

	tx, ok := r.store.txs[txid]
	if !ok {
		return nil, domain.ErrTransactionNotFound
	}
	return &tx, nil
}

func (r *txRepository) Close() {}
