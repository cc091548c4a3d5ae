package domain

import "context"

// TransactionRepository is the abstraction for any kind of database intended
// to cache verbose transactions. Only confirmed transactions are expected to
// be stored since their outputs can't change anymore.
type TransactionRepository interface {
	// AddTransaction adds the provided transaction to the repository by
	// preventing duplicates. Returns whether the tx has been actually added.
	AddTransaction(ctx context.Context, tx *VerboseTransaction) (bool, error)
	// GetTransaction returns the transaction identified by the given txid,
	// or ErrTransactionNotFound.
	GetTransaction(ctx context.Context, txid string) (*VerboseTransaction, error)
	// Close releases the resources used by the repository.
	Close()
}
