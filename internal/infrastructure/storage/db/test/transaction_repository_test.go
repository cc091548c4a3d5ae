package db_test

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vulpemventures/electrum-link/internal/core/domain"
	dbbadger "github.com/vulpemventures/electrum-link/internal/infrastructure/storage/db/badger"
	"github.com/vulpemventures/electrum-link/internal/infrastructure/storage/db/inmemory"
)

var ctx = context.Background()

func TestTransactionRepository(t *testing.T) {
	repositories, err := newTransactionRepositories(t)
	require.NoError(t, err)

	for name, repo := range repositories {
		repo := repo
		t.Run(name, func(t *testing.T) {
			testTransactionRepository(t, repo)
		})
	}
}

func testTransactionRepository(t *testing.T, repo domain.TransactionRepository) {
	newTx := randomTx()
	txid := newTx.TxID
	wrongTxid := randomHex(32)

	t.Run("add_transaction", func(t *testing.T) {
		done, err := repo.AddTransaction(ctx, newTx)
		require.NoError(t, err)
		require.True(t, done)

		done, err = repo.AddTransaction(ctx, newTx)
		require.NoError(t, err)
		require.False(t, done)
	})

	t.Run("get_transaction", func(t *testing.T) {
		tx, err := repo.GetTransaction(ctx, txid)
		require.NoError(t, err)
		require.NotNil(t, tx)
		require.Exactly(t, *newTx, *tx)

		tx, err = repo.GetTransaction(ctx, wrongTxid)
		require.ErrorIs(t, err, domain.ErrTransactionNotFound)
		require.Nil(t, tx)
	})

}

func newTransactionRepositories(
	t *testing.T,
) (map[string]domain.TransactionRepository, error) {
	badgerRepo, err := dbbadger.NewTransactionRepository("", nil)
	if err != nil {
		return nil, err
	}
	diskRepo, err := dbbadger.NewTransactionRepository(t.TempDir(), nil)
	if err != nil {
		return nil, err
	}
	inmemoryRepo := inmemory.NewTransactionRepository()

	t.Cleanup(func() {
		badgerRepo.Close()
		diskRepo.Close()
		inmemoryRepo.Close()
	})

	return map[string]domain.TransactionRepository{
		"inmemory":      inmemoryRepo,
		"badger":        badgerRepo,
		"badger_ondisk": diskRepo,
	}, nil
}

func randomTx() *domain.VerboseTransaction {
	return &domain.VerboseTransaction{
		TxID:          randomHex(32),
		Hash:          randomHex(32),
		Version:       2,
		Size:          225,
		VSize:         144,
		Hex:           randomHex(100),
		BlockHash:     randomHex(32),
		Confirmations: 10,
		Time:          1700000000,
		BlockTime:     1700000000,
		Vin: []domain.Vin{
			{
				TxID:     randomHex(32),
				Vout:     1,
				Sequence: 0xfffffffd,
				Script:   domain.ScriptSig{Hex: randomHex(20)},
			},
		},
		Vout: []domain.Vout{
			{
				Value: json.Number("0.00012345"),
				N:     0,
				ScriptPubKey: domain.ScriptPubKey{
					Hex:     "0014" + randomHex(20),
					Type:    "witness_v0_keyhash",
					Address: "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
				},
			},
		},
	}
}

func randomHex(len int) string {
	return hex.EncodeToString(randomBytes(len))
}

func randomBytes(len int) []byte {
	b := make([]byte, len)
	rand.Read(b)
	return b
}
