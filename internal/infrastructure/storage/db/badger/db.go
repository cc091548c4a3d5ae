package dbbadger

import (
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	log "github.com/sirupsen/logrus"
	"github.com/timshannon/badgerhold/v4"
)

const gcInterval = 30 * time.Minute

// createDb opens the badgerhold store at the given directory, or an in-memory
// one if dbDir is empty. On-disk stores run the value log garbage collector
// until chQuit is closed.
func createDb(
	dbDir string, logger badger.Logger, chQuit chan struct{},
) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		go func() {
			ticker := time.NewTicker(gcInterval)
			defer ticker.Stop()

			for {
				select {
				case <-ticker.C:
					err := db.Badger().RunValueLogGC(0.5)
					if err != nil && err != badger.ErrNoRewrite {
						log.Warnf("garbage collector: %s", err)
					}
				case <-chQuit:
					return
				}
			}
		}()
	}

	return db, nil
}
