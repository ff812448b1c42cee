package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"ms-tiket/internal/logger"
	"ms-tiket/internal/models"

	"github.com/dgraph-io/badger"
)

// ErrStaleWrite means a ticket type changed between validation and commit.
var ErrStaleWrite = errors.New("stale ticket type record")

const (
	typePrefix       = "type/"
	ticketPrefix     = "ticket/"
	withdrawalPrefix = "withdrawal/"
	treasuryKey      = "treasury"
)

// Store keeps the ledger in an embedded Badger database. Records are JSON
// values under zero-padded id keys so prefix scans return them in id order.
type Store struct {
	DB *badger.DB
}

// Open opens (or creates) the database in dir.
func Open(dir string, log *logger.Logger) (*Store, error) {
	opts := badger.DefaultOptions(dir).WithLogger(badgerLogger{log: log})
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %s: %w", dir, err)
	}
	log.LogStore("OPEN", "badger", fmt.Sprintf("✅ database opened at %s", dir))
	return &Store{DB: db}, nil
}

func (s *Store) Close() error {
	return s.DB.Close()
}

func recordKey(prefix string, id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, id))
}

func (s *Store) Load(ctx context.Context) (*models.Snapshot, error) {
	snap := &models.Snapshot{}

	err := s.DB.View(func(txn *badger.Txn) error {
		if err := scan(txn, typePrefix, &snap.Types); err != nil {
			return err
		}
		if err := scan(txn, ticketPrefix, &snap.Tickets); err != nil {
			return err
		}
		if err := scan(txn, withdrawalPrefix, &snap.Withdrawals); err != nil {
			return err
		}

		item, err := txn.Get([]byte(treasuryKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap.Treasury)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load ledger from badger: %w", err)
	}
	return snap, nil
}

func scan[T any](txn *badger.Txn, prefix string, out *[]T) error {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		val, err := it.Item().ValueCopy(nil)
		if err != nil {
			return err
		}
		var record T
		if err := json.Unmarshal(val, &record); err != nil {
			return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		*out = append(*out, record)
	}
	return nil
}

// Commit writes the mutation in one Badger transaction. The hook runs last;
// if it fails the transaction is discarded.
func (s *Store) Commit(ctx context.Context, m models.Mutation, hook func(ctx context.Context) error) error {
	err := s.DB.Update(func(txn *badger.Txn) error {
		if m.InsertType != nil {
			if err := put(txn, recordKey(typePrefix, m.InsertType.ID), m.InsertType); err != nil {
				return err
			}
		}
		if m.UpdateType != nil {
			if err := checkSold(txn, m.UpdateType); err != nil {
				return err
			}
			if err := put(txn, recordKey(typePrefix, m.UpdateType.ID), m.UpdateType); err != nil {
				return err
			}
		}
		if m.InsertTicket != nil {
			if err := put(txn, recordKey(ticketPrefix, m.InsertTicket.ID), m.InsertTicket); err != nil {
				return err
			}
		}
		if m.InsertWithdrawal != nil {
			if err := put(txn, recordKey(withdrawalPrefix, m.InsertWithdrawal.ID), m.InsertWithdrawal); err != nil {
				return err
			}
		}
		if m.Treasury != nil {
			if err := put(txn, []byte(treasuryKey), m.Treasury); err != nil {
				return err
			}
		}

		if hook != nil {
			return hook(ctx)
		}
		return nil
	})
	if errors.Is(err, badger.ErrConflict) {
		return fmt.Errorf("commit: %w", ErrStaleWrite)
	}
	return err
}

func put(txn *badger.Txn, key []byte, record interface{}) error {
	val, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return txn.Set(key, val)
}

func checkSold(txn *badger.Txn, updated *models.TicketType) error {
	item, err := txn.Get(recordKey(typePrefix, updated.ID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("ticket type %d: %w", updated.ID, ErrStaleWrite)
	}
	if err != nil {
		return err
	}

	var current models.TicketType
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &current) }); err != nil {
		return err
	}
	if current.Sold != updated.Sold-1 {
		return fmt.Errorf("ticket type %d sold %d, expected %d: %w", updated.ID, current.Sold, updated.Sold-1, ErrStaleWrite)
	}
	return nil
}

// badgerLogger routes Badger's internal logging to the category logger.
type badgerLogger struct {
	log *logger.Logger
}

func (b badgerLogger) Errorf(format string, args ...interface{}) {
	b.log.Error("BADGER", fmt.Sprintf(format, args...))
}

func (b badgerLogger) Warningf(format string, args ...interface{}) {
	b.log.Warn("BADGER", fmt.Sprintf(format, args...))
}

func (b badgerLogger) Infof(format string, args ...interface{}) {
	b.log.Debug("BADGER", fmt.Sprintf(format, args...))
}

func (b badgerLogger) Debugf(format string, args ...interface{}) {
	b.log.Debug("BADGER", fmt.Sprintf(format, args...))
}
