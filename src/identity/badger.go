package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
	"github.com/go-playground/validator/v10"
	"github.com/orchestra-mcp/realtime/src/types"
	"github.com/rs/zerolog"
)

const accountKeyPrefix = "account:"

var validate = validator.New()

// BadgerStore keeps account records in BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	logger zerolog.Logger
}

// NewBadgerStore wraps an open database.
func NewBadgerStore(db *badger.DB, logger zerolog.Logger) *BadgerStore {
	return &BadgerStore{
		db:     db,
		logger: logger.With().Str("component", "account-store").Logger(),
	}
}

// OpenBadger opens the account database at path. An empty path keeps the
// database in memory.
func OpenBadger(path string) (*badger.DB, error) {
	opts := badger.DefaultOptions(path).WithLoggingLevel(badger.WARNING)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", path, err)
	}
	return db, nil
}

func accountKey(id string) []byte { return []byte(accountKeyPrefix + id) }

// Put creates or replaces an account record.
func (s *BadgerStore) Put(r Record) error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid account: %w", err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(accountKey(r.ID), data)
	})
}

// Disable marks an account inactive so it no longer resolves.
func (s *BadgerStore) Disable(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		r, err := getRecord(txn, id)
		if err != nil {
			return err
		}
		r.Active = false
		data, err := json.Marshal(r)
		if err != nil {
			return err
		}
		return txn.Set(accountKey(id), data)
	})
}

// Get returns the stored record regardless of its active flag.
func (s *BadgerStore) Get(id string) (Record, error) {
	var r Record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		r, err = getRecord(txn, id)
		return err
	})
	return r, err
}

// Resolve implements Resolver. Missing and disabled accounts both resolve
// to false with no error.
func (s *BadgerStore) Resolve(ctx context.Context, subjectID string) (types.Account, bool, error) {
	if err := ctx.Err(); err != nil {
		return types.Account{}, false, err
	}
	r, err := s.Get(subjectID)
	if errors.Is(err, badger.ErrKeyNotFound) {
		s.logger.Debug().Str("account_id", subjectID).Msg("account not found")
		return types.Account{}, false, nil
	}
	if err != nil {
		return types.Account{}, false, fmt.Errorf("resolve account %s: %w", subjectID, err)
	}
	if !r.Active {
		s.logger.Debug().Str("account_id", subjectID).Msg("account disabled")
		return types.Account{}, false, nil
	}
	return r.Snapshot(), true, nil
}

// List returns every stored record in key order.
func (s *BadgerStore) List() ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(accountKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var r Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &r)
			})
			if err != nil {
				return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
			}
			records = append(records, r)
		}
		return nil
	})
	return records, err
}

func getRecord(txn *badger.Txn, id string) (Record, error) {
	var r Record
	item, err := txn.Get(accountKey(id))
	if err != nil {
		return r, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &r)
	})
	return r, err
}
