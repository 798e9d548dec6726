package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/schaermu/gitcom/internal/structure"
)

const (
	badgerLatestKey = "snapshot/latest"
	badgerDayPrefix = "snapshot/day/"
)

// BadgerStore keeps the latest snapshot in an embedded key-value store and,
// next to it, the snapshot each simulated day ended with. Both keys are
// written in one transaction.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// badgerLogger adapts slog.Logger to badger's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerStore opens the database in dir. An empty dir opens an in-memory
// database. Callers must Close the store.
func NewBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create snapshot database directory %s: %w", dir, err)
		}
		opts = badger.DefaultOptions(dir)
	}

	opts = opts.WithSyncWrites(true).WithNumVersionsToKeep(1)
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	return &BadgerStore{db: db, path: dir}, nil
}

// Path returns the database directory, empty when in memory
func (b *BadgerStore) Path() string {
	return b.path
}

func (b *BadgerStore) Close() error {
	return b.db.Close()
}

func (b *BadgerStore) Load(ctx context.Context) (structure.State, error) {
	s, _, err := b.get(ctx, badgerLatestKey)
	return s, err
}

// LoadDay returns the snapshot saved at the end of date (YYYY-MM-DD). The
// boolean is false when no day with that date was persisted.
func (b *BadgerStore) LoadDay(ctx context.Context, date string) (structure.State, bool, error) {
	return b.get(ctx, badgerDayPrefix+date)
}

// Days lists the dates with a persisted snapshot in ascending order
func (b *BadgerStore) Days(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var days []string
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(badgerDayPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			key := string(it.Item().Key())
			days = append(days, key[len(badgerDayPrefix):])
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list snapshot days: %w", err)
	}
	return days, nil
}

func (b *BadgerStore) Save(ctx context.Context, s structure.State, meta Meta) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data := Encode(s, meta)
	err := b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(badgerLatestKey), data); err != nil {
			return err
		}
		if meta.Date != "" {
			return txn.Set([]byte(badgerDayPrefix+meta.Date), data)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	return nil
}

func (b *BadgerStore) get(ctx context.Context, key string) (structure.State, bool, error) {
	if err := ctx.Err(); err != nil {
		return structure.New(), false, err
	}
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return structure.New(), false, nil
	}
	if err != nil {
		return structure.New(), false, fmt.Errorf("read snapshot: %w", err)
	}
	s, err := Decode(bytes.NewReader(data))
	return s, true, err
}
