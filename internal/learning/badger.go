package learning

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"go.uber.org/zap"

	"github.com/policyqa/backend/pkg/logger"
)

const (
	samplePrefix = "learn/sample/"
	sampleSeq    = "learn/seq"
)

type BadgerLog struct {
	db  *badger.DB
	seq *badger.Sequence

	// appendMu keeps commits in sequence order so a reader that has seen
	// seq N has also seen every seq below it.
	appendMu sync.Mutex
}

type badgerLogger struct {
	log *zap.SugaredLogger
}

func (l badgerLogger) Errorf(msg string, args ...any)   { l.log.Errorf(msg, args...) }
func (l badgerLogger) Warningf(msg string, args ...any) { l.log.Warnf(msg, args...) }
func (l badgerLogger) Infof(msg string, args ...any)    { l.log.Debugf(msg, args...) }
func (l badgerLogger) Debugf(msg string, args ...any)   { l.log.Debugf(msg, args...) }

// OpenBadgerLog opens the sample log at path, or an in-memory log when path
// is empty.
func OpenBadgerLog(path string) (*BadgerLog, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create learning log directory: %w", err)
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = badgerLogger{log: logger.GetLogger().Sugar()}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open learning log: %w", err)
	}

	seq, err := db.GetSequence([]byte(sampleSeq), 100)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open learning sequence: %w", err)
	}

	return &BadgerLog{db: db, seq: seq}, nil
}

func sampleKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", samplePrefix, seq))
}

func (l *BadgerLog) Append(ctx context.Context, sample Sample) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	n, err := l.seq.Next()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate sample sequence: %w", err)
	}
	sample.Seq = n + 1

	data, err := json.Marshal(sample)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal sample: %w", err)
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(sampleKey(sample.Seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to append sample: %w", err)
	}
	return sample.Seq, nil
}

func (l *BadgerLog) Scan(ctx context.Context, from uint64, fn func(Sample) error) error {
	return l.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(samplePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(sampleKey(from)); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var sample Sample
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sample)
			})
			if err != nil {
				return fmt.Errorf("failed to decode sample %s: %w", it.Item().Key(), err)
			}
			if err := fn(sample); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BadgerLog) Close() error {
	if err := l.seq.Release(); err != nil {
		logger.Warn("Failed to release learning sequence", zap.Error(err))
	}
	return l.db.Close()
}
