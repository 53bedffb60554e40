// Package journal keeps a history of shredding runs in a badger database so
// an interrupted wipe can be continued where it stopped.
package journal

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

const (
	// Key layout: run:<xxhash of destination>:<start unix nanos>
	RunPrefix = "run:"
)

// Journal is the run history of one journal directory.
type Journal struct {
	db  *badger.DB
	log logrus.FieldLogger
}

// Open opens or creates the journal stored in dir.
func Open(dir string, logger logrus.FieldLogger) (*Journal, error) {
	if logger == nil {
		logger = logrus.New()
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true
	opts.ValueLogFileSize = 1 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal at %s: %w", dir, err)
	}

	return &Journal{db: db, log: logger}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func destinationPrefix(destination string) []byte {
	return []byte(fmt.Sprintf("%s%016x:", RunPrefix, xxhash.Sum64String(destination)))
}

func runKey(r Run) []byte {
	return append(destinationPrefix(r.Destination), fmt.Sprintf("%020d", r.Started.UnixNano())...)
}

// Record stores r.
func (j *Journal) Record(r Run) error {
	err := j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(r), encodeRun(r))
	})
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}

	j.log.WithFields(logrus.Fields{
		"destination": r.Destination,
		"blocks":      r.Blocks,
		"reason":      r.Reason,
	}).Debug("Recorded run in journal")
	return nil
}

// Latest returns the most recent run recorded for destination.
func (j *Journal) Latest(destination string) (Run, bool, error) {
	runs, err := j.list(destinationPrefix(destination))
	if err != nil {
		return Run{}, false, err
	}

	// Different destinations can share a hash prefix; keep exact matches.
	for i := len(runs) - 1; i >= 0; i-- {
		if runs[i].Destination == destination {
			return runs[i], true, nil
		}
	}
	return Run{}, false, nil
}

// List returns all runs for destination in start order, or every run in
// the journal when destination is empty.
func (j *Journal) List(destination string) ([]Run, error) {
	if destination == "" {
		runs, err := j.list([]byte(RunPrefix))
		if err != nil {
			return nil, err
		}
		sort.SliceStable(runs, func(a, b int) bool {
			return runs[a].Started.Before(runs[b].Started)
		})
		return runs, nil
	}

	runs, err := j.list(destinationPrefix(destination))
	if err != nil {
		return nil, err
	}
	filtered := runs[:0]
	for _, r := range runs {
		if r.Destination == destination {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func (j *Journal) list(prefix []byte) ([]Run, error) {
	var runs []Run
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				r, err := decodeRun(val)
				if err != nil {
					return fmt.Errorf("failed to decode run %s: %w", bytes.TrimPrefix(item.Key(), prefix), err)
				}
				runs = append(runs, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}
