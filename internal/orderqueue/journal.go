package orderqueue

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v3"
)

const journalPrefix = "job:"

// Journal is a disk-backed record of unacknowledged jobs using BadgerDB.
// Jobs are written on enqueue and every attempt, and deleted on acknowledge.
type Journal struct {
	db *badger.DB
}

// OpenJournal opens (or creates) a journal at dir
func OpenJournal(dir string) (*Journal, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // disable internal logging
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger db: %w", err)
	}
	return &Journal{db: db}, nil
}

func journalKey(orderID string) []byte {
	return []byte(journalPrefix + orderID)
}

// Put stores or replaces the job record
func (j *Journal) Put(rec JobRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Set(journalKey(rec.OrderID), val)
	})
}

// Delete acknowledges a job. Missing keys are not an error.
func (j *Journal) Delete(orderID string) error {
	return j.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(journalKey(orderID))
	})
}

// Replay returns every unacknowledged job ordered by enqueue sequence
func (j *Journal) Replay() ([]JobRecord, error) {
	records := make([]JobRecord, 0)
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(journalPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var rec JobRecord
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &rec) }); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(records, func(a, b int) bool { return records[a].Seq < records[b].Seq })
	return records, nil
}

// Close closes the underlying BadgerDB
func (j *Journal) Close() error {
	return j.db.Close()
}
