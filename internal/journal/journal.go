// Package journal keeps a local, non-authoritative record of transactions
// submitted by this client. Nothing reads it to make decisions; the ledger
// remains the only source of truth.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/Klingon-tech/nodereg/internal/ledger"
	klog "github.com/Klingon-tech/nodereg/internal/log"
	"github.com/Klingon-tech/nodereg/internal/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

var (
	namespace   = []byte("journal/")
	prefixEntry = []byte("tx/") // tx/<unixnano(8)><hash(32)> -> Entry JSON
	prefixHash  = []byte("h/")  // h/<hash(32)> -> entry key
)

// ErrNotFound is returned by Get for an unknown hash.
var ErrNotFound = errors.New("journal entry not found")

// Entry is one submitted transaction.
type Entry struct {
	ID         uuid.UUID      `json:"id"`
	Invocation string         `json:"invocation,omitempty"`
	TxHash     common.Hash    `json:"txHash"`
	Method     string         `json:"method"`
	Endpoint   string         `json:"endpoint"`
	From       common.Address `json:"from"`
	Nonce      uint64         `json:"nonce"`
	GasLimit   uint64         `json:"gasLimit"`
	Block      uint64         `json:"block,omitempty"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Time       time.Time      `json:"time"`
}

// Entry statuses.
const (
	StatusMined    = "mined"
	StatusReverted = "reverted"
	StatusFailed   = "failed"
)

// Journal stores entries in a storage.DB.
type Journal struct {
	db         *storage.PrefixDB
	owned      storage.DB
	invocation string
	now        func() time.Time
}

// New creates a journal over db. invocation tags every entry.
func New(db storage.DB, invocation string) *Journal {
	return &Journal{
		db:         storage.NewPrefixDB(db, namespace),
		invocation: invocation,
		now:        time.Now,
	}
}

// Open opens the Badger-backed journal under datadir/journal.
func Open(datadir, invocation string) (*Journal, error) {
	db, err := storage.NewBadger(filepath.Join(datadir, "journal"))
	if err != nil {
		return nil, err
	}
	j := New(db, invocation)
	j.owned = db
	return j, nil
}

// Close releases the database if the journal opened it.
func (j *Journal) Close() error {
	if j.owned != nil {
		return j.owned.Close()
	}
	return nil
}

// ObserveTx implements ledger.TxObserver. Write failures are logged; the
// journal never fails a transaction.
func (j *Journal) ObserveTx(tx ledger.SubmittedTx) {
	e := Entry{
		TxHash:   tx.Hash,
		Method:   tx.Method,
		Endpoint: tx.Endpoint,
		From:     tx.From,
		Nonce:    tx.Nonce,
		GasLimit: tx.GasLimit,
		Block:    tx.BlockNumber,
		Status:   status(tx),
	}
	if tx.Err != nil {
		e.Error = tx.Err.Error()
	}
	if err := j.Record(&e); err != nil {
		klog.Journal.Warn().Err(err).Str("tx", tx.Hash.Hex()).Msg("Journal write failed")
	}
}

func status(tx ledger.SubmittedTx) string {
	switch {
	case tx.Err != nil && errors.Is(tx.Err, ledger.ErrReverted):
		return StatusReverted
	case tx.Err != nil:
		return StatusFailed
	case tx.Status == ledger.ReceiptSuccess:
		return StatusMined
	}
	return StatusReverted
}

// Record stores e, filling ID, invocation and time when unset.
func (j *Journal) Record(e *Entry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Invocation == "" {
		e.Invocation = j.invocation
	}
	if e.Time.IsZero() {
		e.Time = j.now().UTC()
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal marshal: %w", err)
	}

	key := entryKey(e.Time, e.TxHash)
	b := j.db.NewBatch()
	if err := b.Put(key, data); err != nil {
		return err
	}
	if err := b.Put(hashKey(e.TxHash), key); err != nil {
		return err
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("journal commit: %w", err)
	}

	klog.Journal.Debug().
		Str("tx", e.TxHash.Hex()).
		Str("method", e.Method).
		Str("status", e.Status).
		Msg("Journal entry recorded")
	return nil
}

// Get returns the latest entry for hash.
func (j *Journal) Get(hash common.Hash) (*Entry, error) {
	key, err := j.db.Get(hashKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("journal get: %w", err)
	}
	data, err := j.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("journal get: %w", err)
	}
	var e Entry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("journal unmarshal: %w", err)
	}
	return &e, nil
}

// List returns up to limit entries, newest first. limit <= 0 returns all.
func (j *Journal) List(limit int) ([]Entry, error) {
	var all []Entry
	err := j.db.ForEach(prefixEntry, func(_, value []byte) error {
		var e Entry
		if err := json.Unmarshal(value, &e); err != nil {
			return nil // Skip corrupt entries.
		}
		all = append(all, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]Entry, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		out = append(out, all[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// Clear removes every journal entry.
func (j *Journal) Clear() error {
	return j.db.DeleteAll()
}

func entryKey(t time.Time, hash common.Hash) []byte {
	key := make([]byte, 0, len(prefixEntry)+8+common.HashLength)
	key = append(key, prefixEntry...)
	key = binary.BigEndian.AppendUint64(key, uint64(t.UnixNano()))
	return append(key, hash.Bytes()...)
}

func hashKey(hash common.Hash) []byte {
	return append(append([]byte{}, prefixHash...), hash.Bytes()...)
}
