package storage

import (
	"errors"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Batch groups writes that must land atomically.
type Batch struct {
	puts    map[string][]byte
	deletes map[string]struct{}
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{puts: make(map[string][]byte), deletes: make(map[string]struct{})}
}

// Put stages a write, superseding any staged delete of the same key.
func (b *Batch) Put(key, value []byte) {
	k := string(key)
	delete(b.deletes, k)
	b.puts[k] = append([]byte(nil), value...)
}

// Delete stages a removal, superseding any staged write of the same key.
func (b *Batch) Delete(key []byte) {
	k := string(key)
	delete(b.puts, k)
	b.deletes[k] = struct{}{}
}

// Len reports the number of staged operations.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.puts) + len(b.deletes)
}

// Database is a generic interface for a key-value store so the ledger can run
// against memory in tests and LevelDB on disk.
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Write(batch *Batch) error
	Close() error
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

// Write applies the batch under a single lock acquisition.
func (db *MemDB) Write(batch *Batch) error {
	if batch == nil {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for key := range batch.deletes {
		delete(db.data, key)
	}
	for key, value := range batch.puts {
		db.data[key] = value
	}
	return nil
}

// Len returns the number of stored keys.
func (db *MemDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() error { return nil }

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Write commits the batch atomically through a leveldb.Batch.
func (ldb *LevelDB) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	lb := new(leveldb.Batch)
	for key := range batch.deletes {
		lb.Delete([]byte(key))
	}
	for key, value := range batch.puts {
		lb.Put([]byte(key), value)
	}
	return ldb.db.Write(lb, nil)
}

// Close closes the database connection.
func (ldb *LevelDB) Close() error {
	return ldb.db.Close()
}
