package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"riskledger/core/events"
	"riskledger/core/types"
	"riskledger/storage"
)

var (
	kvPrefix    = []byte("kv:")
	paramPrefix = []byte("param:")
)

// ErrInvalidSnapshot is returned when reverting to an unknown or stale snapshot.
var ErrInvalidSnapshot = errors.New("state: invalid snapshot id")

type journalEntry struct {
	key     string
	prev    []byte
	existed bool
}

type snapshot struct {
	journalLen int
	eventsLen  int
}

// Manager is a journaled overlay on top of a storage.Database. Writes land in
// an in-memory dirty set until Commit flushes them in a single batch. Events
// appended while a call runs are buffered alongside the writes, so reverting a
// snapshot discards both. A Manager is not safe for concurrent use; the ledger
// host serializes access.
type Manager struct {
	db      storage.Database
	emitter events.Emitter

	dirty     map[string][]byte
	journal   []journalEntry
	events    []*types.Event
	snapshots []snapshot
}

// NewManager creates a state manager operating on db.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:      db,
		emitter: events.NoopEmitter{},
		dirty:   make(map[string][]byte),
	}
}

// SetEmitter configures where committed events are delivered.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	m.emitter = emitter
}

func kvKey(key []byte) []byte {
	buf := make([]byte, len(kvPrefix)+len(key))
	copy(buf, kvPrefix)
	copy(buf[len(kvPrefix):], key)
	return ethcrypto.Keccak256(buf)
}

func paramKey(name string) []byte {
	buf := make([]byte, len(paramPrefix)+len(name))
	copy(buf, paramPrefix)
	copy(buf[len(paramPrefix):], name)
	return ethcrypto.Keccak256(buf)
}

func (m *Manager) read(key []byte) ([]byte, error) {
	if value, ok := m.dirty[string(key)]; ok {
		return value, nil
	}
	if m.db == nil {
		return nil, fmt.Errorf("state: database not configured")
	}
	value, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return value, err
}

func (m *Manager) write(key []byte, value []byte) {
	k := string(key)
	prev, existed := m.dirty[k]
	m.journal = append(m.journal, journalEntry{key: k, prev: prev, existed: existed})
	m.dirty[k] = append([]byte(nil), value...)
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kv: encode: %w", err)
	}
	m.write(kvKey(key), encoded)
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.read(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode: %w", err)
	}
	return true, nil
}

// ParamStoreSet stores a raw parameter payload under name.
func (m *Manager) ParamStoreSet(name string, value []byte) error {
	if name == "" {
		return fmt.Errorf("params: name must not be empty")
	}
	m.write(paramKey(name), value)
	return nil
}

// ParamStoreGet returns the raw parameter payload stored under name.
func (m *Manager) ParamStoreGet(name string) ([]byte, bool, error) {
	if name == "" {
		return nil, false, fmt.Errorf("params: name must not be empty")
	}
	data, err := m.read(paramKey(name))
	if err != nil {
		return nil, false, err
	}
	if len(data) == 0 {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

// AppendEvent buffers an event until the enclosing call commits.
func (m *Manager) AppendEvent(e *types.Event) {
	if e == nil {
		return
	}
	m.events = append(m.events, e)
}

// PendingEvents returns the events buffered since the last commit.
func (m *Manager) PendingEvents() []*types.Event {
	out := make([]*types.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Snapshot marks the current journal position. Snapshots nest, so a reentrant
// call may take its own snapshot inside an outer one.
func (m *Manager) Snapshot() int {
	m.snapshots = append(m.snapshots, snapshot{journalLen: len(m.journal), eventsLen: len(m.events)})
	return len(m.snapshots) - 1
}

// RevertToSnapshot undoes every write and event recorded after the snapshot
// was taken. The snapshot and any taken after it are invalidated.
func (m *Manager) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(m.snapshots) {
		return ErrInvalidSnapshot
	}
	snap := m.snapshots[id]
	for i := len(m.journal) - 1; i >= snap.journalLen; i-- {
		entry := m.journal[i]
		if entry.existed {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:snap.journalLen]
	m.events = m.events[:snap.eventsLen]
	m.snapshots = m.snapshots[:id]
	return nil
}

// Commit flushes pending writes to the database atomically and only then
// delivers the buffered events to the configured emitter.
func (m *Manager) Commit() error {
	if len(m.dirty) > 0 {
		batch := storage.NewBatch()
		for key, value := range m.dirty {
			batch.Put([]byte(key), value)
		}
		if err := m.db.Write(batch); err != nil {
			return fmt.Errorf("state: commit: %w", err)
		}
	}
	committed := m.events
	m.reset()
	for _, e := range committed {
		m.emitter.Emit(e)
	}
	return nil
}

// Discard drops every pending write and event.
func (m *Manager) Discard() {
	m.reset()
}

// Dirty reports whether uncommitted writes or events are pending.
func (m *Manager) Dirty() bool {
	return len(m.dirty) > 0 || len(m.events) > 0
}

func (m *Manager) reset() {
	m.dirty = make(map[string][]byte)
	m.journal = nil
	m.events = nil
	m.snapshots = nil
}
