package audit

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"lukechampine.com/blake3"

	"riskledger/core/events"
	"riskledger/core/types"
)

// ErrChainBroken is returned by Verify when a record does not link to its
// predecessor or its digest does not match its contents.
var ErrChainBroken = errors.New("audit: hash chain broken")

// Sink appends committed ledger events to a relational audit table. It
// implements events.Emitter so it can be attached to the ledger directly.
type Sink struct {
	mu     sync.Mutex
	db     *gorm.DB
	seq    uint64
	head   string
	logger *slog.Logger
	nowFn  func() time.Time
}

// NewSink migrates the schema and resumes the chain from the latest record.
func NewSink(ctx context.Context, db *gorm.DB) (*Sink, error) {
	if db == nil {
		return nil, fmt.Errorf("audit: database required")
	}
	if err := AutoMigrate(db.WithContext(ctx)); err != nil {
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	sink := &Sink{db: db, logger: slog.Default(), nowFn: time.Now}
	var last Record
	err := db.WithContext(ctx).Order("sequence desc").Limit(1).Take(&last).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
	case err != nil:
		return nil, fmt.Errorf("audit: load head: %w", err)
	default:
		sink.seq = last.Sequence
		sink.head = last.Digest
	}
	return sink, nil
}

// SetLogger overrides the logger used to report failed appends.
func (s *Sink) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// SetNowFunc overrides the timestamp source for new records.
func (s *Sink) SetNowFunc(fn func() time.Time) {
	if fn == nil {
		fn = time.Now
	}
	s.nowFn = fn
}

// Emit implements events.Emitter. Append failures are logged; the ledger has
// already committed by the time events are delivered.
func (s *Sink) Emit(e events.Event) {
	if s == nil || e == nil {
		return
	}
	if _, err := s.Append(context.Background(), normalize(e)); err != nil {
		s.logger.Error("audit append failed",
			slog.String("type", e.EventType()),
			slog.Any("error", err))
	}
}

func normalize(e events.Event) *types.Event {
	switch v := e.(type) {
	case *types.Event:
		return v.Clone()
	case interface{ Event() *types.Event }:
		return v.Event()
	default:
		return &types.Event{Type: e.EventType(), Attributes: map[string]string{}}
	}
}

// Append stores evt as the next record in the chain.
func (s *Sink) Append(ctx context.Context, evt *types.Event) (*Record, error) {
	if evt == nil {
		return nil, fmt.Errorf("audit: nil event")
	}
	attrs := evt.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("audit: encode attributes: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec := &Record{
		ID:         uuid.New(),
		Sequence:   s.seq + 1,
		Type:       evt.Type,
		Attributes: string(encoded),
		PrevDigest: s.head,
		CreatedAt:  s.nowFn().UTC(),
	}
	rec.Digest = digest(rec.PrevDigest, rec.Sequence, rec.Type, rec.Attributes)
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("audit: insert: %w", err)
	}
	s.seq = rec.Sequence
	s.head = rec.Digest
	return rec, nil
}

// Head returns the latest sequence number and digest.
func (s *Sink) Head() (uint64, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq, s.head
}

// Records lists up to limit records with a sequence greater than after.
func Records(ctx context.Context, db *gorm.DB, after uint64, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []Record
	err := db.WithContext(ctx).
		Where("sequence > ?", after).
		Order("sequence asc").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("audit: list: %w", err)
	}
	return out, nil
}

// Verify walks the full chain in sequence order and returns the number of
// records checked.
func Verify(ctx context.Context, db *gorm.DB) (int, error) {
	const page = 500
	var (
		after uint64
		prev  string
		count int
	)
	for {
		batch, err := Records(ctx, db, after, page)
		if err != nil {
			return count, err
		}
		for _, rec := range batch {
			if rec.Sequence != after+1 {
				return count, fmt.Errorf("%w: expected sequence %d, found %d", ErrChainBroken, after+1, rec.Sequence)
			}
			if rec.PrevDigest != prev {
				return count, fmt.Errorf("%w: record %d does not link to %d", ErrChainBroken, rec.Sequence, after)
			}
			if want := digest(rec.PrevDigest, rec.Sequence, rec.Type, rec.Attributes); want != rec.Digest {
				return count, fmt.Errorf("%w: record %d digest mismatch", ErrChainBroken, rec.Sequence)
			}
			after = rec.Sequence
			prev = rec.Digest
			count++
		}
		if len(batch) < page {
			return count, nil
		}
	}
}

func digest(prev string, seq uint64, eventType, attributes string) string {
	h := blake3.New(32, nil)
	h.Write([]byte(prev))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	h.Write([]byte(eventType))
	h.Write([]byte{0})
	h.Write([]byte(attributes))
	return hex.EncodeToString(h.Sum(nil))
}
