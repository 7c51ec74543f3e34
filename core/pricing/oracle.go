package pricing

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"
	"time"
)

var (
	// ErrPriceUnavailable is returned when no quote has been published for an asset.
	ErrPriceUnavailable = errors.New("pricing: price unavailable")
	// ErrPriceStale is returned when the latest quote is older than the configured max age.
	ErrPriceStale = errors.New("pricing: price stale")
	// ErrInvalidPrice is returned for nil or non-positive prices.
	ErrInvalidPrice = errors.New("pricing: invalid price")
)

// PriceOracle is the narrow read interface the ledger consumes. Prices are
// unsigned fixed-point values scaled by the ledger's configured price scale.
type PriceOracle interface {
	Price(asset string) (*big.Int, error)
}

// Quote is a single published observation.
type Quote struct {
	Price     *big.Int
	Timestamp time.Time
}

// StaticOracle serves operator-published quotes and rejects observations
// older than MaxAge. A zero MaxAge disables the staleness check.
type StaticOracle struct {
	mu     sync.RWMutex
	quotes map[string]Quote
	maxAge time.Duration
	nowFn  func() time.Time
}

// NewStaticOracle constructs an empty oracle.
func NewStaticOracle(maxAge time.Duration) *StaticOracle {
	return &StaticOracle{
		quotes: make(map[string]Quote),
		maxAge: maxAge,
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the clock used for staleness checks.
func (o *StaticOracle) SetNowFunc(fn func() time.Time) {
	if o == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if fn == nil {
		fn = time.Now
	}
	o.nowFn = fn
}

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// SetPrice publishes a quote for asset observed at ts. A zero ts is stamped
// with the oracle clock.
func (o *StaticOracle) SetPrice(asset string, price *big.Int, ts time.Time) error {
	if o == nil {
		return fmt.Errorf("pricing: oracle not configured")
	}
	symbol := normalizeAsset(asset)
	if symbol == "" {
		return fmt.Errorf("pricing: asset required")
	}
	if price == nil || price.Sign() <= 0 {
		return ErrInvalidPrice
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if ts.IsZero() {
		ts = o.nowFn()
	}
	o.quotes[symbol] = Quote{Price: new(big.Int).Set(price), Timestamp: ts.UTC()}
	return nil
}

// Quote returns the latest observation for asset without applying the
// staleness guard.
func (o *StaticOracle) Quote(asset string) (Quote, bool) {
	if o == nil {
		return Quote{}, false
	}
	o.mu.RLock()
	defer o.mu.RUnlock()
	q, ok := o.quotes[normalizeAsset(asset)]
	if !ok {
		return Quote{}, false
	}
	return Quote{Price: new(big.Int).Set(q.Price), Timestamp: q.Timestamp}, true
}

// Price implements PriceOracle.
func (o *StaticOracle) Price(asset string) (*big.Int, error) {
	if o == nil {
		return nil, fmt.Errorf("pricing: oracle not configured")
	}
	o.mu.RLock()
	q, ok := o.quotes[normalizeAsset(asset)]
	now := o.nowFn()
	maxAge := o.maxAge
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPriceUnavailable, normalizeAsset(asset))
	}
	if maxAge > 0 {
		age := computeAgeSeconds(q.Timestamp, now)
		if uint64(age) > uint64(maxAge/time.Second) {
			return nil, fmt.Errorf("%w: %s is %ds old", ErrPriceStale, normalizeAsset(asset), age)
		}
	}
	return new(big.Int).Set(q.Price), nil
}

func computeAgeSeconds(observed, now time.Time) uint32 {
	if observed.IsZero() || now.IsZero() {
		return math.MaxUint32
	}
	observed = observed.UTC()
	now = now.UTC()
	if observed.After(now) {
		return 0
	}
	seconds := now.Sub(observed) / time.Second
	if seconds > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(seconds)
}
