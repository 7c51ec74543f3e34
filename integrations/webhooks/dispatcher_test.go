package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"riskledger/core/events"
	"riskledger/crypto"
)

func testAddress(b byte) crypto.Address {
	var raw [crypto.AddressLength]byte
	raw[19] = b
	return crypto.AddressFromArray(raw)
}

func TestDispatcherSignsPayload(t *testing.T) {
	var (
		mu        sync.Mutex
		signature string
		body      []byte
		eventType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		body = data
		signature = r.Header.Get(headerSignature)
		eventType = r.Header.Get(headerEvent)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(events.GuardianAction{Type: events.TypeGuardianPauseEnforced, By: testAddress(1), User: testAddress(2)})
	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if signature != Sign([]byte("secret"), body) {
		t.Fatalf("signature mismatch: %s", signature)
	}
	if eventType != events.TypeGuardianPauseEnforced {
		t.Fatalf("unexpected event header %q", eventType)
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.DeliveryID == "" || payload.Attributes["user"] != testAddress(2).String() {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDispatcherFiltersTopics(t *testing.T) {
	var hits int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(events.CollateralDeposited{Account: testAddress(1), Amount: big.NewInt(1), Total: big.NewInt(1)})
	dispatcher.Emit(events.Liquidated{Liquidator: testAddress(1), Borrower: testAddress(2), Repaid: big.NewInt(1), Seized: big.NewInt(1)})
	waitFor(func() bool { return atomic.LoadInt32(&hits) >= 1 }, time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected only the liquidation to be delivered, got %d", got)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	dispatcher.Emit(events.RiskScoreUpdated{Borrower: testAddress(3), Score: 9_000, Source: events.RiskSourceTrusted})
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestCloseDeliversQueuedEvents(t *testing.T) {
	var delivered int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&delivered, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithTopics())
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}

	const total = 10
	for i := 0; i < total; i++ {
		if err := dispatcher.Enqueue(events.GuardianAction{Type: events.TypeGuardianUnpaused, By: testAddress(1), User: testAddress(byte(i + 2))}.Event()); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	dispatcher.Close()

	if got := atomic.LoadInt32(&delivered); got != total {
		t.Fatalf("delivered %d of %d after Close", got, total)
	}
	if err := dispatcher.Enqueue(events.GuardianAction{Type: events.TypeGuardianUnpaused, By: testAddress(1), User: testAddress(2)}.Event()); !errors.Is(err, errDispatcherClosed) {
		t.Fatalf("expected closed dispatcher to refuse events, got %v", err)
	}
	dispatcher.Close()
}

func TestCloseAbortsAfterDrainTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer server.Close()
	defer close(release)
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithTopics(), WithDrainTimeout(50*time.Millisecond))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := dispatcher.Enqueue(events.GuardianAction{Type: events.TypeGuardianUnpaused, By: testAddress(1), User: testAddress(2)}.Event()); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	start := time.Now()
	dispatcher.Close()
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("close blocked for %s despite drain timeout", elapsed)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("secret")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://localhost", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
