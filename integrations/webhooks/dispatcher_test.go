package webhooks

import (
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stakepool/core/events"
)

func stakedEvent() events.Event {
	return events.PoolStaked{
		Account:     common.HexToAddress("0xa1"),
		Amount:      big.NewInt(100),
		NewStake:    big.NewInt(100),
		TotalStaked: big.NewInt(100),
		Timestamp:   10,
	}
}

func TestDispatcherSignsPayload(t *testing.T) {
	var (
		mu        sync.Mutex
		body      []byte
		signature string
		eventType string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		body = data
		signature = r.Header.Get(HeaderSignature)
		eventType = r.Header.Get(HeaderEvent)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	dispatcher.Emit(stakedEvent())
	received := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}
	waitFor(received, time.Second)
	if !received() {
		t.Fatalf("expected delivery")
	}
	mu.Lock()
	defer mu.Unlock()
	if eventType != events.TypePoolStaked {
		t.Fatalf("unexpected event header %q", eventType)
	}
	if !Verify([]byte("secret"), body, signature) {
		t.Fatalf("signature %s does not verify", signature)
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Attributes["amount"] != "100" || payload.DeliveryID == "" {
		t.Fatalf("unexpected payload %+v", payload)
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
	failures := &failureCounter{}
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"),
		WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20),
		WithFailureRecorder(failures))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.Enqueue(stakedEvent()); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", atomic.LoadInt32(&attempts))
	}
	waitFor(func() bool { return atomic.LoadInt32(&failures.n) >= 2 }, time.Second)
	if got := atomic.LoadInt32(&failures.n); got != 2 {
		t.Fatalf("expected two recorded failures, got %d", got)
	}
}

type failureCounter struct{ n int32 }

func (f *failureCounter) RecordWebhookFailure(string) { atomic.AddInt32(&f.n, 1) }

type dropCounter struct{ n int32 }

func (d *dropCounter) RecordDrop(string) { atomic.AddInt32(&d.n, 1) }

func TestDispatcherDropsWhenClosed(t *testing.T) {
	drops := &dropCounter{}
	dispatcher, err := NewDispatcher("http://127.0.0.1:0", []byte("secret"), WithDropRecorder(drops))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	dispatcher.Close()
	dispatcher.Emit(stakedEvent())
	if atomic.LoadInt32(&drops.n) != 1 {
		t.Fatalf("expected one drop, got %d", drops.n)
	}
}

func TestNewDispatcherValidates(t *testing.T) {
	if _, err := NewDispatcher(" ", []byte("secret")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := NewDispatcher("http://example.invalid", nil); err == nil {
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
