package feed

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"rcm-reconciliation-backend/internal/models"
	"rcm-reconciliation-backend/internal/services/claims"
)

func change(tenant, claim string, status models.ClaimStatus) claims.ChangeEvent {
	return claims.ChangeEvent{
		Kind:      claims.ChangeTransition,
		TenantID:  tenant,
		ClaimID:   claim,
		OldStatus: models.ClaimPending,
		NewStatus: status,
		Timestamp: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
	}
}

func TestHub_FanOutAndTenantFilter(t *testing.T) {
	hub := NewHub()
	all := hub.Subscribe("", 4)
	onlyA := hub.Subscribe("agency-a", 4)

	hub.OnClaimChange(change("agency-a", "CLM-1", models.ClaimDenied))
	hub.OnClaimChange(change("agency-b", "CLM-2", models.ClaimResolved))

	if len(all.C()) != 2 {
		t.Errorf("all subscriber got %d events, want 2", len(all.C()))
	}
	if len(onlyA.C()) != 1 {
		t.Fatalf("tenant subscriber got %d events, want 1", len(onlyA.C()))
	}
	if ev := <-onlyA.C(); ev.ClaimID != "CLM-1" {
		t.Errorf("got %s", ev.ClaimID)
	}
}

func TestHub_DropsWhenFull(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("", 2)

	for i := 0; i < 5; i++ {
		hub.OnClaimChange(change("agency-a", "CLM-1", models.ClaimDenied))
	}
	if sub.Dropped() != 3 || hub.Dropped() != 3 {
		t.Errorf("dropped = %d/%d, want 3", sub.Dropped(), hub.Dropped())
	}
}

func TestHub_CloseStopsDelivery(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("", 2)
	sub.Close()
	sub.Close()

	hub.OnClaimChange(change("agency-a", "CLM-1", models.ClaimDenied))
	if _, ok := <-sub.C(); ok {
		t.Fatal("closed subscription delivered an event")
	}
}

func TestHub_AsStoreListener(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("agency-a", 8)
	store := claims.NewStore(claims.WithListener(hub))

	if _, err := store.Create(context.Background(), models.Claim{TenantID: "agency-a", ClaimID: "CLM-1"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := store.ApplyTransition(context.Background(), "agency-a", "CLM-1", claims.ManualReassign("maria", "lead")); err != nil {
		t.Fatalf("ApplyTransition: %v", err)
	}

	first, second := <-sub.C(), <-sub.C()
	if first.Kind != claims.ChangeCreated || second.Kind != claims.ChangeTransition || second.NewAgent != "maria" {
		t.Fatalf("events = %+v, %+v", first, second)
	}
}

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	failN  int
	wrote  chan struct{}
	closed bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("broker unavailable")
	}
	f.msgs = append(f.msgs, msgs...)
	select {
	case f.wrote <- struct{}{}:
	default:
	}
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

func TestKafkaSink_PublishesKeyedJSON(t *testing.T) {
	hub := NewHub()
	w := &fakeWriter{wrote: make(chan struct{}, 16), failN: 1}
	sink := NewKafkaSink(w, hub.Subscribe("", 16))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx) }()

	// the first write fails and is dropped, the sink keeps running
	hub.OnClaimChange(change("agency-a", "CLM-0", models.ClaimDenied))
	hub.OnClaimChange(change("agency-a", "CLM-1", models.ClaimDenied))
	deadline := time.After(5 * time.Second)
	for w.count() == 0 {
		select {
		case <-w.wrote:
		case <-deadline:
			t.Fatal("no message written")
		case <-time.After(10 * time.Millisecond):
			hub.OnClaimChange(change("agency-a", "CLM-1", models.ClaimDenied))
		}
	}

	w.mu.Lock()
	msg := w.msgs[len(w.msgs)-1]
	w.mu.Unlock()
	if string(msg.Key) != "agency-a/CLM-1" {
		t.Errorf("key = %q", msg.Key)
	}
	var body map[string]any
	if err := json.Unmarshal(msg.Value, &body); err != nil {
		t.Fatalf("value is not JSON: %v", err)
	}
	if body["new_status"] != string(models.ClaimDenied) || body["tenant_id"] != "agency-a" {
		t.Errorf("body = %v", body)
	}
	if _, leaked := body["Before"]; leaked {
		t.Error("claim snapshot leaked into the feed")
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
	if err := sink.Close(); err != nil || !w.closed {
		t.Errorf("Close = %v closed=%v", err, w.closed)
	}
}

func TestKafkaSink_StopsWhenSubscriptionCloses(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("", 1)
	sink := NewKafkaSink(&fakeWriter{wrote: make(chan struct{}, 1)}, sub)

	done := make(chan error, 1)
	go func() { done <- sink.Run(context.Background()) }()
	sub.Close()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("sink did not stop")
	}
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter([]string{"localhost:9092"}, "claim-changes")
	if w.Topic != "claim-changes" {
		t.Errorf("topic = %s", w.Topic)
	}
	if _, ok := w.Balancer.(*kafka.Hash); !ok {
		t.Errorf("balancer = %T, want *kafka.Hash", w.Balancer)
	}
}
