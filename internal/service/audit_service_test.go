package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/memory"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/audit"
)

// slowAuditStore simulates a slow backend for backpressure tests.
type slowAuditStore struct {
	delay time.Duration

	mu      sync.Mutex
	batches int
	records int
}

func (m *slowAuditStore) Append(_ context.Context, records ...audit.Record) error {
	time.Sleep(m.delay)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches++
	m.records += len(records)
	return nil
}

func (m *slowAuditStore) Query(context.Context, audit.Filter) ([]audit.Record, error) {
	return nil, nil
}

func (m *slowAuditStore) counts() (batches, records int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.batches, m.records
}

type failingAuditStore struct{ slowAuditStore }

func (m *failingAuditStore) Append(ctx context.Context, records ...audit.Record) error {
	_ = m.slowAuditStore.Append(ctx, records...)
	return errors.New("disk full")
}

func loginRecord(i int) audit.Record {
	return audit.Record{
		EventType: audit.EventTypeLogin,
		TargetID:  fmt.Sprintf("member-%03d", i),
		Timestamp: time.Now(),
	}
}

func TestAuditService_FlushesToStore(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := memory.NewAuditStore()
	svc := NewAuditService(store, testLogger(), WithFlushInterval(10*time.Millisecond))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc.Start(ctx)

	for i := 0; i < 3; i++ {
		if err := svc.Append(ctx, loginRecord(i)); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	records, err := svc.Query(ctx, audit.Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	if records[0].TargetID != "member-002" {
		t.Errorf("newest record = %s, want member-002", records[0].TargetID)
	}

	svc.Stop()
}

func TestAuditService_StopFlushesPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &slowAuditStore{}
	// Neither the batch size nor the interval triggers before Stop.
	svc := NewAuditService(store, testLogger(), WithBatchSize(100), WithFlushInterval(time.Hour))
	svc.Start(context.Background())

	for i := 0; i < 5; i++ {
		_ = svc.Append(context.Background(), loginRecord(i))
	}
	svc.Stop()

	if _, records := store.counts(); records != 5 {
		t.Errorf("records written = %d, want 5", records)
	}
}

func TestAuditService_ContextCancelDrains(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &slowAuditStore{}
	svc := NewAuditService(store, testLogger(), WithBatchSize(100), WithFlushInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)

	for i := 0; i < 4; i++ {
		_ = svc.Append(ctx, loginRecord(i))
	}
	cancel()
	svc.Stop()

	if _, records := store.counts(); records != 4 {
		t.Errorf("records written = %d, want 4", records)
	}
}

func TestAuditService_BatchSize(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &slowAuditStore{}
	svc := NewAuditService(store, testLogger(), WithBatchSize(2), WithFlushInterval(time.Hour))
	svc.Start(context.Background())

	for i := 0; i < 4; i++ {
		_ = svc.Append(context.Background(), loginRecord(i))
	}
	svc.Stop()

	batches, records := store.counts()
	if records != 4 || batches != 2 {
		t.Errorf("batches = %d records = %d, want 2 batches of 2", batches, records)
	}
}

func TestAuditService_OverflowDrops(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name        string
		sendTimeout time.Duration
	}{
		{name: "drop immediately", sendTimeout: 0},
		{name: "drop after timeout", sendTimeout: 5 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &slowAuditStore{}
			// Worker not started: the buffer of 2 fills and stays full.
			svc := NewAuditService(store, testLogger(),
				WithChannelSize(2),
				WithSendTimeout(tt.sendTimeout),
			)

			for i := 0; i < 5; i++ {
				_ = svc.Append(context.Background(), loginRecord(i))
			}

			if got := svc.DroppedRecords(); got != 3 {
				t.Errorf("DroppedRecords() = %d, want 3", got)
			}
			if svc.ChannelDepth() != 2 || svc.ChannelCapacity() != 2 {
				t.Errorf("depth = %d capacity = %d, want 2/2", svc.ChannelDepth(), svc.ChannelCapacity())
			}

			svc.Start(context.Background())
			svc.Stop()
			if _, records := store.counts(); records != 2 {
				t.Errorf("records written = %d, want the 2 queued", records)
			}
		})
	}
}

func TestAuditService_NoDropWithSufficientBuffer(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &slowAuditStore{delay: time.Millisecond}
	svc := NewAuditService(store, testLogger(), WithChannelSize(100), WithBatchSize(10))
	svc.Start(context.Background())

	var wg sync.WaitGroup
	for g := 0; g < 5; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = svc.Append(context.Background(), loginRecord(g*10+i))
			}
		}(g)
	}
	wg.Wait()
	svc.Stop()

	if got := svc.DroppedRecords(); got != 0 {
		t.Errorf("DroppedRecords() = %d, want 0", got)
	}
	if _, records := store.counts(); records != 50 {
		t.Errorf("records written = %d, want 50", records)
	}
}

func TestAuditService_AppendAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	svc := NewAuditService(&slowAuditStore{}, testLogger())
	svc.Start(context.Background())
	svc.Stop()
	svc.Stop()

	if err := svc.Append(context.Background(), loginRecord(1)); err != nil {
		t.Fatalf("Append() after Stop error = %v", err)
	}
	if got := svc.DroppedRecords(); got != 1 {
		t.Errorf("DroppedRecords() = %d, want 1", got)
	}
}

func TestAuditService_StoreErrorIsLogged(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &failingAuditStore{}
	svc := NewAuditService(store, testLogger(), WithBatchSize(1))
	svc.Start(context.Background())

	_ = svc.Append(context.Background(), loginRecord(1))
	svc.Stop()

	if batches, _ := store.counts(); batches != 1 {
		t.Errorf("batches = %d, want 1", batches)
	}
	if got := svc.DroppedRecords(); got != 0 {
		t.Errorf("DroppedRecords() = %d, want 0 (write errors are not drops)", got)
	}
}
