package service

import (
	"context"
	"testing"
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/adapter/outbound/memory"
	"github.com/enteecaay/BloodDonation-prototype/internal/domain/audit"
)

// BenchmarkAuditAppend measures the enqueue fast path.
func BenchmarkAuditAppend(b *testing.B) {
	svc := NewAuditService(&slowAuditStore{}, testLogger(),
		WithChannelSize(10000),
		WithBatchSize(100),
		WithFlushInterval(time.Second),
	)
	svc.Start(context.Background())

	rec := loginRecord(1)
	ctx := context.Background()
	for b.Loop() {
		_ = svc.Append(ctx, rec)
	}

	b.StopTimer()
	svc.Stop()
}

// BenchmarkAuditAppendParallel measures enqueueing under contention.
func BenchmarkAuditAppendParallel(b *testing.B) {
	svc := NewAuditService(&slowAuditStore{}, testLogger(),
		WithChannelSize(10000),
		WithBatchSize(100),
		WithFlushInterval(time.Second),
	)
	svc.Start(context.Background())

	rec := loginRecord(1)
	b.RunParallel(func(pb *testing.PB) {
		ctx := context.Background()
		for pb.Next() {
			_ = svc.Append(ctx, rec)
		}
	})

	b.StopTimer()
	svc.Stop()
}

// BenchmarkAuditQuery measures filtered listing over a full ring buffer.
func BenchmarkAuditQuery(b *testing.B) {
	store := memory.NewAuditStore()
	ctx := context.Background()
	for i := 0; i < 1000; i++ {
		rec := loginRecord(i % 50)
		if i%10 == 0 {
			rec.EventType = audit.EventTypeLoginFailed
		}
		_ = store.Append(ctx, rec)
	}
	svc := NewAuditService(store, testLogger())

	filter := audit.Filter{EventTypes: []audit.EventType{audit.EventTypeLoginFailed}, Limit: 50}
	for b.Loop() {
		if _, err := svc.Query(ctx, filter); err != nil {
			b.Fatal(err)
		}
	}
}
