package service

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/audit"
)

// AuditService writes audit records to a store from a background worker so
// request handlers never wait on the audit output. It implements audit.Store:
// Append enqueues, Query reads through to the underlying store.
type AuditService struct {
	store         audit.Store
	auditChan     chan audit.Record
	wg            sync.WaitGroup
	logger        *slog.Logger
	batchSize     int
	flushInterval time.Duration

	channelSize int
	sendTimeout time.Duration // 0 = drop immediately, >0 = block up to this duration
	dropCount   atomic.Int64

	warningThreshold int          // percent of channel capacity
	lastWarning      atomic.Int64 // unix nanos of the last depth warning

	// mu guards stopped so no send races the channel close.
	mu       sync.RWMutex
	stopped  bool
	stopOnce sync.Once
}

// AuditOption configures AuditService.
type AuditOption func(*AuditService)

// WithBatchSize sets the number of records to batch before writing.
func WithBatchSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.batchSize = size
		}
	}
}

// WithFlushInterval sets the interval to flush pending records.
func WithFlushInterval(interval time.Duration) AuditOption {
	return func(s *AuditService) {
		if interval > 0 {
			s.flushInterval = interval
		}
	}
}

// WithChannelSize sets the size of the audit channel buffer.
func WithChannelSize(size int) AuditOption {
	return func(s *AuditService) {
		if size > 0 {
			s.auditChan = make(chan audit.Record, size)
			s.channelSize = size
		}
	}
}

// WithSendTimeout sets the backpressure timeout.
// 0 drops immediately when the buffer is full.
func WithSendTimeout(timeout time.Duration) AuditOption {
	return func(s *AuditService) {
		s.sendTimeout = timeout
	}
}

// WithWarningThreshold sets the channel depth warning percentage (0-100).
func WithWarningThreshold(percent int) AuditOption {
	return func(s *AuditService) {
		s.warningThreshold = min(max(percent, 0), 100)
	}
}

// NewAuditService creates an AuditService over store.
func NewAuditService(store audit.Store, logger *slog.Logger, opts ...AuditOption) *AuditService {
	if logger == nil {
		logger = slog.Default()
	}
	const defaultChannelSize = 1000
	s := &AuditService{
		store:            store,
		auditChan:        make(chan audit.Record, defaultChannelSize),
		logger:           logger,
		batchSize:        50,
		flushInterval:    250 * time.Millisecond,
		channelSize:      defaultChannelSize,
		sendTimeout:      100 * time.Millisecond,
		warningThreshold: 80,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins the background worker.
func (s *AuditService) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.worker(ctx)
}

// Append enqueues records. It never fails; records that cannot be queued
// within the send timeout are dropped and counted.
func (s *AuditService) Append(_ context.Context, records ...audit.Record) error {
	for _, rec := range records {
		s.record(rec)
	}
	return nil
}

// Query reads from the underlying store. Records still queued are not visible.
func (s *AuditService) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	return s.store.Query(ctx, filter)
}

func (s *AuditService) record(rec audit.Record) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		s.recordDrop(rec)
		return
	}

	if s.warningThreshold > 0 {
		if depth := len(s.auditChan); depth >= s.channelSize*s.warningThreshold/100 {
			s.warnChannelDepth(depth)
		}
	}

	select {
	case s.auditChan <- rec:
		return
	default:
	}

	if s.sendTimeout <= 0 {
		s.recordDrop(rec)
		return
	}

	timer := time.NewTimer(s.sendTimeout)
	defer timer.Stop()
	select {
	case s.auditChan <- rec:
	case <-timer.C:
		s.recordDrop(rec)
	}
}

func (s *AuditService) recordDrop(rec audit.Record) {
	drops := s.dropCount.Add(1)
	s.logger.Warn("audit record dropped",
		"event_type", rec.EventType,
		"target_id", rec.TargetID,
		"total_drops", drops,
	)
}

// warnChannelDepth logs at most once per second.
func (s *AuditService) warnChannelDepth(depth int) {
	now := time.Now().UnixNano()
	last := s.lastWarning.Load()
	if now-last < int64(time.Second) {
		return
	}
	if s.lastWarning.CompareAndSwap(last, now) {
		s.logger.Warn("audit channel approaching capacity",
			"depth", depth,
			"capacity", s.channelSize,
			"percent", depth*100/s.channelSize,
		)
	}
}

// DroppedRecords returns the number of records dropped so far.
func (s *AuditService) DroppedRecords() int64 {
	return s.dropCount.Load()
}

// ChannelDepth returns the number of queued records.
func (s *AuditService) ChannelDepth() int {
	return len(s.auditChan)
}

// ChannelCapacity returns the queue size.
func (s *AuditService) ChannelCapacity() int {
	return s.channelSize
}

// Stop flushes queued records and waits for the worker. Safe to call more
// than once; later Appends are dropped.
func (s *AuditService) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		close(s.auditChan)
		s.mu.Unlock()
	})
	s.wg.Wait()
}

func (s *AuditService) worker(ctx context.Context) {
	defer s.wg.Done()

	batch := make([]audit.Record, 0, s.batchSize)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-s.auditChan:
			if !ok {
				s.finalFlush(batch)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= s.batchSize {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				s.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// Drain what is already queued; Stop closes the channel later.
		drain:
			for {
				select {
				case rec, ok := <-s.auditChan:
					if !ok {
						break drain
					}
					batch = append(batch, rec)
				default:
					break drain
				}
			}
			s.finalFlush(batch)
			return
		}
	}
}

// finalFlush writes the last batch with a bounded deadline.
func (s *AuditService) finalFlush(batch []audit.Record) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flush(ctx, batch)
}

// flush logs write errors; audit never fails a request.
func (s *AuditService) flush(ctx context.Context, batch []audit.Record) {
	if err := s.store.Append(ctx, batch...); err != nil {
		s.logger.Error("failed to write audit batch", "error", err, "count", len(batch))
	}
}

// Compile-time interface verification.
var _ audit.Store = (*AuditService)(nil)
