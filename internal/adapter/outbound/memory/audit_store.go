package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore implements audit.Store with a bounded in-memory ring buffer.
// Every record is also written as one JSON line to an optional writer.
type AuditStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	// recent holds up to cap records, oldest first.
	recent []audit.Record
	cap    int
}

// resolveCapacity returns the first positive capacity value, or defaultRecentCap.
func resolveCapacity(capacity ...int) int {
	if len(capacity) > 0 && capacity[0] > 0 {
		return capacity[0]
	}
	return defaultRecentCap
}

// NewAuditStore creates an audit store that only keeps records in memory.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewAuditStore(capacity ...int) *AuditStore {
	return NewAuditStoreWithWriter(nil, capacity...)
}

// NewAuditStoreWithWriter creates an audit store that also writes JSON lines to w.
// An optional capacity parameter sets the ring buffer size (default 1000).
func NewAuditStoreWithWriter(w io.Writer, capacity ...int) *AuditStore {
	c := resolveCapacity(capacity...)
	s := &AuditStore{
		writer: w,
		recent: make([]audit.Record, 0, c),
		cap:    c,
	}
	if w != nil {
		s.encoder = json.NewEncoder(w)
	}
	return s
}

// Append keeps records in the ring buffer and writes them to the output.
// Records are buffered even when the write fails.
func (s *AuditStore) Append(ctx context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var writeErr error
	for _, r := range records {
		if len(s.recent) >= s.cap {
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r
		} else {
			s.recent = append(s.recent, r)
		}
		if s.encoder != nil && writeErr == nil {
			writeErr = s.encoder.Encode(r)
		}
	}
	return writeErr
}

// Query returns buffered records matching filter, newest first.
func (s *AuditStore) Query(ctx context.Context, filter audit.Filter) ([]audit.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.EffectiveLimit()
	result := make([]audit.Record, 0, min(limit, len(s.recent)))
	for i := len(s.recent) - 1; i >= 0 && len(result) < limit; i-- {
		if filter.Matches(s.recent[i]) {
			result = append(result, s.recent[i])
		}
	}
	return result, nil
}

// Len returns the number of buffered records.
func (s *AuditStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recent)
}

// Close closes the output when it is a file other than stdout or stderr.
func (s *AuditStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// Compile-time interface verification.
var _ audit.Store = (*AuditStore)(nil)
