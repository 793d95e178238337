package order

import (
	"context"
	"sync"
	"time"
)

type CallbackOutcome string

const (
	CallbackApplied   CallbackOutcome = "applied"
	CallbackDuplicate CallbackOutcome = "duplicate"
	CallbackUnmatched CallbackOutcome = "unmatched"
	CallbackMalformed CallbackOutcome = "malformed"
	CallbackError     CallbackOutcome = "error"
	CallbackReplayed  CallbackOutcome = "replayed"
)

// CallbackRecord is one delivery of a payment notification, kept verbatim
// for operators.
type CallbackRecord struct {
	ID                int64
	CheckoutRequestID string
	ResultCode        *int
	Outcome           CallbackOutcome
	Payload           []byte
	ReceivedAt        time.Time
}

type CallbackLog interface {
	Record(ctx context.Context, rec CallbackRecord) (int64, error)
	// Unmatched returns callbacks for checkoutRequestID that arrived before
	// any order carried that id, oldest first.
	Unmatched(ctx context.Context, checkoutRequestID string) ([]CallbackRecord, error)
	MarkOutcome(ctx context.Context, id int64, outcome CallbackOutcome) error
	// Lock serializes transactions touching checkoutRequestID until the
	// surrounding transaction ends.
	Lock(ctx context.Context, checkoutRequestID string) error
}

type InMemoryCallbackLog struct {
	mu      sync.RWMutex
	records []CallbackRecord
}

func NewInMemoryCallbackLog() *InMemoryCallbackLog {
	return &InMemoryCallbackLog{}
}

func (l *InMemoryCallbackLog) Record(_ context.Context, rec CallbackRecord) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec.ID = int64(len(l.records) + 1)
	if rec.ReceivedAt.IsZero() {
		rec.ReceivedAt = time.Now().UTC()
	}
	rec.Payload = append([]byte(nil), rec.Payload...)
	l.records = append(l.records, rec)
	return rec.ID, nil
}

func (l *InMemoryCallbackLog) Unmatched(_ context.Context, checkoutRequestID string) ([]CallbackRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]CallbackRecord, 0)
	for _, rec := range l.records {
		if rec.Outcome == CallbackUnmatched && rec.CheckoutRequestID == checkoutRequestID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (l *InMemoryCallbackLog) MarkOutcome(_ context.Context, id int64, outcome CallbackOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.records {
		if l.records[i].ID == id {
			l.records[i].Outcome = outcome
			return nil
		}
	}
	return ErrNotFound
}

// Lock is a no-op: the in-memory unit of work already runs one
// transaction at a time.
func (l *InMemoryCallbackLog) Lock(context.Context, string) error { return nil }

// Records returns every stored delivery.
func (l *InMemoryCallbackLog) Records() []CallbackRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]CallbackRecord(nil), l.records...)
}

func (l *InMemoryCallbackLog) Snapshot() (restore func()) {
	l.mu.RLock()
	saved := append([]CallbackRecord(nil), l.records...)
	l.mu.RUnlock()
	return func() {
		l.mu.Lock()
		l.records = saved
		l.mu.Unlock()
	}
}
