package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists login attempt entries.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
}

// Sink receives entries after they are persisted, e.g. a Kafka stream.
type Sink interface {
	Publish(ctx context.Context, e *Entry) error
}

// Recorder writes login attempts asynchronously so authentication latency
// never includes audit I/O. Entries are buffered; when the buffer is full
// the entry is dropped with a warning rather than blocking a login.
type Recorder struct {
	store Store
	sink  Sink

	ch     chan *Entry
	wg     sync.WaitGroup
	once   sync.Once
	logger *slog.Logger
	now    func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithSink adds a post-persistence sink.
func WithSink(sink Sink) RecorderOption {
	return func(r *Recorder) { r.sink = sink }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// WithBuffer overrides the channel buffer size.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) { r.ch = make(chan *Entry, n) }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates and starts the recorder worker.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:  store,
		ch:     make(chan *Entry, 256),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}

	r.wg.Add(1)
	go r.run()
	return r
}

// RecordSuccess records a successful login.
func (r *Recorder) RecordSuccess(ctx context.Context, appID, userID uuid.UUID, email, ip, userAgent string) {
	uid := userID
	r.enqueue(&Entry{
		ID:             uuid.New(),
		ApplicationID:  appID,
		UserID:         &uid,
		EmailAttempted: email,
		IPAddress:      ip,
		UserAgent:      userAgent,
		Status:         StatusSuccess,
		CreatedAt:      r.now(),
	})
}

// RecordFailure records a failed login attempt with its internal reason.
func (r *Recorder) RecordFailure(ctx context.Context, appID uuid.UUID, email, ip, userAgent, reason string) {
	r.enqueue(&Entry{
		ID:             uuid.New(),
		ApplicationID:  appID,
		EmailAttempted: email,
		IPAddress:      ip,
		UserAgent:      userAgent,
		Status:         StatusFailure,
		FailureReason:  reason,
		CreatedAt:      r.now(),
	})
}

// Close stops accepting entries and drains the buffer.
func (r *Recorder) Close() {
	r.once.Do(func() {
		close(r.ch)
	})
	r.wg.Wait()
}

func (r *Recorder) enqueue(e *Entry) {
	defer func() {
		// Sending on the closed channel after shutdown is not worth a crash.
		if recover() != nil {
			r.logger.Warn("login attempt recorded after recorder close")
		}
	}()
	select {
	case r.ch <- e:
	default:
		r.logger.Warn("audit buffer full, dropping login attempt entry",
			"application_id", e.ApplicationID,
			"status", e.Status,
		)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for e := range r.ch {
		ctx := context.Background()
		if err := r.store.Insert(ctx, e); err != nil {
			r.logger.Error("persist login attempt failed", "error", err)
			continue
		}
		if r.sink != nil {
			if err := r.sink.Publish(ctx, e); err != nil {
				r.logger.Error("publish login attempt failed", "error", err)
			}
		}
	}
}
