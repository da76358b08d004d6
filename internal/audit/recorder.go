package audit

import (
	"context"
	"sync"
)

// recorderChanSize is the buffer size of the async write channel. Entries
// beyond this are dropped.
const recorderChanSize = 256

// Logger defines the logging interface used by this package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Recorder writes actions to a Repository from a single background
// goroutine. Record never blocks the caller.
type Recorder struct {
	repo   Repository
	ch     chan *Action
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
	logger Logger
}

// NewRecorder starts a Recorder. Close drains pending entries.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Recorder{
		repo:   repo,
		ch:     make(chan *Action, recorderChanSize),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: logger,
	}
	go r.drain(ctx)
	return r
}

// Record enqueues an action (best-effort). If the channel is full the
// entry is dropped and a warning is logged.
func (r *Recorder) Record(a Action) {
	select {
	case <-r.done:
		return
	default:
	}

	select {
	case r.ch <- &a:
	default:
		r.logger.Warn("action history channel full, dropping entry",
			"action", a.Action,
			"device_id", a.DeviceID,
		)
	}
}

// drain writes entries serially until the context is cancelled, then
// writes whatever is still queued.
func (r *Recorder) drain(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case a := <-r.ch:
			r.write(a)
		case <-ctx.Done():
			for {
				select {
				case a := <-r.ch:
					r.write(a)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(a *Action) {
	if err := r.repo.Create(context.Background(), a); err != nil {
		r.logger.Error("action history write failed",
			"action", a.Action,
			"device_id", a.DeviceID,
			"error", err,
		)
	}
}

// Close stops the writer after draining queued entries. It is safe to call
// more than once.
func (r *Recorder) Close() {
	r.once.Do(func() {
		r.cancel()
		<-r.done
	})
}
