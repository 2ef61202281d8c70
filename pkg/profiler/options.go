package profiler

import (
	"time"

	"github.com/scope-profiler/pkg/utils"
)

// DefaultMaxHistoryAge is how long a sealed root is retained when no age is
// configured.
const DefaultMaxHistoryAge = time.Second

// Option configures a Service.
type Option func(*Service)

// WithClock sets the tick source. Defaults to a MonotonicClock.
func WithClock(clock utils.TickClock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithLogger sets the logger usage errors are reported to.
func WithLogger(logger utils.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxHistoryAge sets the initial retention age.
func WithMaxHistoryAge(d time.Duration) Option {
	return func(s *Service) {
		s.maxAge.Store(int64(d))
	}
}

// WithHistoryCapacity sets the number of pre-allocated history slots.
func WithHistoryCapacity(n int) Option {
	return func(s *Service) {
		s.historyCapacity = n
	}
}

// WithMaxRoots caps the number of retained roots. When the cap is reached the
// oldest root is evicted to make room. 0 disables the cap.
func WithMaxRoots(n int) Option {
	return func(s *Service) {
		s.maxRoots = n
	}
}

// WithObserver registers an Observer for service events.
func WithObserver(o Observer) Option {
	return func(s *Service) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

// WithPaused starts the service paused.
func WithPaused(paused bool) Option {
	return func(s *Service) {
		s.paused.Store(paused)
	}
}

// Observer receives service events. Callbacks run on the goroutine that
// triggered the event, outside the service lock, and must be cheap.
type Observer interface {
	// RootSealed is called after a root tree enters history.
	RootSealed(thread ThreadID, nodes int)
	// RootsEvicted is called when history drops roots, by age, cap, or shutdown.
	RootsEvicted(count int)
	// UsageError is called for every recoverable instrumentation error.
	UsageError(code string)
}
