package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Selector defaults.
const (
	DefaultPingTimeout = 500 * time.Millisecond
	DefaultCooldown    = 5 * time.Second
)

// Durable is an adapter with a liveness check.
type Durable interface {
	Adapter
	Ping(ctx context.Context) error
}

// failureNotifier is implemented by durable adapters that can report
// connection failures seen outside Ping.
type failureNotifier interface {
	notifyOnFailure(fn func(error))
}

// Selector picks the backend for each unit of work.
//
// Acquire pings the durable store with a short timeout. A failed ping,
// or a failure reported through ReportFailure, puts the durable store in
// cooldown: it is not pinged again until the cooldown has passed and
// every unit of work in between uses the fallback.
type Selector struct {
	durable  Durable
	fallback Adapter

	pingTimeout time.Duration
	cooldown    time.Duration
	now         func() time.Time
	logger      *slog.Logger
	selections  *prometheus.CounterVec
	observers   []func(Mode)

	mu        sync.Mutex
	downUntil time.Time

	last atomic.Value // Mode
}

// SelectorOption configures a Selector.
type SelectorOption func(*Selector)

// WithPingTimeout bounds each liveness check.
func WithPingTimeout(d time.Duration) SelectorOption {
	return func(s *Selector) {
		if d > 0 {
			s.pingTimeout = d
		}
	}
}

// WithCooldown sets how long the durable store is skipped after a failure.
func WithCooldown(d time.Duration) SelectorOption {
	return func(s *Selector) {
		if d >= 0 {
			s.cooldown = d
		}
	}
}

// WithSelectorClock injects the clock used for cooldowns.
func WithSelectorClock(now func() time.Time) SelectorOption {
	return func(s *Selector) {
		s.now = now
	}
}

// WithSelectorLogger sets the logger for mode transitions.
func WithSelectorLogger(l *slog.Logger) SelectorOption {
	return func(s *Selector) {
		s.logger = l
	}
}

// WithSelectorMetrics registers crm_store_selections_total with reg.
func WithSelectorMetrics(reg prometheus.Registerer) SelectorOption {
	return func(s *Selector) {
		reg.MustRegister(s.selections)
	}
}

// WithModeObserver registers fn to be called with the new mode whenever
// the selected backend changes, including the first selection. fn runs on
// the request path and must not block.
func WithModeObserver(fn func(Mode)) SelectorOption {
	return func(s *Selector) {
		s.observers = append(s.observers, fn)
	}
}

// NewSelector creates a selector. durable may be nil, in which case every
// unit of work uses the fallback.
func NewSelector(durable Durable, fallback Adapter, opts ...SelectorOption) *Selector {
	s := &Selector{
		durable:     durable,
		fallback:    fallback,
		pingTimeout: DefaultPingTimeout,
		cooldown:    DefaultCooldown,
		now:         time.Now,
		logger:      slog.Default(),
		selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_store_selections_total",
			Help: "Units of work served per persistence backend.",
		}, []string{"mode"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if n, ok := durable.(failureNotifier); ok {
		n.notifyOnFailure(s.ReportFailure)
	}
	return s
}

// Acquire returns the adapter for a new unit of work. It never fails: when
// the durable store cannot be confirmed within the ping timeout the
// fallback is returned. A cancelled ctx selects the fallback without
// starting a cooldown.
func (s *Selector) Acquire(ctx context.Context) (Adapter, Mode) {
	if s.durable == nil || s.coolingDown() {
		return s.choose(s.fallback, nil)
	}

	pingCtx, cancel := context.WithTimeout(ctx, s.pingTimeout)
	err := s.durable.Ping(pingCtx)
	cancel()

	if err == nil {
		return s.choose(s.durable, nil)
	}
	if ctx.Err() != nil {
		return s.fallback, ModeFallback
	}
	s.ReportFailure(err)
	return s.choose(s.fallback, err)
}

// ReportFailure puts the durable store into cooldown.
func (s *Selector) ReportFailure(err error) {
	s.mu.Lock()
	until := s.now().Add(s.cooldown)
	if until.After(s.downUntil) {
		s.downUntil = until
	}
	s.mu.Unlock()
	s.logger.Debug("durable store failure reported", "error", err, "cooldown", s.cooldown)
}

// Mode reports the backend chosen for the most recent unit of work.
func (s *Selector) Mode() Mode {
	if m, ok := s.last.Load().(Mode); ok {
		return m
	}
	if s.durable == nil {
		return ModeFallback
	}
	return ModeDurable
}

func (s *Selector) coolingDown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now().Before(s.downUntil)
}

func (s *Selector) choose(a Adapter, cause error) (Adapter, Mode) {
	mode := a.Mode()
	prev := s.last.Swap(mode)
	if prev == nil || prev.(Mode) != mode {
		switch {
		case prev == nil:
			s.logger.Info("persistence backend selected", "mode", mode)
		case mode == ModeFallback:
			s.logger.Warn("persistence switched to fallback store", "error", cause)
		default:
			s.logger.Info("persistence switched to durable store")
		}
		for _, fn := range s.observers {
			fn(mode)
		}
	}
	s.selections.WithLabelValues(string(mode)).Inc()
	return a, mode
}
