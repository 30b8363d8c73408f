package integrity

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	liberrors "github.com/adalundhe/shelf/core/errors"
)

// DefaultInterval is the period between background sweeps.
const DefaultInterval = 5 * time.Minute

// CheckFunc inspects one scope and returns a non-nil error when it is damaged.
type CheckFunc func(ctx context.Context) error

type Options struct {
	Interval     time.Duration
	StartupCheck bool
	Logger       *slog.Logger
	Now          func() time.Time
}

// Monitor runs registered checks on a ticker and reports failures through
// the corruption callback.
type Monitor struct {
	checks       map[string]CheckFunc
	interval     time.Duration
	startupCheck bool
	logger       *slog.Logger
	now          func() time.Time

	mu           sync.RWMutex
	stopCh       chan struct{}
	stoppedCh    chan struct{}
	running      bool
	status       map[string]ScopeStatus
	onCorruption func(scope string, err error)
}

// ScopeStatus is the outcome of the latest check of one scope.
type ScopeStatus struct {
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

func NewMonitor(opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Monitor{
		checks:       make(map[string]CheckFunc),
		interval:     opts.Interval,
		startupCheck: opts.StartupCheck,
		logger:       opts.Logger,
		now:          opts.Now,
		status:       make(map[string]ScopeStatus),
	}
}

func (m *Monitor) Register(scope string, fn CheckFunc) {
	m.mu.Lock()
	m.checks[scope] = fn
	m.mu.Unlock()
}

func (m *Monitor) OnCorruption(fn func(scope string, err error)) {
	m.mu.Lock()
	m.onCorruption = fn
	m.mu.Unlock()
}

// Start runs the startup sweep, if enabled, and then sweeps every interval
// until Stop is called or ctx is done. A failed startup sweep is returned
// and leaves the monitor stopped.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = true
	stopCh, stoppedCh := make(chan struct{}), make(chan struct{})
	m.stopCh, m.stoppedCh = stopCh, stoppedCh
	m.mu.Unlock()

	if m.startupCheck {
		if err := m.CheckAll(ctx); err != nil {
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			close(stoppedCh)
			return err
		}
	}

	go m.run(ctx, stopCh, stoppedCh)
	return nil
}

func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopCh, stoppedCh := m.stopCh, m.stoppedCh
	m.mu.Unlock()

	close(stopCh)
	<-stoppedCh
}

func (m *Monitor) run(ctx context.Context, stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = m.CheckAll(ctx)
		}
	}
}

// CheckAll runs every registered check and returns the first failure.
func (m *Monitor) CheckAll(ctx context.Context) error {
	m.mu.RLock()
	checks := make(map[string]CheckFunc, len(m.checks))
	for k, v := range m.checks {
		checks[k] = v
	}
	m.mu.RUnlock()

	var firstErr error
	for scope, fn := range checks {
		if err := m.checkOne(ctx, scope, fn); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (m *Monitor) Check(ctx context.Context, scope string) error {
	m.mu.RLock()
	fn, ok := m.checks[scope]
	m.mu.RUnlock()

	if !ok {
		return liberrors.Newf(liberrors.KindNotFound, "integrity.Check", "unknown scope: %s", scope)
	}
	return m.checkOne(ctx, scope, fn)
}

func (m *Monitor) checkOne(ctx context.Context, scope string, fn CheckFunc) error {
	err := fn(ctx)

	st := ScopeStatus{CheckedAt: m.now()}
	if err != nil {
		st.Error = err.Error()
	}
	m.mu.Lock()
	m.status[scope] = st
	m.mu.Unlock()

	if err == nil {
		m.logger.Debug("integrity check passed", "scope", scope)
		return nil
	}

	m.logger.Error("integrity check failed", "scope", scope, "error", err)
	m.notifyCorruption(scope, err)
	return err
}

func (m *Monitor) notifyCorruption(scope string, err error) {
	m.mu.RLock()
	fn := m.onCorruption
	m.mu.RUnlock()

	if fn != nil {
		fn(scope, err)
	}
}

// CheckOnError re-runs scope's check when err looks like storage damage
// rather than an ordinary failure.
func (m *Monitor) CheckOnError(ctx context.Context, scope string, err error) {
	if !IsSuspicious(err) {
		return
	}
	_ = m.Check(ctx, scope)
}

// Status returns the latest outcome per scope. Scopes never checked are
// absent.
func (m *Monitor) Status() map[string]ScopeStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]ScopeStatus, len(m.status))
	for k, v := range m.status {
		out[k] = v
	}
	return out
}

var suspiciousPatterns = []string{
	"database disk image is malformed",
	"disk i/o error",
	"corrupt",
	"sqlite_corrupt",
	"sqlite_notadb",
}

// IsSuspicious reports whether err indicates on-disk damage.
func IsSuspicious(err error) bool {
	if err == nil {
		return false
	}
	if liberrors.IsCorrupted(err) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
