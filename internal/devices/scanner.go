// ABOUTME: Perpetual background discovery loop feeding the registry
// ABOUTME: A failing or panicking tick is logged and the loop carries on
package devices

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultScanInterval = 10 * time.Second
	DefaultScanTimeout  = 8 * time.Second
)

// Discoverer queries the radio for the currently visible and paired devices
type Discoverer interface {
	ScanOnce(ctx context.Context) ([]Observation, error)
}

// BusyChecker reports whether an address has a connection operation in flight
type BusyChecker interface {
	Busy(address string) bool
}

// Scanner runs the discovery loop
type Scanner struct {
	registry   *Registry
	discoverer Discoverer
	busy       BusyChecker
	logger     *slog.Logger

	startOnce sync.Once
	done      chan struct{}
	trigger   chan struct{}
	reset     chan struct{}

	mu       sync.Mutex
	interval time.Duration
	timeout  time.Duration
	ticks    uint64
	failures uint64
	lastErr  error
}

// ScannerOption configures a Scanner
type ScannerOption func(*Scanner)

// WithInterval sets the time between ticks
func WithInterval(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithScanTimeout bounds a single discovery query
func WithScanTimeout(d time.Duration) ScannerOption {
	return func(s *Scanner) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithBusyChecker lets the merge skip addresses with an operation in flight
func WithBusyChecker(b BusyChecker) ScannerOption {
	return func(s *Scanner) { s.busy = b }
}

// NewScanner creates a scanner; Start launches it
func NewScanner(registry *Registry, discoverer Discoverer, logger *slog.Logger, opts ...ScannerOption) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{
		registry:   registry,
		discoverer: discoverer,
		logger:     logger,
		done:       make(chan struct{}),
		trigger:    make(chan struct{}, 1),
		reset:      make(chan struct{}, 1),
		interval:   DefaultScanInterval,
		timeout:    DefaultScanTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the loop. Later calls do nothing. The loop runs until ctx is
// cancelled.
func (s *Scanner) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		s.logger.Info("device scanner started", "interval", s.Interval())
		go s.loop(ctx)
	})
}

// Done is closed once the loop has exited
func (s *Scanner) Done() <-chan struct{} {
	return s.done
}

// ScanNow asks for an immediate tick without waiting for it
func (s *Scanner) ScanNow() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// SetInterval changes the tick interval of a running loop
func (s *Scanner) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	changed := s.interval != d
	s.interval = d
	s.mu.Unlock()

	if changed {
		s.logger.Info("scan interval changed", "interval", d)
		select {
		case s.reset <- struct{}{}:
		default:
		}
	}
}

// Interval returns the current tick interval
func (s *Scanner) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Stats returns the number of ticks run, how many failed, and the last failure
func (s *Scanner) Stats() (ticks, failures uint64, lastErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ticks, s.failures, s.lastErr
}

func (s *Scanner) loop(ctx context.Context) {
	defer close(s.done)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("device scanner stopped")
			return
		case <-timer.C:
		case <-s.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		case <-s.reset:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(s.Interval())
			continue
		}

		s.tick(ctx)
		timer.Reset(s.Interval())
	}
}

// tick runs one discovery query and merge
func (s *Scanner) tick(ctx context.Context) {
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scan tick panicked: %v", r)
		}
		s.record(err)
	}()

	s.mu.Lock()
	timeout := s.timeout
	s.mu.Unlock()

	scanCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	observed, err := s.discoverer.ScanOnce(scanCtx)
	if err != nil {
		return
	}

	var busy func(string) bool
	if s.busy != nil {
		busy = s.busy.Busy
	}
	if s.registry.merge(observed, start, busy) {
		s.logger.Debug("device list changed", "observed", len(observed))
	}
}

func (s *Scanner) record(err error) {
	s.mu.Lock()
	s.ticks++
	if err != nil {
		s.failures++
		s.lastErr = err
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("device scan failed", "error", err)
	}
}
