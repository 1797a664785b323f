package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/event-seat-booking/internal/metrics"
	"github.com/iliyamo/event-seat-booking/internal/model"
)

// HoldExpirer lists lapsed holds and releases them through the booking
// workflow, so the scanner uses the same operations as any client.
type HoldExpirer interface {
	ExpiredHolds(ctx context.Context, limit int) ([]model.SeatHold, error)
	ExpireHold(ctx context.Context, holdID string) (model.SeatHold, error)
}

// ExpiryConfig contains configuration for the expiry scanner
type ExpiryConfig struct {
	// ScanInterval is the interval between scans for lapsed holds
	ScanInterval time.Duration
	// BatchSize is the number of holds released per scan
	BatchSize int
}

// DefaultExpiryConfig returns default configuration
func DefaultExpiryConfig() ExpiryConfig {
	return ExpiryConfig{
		ScanInterval: 60 * time.Second,
		BatchSize:    100,
	}
}

// ExpiryScanner periodically releases ACTIVE holds whose deadline passed
type ExpiryScanner struct {
	expirer HoldExpirer
	config  ExpiryConfig
	log     *zap.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// Stats
	totalExpired  int64
	totalLost     int64
	lastScanTime  time.Time
	lastScanCount int
}

// NewExpiryScanner creates a new expiry scanner
func NewExpiryScanner(expirer HoldExpirer, cfg ExpiryConfig, log *zap.Logger) *ExpiryScanner {
	def := DefaultExpiryConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ExpiryScanner{
		expirer: expirer,
		config:  cfg,
		log:     log.Named("expiry-scanner"),
		stopCh:  make(chan struct{}),
	}
}

// Start starts the scanner
func (s *ExpiryScanner) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("expiry scanner already running")
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("starting expiry scanner", zap.Duration("interval", s.config.ScanInterval))

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop stops the scanner and waits for the running scan to finish
func (s *ExpiryScanner) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("expiry scanner stopped")
}

func (s *ExpiryScanner) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	s.ScanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.ScanOnce(ctx)
		}
	}
}

// ScanOnce releases one batch of lapsed holds and returns how many were
// released.  A hold that committed before the scanner reached it is
// logged and not counted.
func (s *ExpiryScanner) ScanOnce(ctx context.Context) int {
	start := time.Now()
	defer func() {
		metrics.WorkerTickDuration.WithLabelValues("expiry").Observe(time.Since(start).Seconds())
	}()

	holds, err := s.expirer.ExpiredHolds(ctx, s.config.BatchSize)
	if err != nil {
		s.log.Error("failed to list expired holds", zap.Error(err))
		return 0
	}

	released, lost := 0, 0
	for _, h := range holds {
		if _, err := s.expirer.ExpireHold(ctx, h.ID); err != nil {
			if errors.Is(err, model.ErrHoldAlreadyTerminal) {
				lost++
				s.log.Info("hold committed before expiry", zap.String("hold_id", h.ID))
				continue
			}
			s.log.Error("failed to expire hold", zap.String("hold_id", h.ID), zap.Error(err))
			continue
		}
		released++
	}
	if released > 0 {
		s.log.Info("released expired holds", zap.Int("count", released))
	}

	s.mu.Lock()
	s.lastScanTime = start
	s.lastScanCount = released
	s.totalExpired += int64(released)
	s.totalLost += int64(lost)
	s.mu.Unlock()
	return released
}

// ExpiryStats contains scanner statistics
type ExpiryStats struct {
	IsRunning     bool      `json:"is_running"`
	TotalExpired  int64     `json:"total_expired"`
	TotalLost     int64     `json:"total_lost_to_commit"`
	LastScanTime  time.Time `json:"last_scan_time"`
	LastScanCount int       `json:"last_scan_count"`
}

// Stats returns scanner statistics
func (s *ExpiryScanner) Stats() ExpiryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ExpiryStats{
		IsRunning:     s.running,
		TotalExpired:  s.totalExpired,
		TotalLost:     s.totalLost,
		LastScanTime:  s.lastScanTime,
		LastScanCount: s.lastScanCount,
	}
}
