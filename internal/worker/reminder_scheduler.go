package worker

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/event-seat-booking/internal/clock"
	"github.com/iliyamo/event-seat-booking/internal/metrics"
	"github.com/iliyamo/event-seat-booking/internal/model"
)

// ReminderStore is the part of the booking store the scheduler uses.
type ReminderStore interface {
	PendingReminders(ctx context.Context, from, to time.Time, limit int) ([]model.ReminderTarget, error)
	MarkReminderSent(ctx context.Context, bookingID string) (bool, error)
}

// EventCompleter persists COMPLETED for events that already started.
type EventCompleter interface {
	CompleteStarted(ctx context.Context, now time.Time) (int64, error)
}

// Notifier delivers one message; nil means accepted.
type Notifier interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// ReminderConfig contains configuration for the reminder scheduler
type ReminderConfig struct {
	// Interval is the time between ticks
	Interval time.Duration
	// Lookahead is how far ahead of now an event start must fall
	Lookahead time.Duration
	// BatchSize bounds the reminders sent per tick
	BatchSize int
	// ClaimTTL is how long a booking stays claimed by one sender
	ClaimTTL time.Duration
}

// DefaultReminderConfig returns default configuration
func DefaultReminderConfig() ReminderConfig {
	return ReminderConfig{
		Interval:  60 * time.Second,
		Lookahead: 30 * time.Minute,
		BatchSize: 200,
		ClaimTTL:  5 * time.Minute,
	}
}

// ReminderScheduler sends one reminder per booking shortly before its
// event starts.  The reminder flag is flipped only after the notifier
// accepted the message; failed sends stay pending and are retried on the
// next tick.
type ReminderScheduler struct {
	store     ReminderStore
	events    EventCompleter
	notifier  Notifier
	claimer   Claimer
	clock     clock.Clock
	config    ReminderConfig
	log       *zap.Logger
	stopCh    chan struct{}
	wg        sync.WaitGroup
	mu        sync.Mutex
	running   bool
	totalSent int64
}

// NewReminderScheduler creates a scheduler.  events and claimer may be nil.
func NewReminderScheduler(store ReminderStore, events EventCompleter, notifier Notifier, claimer Claimer, c clock.Clock, cfg ReminderConfig, log *zap.Logger) *ReminderScheduler {
	def := DefaultReminderConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Lookahead <= 0 {
		cfg.Lookahead = def.Lookahead
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	if c == nil {
		c = clock.NewSystem()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ReminderScheduler{
		store:    store,
		events:   events,
		notifier: notifier,
		claimer:  claimer,
		clock:    c,
		config:   cfg,
		log:      log.Named("reminder-scheduler"),
		stopCh:   make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *ReminderScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("reminder scheduler already running")
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("starting reminder scheduler",
		zap.Duration("interval", s.config.Interval), zap.Duration("lookahead", s.config.Lookahead))

	s.wg.Add(1)
	go s.loop(ctx)
	return nil
}

// Stop stops the scheduler and waits for the running tick to finish
func (s *ReminderScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.log.Info("reminder scheduler stopped")
}

func (s *ReminderScheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.Tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one pass: persists completion of started events, then sends
// due reminders.  It returns the number of reminders sent.
func (s *ReminderScheduler) Tick(ctx context.Context) int {
	start := time.Now()
	defer func() {
		metrics.WorkerTickDuration.WithLabelValues("reminder").Observe(time.Since(start).Seconds())
	}()

	now := s.clock.Now()
	if s.events != nil {
		if n, err := s.events.CompleteStarted(ctx, now); err != nil {
			s.log.Error("failed to complete started events", zap.Error(err))
		} else if n > 0 {
			s.log.Info("events completed", zap.Int64("count", n))
		}
	}

	targets, err := s.store.PendingReminders(ctx, now, now.Add(s.config.Lookahead), s.config.BatchSize)
	if err != nil {
		s.log.Error("failed to list pending reminders", zap.Error(err))
		return 0
	}

	sent := 0
	for _, t := range targets {
		if s.remind(ctx, now, t) {
			sent++
		}
	}

	s.mu.Lock()
	s.totalSent += int64(sent)
	s.mu.Unlock()
	return sent
}

func (s *ReminderScheduler) remind(ctx context.Context, now time.Time, t model.ReminderTarget) bool {
	b := t.Booking
	log := s.log.With(zap.String("booking_id", b.ID), zap.String("event_id", b.EventID))

	key := "reminder:" + b.ID
	if s.claimer != nil {
		ok, err := s.claimer.Claim(ctx, key, s.config.ClaimTTL)
		switch {
		case err != nil:
			// Sending without the claim risks a duplicate, never a miss.
			log.Warn("reminder claim unavailable", zap.Error(err))
		case !ok:
			return false
		}
	}

	if strings.TrimSpace(b.Recipient) == "" {
		log.Warn("booking has no recipient, reminder dropped")
		s.markSent(ctx, log, b.ID)
		metrics.RemindersSent.WithLabelValues("no_recipient").Inc()
		return false
	}

	subject, body := reminderMessage(now, t)
	if err := s.notifier.Send(ctx, b.Recipient, subject, body); err != nil {
		log.Warn("reminder not sent, will retry", zap.Error(err))
		metrics.RemindersSent.WithLabelValues("failed").Inc()
		if s.claimer != nil {
			if err := s.claimer.Release(ctx, key); err != nil {
				log.Warn("reminder claim not released", zap.Error(err))
			}
		}
		return false
	}
	metrics.RemindersSent.WithLabelValues("sent").Inc()
	s.markSent(ctx, log, b.ID)
	return true
}

func (s *ReminderScheduler) markSent(ctx context.Context, log *zap.Logger, bookingID string) {
	flipped, err := s.store.MarkReminderSent(ctx, bookingID)
	if err != nil {
		// The claim keeps other senders away until it lapses; after that
		// the booking is picked up again.
		log.Error("reminder flag not saved", zap.Error(err))
		return
	}
	if !flipped {
		log.Info("reminder flag already set")
	}
}

// TotalSent returns how many reminders this scheduler sent.
func (s *ReminderScheduler) TotalSent() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalSent
}

func reminderMessage(now time.Time, t model.ReminderTarget) (string, string) {
	mins := int(math.Ceil(t.StartsAt.Sub(now).Minutes()))
	if mins < 0 {
		mins = 0
	}
	subject := fmt.Sprintf("Reminder: %s starts in %d minutes!", t.EventName, mins)

	var sb strings.Builder
	fmt.Fprintf(&sb, "This is a reminder that %s starts at %s UTC.\n", t.EventName, t.StartsAt.UTC().Format("2006-01-02 15:04"))
	if t.EventLocation != "" {
		fmt.Fprintf(&sb, "Location: %s\n", t.EventLocation)
	}
	fmt.Fprintf(&sb, "Seats: %d\nBooking ID: %s", t.Booking.Quantity, t.Booking.ID)
	return subject, sb.String()
}
