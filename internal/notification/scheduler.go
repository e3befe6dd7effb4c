package notification

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const fallbackPollSpec = "@every 30s"

// FallbackScheduler drives the REST poller while the realtime channel is
// down. Ticks that land while the socket is connected are skipped: push plus
// the on-connect refresh already cover that window.
type FallbackScheduler struct {
	cron      *cron.Cron
	connected func() bool
	poll      func(ctx context.Context) error
	timeout   time.Duration
	log       zerolog.Logger

	mu      sync.Mutex
	stopped bool
}

// NewFallbackScheduler builds the scheduler; Start arms it.
func NewFallbackScheduler(connected func() bool, poll func(ctx context.Context) error, log zerolog.Logger) *FallbackScheduler {
	return &FallbackScheduler{
		cron:      cron.New(),
		connected: connected,
		poll:      poll,
		timeout:   10 * time.Second,
		log:       log,
	}
}

// Start begins the 30-second fallback cadence.
func (s *FallbackScheduler) Start() error {
	if _, err := s.cron.AddFunc(fallbackPollSpec, s.tick); err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop halts the cadence. A tick already in flight is allowed to finish.
func (s *FallbackScheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	s.cron.Stop()
}

func (s *FallbackScheduler) tick() {
	s.mu.Lock()
	stopped := s.stopped
	s.mu.Unlock()
	if stopped || s.connected() {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if err := s.poll(ctx); err != nil {
		s.log.Warn().Err(err).Msg("fallback poll failed")
	}
}
