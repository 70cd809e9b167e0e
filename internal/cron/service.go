// Package cron schedules the daily maintenance sweep: flush every live
// session to disk and give stub mega summaries their rewrite pass.
package cron

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	rcron "github.com/robfig/cron/v3"
)

// Service wraps one cron runner with a single daily entry. OnSweep is
// supplied by the gateway; it must be safe to call concurrently with
// message handling.
type Service struct {
	spec    string
	cron    *rcron.Cron
	OnSweep func(ctx context.Context)
}

// NewService builds the sweep schedule from a "HH:MM" wall-clock time.
func NewService(dailyAt string) (*Service, error) {
	spec, err := specFromWallClock(dailyAt)
	if err != nil {
		return nil, err
	}
	return &Service{spec: spec}, nil
}

func specFromWallClock(at string) (string, error) {
	parts := strings.SplitN(strings.TrimSpace(at), ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("daily sweep time %q: want HH:MM", at)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return "", fmt.Errorf("daily sweep time %q: bad hour", at)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return "", fmt.Errorf("daily sweep time %q: bad minute", at)
	}
	return fmt.Sprintf("%d %d * * *", minute, hour), nil
}

func (s *Service) Start(ctx context.Context) error {
	s.cron = rcron.New()

	_, err := s.cron.AddFunc(s.spec, func() {
		if s.OnSweep == nil {
			return
		}
		log.Printf("[cron] daily sweep starting")
		s.OnSweep(ctx)
		log.Printf("[cron] daily sweep done")
	})
	if err != nil {
		return fmt.Errorf("register sweep job: %w", err)
	}

	s.cron.Start()
	log.Printf("[cron] daily sweep scheduled (%s)", s.spec)
	return nil
}

func (s *Service) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
	log.Printf("[cron] stopped")
}
