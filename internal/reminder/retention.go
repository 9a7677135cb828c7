package reminder

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper deletes reminder data for appointments older than the retention
// window.
type Sweeper struct {
	store     Store
	retention time.Duration
	log       logrus.FieldLogger
	now       func() time.Time
}

func NewSweeper(store Store, retentionDays int, log logrus.FieldLogger) *Sweeper {
	if retentionDays <= 0 {
		retentionDays = 90
	}
	return &Sweeper{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		log:       log,
		now:       time.Now,
	}
}

func (s *Sweeper) WithClock(now func() time.Time) *Sweeper {
	if now != nil {
		s.now = now
	}
	return s
}

func (s *Sweeper) Sweep(ctx context.Context) (PurgeResult, error) {
	cutoff := s.now().Add(-s.retention)
	res, err := s.store.PurgeBefore(ctx, cutoff)
	if err != nil {
		return res, err
	}
	s.log.WithFields(logrus.Fields{
		"cutoff":        cutoff,
		"responses":     res.Responses,
		"reply_targets": res.ReplyTargets,
		"reminders":     res.Reminders,
	}).Info("reminder retention sweep complete")
	return res, nil
}

type StatsSource interface {
	Stats(ctx context.Context, since time.Time) (*Stats, error)
}

// StatsForDays reports reminder effectiveness over the last days days,
// 30 when days is not positive.
func StatsForDays(ctx context.Context, src StatsSource, now time.Time, days int) (*Stats, error) {
	if days <= 0 {
		days = 30
	}
	return src.Stats(ctx, now.AddDate(0, 0, -days))
}
