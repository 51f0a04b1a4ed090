package persist

import (
	"time"

	"github.com/saiset-co/sai-query-cache/types"
)

type Option func(*Manager)

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithMetrics(metrics types.MetricsManager) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithScheduler registers the periodic persist job on scheduler when the
// manager starts.
func WithScheduler(scheduler types.CronManager) Option {
	return func(m *Manager) {
		m.scheduler = scheduler
	}
}
