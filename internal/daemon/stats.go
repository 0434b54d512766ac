package daemon

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/skdvlpr/gomercatocrm/internal/bus"
	"github.com/skdvlpr/gomercatocrm/internal/realtime"
	"github.com/skdvlpr/gomercatocrm/internal/store"
)

const statsInterval = time.Minute

// Stats is a point-in-time view of the daemon's traffic.
type Stats struct {
	Messages   int64
	Viewers    int
	Evicted    uint64
	BusDropped uint64
}

func collectStats(ctx context.Context, db *store.DB, bc *realtime.Broadcaster, b *bus.Bus) (Stats, error) {
	n, err := db.MessageCount(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count messages: %w", err)
	}
	return Stats{
		Messages:   n,
		Viewers:    bc.Viewers(),
		Evicted:    bc.Evicted(),
		BusDropped: b.Dropped(),
	}, nil
}

// reportStats logs Stats every interval until ctx is cancelled. Evictions
// since the previous report are logged as a warning.
func reportStats(ctx context.Context, interval time.Duration, db *store.DB, bc *realtime.Broadcaster, b *bus.Bus, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	var last Stats
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st, err := collectStats(ctx, db, bc, b)
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("stats unavailable", zap.Error(err))
			}
			continue
		}
		fields := []zap.Field{
			zap.Int64("messages", st.Messages),
			zap.Int("viewers", st.Viewers),
			zap.Uint64("evicted", st.Evicted),
			zap.Uint64("bus_dropped", st.BusDropped),
		}
		if st.Evicted > last.Evicted {
			logger.Warn("slow viewers evicted", fields...)
		} else {
			logger.Debug("daemon stats", fields...)
		}
		last = st
	}
}
