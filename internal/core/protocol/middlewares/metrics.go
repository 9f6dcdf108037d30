package middlewares

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/NarukamiTO/server-sub000/internal/core/events"
	"github.com/NarukamiTO/server-sub000/internal/core/protocol"
)

// Metrics counts commands per command type.
type Metrics struct {
	commands sync.Map // command name -> *commandMetrics
}

type commandMetrics struct {
	count     atomic.Int64
	errors    atomic.Int64
	totalTime atomic.Int64
}

// CommandStats is a snapshot of one command type.
type CommandStats struct {
	Count       int64
	Errors      int64
	TotalTime   time.Duration
	AverageTime time.Duration
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

// Middleware records the count, errors and receive time of every command.
func (m *Metrics) Middleware() Middleware {
	return func(next protocol.Receiver) protocol.Receiver {
		return protocol.ReceiverFunc(func(ctx context.Context, ch *protocol.Channel, h events.Header, e events.Event) error {
			start := time.Now()
			err := next.Receive(ctx, ch, h, e)

			metrics := m.get(commandName(e))
			metrics.count.Add(1)
			metrics.totalTime.Add(int64(time.Since(start)))
			if err != nil {
				metrics.errors.Add(1)
			}
			return err
		})
	}
}

func (m *Metrics) get(name string) *commandMetrics {
	if metrics, ok := m.commands.Load(name); ok {
		return metrics.(*commandMetrics)
	}
	metrics, _ := m.commands.LoadOrStore(name, &commandMetrics{})
	return metrics.(*commandMetrics)
}

// Snapshot returns the collected stats by command name.
func (m *Metrics) Snapshot() map[string]CommandStats {
	result := make(map[string]CommandStats)
	m.commands.Range(func(key, value any) bool {
		metrics := value.(*commandMetrics)
		stats := CommandStats{
			Count:     metrics.count.Load(),
			Errors:    metrics.errors.Load(),
			TotalTime: time.Duration(metrics.totalTime.Load()),
		}
		if stats.Count > 0 {
			stats.AverageTime = stats.TotalTime / time.Duration(stats.Count)
		}
		result[key.(string)] = stats
		return true
	})
	return result
}
