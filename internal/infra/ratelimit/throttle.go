package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/empty-block/vibe-playlist-sub001/internal/infra/clock"
)

// Throttle выдерживает минимальный интервал между последовательными вызовами.
// Один экземпляр разделяется всеми воркерами процесса.
type Throttle struct {
	mu       sync.Mutex
	clock    clock.Clock
	interval time.Duration
	last     time.Time
}

// NewThrottle создаёт троттл с минимальным интервалом interval.
func NewThrottle(c clock.Clock, interval time.Duration) *Throttle {
	if c == nil {
		c = clock.Real{}
	}
	return &Throttle{clock: c, interval: interval}
}

// Wait блокируется, пока с прошлого вызова не пройдёт интервал, и резервирует слот.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsZero() {
		wait := t.interval - t.clock.Now().Sub(t.last)
		if wait > 0 {
			if err := t.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	t.last = t.clock.Now()
	return nil
}

// Interval возвращает настроенный интервал.
func (t *Throttle) Interval() time.Duration {
	return t.interval
}
