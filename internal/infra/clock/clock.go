package clock

import (
	"context"
	"time"
)

// Clock источник времени и ожидания; подменяется в тестах.
type Clock interface {
	Now() time.Time
	// Sleep ждёт d или отмены контекста.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real использует системное время.
type Real struct{}

// Now возвращает текущее время в UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Sleep блокируется на d.
func (Real) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
