package net

import (
	"context"
	"sync/atomic"

	"go.uber.org/ratelimit"
	"golang.org/x/time/rate"
)

// DispatcherRecvLimiter is a token bucket over every inbound message. A zero limit
// disables it.
type DispatcherRecvLimiter struct {
	limiter atomic.Pointer[rate.Limiter]
}

func NewTokenRecvLimiter(limit int, burst int) *DispatcherRecvLimiter {
	l := &DispatcherRecvLimiter{}
	l.Reload(limit, burst)
	return l
}

// Take waits for a token or for ctx to end.
func (l *DispatcherRecvLimiter) Take(ctx context.Context) error {
	limiter := l.limiter.Load()
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

func (l *DispatcherRecvLimiter) Reload(limit int, burst int) {
	if limit <= 0 {
		l.limiter.Store(nil)
		return
	}
	l.limiter.Store(rate.NewLimiter(rate.Limit(limit), max(burst, 1)))
}

func (l *DispatcherRecvLimiter) recvLimiterFilter(dd *DispatcherDelivery, f DispatcherFilterHandleFunc) error {
	if err := l.Take(dd.ctx); err != nil {
		return err
	}
	return f(dd)
}

// FunnelRecvLimiter spaces inbound messages evenly instead of allowing bursts.
// A zero limit disables it.
type FunnelRecvLimiter struct {
	limiter atomic.Pointer[ratelimit.Limiter]
}

func NewFunnelRecvLimiter(limit int) *FunnelRecvLimiter {
	l := &FunnelRecvLimiter{}
	l.Reload(limit)
	return l
}

func (l *FunnelRecvLimiter) Take() {
	if limiter := l.limiter.Load(); limiter != nil {
		(*limiter).Take()
	}
}

func (l *FunnelRecvLimiter) Reload(limit int) {
	if limit <= 0 {
		l.limiter.Store(nil)
		return
	}
	limiter := ratelimit.New(limit)
	l.limiter.Store(&limiter)
}

func (l *FunnelRecvLimiter) recvLimiterFilter(dd *DispatcherDelivery, f DispatcherFilterHandleFunc) error {
	l.Take()
	return f(dd)
}
