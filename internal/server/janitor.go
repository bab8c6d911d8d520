package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"

	"github.com/arman-khosravi/tabletalk/internal/cache"
	"github.com/arman-khosravi/tabletalk/internal/session"
	"github.com/arman-khosravi/tabletalk/internal/store"
)

// Janitor closes sessions that sat idle past the configured window, on a
// cron cadence: completed when the history rests on an answer, failed when
// a conversation was abandoned mid-flight. With redis available it takes a
// distributed lock so only one replica sweeps.
type Janitor struct {
	Store     *store.Store
	Cache     *cache.Cache // optional
	Sessions  *SessionsHandler
	Cron      string
	IdleAfter time.Duration
	Logger    *log.Logger
	Stop      chan struct{}

	lastSweep time.Time
}

func (j *Janitor) Start() {
	if j.IdleAfter <= 0 {
		j.IdleAfter = 24 * time.Hour
	}
	if j.Cron == "" {
		j.Cron = "@hourly"
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-j.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				if j.due(time.Now()) {
					j.sweep()
				}
			}
		}
	}()
}

func (j *Janitor) due(now time.Time) bool {
	switch j.Cron {
	case "@hourly":
		return j.lastSweep.IsZero() || now.Sub(j.lastSweep) >= time.Hour
	case "@daily":
		return j.lastSweep.IsZero() || now.Sub(j.lastSweep) >= 24*time.Hour
	default:
		expr, err := cronexpr.Parse(j.Cron)
		if err != nil {
			// invalid spec behaves like @hourly
			return j.lastSweep.IsZero() || now.Sub(j.lastSweep) >= time.Hour
		}
		if j.lastSweep.IsZero() {
			return true
		}
		return !expr.Next(j.lastSweep).After(now)
	}
}

func (j *Janitor) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	j.lastSweep = time.Now()

	if j.Cache != nil {
		ok, err := j.Cache.AcquireLock(ctx, "janitor", 2*time.Minute)
		if err != nil || !ok {
			return
		}
		defer func() { _ = j.Cache.ReleaseLock(ctx, "janitor") }()
	}

	ids, err := j.Store.IdleSessionIDs(ctx, time.Now().Add(-j.IdleAfter))
	if err != nil {
		if j.Logger != nil {
			j.Logger.Printf("janitor: list idle sessions: %v", err)
		}
		return
	}
	for _, id := range ids {
		status := session.StatusFailed
		if answered, err := j.Store.SessionAnswered(ctx, id); err == nil && answered {
			status = session.StatusCompleted
		}
		if err := j.Store.SaveStatus(ctx, id, status); err != nil {
			if j.Logger != nil {
				j.Logger.Printf("janitor: close session %s: %v", id, err)
			}
			continue
		}
		if j.Sessions != nil {
			j.Sessions.drop(id)
		}
		if j.Cache != nil {
			_ = j.Cache.Invalidate(ctx, id)
		}
	}
	if len(ids) > 0 && j.Logger != nil {
		j.Logger.Printf("janitor: closed %d idle sessions", len(ids))
	}
}
