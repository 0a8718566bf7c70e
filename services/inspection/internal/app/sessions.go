package app

import (
	"context"
	"time"

	"manutai/internal/util"
	"manutai/pkg/domain"
	"manutai/pkg/inspection"
)

// Session is a live inspection as seen by its owner.
type Session struct {
	ID         string `json:"id"`
	TemplateID string `json:"templateId"`
	inspection.Snapshot
}

type liveSession struct {
	ctrl    *inspection.Controller
	touched time.Time
}

// StartInspection creates a session for templateID and runs its first step.
// Sessions live in memory until they complete, are cancelled or sit idle
// longer than the configured timeout.
func (a *App) StartInspection(ctx context.Context, user domain.User, templateID string) (Session, error) {
	tpl, err := a.GetTemplate(ctx, templateID)
	if err != nil {
		return Session{}, err
	}
	ctrl, err := inspection.NewController(inspection.Config{
		Template:   tpl,
		Technician: user,
		Generator:  a.gen,
		Reports:    a.store,
		Delay:      a.delay,
		Now:        a.now,
	})
	if err != nil {
		return Session{}, err
	}
	id := util.NewID()
	a.mu.Lock()
	now := a.now()
	a.evictIdleLocked(ctx, now)
	a.sessions[id] = &liveSession{ctrl: ctrl, touched: now}
	a.mu.Unlock()

	snap, err := ctrl.Start(ctx)
	a.settle(id, snap)
	if err != nil {
		return Session{ID: id, TemplateID: tpl.ID, Snapshot: snap}, err
	}
	util.LoggerFromContext(ctx).Info("inspection started", "session_id", id, "template_id", tpl.ID, "user_id", user.ID)
	return Session{ID: id, TemplateID: tpl.ID, Snapshot: snap}, nil
}

// GetInspection returns the current state of a session owned by user.
func (a *App) GetInspection(user domain.User, id string) (Session, error) {
	ctrl, err := a.session(user, id)
	if err != nil {
		return Session{}, err
	}
	return Session{ID: id, TemplateID: ctrl.TemplateID(), Snapshot: ctrl.Snapshot()}, nil
}

// AnswerInspection records an answer. When the answer completes the session
// the response carries the persisted report.
func (a *App) AnswerInspection(ctx context.Context, user domain.User, id, text string) (Session, error) {
	ctrl, err := a.session(user, id)
	if err != nil {
		return Session{}, err
	}
	snap, err := ctrl.Answer(ctx, text)
	a.settle(id, snap)
	return Session{ID: id, TemplateID: ctrl.TemplateID(), Snapshot: snap}, err
}

// FinishInspection retries persisting a session whose report could not be saved.
func (a *App) FinishInspection(ctx context.Context, user domain.User, id string) (Session, error) {
	ctrl, err := a.session(user, id)
	if err != nil {
		return Session{}, err
	}
	snap, err := ctrl.Finish(ctx)
	a.settle(id, snap)
	return Session{ID: id, TemplateID: ctrl.TemplateID(), Snapshot: snap}, err
}

// CancelInspection discards a session without persisting anything.
func (a *App) CancelInspection(ctx context.Context, user domain.User, id string) error {
	if _, err := a.session(user, id); err != nil {
		return err
	}
	a.mu.Lock()
	delete(a.sessions, id)
	a.mu.Unlock()
	util.LoggerFromContext(ctx).Info("inspection cancelled", "session_id", id, "user_id", user.ID)
	return nil
}

func (a *App) session(user domain.User, id string) (*inspection.Controller, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := a.now()
	a.evictIdleLocked(context.Background(), now)
	live, ok := a.sessions[id]
	if !ok || live.ctrl.TechnicianID() != user.ID {
		return nil, ErrSessionNotFound
	}
	live.touched = now
	return live.ctrl, nil
}

// EvictIdleSessions drops sessions idle past the timeout and returns how
// many were removed.
func (a *App) EvictIdleSessions(ctx context.Context) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evictIdleLocked(ctx, a.now())
}

// SweepSessions evicts idle sessions every interval until ctx is done.
func (a *App) SweepSessions(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.EvictIdleSessions(ctx)
		}
	}
}

func (a *App) evictIdleLocked(ctx context.Context, now time.Time) int {
	evicted := 0
	for id, live := range a.sessions {
		if now.Sub(live.touched) < a.idle {
			continue
		}
		delete(a.sessions, id)
		evicted++
		util.LoggerFromContext(ctx).Info("inspection expired", "session_id", id, "user_id", live.ctrl.TechnicianID())
	}
	return evicted
}

// settle drops completed sessions from the registry.
func (a *App) settle(id string, snap inspection.Snapshot) {
	if snap.Phase != inspection.PhaseCompleted {
		return
	}
	a.mu.Lock()
	delete(a.sessions, id)
	a.mu.Unlock()
}
