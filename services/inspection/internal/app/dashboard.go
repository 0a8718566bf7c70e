package app

import (
	"context"

	"manutai/pkg/domain"
)

// Dashboard summarizes the shop for a user.
type Dashboard struct {
	Templates   int `json:"templates"`
	Reports     int `json:"reports"`
	WithIssues  int `json:"withIssues"`
	OpenSession int `json:"openSessions"`
}

// Dashboard counts templates, reports and the user's open sessions.
func (a *App) Dashboard(ctx context.Context, user domain.User) (Dashboard, error) {
	templates, err := a.store.ListTemplates(ctx)
	if err != nil {
		return Dashboard{}, err
	}
	reports, err := a.ListReports(ctx, "")
	if err != nil {
		return Dashboard{}, err
	}
	d := Dashboard{Templates: len(templates), Reports: len(reports)}
	for _, r := range reports {
		if r.IssuesFound {
			d.WithIssues++
		}
	}
	a.mu.Lock()
	a.evictIdleLocked(ctx, a.now())
	for _, live := range a.sessions {
		if live.ctrl.TechnicianID() == user.ID {
			d.OpenSession++
		}
	}
	a.mu.Unlock()
	return d, nil
}
