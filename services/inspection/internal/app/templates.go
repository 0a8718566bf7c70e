package app

import (
	"context"
	"strings"

	"manutai/internal/util"
	"manutai/pkg/domain"
)

// NewTemplate is the checklist authoring input.
type NewTemplate struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Items       []string `json:"items"`
}

// ListTemplates returns all checklists.
func (a *App) ListTemplates(ctx context.Context) ([]domain.ChecklistTemplate, error) {
	return a.store.ListTemplates(ctx)
}

// GetTemplate returns one checklist.
func (a *App) GetTemplate(ctx context.Context, id string) (domain.ChecklistTemplate, error) {
	t, ok, err := a.store.GetTemplate(ctx, id)
	if err != nil {
		return domain.ChecklistTemplate{}, err
	}
	if !ok {
		return domain.ChecklistTemplate{}, ErrTemplateNotFound
	}
	return t, nil
}

// CreateTemplate saves a checklist. Blank items are dropped; at least one must remain.
func (a *App) CreateTemplate(ctx context.Context, in NewTemplate) (domain.ChecklistTemplate, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.ChecklistTemplate{}, ErrTitleRequired
	}
	items := make([]domain.ChecklistItem, 0, len(in.Items))
	for _, text := range in.Items {
		if strings.TrimSpace(text) == "" {
			continue
		}
		items = append(items, domain.ChecklistItem{ID: util.NewID(), Text: text})
	}
	if len(items) == 0 {
		return domain.ChecklistTemplate{}, ErrItemsRequired
	}
	t := domain.ChecklistTemplate{
		ID:          util.NewID(),
		Title:       title,
		Description: in.Description,
		Items:       items,
		CreatedAt:   a.now().UTC(),
	}
	if err := a.store.SaveTemplate(ctx, t); err != nil {
		return domain.ChecklistTemplate{}, err
	}
	util.LoggerFromContext(ctx).Info("template created", "template_id", t.ID, "items", len(items))
	return t, nil
}

// DeleteTemplate removes a checklist. Reports keep their denormalized title.
func (a *App) DeleteTemplate(ctx context.Context, id string) error {
	return a.store.DeleteTemplate(ctx, id)
}
