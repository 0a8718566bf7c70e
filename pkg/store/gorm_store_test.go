package store

import (
	"context"
	"path/filepath"
	"testing"

	"manutai/pkg/domain"
)

func TestGormKVSQLiteUpsertsBlobs(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "manutai_test.db")

	kv, err := NewGormKV("sqlite", dbPath)
	if err != nil {
		t.Fatalf("open gorm kv: %v", err)
	}
	defer kv.Close()

	if _, ok, err := kv.Get(ctx, TemplatesKey); err != nil || ok {
		t.Fatalf("expected missing key, ok=%v err=%v", ok, err)
	}

	s := NewCollectionStore(kv)
	tpl := domain.ChecklistTemplate{
		ID:    "t1",
		Title: "Forklift Check",
		Items: []domain.ChecklistItem{{ID: "i1", Text: "Brakes"}, {ID: "i2", Text: "Lights"}},
	}
	if err := s.SaveTemplate(ctx, tpl); err != nil {
		t.Fatalf("save template: %v", err)
	}
	if err := s.SaveTemplate(ctx, domain.ChecklistTemplate{ID: "t2", Title: "Crane", Items: []domain.ChecklistItem{{ID: "i3", Text: "Hook"}}}); err != nil {
		t.Fatalf("save template 2: %v", err)
	}
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		t.Fatalf("list templates: %v", err)
	}
	if len(templates) != 2 || templates[0].Items[1].Text != "Lights" {
		t.Fatalf("unexpected templates: %+v", templates)
	}

	reopened, err := NewGormKV("sqlite", dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, ok, err := NewCollectionStore(reopened).GetTemplate(ctx, "t2")
	if err != nil || !ok {
		t.Fatalf("get after reopen: ok=%v err=%v", ok, err)
	}
	if got.Title != "Crane" {
		t.Fatalf("title = %q, want Crane", got.Title)
	}
}

func TestNewGormKVRejectsUnknownDriver(t *testing.T) {
	if _, err := NewGormKV("oracle", "dsn"); err == nil {
		t.Fatalf("expected unsupported driver error")
	}
	if _, err := NewGormKV("sqlite", ""); err == nil {
		t.Fatalf("expected empty dsn error")
	}
}
