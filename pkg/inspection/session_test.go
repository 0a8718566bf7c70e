package inspection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"manutai/pkg/domain"
	"manutai/pkg/store"
)

type scriptedLLM struct {
	mu       sync.Mutex
	inFlight int
	maxSeen  int
	calls    int
}

func (s *scriptedLLM) GenerateText(_ context.Context, _, _ string) (string, error) {
	s.enter()
	defer s.leave()
	return fmt.Sprintf("Pergunta %d?", s.calls), nil
}

func (s *scriptedLLM) GenerateJSON(_ context.Context, _, _ string) (string, error) {
	s.enter()
	defer s.leave()
	return `{"summary":"Pneus com problema.","whatsappText":"⚠️ pneus","issuesFound":true}`, nil
}

func (s *scriptedLLM) enter() {
	s.mu.Lock()
	s.calls++
	s.inFlight++
	if s.inFlight > s.maxSeen {
		s.maxSeen = s.inFlight
	}
	s.mu.Unlock()
	time.Sleep(time.Millisecond)
}

func (s *scriptedLLM) leave() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

type failingSaver struct {
	failures int
	saved    []domain.InspectionReport
}

func (f *failingSaver) SaveReport(_ context.Context, r domain.InspectionReport) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("disk full")
	}
	f.saved = append(f.saved, r)
	return nil
}

func forklift() domain.ChecklistTemplate {
	return domain.ChecklistTemplate{
		ID:    "tpl-1",
		Title: "Empilhadeira",
		Items: []domain.ChecklistItem{{ID: "i1", Text: "Pneus"}, {ID: "i2", Text: "Freios"}},
	}
}

func newTestController(t *testing.T, tpl domain.ChecklistTemplate, llm *scriptedLLM, saver ReportSaver) *Controller {
	t.Helper()
	n := 0
	c, err := NewController(Config{
		Template:   tpl,
		Technician: domain.User{ID: "u-1", Name: "João"},
		Generator:  NewGenerator(llm),
		Reports:    saver,
		Now:        func() time.Time { return time.Date(2024, 5, 2, 14, 30, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	return c
}

func TestForkliftScenario(t *testing.T) {
	ctx := context.Background()
	st := store.NewCollectionStore(store.NewMemoryKV())
	c := newTestController(t, forklift(), &scriptedLLM{}, st)

	snap, err := c.Start(ctx)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.Phase != PhaseInProgress || len(snap.Messages) != 2 {
		t.Fatalf("unexpected start snapshot: %+v", snap)
	}
	if snap.Messages[0].Text != "Olá João. Iniciando o checklist: Empilhadeira." {
		t.Fatalf("unexpected greeting: %q", snap.Messages[0].Text)
	}

	if _, err := c.Answer(ctx, "Pneu furado"); err != nil {
		t.Fatalf("answer 1: %v", err)
	}
	snap, err = c.Answer(ctx, "OK")
	if err != nil {
		t.Fatalf("answer 2: %v", err)
	}
	if snap.Phase != PhaseCompleted || snap.Report == nil {
		t.Fatalf("expected completed session, got %s", snap.Phase)
	}

	reports, err := st.ListReports(ctx)
	if err != nil {
		t.Fatalf("list reports: %v", err)
	}
	if len(reports) != 1 {
		t.Fatalf("expected one report, got %d", len(reports))
	}
	r := reports[0]
	if r.Status != domain.ReportCompleted || !r.IssuesFound || r.Summary != "Pneus com problema." {
		t.Fatalf("unexpected report: %+v", r)
	}
	if r.TemplateTitle != "Empilhadeira" || r.TechnicianName != "João" || r.TechnicianID != "u-1" {
		t.Fatalf("denormalized fields wrong: %+v", r)
	}
	if r.Date != "2024-05-02T14:30:00.000Z" {
		t.Fatalf("unexpected date: %s", r.Date)
	}
	if len(r.ChatHistory) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(r.ChatHistory))
	}
	if last := r.ChatHistory[5]; last.Sender != domain.SenderAI || last.Text != FinishingMessage {
		t.Fatalf("unexpected last message: %+v", last)
	}
}

func TestMessageAlternationProperty(t *testing.T) {
	for n := 1; n <= 5; n++ {
		tpl := domain.ChecklistTemplate{ID: "t", Title: "T"}
		for i := 0; i < n; i++ {
			tpl.Items = append(tpl.Items, domain.ChecklistItem{ID: fmt.Sprint(i), Text: fmt.Sprint("item ", i)})
		}
		saver := &failingSaver{}
		c := newTestController(t, tpl, &scriptedLLM{}, saver)
		if _, err := c.Start(context.Background()); err != nil {
			t.Fatalf("start: %v", err)
		}
		for i := 0; i < n; i++ {
			if _, err := c.Answer(context.Background(), "ok"); err != nil {
				t.Fatalf("answer %d: %v", i, err)
			}
		}
		msgs := saver.saved[0].ChatHistory
		var ai, user int
		for i, m := range msgs {
			switch m.Sender {
			case domain.SenderAI:
				ai++
			case domain.SenderUser:
				user++
				if i == 0 || msgs[i-1].Sender != domain.SenderAI {
					t.Fatalf("n=%d: user message %d not preceded by AI", n, i)
				}
			}
		}
		if ai != n+2 || user != n {
			t.Fatalf("n=%d: got %d AI and %d USER messages", n, ai, user)
		}
	}
}

func TestZeroItemTemplateFinishesOnStart(t *testing.T) {
	saver := &failingSaver{}
	c := newTestController(t, domain.ChecklistTemplate{ID: "t", Title: "Vazio"}, &scriptedLLM{}, saver)
	snap, err := c.Start(context.Background())
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if snap.Phase != PhaseCompleted || len(snap.Messages) != 2 {
		t.Fatalf("unexpected snapshot: phase=%s messages=%d", snap.Phase, len(snap.Messages))
	}
	if len(saver.saved) != 1 {
		t.Fatalf("expected one saved report")
	}
}

func TestAnswerValidationAndClosedSession(t *testing.T) {
	ctx := context.Background()
	tpl := forklift()
	tpl.Items = tpl.Items[:1]
	c := newTestController(t, tpl, &scriptedLLM{}, &failingSaver{})

	if _, err := c.Answer(ctx, "cedo"); !errors.Is(err, ErrNotAnswering) {
		t.Fatalf("expected ErrNotAnswering, got %v", err)
	}
	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := c.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
	before := c.Snapshot()
	if _, err := c.Answer(ctx, "   "); !errors.Is(err, ErrEmptyAnswer) {
		t.Fatalf("expected ErrEmptyAnswer, got %v", err)
	}
	if after := c.Snapshot(); len(after.Messages) != len(before.Messages) || after.Step != before.Step {
		t.Fatalf("blank answer mutated state")
	}
	if _, err := c.Answer(ctx, "ok"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	for _, call := range []func() error{
		func() error { _, err := c.Start(ctx); return err },
		func() error { _, err := c.Answer(ctx, "x"); return err },
		func() error { _, err := c.Finish(ctx); return err },
	} {
		if err := call(); !errors.Is(err, ErrSessionClosed) {
			t.Fatalf("expected ErrSessionClosed, got %v", err)
		}
	}
}

func TestFinishRetriesAfterSaveFailure(t *testing.T) {
	ctx := context.Background()
	tpl := forklift()
	tpl.Items = tpl.Items[:1]
	llm := &scriptedLLM{}
	saver := &failingSaver{failures: 1}
	c := newTestController(t, tpl, llm, saver)

	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	snap, err := c.Answer(ctx, "ok")
	if err == nil {
		t.Fatalf("expected save error")
	}
	if snap.Phase != PhaseFinishing {
		t.Fatalf("expected finishing phase, got %s", snap.Phase)
	}
	callsBefore := llm.calls

	snap, err = c.Finish(ctx)
	if err != nil {
		t.Fatalf("finish retry: %v", err)
	}
	if snap.Phase != PhaseCompleted || len(saver.saved) != 1 {
		t.Fatalf("expected saved report after retry")
	}
	if llm.calls != callsBefore {
		t.Fatalf("retry should not call the model again")
	}
	if got := len(saver.saved[0].ChatHistory); got != 4 {
		t.Fatalf("finishing message duplicated: %d messages", got)
	}
}

func TestConcurrentAnswersAreSerialized(t *testing.T) {
	ctx := context.Background()
	tpl := domain.ChecklistTemplate{ID: "t", Title: "T"}
	for i := 0; i < 8; i++ {
		tpl.Items = append(tpl.Items, domain.ChecklistItem{ID: fmt.Sprint(i), Text: fmt.Sprint(i)})
	}
	llm := &scriptedLLM{}
	saver := &failingSaver{}
	c := newTestController(t, tpl, llm, saver)
	if _, err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Answer(ctx, "ok")
		}()
	}
	wg.Wait()

	if llm.maxSeen != 1 {
		t.Fatalf("expected one generator call in flight, saw %d", llm.maxSeen)
	}
	if c.Snapshot().Phase != PhaseCompleted || len(saver.saved) != 1 {
		t.Fatalf("expected completed session with one report")
	}
}

func TestPacingDelayRespectsContext(t *testing.T) {
	tpl := forklift()
	c, err := NewController(Config{
		Template:   tpl,
		Technician: domain.User{ID: "u", Name: "N"},
		Generator:  NewGenerator(nil),
		Reports:    &failingSaver{},
		Delay:      time.Hour,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	if _, err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		_, _ = c.Answer(ctx, "ok")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("answer blocked on pacing delay")
	}
	if got := c.Snapshot().Step; got != 1 {
		t.Fatalf("expected step 1, got %d", got)
	}
}

// ctxLLM fails like a real HTTP client once its context is done.
type ctxLLM struct{ scriptedLLM }

func (c *ctxLLM) GenerateText(ctx context.Context, system, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.scriptedLLM.GenerateText(ctx, system, prompt)
}

func (c *ctxLLM) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return c.scriptedLLM.GenerateJSON(ctx, system, prompt)
}

type ctxSaver struct{ failingSaver }

func (c *ctxSaver) SaveReport(ctx context.Context, r domain.InspectionReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.failingSaver.SaveReport(ctx, r)
}

func TestDisconnectedClientDoesNotDegradeSession(t *testing.T) {
	llm := &ctxLLM{}
	saver := &ctxSaver{}
	c, err := NewController(Config{
		Template:   forklift(),
		Technician: domain.User{ID: "u-1", Name: "João"},
		Generator:  NewGenerator(llm),
		Reports:    saver,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	gone, cancel := context.WithCancel(context.Background())
	cancel()

	snap, err := c.Start(gone)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if q := snap.Messages[len(snap.Messages)-1].Text; q == ErrorQuestionFallback("Pneus") {
		t.Fatalf("question fell back after disconnect: %q", q)
	}
	if _, err := c.Answer(gone, "ok"); err != nil {
		t.Fatalf("answer: %v", err)
	}
	snap, err = c.Answer(gone, "ok")
	if err != nil {
		t.Fatalf("final answer: %v", err)
	}
	if snap.Phase != PhaseCompleted || snap.Report == nil {
		t.Fatalf("expected completed report, got %+v", snap)
	}
	if snap.Report.Summary != "Pneus com problema." || !snap.Report.IssuesFound {
		t.Fatalf("summary fell back after disconnect: %+v", snap.Report)
	}
	if len(saver.saved) != 1 {
		t.Fatalf("expected one saved report, got %d", len(saver.saved))
	}
}

func TestNewControllerValidation(t *testing.T) {
	if _, err := NewController(Config{Template: forklift(), Reports: &failingSaver{}}); err == nil {
		t.Fatalf("expected generator error")
	}
	if _, err := NewController(Config{Template: forklift(), Generator: NewGenerator(nil)}); err == nil {
		t.Fatalf("expected saver error")
	}
	if _, err := NewController(Config{Generator: NewGenerator(nil), Reports: &failingSaver{}}); err == nil {
		t.Fatalf("expected template error")
	}
}
