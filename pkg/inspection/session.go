package inspection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"manutai/internal/util"
	"manutai/pkg/domain"
)

var (
	// ErrSessionClosed is returned by any call on a completed session.
	ErrSessionClosed = errors.New("inspection session closed")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("inspection session already started")
	// ErrNotAnswering is returned when an answer arrives outside the question phase.
	ErrNotAnswering = errors.New("inspection session is not waiting for an answer")
	// ErrNotFinishing is returned when Finish is called before every item is answered.
	ErrNotFinishing = errors.New("inspection session is not finishing")
	// ErrEmptyAnswer rejects blank answers.
	ErrEmptyAnswer = errors.New("answer text required")
)

// FinishingMessage is the AI message appended once every item is answered.
const FinishingMessage = "Inspeção finalizada! Estou gerando o relatório..."

// Greeting is the first AI message of a session.
func Greeting(technician, title string) string {
	return fmt.Sprintf("Olá %s. Iniciando o checklist: %s.", technician, title)
}

type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseInProgress
	PhaseFinishing
	PhaseCompleted
)

func (p Phase) String() string {
	switch p {
	case PhaseNotStarted:
		return "NOT_STARTED"
	case PhaseInProgress:
		return "IN_PROGRESS"
	case PhaseFinishing:
		return "FINISHING"
	case PhaseCompleted:
		return "COMPLETED"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// ReportSaver persists finished inspections.
type ReportSaver interface {
	SaveReport(ctx context.Context, r domain.InspectionReport) error
}

const saveTimeout = 10 * time.Second

// Config wires a Controller.
type Config struct {
	Template   domain.ChecklistTemplate
	Technician domain.User
	Generator  *Generator
	Reports    ReportSaver
	// Delay paces the next question after an answer. Zero disables it.
	Delay time.Duration
	Now   func() time.Time
	NewID func() string
}

// Snapshot is a read-only view of a session.
type Snapshot struct {
	Phase    Phase                    `json:"phase"`
	Step     int                      `json:"step"`
	Total    int                      `json:"total"`
	Messages []domain.ChatMessage     `json:"messages"`
	Report   *domain.InspectionReport `json:"report,omitempty"`
}

// Controller drives one inspection from greeting to persisted report.
// All methods are safe for concurrent use; calls are serialized so a session
// never has two generator requests in flight.
type Controller struct {
	mu sync.Mutex

	template   domain.ChecklistTemplate
	technician domain.User
	gen        *Generator
	reports    ReportSaver
	delay      time.Duration
	now        func() time.Time
	newID      func() string

	phase    Phase
	step     int
	messages []domain.ChatMessage

	// finishing state, kept so Finish can be retried after a save failure
	finishAnnounced bool
	summary         *Summary
	report          *domain.InspectionReport
}

// NewController validates cfg and returns a controller in PhaseNotStarted.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Generator == nil {
		return nil, errors.New("generator required")
	}
	if cfg.Reports == nil {
		return nil, errors.New("report saver required")
	}
	if strings.TrimSpace(cfg.Template.ID) == "" {
		return nil, errors.New("template required")
	}
	if cfg.Delay < 0 {
		return nil, errors.New("delay must be >= 0")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = util.NewID
	}
	return &Controller{
		template:   cfg.Template,
		technician: cfg.Technician,
		gen:        cfg.Generator,
		reports:    cfg.Reports,
		delay:      cfg.Delay,
		now:        cfg.Now,
		newID:      cfg.NewID,
	}, nil
}

// TemplateID returns the checklist being inspected.
func (c *Controller) TemplateID() string { return c.template.ID }

// TechnicianID returns the owner of the session.
func (c *Controller) TechnicianID() string { return c.technician.ID }

// Start greets the technician and asks about the first item. A template
// without items is finished immediately.
func (c *Controller) Start(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseNotStarted:
	case PhaseCompleted:
		return Snapshot{}, ErrSessionClosed
	default:
		return Snapshot{}, ErrAlreadyStarted
	}

	c.appendLocked(domain.SenderAI, Greeting(c.technician.Name, c.template.Title))
	if len(c.template.Items) == 0 {
		c.phase = PhaseFinishing
		return c.finishLocked(ctx)
	}
	c.phase = PhaseInProgress
	c.askLocked(ctx)
	return c.snapshotLocked(), nil
}

// Answer records the technician's answer to the current item and moves on.
func (c *Controller) Answer(ctx context.Context, text string) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseInProgress:
	case PhaseCompleted:
		return Snapshot{}, ErrSessionClosed
	default:
		return Snapshot{}, ErrNotAnswering
	}
	if strings.TrimSpace(text) == "" {
		return Snapshot{}, ErrEmptyAnswer
	}

	c.appendLocked(domain.SenderUser, text)
	c.step++
	if c.step >= len(c.template.Items) {
		c.phase = PhaseFinishing
		return c.finishLocked(ctx)
	}
	c.pause(ctx)
	c.askLocked(ctx)
	return c.snapshotLocked(), nil
}

// Finish retries the completion step after a failed save.
func (c *Controller) Finish(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.phase {
	case PhaseFinishing:
		return c.finishLocked(ctx)
	case PhaseCompleted:
		return Snapshot{}, ErrSessionClosed
	default:
		return Snapshot{}, ErrNotFinishing
	}
}

// Snapshot returns the current state with a copy of the message log.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Model calls and the final save run detached from the caller's context:
// a client that disconnects mid-step must not leave fallback text behind.
// The generator's own timeout bounds them instead.

func (c *Controller) askLocked(ctx context.Context) {
	item := c.template.Items[c.step]
	question := c.gen.NextQuestion(context.WithoutCancel(ctx), c.template.Title, item, c.messages)
	c.appendLocked(domain.SenderAI, question)
}

func (c *Controller) pause(ctx context.Context) {
	if c.delay <= 0 {
		return
	}
	timer := time.NewTimer(c.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (c *Controller) finishLocked(ctx context.Context) (Snapshot, error) {
	ctx = context.WithoutCancel(ctx)
	if !c.finishAnnounced {
		c.appendLocked(domain.SenderAI, FinishingMessage)
		c.finishAnnounced = true
	}
	if c.summary == nil {
		s := c.gen.Summarize(ctx, c.template.Title, c.technician.Name, c.messages)
		c.summary = &s
	}
	if c.report == nil {
		history := make([]domain.ChatMessage, len(c.messages))
		copy(history, c.messages)
		c.report = &domain.InspectionReport{
			ID:             c.newID(),
			TemplateID:     c.template.ID,
			TemplateTitle:  c.template.Title,
			TechnicianID:   c.technician.ID,
			TechnicianName: c.technician.Name,
			Date:           domain.FormatDate(c.now()),
			ChatHistory:    history,
			Summary:        c.summary.Summary,
			Status:         domain.ReportCompleted,
			IssuesFound:    c.summary.IssuesFound,
		}
	}
	saveCtx, cancel := context.WithTimeout(ctx, saveTimeout)
	err := c.reports.SaveReport(saveCtx, *c.report)
	cancel()
	if err != nil {
		return c.snapshotLocked(), fmt.Errorf("save report: %w", err)
	}
	c.phase = PhaseCompleted
	util.LoggerFromContext(ctx).Info("inspection completed",
		"report_id", c.report.ID,
		"template_id", c.template.ID,
		"issues_found", c.report.IssuesFound,
	)
	return c.snapshotLocked(), nil
}

func (c *Controller) appendLocked(sender domain.Sender, text string) {
	c.messages = append(c.messages, domain.ChatMessage{
		ID:        c.newID(),
		Sender:    sender,
		Text:      text,
		Timestamp: c.now(),
	})
}

func (c *Controller) snapshotLocked() Snapshot {
	msgs := make([]domain.ChatMessage, len(c.messages))
	copy(msgs, c.messages)
	snap := Snapshot{
		Phase:    c.phase,
		Step:     c.step,
		Total:    len(c.template.Items),
		Messages: msgs,
	}
	if c.phase == PhaseCompleted && c.report != nil {
		r := *c.report
		snap.Report = &r
	}
	return snap
}
