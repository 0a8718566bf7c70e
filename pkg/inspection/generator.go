package inspection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"manutai/internal/util"
	"manutai/pkg/ai"
	"manutai/pkg/domain"
)

// Summary is the model's assessment of a finished inspection.
type Summary struct {
	Summary     string `json:"summary"`
	ShareText   string `json:"whatsappText"`
	IssuesFound bool   `json:"issuesFound"`
}

// Generator turns checklist items into conversational questions and
// transcripts into summaries. It never fails outward: model errors are
// logged and replaced by fixed fallback text.
type Generator struct {
	llm     ai.TextGenerator
	timeout time.Duration
}

// DefaultCallTimeout bounds a single model call.
const DefaultCallTimeout = 20 * time.Second

// NewGenerator wraps llm. A nil llm puts the generator in degraded mode,
// where every call returns the fallback text.
func NewGenerator(llm ai.TextGenerator) *Generator {
	return &Generator{llm: llm, timeout: DefaultCallTimeout}
}

// SetTimeout bounds each model call. Non-positive values keep the current bound.
func (g *Generator) SetTimeout(d time.Duration) {
	if d > 0 {
		g.timeout = d
	}
}

func (g *Generator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if g.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, g.timeout)
}

// Degraded reports whether no model is configured.
func (g *Generator) Degraded() bool {
	return g == nil || g.llm == nil
}

const questionSystemPrompt = `Você é um supervisor de manutenção experiente e educado.
Você está guiando um técnico através de um checklist de manutenção: "%s".
O item atual que precisa ser verificado é: "%s".

Seu objetivo:
1. Pergunte ao técnico sobre o status deste item específico.
2. Seja conciso e direto, mas cordial.
3. Se o histórico mostrar que o usuário relatou um problema no item anterior, reconheça brevemente antes de passar para o atual.
4. Fale sempre em Português do Brasil.`

const questionPrompt = `Histórico da conversa:
%s

Item atual do checklist: %s

Gere a próxima pergunta para o técnico verificar este item.`

const summaryPrompt = `Analise a seguinte conversa de inspeção de manutenção para o checklist "%s" realizada por %s.

Histórico:
%s

Tarefas:
1. Crie um resumo técnico profissional (max 100 palavras) destacando o que foi verificado e quaisquer problemas encontrados.
2. Crie uma mensagem formatada para WhatsApp (use emojis, quebras de linha) pronta para enviar ao gestor. A mensagem de WhatsApp deve ser clara, listar itens críticos e problemas.
3. Determine se houve algum problema/falha relatado (true/false).

Retorne APENAS um JSON neste formato:
{
  "summary": "texto do resumo...",
  "whatsappText": "texto formatado...",
  "issuesFound": boolean
}`

var errNoModel = errors.New("generation model not configured")

// EmptyQuestionFallback is used when the model answers with no text.
func EmptyQuestionFallback(item string) string {
	return fmt.Sprintf("Por favor, verifique o item: %s. Está tudo OK?", item)
}

// ErrorQuestionFallback is used when the model call fails.
func ErrorQuestionFallback(item string) string {
	return fmt.Sprintf("Verifique o item: %s. Digite a situação.", item)
}

// FallbackSummary is returned whenever a summary cannot be produced.
func FallbackSummary(title, technician string) Summary {
	return Summary{
		Summary:     "Não foi possível gerar o resumo via IA. Verifique o histórico completo.",
		ShareText:   fmt.Sprintf("*Relatório de Manutenção*\n\nTécnico: %s\nChecklist: %s\n\nPor favor, consulte o sistema para detalhes completos.", technician, title),
		IssuesFound: false,
	}
}

// NextQuestion asks the model for the question about item.
func (g *Generator) NextQuestion(ctx context.Context, title string, item domain.ChecklistItem, history []domain.ChatMessage) string {
	if g.Degraded() {
		return ErrorQuestionFallback(item.Text)
	}
	system := fmt.Sprintf(questionSystemPrompt, title, item.Text)
	prompt := fmt.Sprintf(questionPrompt, FormatHistory(history), item.Text)
	callCtx, cancel := g.callContext(ctx)
	defer cancel()
	text, err := g.llm.GenerateText(callCtx, system, prompt)
	if errors.Is(err, ai.ErrEmptyResponse) {
		return EmptyQuestionFallback(item.Text)
	}
	if err != nil {
		util.LoggerFromContext(ctx).Warn("question generation failed", "item_id", item.ID, "err", err)
		return ErrorQuestionFallback(item.Text)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return EmptyQuestionFallback(item.Text)
	}
	return text
}

// Summarize asks the model for a JSON summary of the transcript.
func (g *Generator) Summarize(ctx context.Context, title, technician string, history []domain.ChatMessage) Summary {
	summary, err := g.summarize(ctx, title, technician, history)
	if err != nil {
		util.LoggerFromContext(ctx).Warn("summary generation failed", "template", title, "err", err)
		return FallbackSummary(title, technician)
	}
	return summary
}

func (g *Generator) summarize(ctx context.Context, title, technician string, history []domain.ChatMessage) (Summary, error) {
	if g.Degraded() {
		return Summary{}, errNoModel
	}
	prompt := fmt.Sprintf(summaryPrompt, title, technician, FormatHistory(history))
	ctx, cancel := g.callContext(ctx)
	defer cancel()
	var (
		raw string
		err error
	)
	if jg, ok := g.llm.(ai.JSONGenerator); ok {
		raw, err = jg.GenerateJSON(ctx, "", prompt)
	} else {
		raw, err = g.llm.GenerateText(ctx, "", prompt)
	}
	if err != nil {
		return Summary{}, err
	}
	return ParseSummary(raw)
}

// ParseSummary decodes a summary object, tolerating markdown code fences
// and prose around the JSON.
func ParseSummary(raw string) (Summary, error) {
	body := stripFences(raw)
	if body == "" {
		return Summary{}, errors.New("no response from model")
	}
	var fields struct {
		Summary     *string `json:"summary"`
		ShareText   *string `json:"whatsappText"`
		IssuesFound *bool   `json:"issuesFound"`
	}
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return Summary{}, fmt.Errorf("decode summary: %w", err)
	}
	if fields.Summary == nil || fields.ShareText == nil || fields.IssuesFound == nil {
		return Summary{}, errors.New("summary response missing fields")
	}
	return Summary{
		Summary:     *fields.Summary,
		ShareText:   *fields.ShareText,
		IssuesFound: *fields.IssuesFound,
	}, nil
}

func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		} else {
			s = strings.TrimPrefix(s, "json")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	s = strings.TrimSpace(s)
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		s = s[start : end+1]
	}
	return s
}

// FormatHistory renders the transcript as "SENDER: text" lines.
func FormatHistory(history []domain.ChatMessage) string {
	lines := make([]string, 0, len(history))
	for _, msg := range history {
		var tag string
		switch msg.Sender {
		case domain.SenderSystem:
			tag = "SYSTEM"
		case domain.SenderUser:
			tag = "USER"
		case domain.SenderAI:
			tag = "AI"
		default:
			continue
		}
		lines = append(lines, tag+": "+msg.Text)
	}
	return strings.Join(lines, "\n")
}
