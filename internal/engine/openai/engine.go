// ABOUTME: Research engine backed by OpenAI-compatible chat completion APIs
// ABOUTME: Streams a research pass and a final report pass, emitting lifecycle callbacks

package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/2389/research-gateway/internal/engine"
)

// Chain labels emitted around each pass.
const (
	ChainResearch    = "research"
	ChainFinalReport = "final_report"
)

const researchPrompt = `You are a meticulous research assistant. Investigate the user's question
and write concise research notes: key facts, competing viewpoints, open questions, and
sources worth consulting. Use bullet points. Do not write the final report yet.`

const finalReportPrompt = `You are a research writer. Using the research notes provided, write a
well-structured markdown report that answers the question. Start with a short summary,
then sections with headings, and finish with a list of open questions.`

// ModelConfig describes one model slot.
type ModelConfig struct {
	Name      string
	BaseURL   string
	APIKey    string
	MaxTokens int
}

// Config holds the model slots used by the engine. FinalReport falls back
// to Research when its Name is empty.
type Config struct {
	Research    ModelConfig
	FinalReport ModelConfig
}

type model struct {
	client *goopenai.Client
	cfg    ModelConfig
}

// Engine implements engine.Engine with two streaming completion passes.
type Engine struct {
	research *model
	final    *model
	logger   *slog.Logger
}

// New creates an engine. Pass nil logger for default.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Research.Name == "" {
		return nil, errors.New("research model name is required")
	}
	if cfg.FinalReport.Name == "" {
		cfg.FinalReport = cfg.Research
	}

	e := &Engine{
		research: newModel(cfg.Research),
		final:    newModel(cfg.FinalReport),
		logger:   logger.With("component", "engine"),
	}
	e.logger.Info("Initializing OpenAI engine",
		"research_model", cfg.Research.Name,
		"final_report_model", cfg.FinalReport.Name)
	return e, nil
}

func newModel(mc ModelConfig) *model {
	clientCfg := goopenai.DefaultConfig(mc.APIKey)
	if mc.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(mc.BaseURL, "/")
	}
	return &model{client: goopenai.NewClientWithConfig(clientCfg), cfg: mc}
}

// Research runs the research pass and then the report pass.
func (e *Engine) Research(ctx context.Context, query string, emit engine.Emitter) (*engine.Result, error) {
	emit(engine.Callback{Kind: engine.KindChainStart, Label: ChainResearch})
	notes, err := e.stream(ctx, e.research, researchPrompt, query, emit)
	emit(engine.Callback{Kind: engine.KindChainEnd, Label: ChainResearch})
	if err != nil {
		return nil, err
	}

	emit(engine.Callback{Kind: engine.KindChainStart, Label: ChainFinalReport})
	prompt := fmt.Sprintf("Question: %s\n\nResearch notes:\n%s", query, notes)
	report, err := e.stream(ctx, e.final, finalReportPrompt, prompt, emit)
	emit(engine.Callback{Kind: engine.KindChainEnd, Label: ChainFinalReport})
	if err != nil {
		return nil, err
	}

	return &engine.Result{Report: report, Notes: []string{notes}}, nil
}

// stream runs one streaming completion and forwards its content deltas as
// token callbacks.
func (e *Engine) stream(ctx context.Context, m *model, system, user string, emit engine.Emitter) (string, error) {
	req := goopenai.ChatCompletionRequest{
		Model: m.cfg.Name,
		Messages: []goopenai.ChatCompletionMessage{
			{Role: goopenai.ChatMessageRoleSystem, Content: system},
			{Role: goopenai.ChatMessageRoleUser, Content: user},
		},
		Stream: true,
	}
	if m.cfg.MaxTokens > 0 {
		req.MaxTokens = m.cfg.MaxTokens
	}

	e.logger.Debug("starting completion stream", "model", m.cfg.Name)
	s, err := m.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("starting %s stream: %w", m.cfg.Name, err)
	}
	defer s.Close()

	emit(engine.Callback{Kind: engine.KindModelStart, Label: m.cfg.Name})
	defer emit(engine.Callback{Kind: engine.KindModelEnd})

	var out strings.Builder
	for {
		resp, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("reading %s stream: %w", m.cfg.Name, err)
		}
		for _, choice := range resp.Choices {
			if choice.Delta.Content == "" {
				continue
			}
			out.WriteString(choice.Delta.Content)
			emit(engine.Callback{Kind: engine.KindToken, Text: choice.Delta.Content})
		}
	}

	e.logger.Debug("completion stream finished", "model", m.cfg.Name, "chars", out.Len())
	return out.String(), nil
}

var _ engine.Engine = (*Engine)(nil)
