// ABOUTME: Builds the research engine selected by engine.provider
// ABOUTME: OpenAI-compatible streaming engine or the offline fake engine

package main

import (
	"fmt"
	"log/slog"

	"github.com/2389/research-gateway/internal/config"
	"github.com/2389/research-gateway/internal/engine"
	"github.com/2389/research-gateway/internal/engine/fake"
	"github.com/2389/research-gateway/internal/engine/openai"
)

func newEngine(cfg config.EngineConfig, logger *slog.Logger) (engine.Engine, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return openai.New(openai.Config{
			Research:    modelConfig(cfg.ResearchModel),
			FinalReport: modelConfig(cfg.FinalReportModel),
		}, logger)
	case config.ProviderFake, "":
		logger.Warn("using fake research engine; reports are canned")
		return fake.Default(), nil
	default:
		return nil, fmt.Errorf("unknown engine provider %q", cfg.Provider)
	}
}

func modelConfig(m config.ModelConfig) openai.ModelConfig {
	return openai.ModelConfig{
		Name:      m.Name,
		BaseURL:   m.BaseURL,
		APIKey:    m.APIKey,
		MaxTokens: m.MaxTokens,
	}
}
