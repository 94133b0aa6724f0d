// Package commands implements the ambitus CLI.
package commands

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/ambitus/orchestrator/config"
	"github.com/ambitus/orchestrator/internal/adapter/llm"
	"github.com/ambitus/orchestrator/internal/adapter/toolclient"
	"github.com/ambitus/orchestrator/internal/agent"
	"github.com/ambitus/orchestrator/internal/engine"
	"github.com/ambitus/orchestrator/internal/repository"
	"github.com/ambitus/orchestrator/internal/service"
	"github.com/ambitus/orchestrator/internal/toolhost"
	"github.com/ambitus/orchestrator/policy"
)

var rootCmd = &cobra.Command{
	Use:   "ambitus",
	Short: "Multi-agent market research orchestrator",
	Long: `ambitus drives a company through a fixed research pipeline:
company research, industry analysis, a human domain selection, parallel
market and competitor research, gap analysis, opportunity framing and a
final synthesized report.

Configuration comes from environment variables (OPENAI_API_KEY,
DATABASE_URL, PIPELINE_FILE, ...); stage agents are configured per stage
in the pipeline YAML.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

// runtime bundles everything a command needs to drive runs.
type runtime struct {
	cfg      *config.Config
	store    *repository.SQLiteStore
	service  *service.Service
	registry *toolhost.Registry
}

func (rt *runtime) Close() {
	if err := rt.store.Close(); err != nil {
		log.Printf("WARN: failed to close store: %v", err)
	}
}

// buildRuntime wires the full stack: store, policy engine, tool registry,
// tool client, per-stage agents, engine and service.
func buildRuntime(ctx context.Context) (*runtime, error) {
	cfg := config.Load()

	pipeline, err := config.LoadPipeline(cfg.PipelineFile)
	if err != nil {
		return nil, err
	}

	db, err := repository.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	registry := toolhost.NewRegistry()
	toolhost.RegisterBuiltins(registry, cfg.CitationEndpoint, http.DefaultClient)

	tools := toolclient.NewClient(cfg.ToolServerURL, cfg.ToolTimeout, policyEngine)

	var llmClient *llm.Client
	if cfg.OpenAIAPIKey != "" {
		llmClient = llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	}
	invokers, err := agent.BuildInvokers(pipeline, cfg, llmClient)
	if err != nil {
		db.Close()
		return nil, err
	}

	adapter := agent.NewAdapter(invokers, tools, pipeline, cfg.CitationConcurrency)
	svc := service.New(db, engine.New(adapter), cfg)
	adapter.OnToolCall(svc.RecordToolCall)

	return &runtime{cfg: cfg, store: db, service: svc, registry: registry}, nil
}
