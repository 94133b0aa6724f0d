package agent

import (
	"fmt"

	"github.com/ambitus/orchestrator/config"
	"github.com/ambitus/orchestrator/internal/adapter/agentclient"
	"github.com/ambitus/orchestrator/internal/adapter/llm"
	"github.com/ambitus/orchestrator/internal/domain"
)

// BuildInvokers wires one invoker per pipeline stage from its configured
// backend. llmClient may be nil when no stage uses the openai backend.
func BuildInvokers(pipeline *config.Pipeline, cfg *config.Config, llmClient *llm.Client) (map[domain.Stage]Invoker, error) {
	invokers := make(map[domain.Stage]Invoker, len(pipeline.Stages))
	for _, stage := range domain.Stages {
		sc, ok := pipeline.Stages[stage]
		if !ok {
			return nil, fmt.Errorf("pipeline has no configuration for stage %s", stage)
		}
		switch sc.Backend {
		case config.BackendHTTP:
			invokers[stage] = agentclient.NewClient(sc.Endpoint, cfg.AgentTimeout)
		case config.BackendOpenAI:
			if llmClient == nil {
				return nil, fmt.Errorf("stage %s uses the openai backend but no API key is configured", stage)
			}
			model := sc.Model
			if model == "" {
				model = cfg.DefaultModel
			}
			invokers[stage] = llmClient.NewStageAgent(stage, model, sc.SystemPrompt)
		default:
			return nil, fmt.Errorf("stage %s: unknown backend %q", stage, sc.Backend)
		}
	}
	return invokers, nil
}
