package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ambitus/orchestrator/internal/domain"
)

// CitationMode controls whether a stage's output must carry citations.
type CitationMode string

const (
	CitationsRequired CitationMode = "required"
	CitationsOptional CitationMode = "optional"
	CitationsNone     CitationMode = "none"
)

// Agent backends.
const (
	BackendHTTP   = "http"
	BackendOpenAI = "openai"
)

// StageConfig configures one pipeline stage's agent.
type StageConfig struct {
	// Backend selects how the agent runs: "http" invokes Endpoint,
	// "openai" runs the stage prompt against the configured model.
	Backend      string       `yaml:"backend"`
	Endpoint     string       `yaml:"endpoint,omitempty"`
	Model        string       `yaml:"model,omitempty"`
	SystemPrompt string       `yaml:"system_prompt,omitempty"`
	Citations    CitationMode `yaml:"citations,omitempty"`
}

// Pipeline maps each stage to its agent configuration.
type Pipeline struct {
	Stages map[domain.Stage]StageConfig `yaml:"stages"`
}

// LoadPipeline reads a pipeline YAML file, falling back to DefaultPipeline
// when path is empty. Every stage must be configured.
func LoadPipeline(path string) (*Pipeline, error) {
	if path == "" {
		return DefaultPipeline(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline config: %w", err)
	}
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse pipeline config: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks that every stage is configured and backends are known.
func (p *Pipeline) Validate() error {
	for _, stage := range domain.Stages {
		sc, ok := p.Stages[stage]
		if !ok {
			return fmt.Errorf("pipeline config missing stage %s", stage)
		}
		switch sc.Backend {
		case BackendHTTP:
			if sc.Endpoint == "" {
				return fmt.Errorf("stage %s: http backend requires endpoint", stage)
			}
		case BackendOpenAI:
		default:
			return fmt.Errorf("stage %s: unknown backend %q", stage, sc.Backend)
		}
		switch sc.Citations {
		case CitationsRequired, CitationsOptional, CitationsNone, "":
		default:
			return fmt.Errorf("stage %s: unknown citations mode %q", stage, sc.Citations)
		}
	}
	return nil
}

// CitationModeFor returns the effective citation mode for a stage.
// Unset defaults to optional.
func (p *Pipeline) CitationModeFor(stage domain.Stage) CitationMode {
	sc := p.Stages[stage]
	if sc.Citations == "" {
		return CitationsOptional
	}
	return sc.Citations
}

// DefaultPipeline runs every stage on the OpenAI backend with the stock
// prompts. Research stages require citations; synthesis stages inherit the
// sources of their inputs and only optionally add their own.
func DefaultPipeline() *Pipeline {
	p := &Pipeline{Stages: make(map[domain.Stage]StageConfig, len(domain.Stages))}
	for _, stage := range domain.Stages {
		sc := StageConfig{
			Backend:      BackendOpenAI,
			SystemPrompt: defaultPrompts[stage],
			Citations:    CitationsOptional,
		}
		switch stage {
		case domain.StageCompanyResearch, domain.StageMarketData, domain.StageCompetitiveLandscape:
			sc.Citations = CitationsRequired
		}
		p.Stages[stage] = sc
	}
	return p
}

var defaultPrompts = map[domain.Stage]string{
	domain.StageCompanyResearch: "Research the company named in the input. " +
		"Return a JSON object with name, industry, description, products, headquarters and sources.",
	domain.StageIndustryAnalysis: "Analyze the company profile and rank 3-5 expansion domains. " +
		"Return a JSON object with an opportunities list of {domain, score, rationale, sources} and sources.",
	domain.StageMarketData: "Report market size (USD), CAGR and key drivers for the chosen domain. " +
		"Return a JSON object with market_size_usd, cagr, key_drivers and sources.",
	domain.StageCompetitiveLandscape: "List the main competitors in the chosen domain. " +
		"Return a JSON object with a competitors list of {competitor, product, market_share, note} and sources.",
	domain.StageGapAnalysis: "Compare the market data and competitive landscape to find underserved gaps. " +
		"Return a JSON object with a gaps list of {gap, impact, evidence} and sources.",
	domain.StageOpportunity: "Turn the identified gaps into prioritized opportunities. " +
		"Return a JSON object with an opportunities list of {title, priority, description} and sources.",
	domain.StageReportSynthesis: "Synthesize all prior outputs into a market opportunity report. " +
		"Return a JSON object with company, chosen_domain, a sections list of {title, body} and sources.",
}
