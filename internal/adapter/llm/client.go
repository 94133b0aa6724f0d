// Package llm runs pipeline agents directly against an OpenAI-compatible
// chat model, for stages that are not backed by a remote agent endpoint.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/ambitus/orchestrator/internal/domain"
	"github.com/ambitus/orchestrator/internal/schema"
)

// Client wraps one OpenAI-compatible API client.
type Client struct {
	client openai.Client
}

// NewClient creates a client. baseURL may be empty for the default API.
func NewClient(apiKey, baseURL string) *Client {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Client{client: openai.NewClient(opts...)}
}

// envelopeInstruction is appended to every stage prompt so the model replies
// in the same envelope remote agents use.
const envelopeInstruction = "\n\nRespond with a single JSON object of the form " +
	`{"output": <stage output>, "citation_queries": [<claims or URLs to cite>]}. ` +
	"No prose outside the JSON."

// StageAgent runs one stage's prompt against a model.
type StageAgent struct {
	client *Client
	model  string
	system string
	stage  domain.Stage
}

// NewStageAgent binds a stage prompt to a model.
func (c *Client) NewStageAgent(stage domain.Stage, model, systemPrompt string) *StageAgent {
	return &StageAgent{
		client: c,
		model:  model,
		system: systemPrompt + envelopeInstruction,
		stage:  stage,
	}
}

// Invoke runs one chat completion and decodes the agent envelope. API
// failures are UpstreamTransient; a reply that does not parse as the
// envelope is a ValidationError.
func (a *StageAgent) Invoke(ctx context.Context, req *domain.AgentInvokeRequest) (*domain.AgentInvokeResponse, error) {
	user, err := buildUserMessage(req)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(a.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(a.system),
			openai.UserMessage(user),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
		},
	}

	resp, err := a.client.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, &domain.AgentError{
			Kind:    domain.ErrKindUpstreamTransient,
			Stage:   a.stage,
			Message: "chat completion failed",
			Err:     err,
		}
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, &domain.AgentError{
			Kind:    domain.ErrKindUpstreamTransient,
			Stage:   a.stage,
			Message: "model returned no content",
		}
	}

	var envelope domain.AgentInvokeResponse
	if err := schema.Unmarshal([]byte(resp.Choices[0].Message.Content), &envelope); err != nil {
		return nil, &domain.AgentError{
			Kind:    domain.ErrKindValidation,
			Stage:   a.stage,
			Message: "model reply is not a valid agent envelope",
			Err:     err,
		}
	}
	if len(envelope.Output) == 0 {
		return nil, &domain.AgentError{
			Kind:    domain.ErrKindValidation,
			Stage:   a.stage,
			Message: "model reply has no output",
		}
	}
	return &envelope, nil
}

func buildUserMessage(req *domain.AgentInvokeRequest) (string, error) {
	payload := map[string]any{
		"company": req.Company,
		"inputs":  req.Inputs,
	}
	if req.Domain != "" {
		payload["chosen_domain"] = req.Domain
	}
	if req.RetryHint != "" {
		payload["correction"] = req.RetryHint
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal agent input: %w", err)
	}
	return string(data), nil
}
