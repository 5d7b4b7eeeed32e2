package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/leadforge/mission-service/internal/campaigns"
)

const (
	defaultStepCount = 3
	maxStepCount     = 8
)

type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
}

// AnthropicGenerator writes campaign sequences with Claude.
type AnthropicGenerator struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

func NewAnthropicGenerator(cfg AnthropicConfig, extra ...option.RequestOption) (*AnthropicGenerator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("anthropic model is required")
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	opts = append(opts, extra...)

	return &AnthropicGenerator{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: int64(maxTokens),
	}, nil
}

const campaignSystemPrompt = `You write short B2B outreach email sequences.
Reply with a single JSON object and nothing else, shaped as:
{"name": string, "steps": [{"offsetDays": int, "subject": string, "body": string}]}
The first step has offsetDays 0. Each later offsetDays is the wait in days after the previous step.`

func (g *AnthropicGenerator) GenerateCampaign(ctx context.Context, req CampaignRequest) (*GeneratedCampaign, error) {
	if strings.TrimSpace(req.Brief) == "" {
		return nil, errors.New("campaign brief is empty")
	}
	steps := req.StepCount
	if steps <= 0 {
		steps = defaultStepCount
	}
	steps = min(steps, maxStepCount)

	prompt := fmt.Sprintf("Brief:\n%s\n\nWrite exactly %d steps.", req.Brief, steps)
	resp, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(g.model),
		MaxTokens: g.maxTokens,
		System:    []anthropic.TextBlockParam{{Text: campaignSystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ParseGeneratedCampaign(text.String())
}

// ParseGeneratedCampaign extracts the JSON object from a model reply and
// validates the sequence.
func ParseGeneratedCampaign(reply string) (*GeneratedCampaign, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, errors.New("generated campaign: no JSON object in reply")
	}
	var gc GeneratedCampaign
	if err := json.Unmarshal([]byte(reply[start:end+1]), &gc); err != nil {
		return nil, fmt.Errorf("generated campaign: %w", err)
	}
	if len(gc.Steps) == 0 {
		return nil, errors.New("generated campaign: no steps")
	}
	for i := range gc.Steps {
		if gc.Steps[i].OffsetDays < 0 {
			gc.Steps[i].OffsetDays = 0
		}
	}
	gc.Steps[0].OffsetDays = 0
	if gc.Name == "" {
		gc.Name = "Generated campaign"
	}
	return &gc, nil
}

// StaticGenerator returns a fixed campaign. It is used when no AI key is
// configured and in tests.
type StaticGenerator struct {
	Campaign GeneratedCampaign
}

func (s StaticGenerator) GenerateCampaign(_ context.Context, req CampaignRequest) (*GeneratedCampaign, error) {
	gc := s.Campaign
	if len(gc.Steps) == 0 {
		n := req.StepCount
		if n <= 0 {
			n = defaultStepCount
		}
		for i := 0; i < min(n, maxStepCount); i++ {
			offset := 0
			if i > 0 {
				offset = 3
			}
			gc.Steps = append(gc.Steps, campaigns.Step{
				OffsetDays: offset,
				Subject:    fmt.Sprintf("Step %d", i+1),
				Body:       req.Brief,
			})
		}
	}
	if gc.Name == "" {
		gc.Name = "Campaign"
	}
	return &gc, nil
}
