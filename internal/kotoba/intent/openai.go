package intent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

const (
	defaultModel   = openai.GPT4oMini
	defaultTimeout = 30 * time.Second
)

// OpenAIConfig configures the model-backed parser.
type OpenAIConfig struct {
	// APIKey authenticates against the API.
	APIKey string

	// BaseURL overrides the endpoint for any OpenAI-compatible server.
	BaseURL string

	// Model defaults to gpt-4o-mini.
	Model string

	// Timeout bounds a single classification call. Defaults to 30s.
	Timeout time.Duration

	// RequestsPerSecond paces upstream calls across all users. Zero means
	// unlimited.
	RequestsPerSecond float64
}

// OpenAIParser classifies messages with an OpenAI-compatible chat model in
// JSON mode. The response is validated with Decode, so a model that drifts
// off-schema yields ErrMalformedIntent rather than a half-filled intent.
type OpenAIParser struct {
	cfg     OpenAIConfig
	client  *openai.Client
	limiter *rate.Limiter
}

var _ Parser = (*OpenAIParser)(nil)

// NewOpenAIParser returns a parser talking to the configured endpoint.
func NewOpenAIParser(cfg OpenAIConfig) *OpenAIParser {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &OpenAIParser{
		cfg:     cfg,
		client:  openai.NewClientWithConfig(oc),
		limiter: limiter,
	}
}

const classifyPrompt = `You classify a user's message for a project assistant.

Intent types:
- create_project: start or set up a new project
- analyze_tension: analyse a problem, conflict or blocker
- get_agent_help: ask which agent can help, or request an agent
- check_status: ask about progress or status
- generate_solution: ask for a proposed solution
- search_knowledge: look something up
- clarify: the user is answering a clarifying question
- unknown: none of the above

Extract entities when present:
- project_name: the name of a project
- agent_type: the kind of agent requested (e.g. "research", "coding")

Respond ONLY with JSON of the form:
{"intent_type": "<type>", "confidence": 0.0-1.0, "entities": {"<type>": ["<value>", ...]}}`

// Parse sends message to the model and decodes its JSON answer.
func (p *OpenAIParser) Parse(ctx context.Context, message string) (*ParsedIntent, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("intent: wait for upstream slot: %w", err)
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: classifyPrompt},
			{Role: openai.ChatMessageRoleUser, Content: message},
		},
		MaxTokens:      256,
		Temperature:    0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
	})
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %v", ErrRateLimit, err)
		}
		return nil, fmt.Errorf("intent: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices returned", ErrMalformedIntent)
	}

	return Decode([]byte(stripCodeFence(resp.Choices[0].Message.Content)))
}

func isRateLimited(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusTooManyRequests {
		return true
	}
	var reqErr *openai.RequestError
	return errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusTooManyRequests
}

// stripCodeFence extracts the body of a ```-fenced block. Some compatible
// servers ignore JSON mode and wrap the object in markdown.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	var body []string
	inside := false
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "```") {
			inside = !inside
			continue
		}
		if inside {
			body = append(body, line)
		}
	}
	return strings.Join(body, "\n")
}
