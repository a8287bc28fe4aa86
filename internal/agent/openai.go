package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrModelUnavailable is returned when no provider key is configured.
var ErrModelUnavailable = errors.New("llm integration is not configured")

// OpenAIConfig configures a chat-completion model reachable through an
// OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey            string
	BaseURL           string
	Model             string
	Temperature       float32
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Logger            logrus.FieldLogger
}

// OpenAIModel implements Model with go-openai.
type OpenAIModel struct {
	client      *openai.Client
	model       string
	temperature float32
	timeout     time.Duration
	maxTries    uint
	limiter     *rate.Limiter
	newBackOff  func() backoff.BackOff
	log         logrus.FieldLogger
}

func NewOpenAIModel(cfg OpenAIConfig) (*OpenAIModel, error) {
	if cfg.APIKey == "" {
		return nil, ErrModelUnavailable
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := int(math.Ceil(cfg.RequestsPerSecond))
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}
	log := cfg.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &OpenAIModel{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     timeout,
		maxTries:    uint(max(cfg.MaxRetries, 0) + 1),
		limiter:     limiter,
		newBackOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
		log: log.WithField("model", cfg.Model),
	}, nil
}

// Generate sends the conversation to the provider, retrying transient
// failures with exponential backoff.
func (m *OpenAIModel) Generate(ctx context.Context, req Request) (Message, error) {
	chatReq := openai.ChatCompletionRequest{
		Model:       m.model,
		Messages:    toOpenAIMessages(req.System, req.Messages),
		Temperature: m.temperature,
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = lo.Map(req.Tools, func(spec ToolSpec, _ int) openai.Tool {
			params := spec.Parameters
			if params == nil {
				params = &JSONSchema{Type: "object", Properties: map[string]any{}}
			}
			return openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        spec.Name,
					Description: spec.Description,
					Parameters:  params,
				},
			}
		})
	}

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (openai.ChatCompletionResponse, error) {
		attempt++
		if err := m.limiter.Wait(ctx); err != nil {
			return openai.ChatCompletionResponse{}, backoff.Permanent(err)
		}
		callCtx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		resp, err := m.client.CreateChatCompletion(callCtx, chatReq)
		if err != nil {
			if !retryable(err) {
				return resp, backoff.Permanent(err)
			}
			return resp, err
		}
		return resp, nil
	},
		backoff.WithBackOff(m.newBackOff()),
		backoff.WithMaxTries(m.maxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.log.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt,
				"retry_in": next.String(),
			}).Warn("llm request failed, retrying")
		}),
	)
	if err != nil {
		return Message{}, fmt.Errorf("request chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Message{}, errors.New("llm returned no choices")
	}

	choice := resp.Choices[0].Message
	return Message{
		Role:    RoleAssistant,
		Content: choice.Content,
		ToolCalls: lo.Map(choice.ToolCalls, func(call openai.ToolCall, _ int) ToolCall {
			return ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: call.Function.Arguments,
			}
		}),
	}, nil
}

func toOpenAIMessages(system string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: msg.Content})
		case RoleAssistant:
			out = append(out, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleAssistant,
				Content: msg.Content,
				ToolCalls: lo.Map(msg.ToolCalls, func(call ToolCall, _ int) openai.ToolCall {
					return openai.ToolCall{
						ID:   call.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      call.Name,
							Arguments: call.Arguments,
						},
					}
				}),
			})
		case RoleTool:
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    msg.Content,
				Name:       msg.Name,
				ToolCallID: msg.ToolCallID,
			})
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return out
}

// retryable reports whether a provider error is worth another attempt:
// rate limits, server errors and transport failures are; other 4xx are not.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= http.StatusInternalServerError
	}
	return true
}
