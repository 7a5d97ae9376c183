// Package openai scores Q&A pairs with a chat completion model.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"topicgrader/domain/core/valueobjects"
	"topicgrader/domain/services"
)

const systemPrompt = `You grade answers in a technical conversation.
Rate how well the answer addresses the question on a scale from 0 to 100,
considering correctness, depth and relevance to the topic.
Reply with a JSON object of the form {"score": <number>, "reason": "<one sentence>"}.`

// historyWindow is how many earlier pairs are shown to the model
const historyWindow = 4

// ChatClient is the part of the go-openai client the strategy calls
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Config configures the strategy
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// RatePerSecond bounds outgoing requests; burst is one
	RatePerSecond float64

	// Breaker settings
	FailureThreshold float64
	MinRequests      uint32
	OpenTimeout      time.Duration
}

// DefaultConfig returns the settings used when only a key is known
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:           apiKey,
		Model:            openai.GPT4oMini,
		RatePerSecond:    2,
		FailureThreshold: 0.6,
		MinRequests:      5,
		OpenTimeout:      60 * time.Second,
	}
}

// Strategy is a services.ScoringStrategy backed by a chat model. Calls pass
// a rate limiter and then a circuit breaker so an unhealthy endpoint fails
// fast and the engine falls back to the default score.
type Strategy struct {
	client  ChatClient
	model   string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var _ services.ScoringStrategy = (*Strategy)(nil)

// NewStrategy builds a strategy with the real OpenAI client
func NewStrategy(cfg Config, logger *zap.Logger) *Strategy {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return NewStrategyWithClient(openai.NewClientWithConfig(clientCfg), cfg, logger)
}

// NewStrategyWithClient builds a strategy around any chat client
func NewStrategyWithClient(client ChatClient, cfg Config, logger *zap.Logger) *Strategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	s := &Strategy{
		client:  client,
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
	}
	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "openai-scoring",
		Timeout: cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		// a cancelled caller says nothing about the endpoint's health
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	return s
}

// Name identifies the strategy in logs and metrics
func (s *Strategy) Name() string { return "openai" }

// State reports the breaker state
func (s *Strategy) State() gobreaker.State { return s.breaker.State() }

// CalculateScore asks the model for a score
func (s *Strategy) CalculateScore(ctx context.Context, qa valueobjects.QAPair, sc services.ScoringContext) (float64, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		resp, err := s.client.CreateChatCompletion(ctx, s.request(qa, sc))
		if err != nil {
			return nil, err
		}
		if len(resp.Choices) == 0 {
			return nil, errors.New("model returned no choices")
		}
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		return 0, fmt.Errorf("openai scoring: %w", err)
	}

	score, err := parseScore(result.(string))
	if err != nil {
		s.logger.Warn("Unparseable score reply", zap.Error(err))
		return 0, err
	}
	return score, nil
}

func (s *Strategy) request(qa valueobjects.QAPair, sc services.ScoringContext) openai.ChatCompletionRequest {
	var b strings.Builder
	if sc.CurrentTopic != nil {
		fmt.Fprintf(&b, "Topic: %s (depth %d)\n", sc.CurrentTopic.Topic(), sc.TopicDepth)
	}
	history := sc.History
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}
	if len(history) > 0 {
		b.WriteString("Earlier in the conversation:\n")
		for _, h := range history {
			fmt.Fprintf(&b, "Q: %s\nA: %s\n", h.Question(), h.Answer())
		}
	}
	fmt.Fprintf(&b, "Question: %s\nAnswer: %s\n", qa.Question(), qa.Answer())

	return openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
	}
}

var numberPattern = regexp.MustCompile(`-?\d+(\.\d+)?`)

// parseScore accepts {"score": n} and falls back to the first number in
// the reply for models that ignore the response format
func parseScore(content string) (float64, error) {
	var reply struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &reply); err == nil && reply.Score != nil {
		return *reply.Score, nil
	}
	match := numberPattern.FindString(content)
	if match == "" {
		return 0, fmt.Errorf("no score in reply %q", content)
	}
	return strconv.ParseFloat(match, 64)
}
