package openai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"topicgrader/domain/config"
	"topicgrader/domain/core/valueobjects"
	"topicgrader/domain/services"
)

type fakeChat struct {
	reply    string
	err      error
	requests []openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(_ context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: f.reply}}},
	}, nil
}

func testConfig() Config {
	cfg := DefaultConfig("test-key")
	cfg.RatePerSecond = 0
	cfg.MinRequests = 2
	cfg.FailureThreshold = 1
	cfg.OpenTimeout = time.Hour
	return cfg
}

func newPair(t *testing.T, q, a string) valueobjects.QAPair {
	t.Helper()
	qa, err := valueobjects.NewQAPair(q, a, time.Now(), nil)
	require.NoError(t, err)
	return qa
}

func TestParseScore(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    float64
		wantErr bool
	}{
		{name: "json object", content: `{"score": 82, "reason": "solid"}`, want: 82},
		{name: "json with whitespace", content: "\n {\"score\": 47.5}\n", want: 47.5},
		{name: "plain text", content: "I would give this 65 out of 100.", want: 65},
		{name: "no number", content: "excellent answer", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScore(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStrategy_CalculateScore(t *testing.T) {
	client := &fakeChat{reply: `{"score": 74}`}
	strategy := NewStrategyWithClient(client, testConfig(), zap.NewNop())

	history := make([]valueobjects.QAPair, 6)
	for i := range history {
		history[i] = newPair(t, "earlier question", "earlier answer")
	}
	score, err := strategy.CalculateScore(context.Background(),
		newPair(t, "What is a B-tree?", "A balanced search tree."),
		services.ScoringContext{History: history, TopicDepth: 2})

	require.NoError(t, err)
	assert.Equal(t, 74.0, score)
	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Equal(t, openai.GPT4oMini, req.Model)
	require.Len(t, req.Messages, 2)
	assert.Contains(t, req.Messages[1].Content, "What is a B-tree?")
	assert.Equal(t, historyWindow, strings.Count(req.Messages[1].Content, "\nA: "))
}

func TestStrategy_BreakerOpensAndEngineFallsBack(t *testing.T) {
	client := &fakeChat{err: errors.New("503 service unavailable")}
	strategy := NewStrategyWithClient(client, testConfig(), zap.NewNop())
	qa := newPair(t, "q?", "a.")

	for i := 0; i < 2; i++ {
		_, err := strategy.CalculateScore(context.Background(), qa, services.ScoringContext{})
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, strategy.State())

	_, err := strategy.CalculateScore(context.Background(), qa, services.ScoringContext{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Len(t, client.requests, 2, "open breaker short-circuits the call")

	engine := services.NewScoringEngine(strategy, config.DefaultDomainConfig().DefaultScore, time.Second, zap.NewNop())
	score, fallback := engine.Score(context.Background(), qa, services.ScoringContext{})
	assert.True(t, fallback)
	assert.Equal(t, config.DefaultDomainConfig().DefaultScore, score)
}

func TestStrategy_CancelledContext(t *testing.T) {
	cfg := testConfig()
	cfg.RatePerSecond = 0.001
	strategy := NewStrategyWithClient(&fakeChat{reply: `{"score": 1}`}, cfg, zap.NewNop())
	qa := newPair(t, "q?", "a.")

	_, err := strategy.CalculateScore(context.Background(), qa, services.ScoringContext{})
	require.NoError(t, err, "first call uses the burst token")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = strategy.CalculateScore(ctx, qa, services.ScoringContext{})
	assert.Error(t, err, "limiter wait exceeds the deadline")
}
