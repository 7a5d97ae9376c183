package services

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"topicgrader/domain/core/entities"
	"topicgrader/domain/core/valueobjects"
	pkgerrors "topicgrader/pkg/errors"
)

// ScoringContext is the read-only input a strategy sees besides the pair itself.
// CurrentTopic is a private copy; nothing a strategy does to it reaches the tree.
type ScoringContext struct {
	CurrentTopic *entities.TopicNode
	History      []valueobjects.QAPair
	TopicDepth   int
}

// ScoringStrategy computes a quality score in [0, 100] for a Q&A pair.
// Implementations must depend on their arguments only.
type ScoringStrategy interface {
	Name() string
	CalculateScore(ctx context.Context, qa valueobjects.QAPair, sc ScoringContext) (float64, error)
}

// ScoringObserver receives one call per scoring attempt
type ScoringObserver interface {
	ObserveScoring(strategy string, elapsed time.Duration, fallback bool)
}

// HeuristicScoringStrategy rates answers on length, vocabulary richness,
// overlap with the question and how deep into a topic the conversation is
type HeuristicScoringStrategy struct {
	analyzer *KeywordTopicAnalyzer
}

// NewHeuristicScoringStrategy uses analyzer for tokenizing; nil builds a default one
func NewHeuristicScoringStrategy(analyzer *KeywordTopicAnalyzer) *HeuristicScoringStrategy {
	if analyzer == nil {
		analyzer = NewKeywordTopicAnalyzer(nil)
	}
	return &HeuristicScoringStrategy{analyzer: analyzer}
}

var _ ScoringStrategy = (*HeuristicScoringStrategy)(nil)

// Name identifies the strategy in logs and metrics
func (s *HeuristicScoringStrategy) Name() string { return "heuristic" }

// CalculateScore is deterministic in its inputs
func (s *HeuristicScoringStrategy) CalculateScore(ctx context.Context, qa valueobjects.QAPair, sc ScoringContext) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	answer := s.analyzer.tokenize(qa.Answer())
	if len(answer) == 0 {
		return 10, nil
	}

	// Up to 40 points for substance, saturating around 60 content words
	length := math.Min(float64(len(answer))/60.0, 1.0) * 40

	distinct := make(map[string]bool, len(answer))
	for _, w := range answer {
		distinct[w] = true
	}
	// Up to 25 points for not repeating itself
	richness := float64(len(distinct)) / float64(len(answer)) * 25

	// Up to 25 points for actually addressing what was asked
	question := s.analyzer.tokenize(qa.Question())
	relevance := 12.5
	if len(question) > 0 {
		hits := 0
		for _, w := range question {
			if distinct[w] {
				hits++
			}
		}
		relevance = float64(hits) / float64(len(question)) * 25
	}

	// Up to 10 points for staying with a topic as it deepens
	depth := math.Min(float64(sc.TopicDepth), 5) * 2

	// Repeating an earlier answer verbatim earns nothing for richness
	normalized := strings.Join(answer, " ")
	for _, prior := range sc.History {
		if prior.Equals(qa) {
			continue
		}
		if strings.Join(s.analyzer.tokenize(prior.Answer()), " ") == normalized {
			richness = 0
			break
		}
	}

	return clampScore(length + richness + relevance + depth), nil
}

// ScoringEngine runs a strategy with a deadline and never lets it fail the caller
type ScoringEngine struct {
	strategy     ScoringStrategy
	defaultScore float64
	timeout      time.Duration
	logger       *zap.Logger
	observer     ScoringObserver
}

// EngineOption customizes a ScoringEngine
type EngineOption func(*ScoringEngine)

// WithScoringObserver reports every attempt to o
func WithScoringObserver(o ScoringObserver) EngineOption {
	return func(e *ScoringEngine) { e.observer = o }
}

// NewScoringEngine wraps strategy; a non-positive timeout disables the deadline
func NewScoringEngine(strategy ScoringStrategy, defaultScore float64, timeout time.Duration, logger *zap.Logger, opts ...EngineOption) *ScoringEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &ScoringEngine{
		strategy:     strategy,
		defaultScore: clampScore(defaultScore),
		timeout:      timeout,
		logger:       logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Strategy returns the wrapped strategy
func (e *ScoringEngine) Strategy() ScoringStrategy {
	return e.strategy
}

// WithStrategy returns a copy of the engine around a different strategy
func (e *ScoringEngine) WithStrategy(strategy ScoringStrategy) *ScoringEngine {
	clone := *e
	clone.strategy = strategy
	return &clone
}

// DefaultScore is what a failed attempt yields
func (e *ScoringEngine) DefaultScore() float64 {
	return e.defaultScore
}

// Score returns the strategy's score clamped to [0, 100], or the default score
// with fallback=true when the strategy errors, panics, times out or returns NaN
func (e *ScoringEngine) Score(ctx context.Context, qa valueobjects.QAPair, sc ScoringContext) (score float64, fallback bool) {
	name := "none"
	if e.strategy != nil {
		name = e.strategy.Name()
	}
	start := time.Now()
	defer func() {
		if e.observer != nil {
			e.observer.ObserveScoring(name, time.Since(start), fallback)
		}
	}()

	if e.strategy == nil {
		return e.defaultScore, true
	}

	score, err := e.run(ctx, qa, sc)
	if err == nil && math.IsNaN(score) {
		err = fmt.Errorf("strategy returned NaN")
	}
	if err != nil {
		e.logger.Warn("Scoring failed, using default score",
			zap.String("strategy", name),
			zap.Float64("default_score", e.defaultScore),
			zap.Error(pkgerrors.NewScoringError(name, err)))
		return e.defaultScore, true
	}
	return clampScore(score), false
}

type scoreResult struct {
	score float64
	err   error
}

func (e *ScoringEngine) run(ctx context.Context, qa valueobjects.QAPair, sc ScoringContext) (float64, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	// Buffered so a strategy that ignores ctx does not leak a blocked goroutine
	done := make(chan scoreResult, 1)
	go func() {
		var result scoreResult
		result.err = pkgerrors.Recover(func() error {
			var err error
			result.score, err = e.strategy.CalculateScore(ctx, qa, sc)
			return err
		})
		done <- result
	}()

	select {
	case r := <-done:
		return r.score, r.err
	case <-ctx.Done():
		return 0, pkgerrors.NewTimeoutError("scoring").WithCause(ctx.Err())
	}
}

func clampScore(s float64) float64 {
	switch {
	case math.IsNaN(s):
		return 0
	case s < 0:
		return 0
	case s > 100:
		return 100
	}
	return s
}
