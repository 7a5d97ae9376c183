package config

import (
	"time"

	"topicgrader/pkg/utils"
)

// DomainConfig holds all configurable business rules and constraints
type DomainConfig struct {
	// Tree constraints
	MaxNodesPerTree   int `validate:"gt=0"`
	MaxTreeDepth      int `validate:"gt=0"`
	MaxQAPairsPerNode int `validate:"gt=0"`

	// Q&A constraints
	MaxQuestionLength int `validate:"gt=0"`
	MaxAnswerLength   int `validate:"gt=0"`

	// Topic extraction
	MaxTopicsPerPair int    `validate:"gte=1,lte=3"`
	MinPhraseLength  int    `validate:"gte=1"`
	MinWordLength    int    `validate:"gte=1"`
	QuestionWeight   int    `validate:"gte=1"`
	FallbackTopic    string `validate:"notblank"`

	// Relationship classification
	ChildThreshold         float64 `validate:"gt=0,lte=1,gtfield=SiblingThreshold"`
	SiblingThreshold       float64 `validate:"gt=0,lte=1,gtfield=RelatedThreshold"`
	RelatedThreshold       float64 `validate:"gt=0,lte=1"`
	RelatedTermBoost       float64 `validate:"gte=0,lte=1"`
	PartialMatchBoost      float64 `validate:"gte=0,lte=1"`
	MaxPartialMatchBoost   float64 `validate:"gte=0,lte=1"`
	ContinuationConfidence float64 `validate:"gte=0,lte=1"`
	RelatedRootConfidence  float64 `validate:"gte=0,lte=1"`

	// Scoring
	DefaultScore   float64       `validate:"gte=0,lte=100"`
	ScoringTimeout time.Duration `validate:"gt=0"`

	// Sessions
	SessionMaxAge time.Duration `validate:"gt=0"`
}

// DefaultDomainConfig returns the default domain configuration
func DefaultDomainConfig() *DomainConfig {
	return &DomainConfig{
		MaxNodesPerTree:   500,
		MaxTreeDepth:      10,
		MaxQAPairsPerNode: 200,

		MaxQuestionLength: 10000,
		MaxAnswerLength:   50000,

		MaxTopicsPerPair: 3,
		MinPhraseLength:  2,
		MinWordLength:    3,
		QuestionWeight:   2,
		FallbackTopic:    "general discussion",

		ChildThreshold:         0.6,
		SiblingThreshold:       0.4,
		RelatedThreshold:       0.25,
		RelatedTermBoost:       0.3,
		PartialMatchBoost:      0.1,
		MaxPartialMatchBoost:   0.2,
		ContinuationConfidence: 0.8,
		RelatedRootConfidence:  0.8,

		DefaultScore:   50,
		ScoringTimeout: 10 * time.Second,

		SessionMaxAge: 24 * time.Hour,
	}
}

// ProductionDomainConfig returns production-specific configuration
func ProductionDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	// Interviews rarely need more; keep snapshots small
	config.MaxNodesPerTree = 250
	config.MaxTreeDepth = 8
	config.SessionMaxAge = 6 * time.Hour

	return config
}

// DevelopmentDomainConfig returns development-specific configuration
func DevelopmentDomainConfig() *DomainConfig {
	config := DefaultDomainConfig()

	config.MaxNodesPerTree = 5000
	config.MaxTreeDepth = 32
	config.ScoringTimeout = 30 * time.Second

	return config
}

// LoadDomainConfig loads domain configuration based on environment
func LoadDomainConfig(environment string) *DomainConfig {
	switch environment {
	case "production":
		return ProductionDomainConfig()
	case "development":
		return DevelopmentDomainConfig()
	default:
		return DefaultDomainConfig()
	}
}

// Validate checks if the configuration is valid
func (c *DomainConfig) Validate() error {
	return utils.ValidateStruct(c)
}
