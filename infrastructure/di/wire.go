//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"topicgrader/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideDomainConfig,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideEventBridgeClient,
	ProvideTreeStore,
	ProvideEventPublisher,
	ProvideCollector,
	ProvideMetrics,
	ProvideTracer,
	ProvideScoringStrategy,
	ProvideSessionManager,
	ProvideCommandBus,
	ProvideQueryCache,
	ProvideQueryBus,
	ProvideCleanupLocker,
	ProvideScheduler,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
