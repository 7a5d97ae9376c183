package di

import (
	"go.uber.org/zap"

	"topicgrader/application/commands/bus"
	"topicgrader/application/ports"
	querybus "topicgrader/application/queries/bus"
	"topicgrader/application/services"
	"topicgrader/infrastructure/config"
	"topicgrader/infrastructure/scheduler"
	"topicgrader/pkg/observability"
)

// Container holds all application dependencies
type Container struct {
	Config     *config.Config
	Logger     *zap.Logger
	Store      ports.TreeStore
	Sessions   *services.SessionManager
	CommandBus *bus.CommandBus
	QueryBus   *querybus.QueryBus
	Collector  *observability.Collector
	Scheduler  *scheduler.Scheduler
}
