package service

import (
	"sync"

	"go.uber.org/zap"

	"sshwatch/internal/behavior"
	"sshwatch/internal/blocking"
	"sshwatch/internal/escalation"
	"sshwatch/internal/repository/postgres"
	"sshwatch/internal/threat"
)

// ServiceFactory creates and caches the service-layer singletons.
type ServiceFactory struct {
	events        postgres.EventRepository
	evaluator     *threat.Evaluator
	engine        *blocking.Engine
	learner       *behavior.Learner
	escalator     *escalation.Evaluator
	archive       AssessmentArchive
	runtimeConfig *RuntimeConfig
	logger        *zap.Logger

	mu           sync.Mutex
	eventService *EventService
}

func NewServiceFactory(
	events postgres.EventRepository,
	evaluator *threat.Evaluator,
	engine *blocking.Engine,
	learner *behavior.Learner,
	escalator *escalation.Evaluator,
	archive AssessmentArchive,
	runtimeConfig *RuntimeConfig,
	logger *zap.Logger,
) *ServiceFactory {
	return &ServiceFactory{
		events:        events,
		evaluator:     evaluator,
		engine:        engine,
		learner:       learner,
		escalator:     escalator,
		archive:       archive,
		runtimeConfig: runtimeConfig,
		logger:        logger,
	}
}

// EventService returns the ingestion service singleton.
func (f *ServiceFactory) EventService() *EventService {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.eventService == nil {
		f.eventService = NewEventService(f.events, f.evaluator, f.engine, f.learner, f.escalator, f.archive, f.logger)
	}
	return f.eventService
}

// RuntimeConfig returns the reloadable snapshot shared with the threat
// evaluator's band source.
func (f *ServiceFactory) RuntimeConfig() *RuntimeConfig {
	return f.runtimeConfig
}
