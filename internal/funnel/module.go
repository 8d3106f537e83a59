// Package funnel wires the lead funnel: stage engine, scoring, automation
// and analytics behind one HTTP module.
package funnel

import (
	"funnel_backend/internal/events"
	"funnel_backend/internal/funnel/analytics"
	"funnel_backend/internal/funnel/automation"
	"funnel_backend/internal/funnel/defaults"
	"funnel_backend/internal/funnel/handler"
	"funnel_backend/internal/funnel/leads"
	"funnel_backend/internal/funnel/ports"
	"funnel_backend/internal/funnel/repository"
	"funnel_backend/internal/funnel/scoring"
	"funnel_backend/internal/funnel/stages"
	apphttp "funnel_backend/internal/http"
	"funnel_backend/platform/config"
	"funnel_backend/platform/lock"
	"funnel_backend/platform/logger"
	"funnel_backend/platform/validator"
)

// Config combines the settings the funnel module reads.
type Config interface {
	config.AutomationConfig
	config.DefaultsConfig
	config.MinIOConfig
	GetPhoneDefaultRegion() string
}

// Deps are the collaborators created by the composition root.
type Deps struct {
	Store  repository.Store
	Bus    events.Bus
	Log    *logger.Logger
	Val    *validator.Validator
	Config Config
	// Sender delivers sequence steps.
	Sender ports.Sender
	// Locker guards in-flight sends per (lead, sequence).
	Locker lock.Locker
	// Waker is optional; without it due steps wait for the periodic sweep.
	Waker ports.Waker
	// Exports is optional; without it funnel exports are rejected.
	Exports ports.ObjectStore
}

// Module represents the funnel domain module.
type Module struct {
	handler *handler.Handler
}

// NewModule creates the funnel module with all dependencies wired and
// subscribes the dispatcher to lead lifecycle events.
func NewModule(deps Deps) (*Module, error) {
	file, err := defaults.Load(deps.Config.GetFunnelDefaultsPath())
	if err != nil {
		return nil, err
	}
	if err := handler.RegisterValidations(deps.Val); err != nil {
		return nil, err
	}

	dispatcher := NewDispatcher(deps)
	dispatcher.RegisterHandlers(deps.Bus)

	scoringSvc := scoring.New(deps.Store, deps.Bus, deps.Log)
	sequenceSvc := automation.NewSequenceService(deps.Store, deps.Log)

	h := handler.New(handler.Services{
		Leads:      leads.New(deps.Store, deps.Bus, deps.Log, deps.Config.GetPhoneDefaultRegion()),
		Stages:     stages.New(deps.Store, deps.Bus, deps.Log),
		Scoring:    scoringSvc,
		Sequences:  sequenceSvc,
		Dispatcher: dispatcher,
		Analytics:  analytics.New(deps.Store, deps.Exports, deps.Config.GetMinioBucketFunnelExports(), deps.Log),
		Seeder:     defaults.NewSeeder(file, scoringSvc, sequenceSvc, deps.Log),
	}, deps.Val)

	return &Module{handler: h}, nil
}

// NewDispatcher builds the sequence dispatcher from deps. The scheduler
// worker uses it directly without the HTTP module.
func NewDispatcher(deps Deps) *automation.Dispatcher {
	return automation.NewDispatcher(deps.Store, deps.Sender, deps.Locker, deps.Waker, deps.Bus, deps.Log, automation.Config{
		MaxAttempts: deps.Config.GetDeliveryMaxAttempts(),
		Lease:       deps.Config.GetSendLease(),
		BatchSize:   deps.Config.GetSweepBatchSize(),
		Workers:     deps.Config.GetSweepWorkers(),
	})
}

// Name returns the module name for logging
func (m *Module) Name() string {
	return "funnel"
}

// RegisterRoutes registers the module's routes under /api/v1/funnel
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/funnel"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
