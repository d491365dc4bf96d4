// Package shell wires the stageflow services together and runs the interactive chat loop.
package shell

import (
	"fmt"

	"stageflow/internal/config"
	"stageflow/internal/conversation"
	"stageflow/internal/logger"
	"stageflow/internal/render"
	"stageflow/internal/services"
	"stageflow/internal/store"
	"stageflow/internal/tokens"
	"stageflow/internal/workflow"
	"stageflow/pkg/flowtypes"
)

// Environment holds the services shared by every command.
type Environment struct {
	Config        *config.Config
	Registry      *services.Registry
	Catalog       *services.ModelCatalogService
	Factory       *services.ClientFactoryService
	Store         flowtypes.ConversationStore
	Engine        *workflow.Engine
	Conversations *conversation.Service
	Renderer      *render.Renderer

	// ProviderErr explains why no provider client is available, if so.
	ProviderErr error
}

// Options adjusts InitializeServices.
type Options struct {
	// MockClient is served for the "mock" provider instead of a fresh one.
	MockClient *services.MockClient
	// Store replaces the store named in the config.
	Store flowtypes.ConversationStore
}

// InitializeServices sets up the registry, the provider client, the store and the engine.
// A missing provider is not fatal: commands that only read conversations keep working and turns
// report ErrNotInitialized.
func InitializeServices(cfg *config.Config, opts Options) (*Environment, error) {
	env := &Environment{
		Config:   cfg,
		Registry: services.NewRegistry(),
		Factory:  services.NewClientFactoryService(),
		Catalog:  services.NewModelCatalogService(),
	}

	env.Factory.SetBaseURL(cfg.BaseURL)
	if opts.MockClient != nil {
		env.Factory.SetMockClient(opts.MockClient)
	}
	if err := env.Registry.RegisterService(env.Factory); err != nil {
		return nil, err
	}
	if err := env.Registry.RegisterService(env.Catalog); err != nil {
		return nil, err
	}
	if err := env.Registry.InitializeAll(); err != nil {
		return nil, err
	}
	if _, err := env.Catalog.GetModelByID(cfg.Model); err != nil && cfg.Provider != services.ProviderCompatible {
		logger.Debug("Model not in catalog", "provider", cfg.Provider, "model", cfg.Model)
	}

	client, err := resolveClient(cfg, env.Factory)
	if err != nil {
		logger.Warn("No provider client available", "provider", cfg.Provider, "error", err)
		env.ProviderErr = err
	}

	engineOpts := []workflow.Option{workflow.WithStagePolicy(cfg.Policy())}
	if cfg.MaxHistoryTokens > 0 {
		budget := tokens.NewBudget(tokens.NewCounterForModel(cfg.Model), cfg.MaxHistoryTokens)
		engineOpts = append(engineOpts, workflow.WithHistoryTrimmer(budget))
	}
	env.Engine = workflow.NewEngine(client, cfg.ModelConfig(), engineOpts...)

	env.Store = opts.Store
	if env.Store == nil {
		env.Store, err = store.Open(cfg.Store, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation store: %w", err)
		}
	}

	env.Conversations = conversation.NewService(env.Store, env.Engine)
	if err := env.Registry.RegisterService(env.Conversations); err != nil {
		_ = env.Store.Close()
		return nil, err
	}
	if err := env.Conversations.Initialize(); err != nil {
		_ = env.Store.Close()
		return nil, err
	}

	env.Renderer, err = render.New(render.Options{Color: cfg.Color})
	if err != nil {
		_ = env.Store.Close()
		return nil, err
	}

	logger.Debug("Services initialized", "services", env.Registry.Names(), "store", cfg.Store, "policy", cfg.Policy(), "clients", env.Factory.GetCachedClientCount())
	return env, nil
}

func resolveClient(cfg *config.Config, factory *services.ClientFactoryService) (flowtypes.LLMClient, error) {
	apiKey, err := factory.DetermineAPIKeyForProvider(cfg.Provider, cfg.LookupKey)
	if err != nil {
		return nil, err
	}
	return factory.GetClientForProvider(cfg.Provider, apiKey)
}

// Close releases the store.
func (e *Environment) Close() error {
	if e.Store == nil {
		return nil
	}
	return e.Store.Close()
}
