// Package app wires configuration, storage, queue, provider clients and
// handlers into the three runnable services.
package app

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/clients/calendar"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/clients/docs"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/clients/tasks"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/handlers"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/queue"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/server"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/llm"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/scheduler"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/secrets"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/storage"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/workers"
)

// App holds all application components and dependencies.
type App struct {
	Config  *common.Config
	Logger  arbor.ILogger
	Storage interfaces.StorageManager
	Queue   interfaces.Queue
	Secrets *secrets.Cache

	CalendarClient interfaces.CalendarClient
	TasksClient    interfaces.TasksClient
	DocsClient     interfaces.DocsClient
	LLMProvider    interfaces.LLMProvider

	Dispatcher *workers.Dispatcher
	Scheduler  *scheduler.Service

	// HTTP handlers
	CalendarWebhookHandler *handlers.CalendarWebhookHandler
	TasksWebhookHandler    *handlers.TasksWebhookHandler
	WatchHandler           *handlers.WatchHandler
	WebhookAdminHandler    *handlers.TasksWebhookAdminHandler
	HousekeepingHandler    *handlers.HousekeepingHandler
	DispatchHandler        *handlers.DispatchHandler
}

// New constructs the full dependency graph. Every service role shares the
// same graph; the role only decides which listener(s) run.
func New(ctx context.Context, config *common.Config) (*App, error) {
	logger := common.InitLogger(config)

	storageManager, err := storage.NewManager(&config.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	if err := storageManager.Tenants().Ensure(ctx, config.Tenant.ID, "default"); err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to ensure tenant: %w", err)
	}
	if err := SeedSections(ctx, storageManager, config, logger); err != nil {
		storageManager.Close()
		return nil, err
	}

	// Environment wins over the store so local overrides never require a
	// database write.
	secretCache := secrets.NewCache(secrets.ChainSource{
		secrets.EnvSource{},
		secrets.NewStoreSource(storageManager.KV()),
	}, logger)

	jobQueue, err := queue.NewFromConfig(config, logger)
	if err != nil {
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	calendarClient := calendar.NewClient(&config.Calendar, secretCache, logger)
	tasksClient := tasks.NewClient(&config.Tasks, secretCache, logger)
	docsClient := docs.NewClient(&config.Docs, secretCache, logger)

	llmProvider, err := llm.NewProviderFromConfig(ctx, &config.LLM, secretCache, logger)
	if err != nil {
		jobQueue.Close()
		storageManager.Close()
		return nil, fmt.Errorf("failed to initialize LLM provider: %w", err)
	}

	jobHandlers := workers.NewHandlers(config, storageManager, jobQueue,
		calendarClient, tasksClient, docsClient, llmProvider, logger)

	a := &App{
		Config:         config,
		Logger:         logger,
		Storage:        storageManager,
		Queue:          jobQueue,
		Secrets:        secretCache,
		CalendarClient: calendarClient,
		TasksClient:    tasksClient,
		DocsClient:     docsClient,
		LLMProvider:    llmProvider,
		Dispatcher:     workers.NewDispatcher(jobHandlers, logger),
	}

	a.CalendarWebhookHandler = handlers.NewCalendarWebhookHandler(config, storageManager, jobQueue, logger)
	a.TasksWebhookHandler = handlers.NewTasksWebhookHandler(config, storageManager, jobQueue, logger)
	a.WatchHandler = handlers.NewWatchHandler(config, storageManager, calendarClient, logger)
	a.WebhookAdminHandler = handlers.NewTasksWebhookAdminHandler(config, storageManager, tasksClient, logger)
	a.HousekeepingHandler = handlers.NewHousekeepingHandler(storageManager, jobQueue, logger)
	a.DispatchHandler = handlers.NewDispatchHandler(a.Dispatcher, logger)

	a.Scheduler = scheduler.NewService(config, storageManager, a.WatchHandler, a.HousekeepingHandler, logger)

	return a, nil
}

// Servers builds the HTTP listeners for the requested role: "ingress",
// "admin", "worker" or "all".
func (a *App) Servers(role string) ([]*server.Server, error) {
	var out []*server.Server
	if role == "ingress" || role == "all" {
		routes := server.IngressRoutes(a.CalendarWebhookHandler, a.TasksWebhookHandler)
		out = append(out, server.New("ingress", a.Config.Ingress.Host, a.Config.Ingress.Port, routes, a.Logger))
	}
	if role == "admin" || role == "all" {
		routes := server.AdminRoutes(a.WatchHandler, a.WebhookAdminHandler, a.HousekeepingHandler)
		out = append(out, server.New("admin", a.Config.Admin.Host, a.Config.Admin.Port, routes, a.Logger))
	}
	if role == "worker" || role == "all" {
		routes := server.WorkerRoutes(a.DispatchHandler)
		out = append(out, server.New("worker", a.Config.Worker.Host, a.Config.Worker.Port, routes, a.Logger))
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("unknown service role %q (want ingress, admin, worker or all)", role)
	}
	return out, nil
}

// RunsScheduler reports whether the role carries the admin cron entries.
func RunsScheduler(role string) bool {
	return role == "admin" || role == "all"
}

// Close releases every component in reverse dependency order.
func (a *App) Close() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.LLMProvider != nil {
		if err := a.LLMProvider.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("LLM provider close failed")
		}
	}
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue close failed")
		}
	}
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Storage close failed")
		}
	}
}
