// Package workers contains the per-jobType handlers behind the worker's
// dispatch endpoint. Every handler is idempotent or idempotency-guarded:
// the queue delivers at least once, the handlers make that at most one
// effect.
package workers

import (
	"github.com/ternarybob/arbor"

	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/common"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/interfaces"
	"github.com/pkrish5/xfund-deal-diligence-pipeline/internal/services/markdown"
)

// Handlers bundles the dependencies every job handler draws from.
type Handlers struct {
	config   *common.Config
	storage  interfaces.StorageManager
	queue    interfaces.Queue
	calendar interfaces.CalendarClient
	tasks    interfaces.TasksClient
	docs     interfaces.DocsClient
	llm      interfaces.LLMProvider
	markdown *markdown.Translator
	logger   arbor.ILogger
}

// NewHandlers creates the handler set.
func NewHandlers(
	config *common.Config,
	storage interfaces.StorageManager,
	queue interfaces.Queue,
	calendarClient interfaces.CalendarClient,
	tasksClient interfaces.TasksClient,
	docsClient interfaces.DocsClient,
	llmProvider interfaces.LLMProvider,
	logger arbor.ILogger,
) *Handlers {
	return &Handlers{
		config:   config,
		storage:  storage,
		queue:    queue,
		calendar: calendarClient,
		tasks:    tasksClient,
		docs:     docsClient,
		llm:      llmProvider,
		markdown: markdown.NewTranslator(),
		logger:   logger,
	}
}
