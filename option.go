package kgrader

import (
	"io"
	"log/slog"

	"github.com/viant/afs"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/installer"
	"github.com/viant/kgrader/service/messaging"
	"github.com/viant/kgrader/service/orchestrator"
	"github.com/viant/kgrader/service/testrun"
)

// Option customises a Service.
type Option func(s *Service)

// WithLogger sets the operator logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithResults sets the results log instead of opening the results file.
func WithResults(logger *slog.Logger) Option {
	return func(s *Service) { s.results = logger }
}

// WithConsole sets where the final summary table is printed.
func WithConsole(w io.Writer) Option {
	return func(s *Service) { s.console = w }
}

// WithFS sets the storage service used by the durable stores.
func WithFS(fs afs.Service) Option {
	return func(s *Service) { s.fs = fs }
}

// WithInstaller replaces the shell installer.
func WithInstaller(inst installer.Installer) Option {
	return func(s *Service) { s.installer = inst }
}

// WithModules replaces the shell module loader handed to suites.
func WithModules(modules installer.Modules) Option {
	return func(s *Service) { s.modules = modules }
}

// WithExtractor replaces the archive extractor.
func WithExtractor(extractor orchestrator.Extractor) Option {
	return func(s *Service) { s.extractor = extractor }
}

// WithQueue sets the durable submission queue
func WithQueue(queue messaging.Durable[model.SubmissionRef]) Option {
	return func(s *Service) { s.durable = queue }
}

// WithStores replaces the file stores.
func WithStores(stores orchestrator.Stores) Option {
	return func(s *Service) { s.stores = &stores }
}

// WithPrompt sets the operator abort prompt; nil disables it.
func WithPrompt(prompt orchestrator.Prompt) Option {
	return func(s *Service) {
		s.prompt = prompt
		s.promptSet = true
	}
}

// WithRunner replaces the case runner.
func WithRunner(runner testrun.CaseRunner) Option {
	return func(s *Service) { s.runner = runner }
}

// WithTracing enables span export to file, or stderr when file is empty.
func WithTracing(file string) Option {
	return func(s *Service) {
		s.tracing = true
		s.traceFile = file
	}
}
