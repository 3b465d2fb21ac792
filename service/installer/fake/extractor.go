package fake

import (
	"context"
	"fmt"
	"path"
	"sync"

	"github.com/viant/kgrader/model"
)

// Extractor pretends to unpack archives.
type Extractor struct {
	mu sync.Mutex
	// Submitters maps archive base names to the identities they declare.
	Submitters map[string]model.Submitters
	// Failures maps archive base names to extraction errors.
	Failures  map[string]string
	Extracted []string
}

// NewExtractor creates a fake extractor.
func NewExtractor() *Extractor {
	return &Extractor{Submitters: map[string]model.Submitters{}, Failures: map[string]string{}}
}

// Extract records archive and returns its configured submitters.
func (e *Extractor) Extract(_ context.Context, archive, _ string) (model.Submitters, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	name := path.Base(archive)
	e.Extracted = append(e.Extracted, name)
	if diagnostic, ok := e.Failures[name]; ok {
		return nil, model.NewBuildFailure(name, "extract", diagnostic, fmt.Errorf("corrupt archive"))
	}
	return e.Submitters[name], nil
}
