package submission

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/viant/kgrader/model"
)

// SubmittersFile lists the authors of a submission, one id per line.
const SubmittersFile = "submitters.txt"

// Extractor unpacks a submission archive into a working directory.
type Extractor struct {
	fs     afs.Service
	logger *slog.Logger
}

// ExtractorOption customises an Extractor.
type ExtractorOption func(e *Extractor)

// WithExtractorFS sets the storage service.
func WithExtractorFS(fs afs.Service) ExtractorOption {
	return func(e *Extractor) { e.fs = fs }
}

// WithExtractorLogger sets the logger.
func WithExtractorLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) { e.logger = logger }
}

// NewExtractor creates an extractor.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	if e.fs == nil {
		e.fs = afs.New()
	}
	return e
}

// Extract replaces dest with the content of archive and returns the
// submitter identities declared in it. A plain directory is copied as is.
// Without a submitters file the archive base name identifies the submitters.
// Failures are reported as *model.BuildFailure.
func (e *Extractor) Extract(ctx context.Context, archive, dest string) (model.Submitters, error) {
	id := ID(archive)
	source := ArchiveURL(archive)
	dest = url.Normalize(dest, file.Scheme)
	if exists, _ := e.fs.Exists(ctx, dest); exists {
		if err := e.fs.Delete(ctx, dest); err != nil {
			return nil, model.NewInfrastructureError("clean work dir", err)
		}
	}
	if err := e.fs.Copy(ctx, source, dest); err != nil {
		return nil, model.NewBuildFailure(id, "extract", err.Error(), err)
	}
	submitters, err := e.submitters(ctx, dest)
	if err != nil {
		return nil, model.NewBuildFailure(id, "extract", err.Error(), err)
	}
	if len(submitters) == 0 {
		submitters = model.NewSubmitters(Stem(archive))
	}
	e.logger.Info("extracted submission", "submission", id, "dest", dest, "submitters", submitters.Key())
	return submitters, nil
}

// submitters reads the submitters file from dest or from its only sub folder.
func (e *Extractor) submitters(ctx context.Context, dest string) (model.Submitters, error) {
	candidates := []string{url.Join(dest, SubmittersFile)}
	objects, err := e.fs.List(ctx, dest, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dest, err)
	}
	var folders []string
	for _, obj := range objects {
		if obj.IsDir() && !samePath(obj.URL(), dest) {
			folders = append(folders, obj.URL())
		}
	}
	if len(folders) == 1 {
		candidates = append(candidates, url.Join(folders[0], SubmittersFile))
	}
	for _, candidate := range candidates {
		if exists, _ := e.fs.Exists(ctx, candidate); !exists {
			continue
		}
		data, err := e.fs.DownloadWithURL(ctx, candidate)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", candidate, err)
		}
		return ParseSubmitters(data), nil
	}
	return nil, nil
}

// ParseSubmitters reads ids separated by new lines, commas or blanks. Text
// after '#' is ignored.
func ParseSubmitters(data []byte) model.Submitters {
	var ids []string
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		ids = append(ids, strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ';' || r == ' ' || r == '\t'
		})...)
	}
	return model.NewSubmitters(ids...)
}

// ArchiveURL addresses the content of archive so that it can be copied out.
func ArchiveURL(archive string) string {
	location := url.Normalize(archive, file.Scheme)
	switch strings.ToLower(path.Ext(location)) {
	case ".zip":
		return location + "/zip://localhost/"
	case ".tar":
		return location + "/tar://localhost/"
	}
	return location
}

func samePath(a, b string) bool {
	return strings.TrimRight(url.Path(a), "/") == strings.TrimRight(url.Path(b), "/")
}
