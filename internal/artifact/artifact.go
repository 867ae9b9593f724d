// Package artifact writes the values named by a workflow's artifact
// declarations to files, choosing a serializer by file extension.
package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"github.com/me/goflow/internal/expr"
	"github.com/me/goflow/pkg/model"
)

// Materializer resolves artifact expressions and writes them to disk.
type Materializer struct {
	logger *slog.Logger
}

// NewMaterializer creates a Materializer with the given logger.
func NewMaterializer(logger *slog.Logger) *Materializer {
	return &Materializer{logger: logger.With("component", "artifacts")}
}

// Materialize writes every artifact and reports each one independently.
// Relative names are placed under dir; absolute names are used as given.
// A failure on one artifact does not stop the others.
func (m *Materializer) Materialize(ctx context.Context, specs []model.ArtifactSpec, scope *expr.Scope, dir string) []model.ArtifactResult {
	results := make([]model.ArtifactResult, 0, len(specs))
	for _, spec := range specs {
		res := model.ArtifactResult{Name: spec.Name, Expr: spec.Expr.String()}
		if err := ctx.Err(); err != nil {
			res.Error = (&model.ArtifactWriteError{Artifact: spec.Name, Err: err}).Error()
			results = append(results, res)
			continue
		}
		path, n, err := m.write(spec, scope, dir)
		res.Path = path
		res.Bytes = n
		if err != nil {
			res.Error = err.Error()
			m.logger.Error("artifact not written", "artifact", spec.Name, "error", err)
		} else {
			m.logger.Info("artifact written", "artifact", spec.Name, "path", path, "size", humanize.Bytes(uint64(n)))
		}
		results = append(results, res)
	}
	return results
}

func (m *Materializer) write(spec model.ArtifactSpec, scope *expr.Scope, dir string) (string, int64, error) {
	path := spec.Name
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, filepath.FromSlash(spec.Name))
	}
	wrap := func(err error) error {
		return &model.ArtifactWriteError{Artifact: spec.Name, Path: path, Err: err}
	}

	value, err := expr.Resolve(spec.Expr, scope)
	if err != nil {
		return path, 0, wrap(err)
	}
	data, err := Serialize(path, value)
	if err != nil {
		return path, 0, wrap(err)
	}
	if err := WriteFileAtomic(path, data, 0o644); err != nil {
		return path, 0, wrap(err)
	}
	return path, int64(len(data)), nil
}

// WriteFileAtomic writes data to a temporary file in the target directory
// and renames it into place.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
