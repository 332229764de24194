// Package artifact publishes the artifacts of successful executions.
package artifact

import (
	"context"
	"mime"
	"path/filepath"
)

// Sink receives the artifact of an ok execution.
type Sink interface {
	// Name identifies the sink in capability listings.
	Name() string
	// Publish stores the file at path under executionID and returns its
	// location, or "" if the artifact stays local only.
	Publish(ctx context.Context, executionID, path string) (string, error)
}

// LocalSink leaves artifacts in their workdir.
type LocalSink struct{}

// Compile-time interface satisfaction check.
var _ Sink = LocalSink{}

// Name returns "local".
func (LocalSink) Name() string { return "local" }

// Publish does nothing.
func (LocalSink) Publish(context.Context, string, string) (string, error) {
	return "", nil
}

// ContentType returns the MIME type for an artifact path.
func ContentType(path string) string {
	switch filepath.Ext(path) {
	case ".dot":
		return "text/vnd.graphviz"
	case ".pdf":
		return "application/pdf"
	}
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
