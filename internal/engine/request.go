package engine

import (
	"errors"
	"fmt"
	"maps"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/seantiz/drafter/internal/model"
	"github.com/seantiz/drafter/internal/render"
	"github.com/seantiz/drafter/internal/sandbox"
)

// DefaultFilename is used when a payload names no artifact.
const DefaultFilename = "diagram"

// ErrInvalidRequest is returned by NewExecutionRequest for malformed input.
var ErrInvalidRequest = errors.New("invalid execution request")

// ExecutionRequest is a validated request. It is passed by value and never
// mutated after construction.
type ExecutionRequest struct {
	Payload   sandbox.Payload
	Timeout   time.Duration
	Workdir   string
	Isolation string
}

// NewExecutionRequest validates its inputs and builds a request. An empty
// filename becomes DefaultFilename, an empty format png and an empty
// isolation auto.
func NewExecutionRequest(p sandbox.Payload, timeoutSeconds float64, workdir, isolation string) (ExecutionRequest, error) {
	if math.IsNaN(timeoutSeconds) || math.IsInf(timeoutSeconds, 0) || timeoutSeconds <= 0 {
		return ExecutionRequest{}, fmt.Errorf("%w: timeout must be a positive number of seconds, got %v", ErrInvalidRequest, timeoutSeconds)
	}
	timeout := time.Duration(timeoutSeconds * float64(time.Second))
	if timeout <= 0 {
		return ExecutionRequest{}, fmt.Errorf("%w: timeout %vs is too small", ErrInvalidRequest, timeoutSeconds)
	}

	if !filepath.IsAbs(workdir) {
		return ExecutionRequest{}, fmt.Errorf("%w: workdir %q must be an absolute path", ErrInvalidRequest, workdir)
	}
	if p.Runtime == "" {
		return ExecutionRequest{}, fmt.Errorf("%w: runtime is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(p.Code) == "" && len(p.CodeArchive) == 0 {
		return ExecutionRequest{}, fmt.Errorf("%w: code is required", ErrInvalidRequest)
	}

	if p.Filename == "" {
		p.Filename = DefaultFilename
	}
	if err := validateFilename(p.Filename); err != nil {
		return ExecutionRequest{}, err
	}
	if p.Format == "" {
		p.Format = model.FormatPNG
	}
	if !render.IsSupportedFormat(p.Format) {
		return ExecutionRequest{}, fmt.Errorf("%w: unsupported format %q", ErrInvalidRequest, p.Format)
	}

	switch isolation {
	case "":
		isolation = model.IsolationAuto
	case model.IsolationAuto, model.IsolationProcess, model.IsolationThread:
	default:
		return ExecutionRequest{}, fmt.Errorf("%w: unknown isolation %q", ErrInvalidRequest, isolation)
	}

	for k := range p.Env {
		if err := validateEnvKey(k); err != nil {
			return ExecutionRequest{}, err
		}
	}
	p.Env = maps.Clone(p.Env)
	if len(p.CodeArchive) > 0 {
		p.CodeArchive = append([]byte(nil), p.CodeArchive...)
	}

	return ExecutionRequest{
		Payload:   p,
		Timeout:   timeout,
		Workdir:   filepath.Clean(workdir),
		Isolation: isolation,
	}, nil
}

// validateFilename accepts a plain base name with no extension-only or
// directory components.
func validateFilename(name string) error {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return fmt.Errorf("%w: filename %q must be a plain file name", ErrInvalidRequest, name)
	}
	if strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: filename contains a NUL byte", ErrInvalidRequest)
	}
	return nil
}

func validateEnvKey(k string) error {
	if k == "" || strings.ContainsAny(k, "=\x00") {
		return fmt.Errorf("%w: invalid env name %q", ErrInvalidRequest, k)
	}
	if strings.HasPrefix(k, sandbox.ReservedEnvPrefix) {
		return fmt.Errorf("%w: env name %q uses the reserved %s prefix", ErrInvalidRequest, k, sandbox.ReservedEnvPrefix)
	}
	return nil
}
