package render

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SupportedFormats lists the artifact formats Render accepts.
var SupportedFormats = []string{"png", "pdf", "dot"}

// IsSupportedFormat reports whether format can be rendered.
func IsSupportedFormat(format string) bool {
	for _, f := range SupportedFormats {
		if f == format {
			return true
		}
	}
	return false
}

// Render validates g and writes it to path in the given format. The file is
// written to a sibling temp file first so a failed render never leaves a
// truncated artifact behind.
func Render(g *Graph, format, path string) error {
	if err := g.Validate(); err != nil {
		return fmt.Errorf("invalid diagram: %w", err)
	}

	var write func(*Graph, string) error
	switch strings.ToLower(format) {
	case "png":
		write = writePNG
	case "pdf":
		write = writePDF
	case "dot":
		write = writeDOT
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := write(g, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("render %s: %w", format, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("move artifact into place: %w", err)
	}
	return nil
}
