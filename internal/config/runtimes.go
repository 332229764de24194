package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/drafter/internal/sandbox"
)

// runtimesFile is the YAML layout of DRAFTER_RUNTIMES_FILE:
//
//	runtimes:
//	  python:
//	    bin: /usr/bin/python3
//	    args: ["-u", "{entrypoint}"]
//	    entrypoint: diagram.py
type runtimesFile struct {
	Runtimes map[string]sandbox.RuntimeCommand `yaml:"runtimes"`
}

// LoadRuntimes reads a runtime table from a YAML file.
func LoadRuntimes(path string) (map[string]sandbox.RuntimeCommand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read runtimes file: %w", err)
	}
	var f runtimesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse runtimes file %s: %w", path, err)
	}
	for name, rc := range f.Runtimes {
		if rc.Bin == "" {
			return nil, fmt.Errorf("runtime %q: bin is required", name)
		}
		if rc.Entrypoint == "" || filepath.Base(rc.Entrypoint) != rc.Entrypoint {
			return nil, fmt.Errorf("runtime %q: entrypoint must be a plain file name, got %q", name, rc.Entrypoint)
		}
		if len(rc.Args) == 0 {
			rc.Args = []string{"{entrypoint}"}
			f.Runtimes[name] = rc
		}
	}
	return f.Runtimes, nil
}
