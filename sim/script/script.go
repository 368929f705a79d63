// Package script runs YAML protocol scripts: named client processes, each a
// sequence of droplet operations, executed concurrently against one manager.
package script

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Script is the top-level protocol document.
// Loaded from YAML via LoadScript(path).
type Script struct {
	Version   string        `yaml:"version"`
	Board     string        `yaml:"board,omitempty"` // path to a board description; empty means the caller's grid
	Processes []ProcessSpec `yaml:"processes"`
}

// ProcessSpec is one client and its ordered steps.
type ProcessSpec struct {
	Name  string `yaml:"name"`
	Steps []Step `yaml:"steps"`
}

// Step is one operation. Every key besides op and as is an operation parameter.
type Step struct {
	Op     string         `yaml:"op"`
	As     string         `yaml:"as,omitempty"` // name bound to the step's output droplet
	Params map[string]any `yaml:",inline"`
}

var validVersions = map[string]bool{
	"":  true,
	"1": true,
}

// LoadScript reads and strictly decodes a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return ParseScript(bytes.NewReader(data))
}

// ParseScript strictly decodes a script document.
func ParseScript(r io.Reader) (*Script, error) {
	var s Script
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	return &s, nil
}

// Validate checks ops, parameters and that every droplet name is bound
// by an earlier step of the same process.
func (s *Script) Validate() error {
	if !validVersions[s.Version] {
		return fmt.Errorf("unknown script version %q; valid: 1", s.Version)
	}
	if len(s.Processes) == 0 {
		return fmt.Errorf("at least one process required")
	}
	seen := make(map[string]bool, len(s.Processes))
	for i, p := range s.Processes {
		if p.Name == "" {
			return fmt.Errorf("process[%d]: name required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("process[%d]: duplicate name %q", i, p.Name)
		}
		seen[p.Name] = true
		if err := validateProcess(&p); err != nil {
			return err
		}
	}
	return nil
}

func validateProcess(p *ProcessSpec) error {
	bound := make(map[string]bool)
	for i, step := range p.Steps {
		prefix := fmt.Sprintf("process %q step %d (%s)", p.Name, i, step.Op)
		op, err := compile(step)
		if err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		for _, name := range op.uses() {
			if !bound[name] {
				return fmt.Errorf("%s: droplet %q is not bound by an earlier step", prefix, name)
			}
			// Every op that names a droplet consumes it.
			delete(bound, name)
		}
		for _, name := range op.binds(step.As) {
			bound[name] = true
		}
	}
	return nil
}
