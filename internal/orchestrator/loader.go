package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/AaronLay10/OverlayEngine/internal/animation"
)

// LoadProcedures loads a procedure library from a JSON file.
func LoadProcedures(path string) (*ProcedureSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read procedure file: %w", err)
	}
	return ParseProcedures(data)
}

// ParseProcedures decodes and checks a procedure library. Every
// animation name must be known so that no step can fail mapping later.
func ParseProcedures(data []byte) (*ProcedureSet, error) {
	var ps ProcedureSet
	if err := json.Unmarshal(data, &ps); err != nil {
		return nil, fmt.Errorf("failed to parse procedure JSON: %w", err)
	}

	if ps.Version != 1 {
		return nil, fmt.Errorf("unsupported procedure file version: %d", ps.Version)
	}

	seen := make(map[string]bool)
	for _, p := range ps.Procedures {
		if p.Name == "" {
			return nil, fmt.Errorf("procedure with empty name")
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate procedure: %s", p.Name)
		}
		seen[p.Name] = true
		if len(p.Steps) == 0 {
			return nil, fmt.Errorf("procedure %s: %w", p.Name, ErrNoSteps)
		}
		for i, s := range p.Steps {
			for _, g := range s.Animations {
				for _, d := range g {
					if !animation.Known(d.Name) {
						return nil, fmt.Errorf("procedure %s step %d: unknown animation %q", p.Name, i, d.Name)
					}
				}
			}
		}
	}

	return &ps, nil
}
