package orchestrator

import "github.com/AaronLay10/OverlayEngine/internal/model"

// ProcedureSet is the top-level container of a procedure library file.
type ProcedureSet struct {
	Version    int               `json:"version"`
	Procedures []model.Procedure `json:"procedures"`
}

// Find returns the procedure with the given name.
func (s *ProcedureSet) Find(name string) (*model.Procedure, bool) {
	for i := range s.Procedures {
		if s.Procedures[i].Name == name {
			return &s.Procedures[i], true
		}
	}
	return nil, false
}

// Names lists procedure names in file order.
func (s *ProcedureSet) Names() []string {
	names := make([]string, 0, len(s.Procedures))
	for _, p := range s.Procedures {
		names = append(names, p.Name)
	}
	return names
}
