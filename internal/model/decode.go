package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// AnimationGroups is an ordered list of groups; the descriptors of one
// group run in parallel and groups run one after another.
//
// Older step data stored a single descriptor object or a flat descriptor
// array. Both decode into a single group.
type AnimationGroups [][]Descriptor

// UnmarshalJSON accepts null, an object, a flat array or an array of arrays.
func (g *AnimationGroups) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*g = nil
		return nil
	}

	switch data[0] {
	case '{':
		var d Descriptor
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("animation object: %w", err)
		}
		*g = AnimationGroups{{d}}
		return nil
	case '[':
	default:
		return fmt.Errorf("animations: unexpected JSON token %q", data[0])
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("animations: %w", err)
	}
	if len(raw) == 0 {
		*g = nil
		return nil
	}

	first := bytes.TrimSpace(raw[0])
	if len(first) > 0 && first[0] == '{' {
		var flat []Descriptor
		if err := json.Unmarshal(data, &flat); err != nil {
			return fmt.Errorf("animation list: %w", err)
		}
		*g = AnimationGroups{flat}
		return nil
	}

	var groups [][]Descriptor
	if err := json.Unmarshal(data, &groups); err != nil {
		return fmt.Errorf("animation groups: %w", err)
	}
	out := groups[:0]
	for _, grp := range groups {
		if len(grp) > 0 {
			out = append(out, grp)
		}
	}
	*g = out
	return nil
}

// Len returns the total number of descriptors across groups.
func (g AnimationGroups) Len() int {
	n := 0
	for _, grp := range g {
		n += len(grp)
	}
	return n
}
