package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// InstructionsKind tags the shape of a test's instructions.
type InstructionsKind string

const (
	InstructionsNone       InstructionsKind = "none"
	InstructionsText       InstructionsKind = "text"
	InstructionsList       InstructionsKind = "list"
	InstructionsStructured InstructionsKind = "structured"
)

// Instructions is the single normalized representation of test instructions.
// Legacy inputs arrive as a bare string, a flat list, or a
// {general, sections} map; all of them are folded into this form when decoded.
type Instructions struct {
	Kind     InstructionsKind    `json:"kind"`
	Text     string              `json:"text,omitempty"`
	Items    []string            `json:"items,omitempty"`
	General  []string            `json:"general,omitempty"`
	Sections map[string][]string `json:"sections,omitempty"`
}

var errInstructionsShape = errors.New("unsupported instructions shape")

type taggedInstructions Instructions

// UnmarshalJSON accepts both the tagged form and the legacy shapes.
func (in *Instructions) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if m, ok := v.(map[string]any); ok {
		if _, tagged := m["kind"]; tagged {
			var t taggedInstructions
			if err := json.Unmarshal(data, &t); err != nil {
				return err
			}
			*in = Instructions(t)
			return nil
		}
	}
	out, err := normalizeInstructions(v)
	if err != nil {
		return err
	}
	*in = out
	return nil
}

// UnmarshalYAML accepts the same legacy shapes from test paper files.
func (in *Instructions) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	out, err := normalizeInstructions(v)
	if err != nil {
		return err
	}
	*in = out
	return nil
}

func normalizeInstructions(v any) (Instructions, error) {
	switch val := v.(type) {
	case nil:
		return Instructions{Kind: InstructionsNone}, nil

	case string:
		if strings.TrimSpace(val) == "" {
			return Instructions{Kind: InstructionsNone}, nil
		}
		return Instructions{Kind: InstructionsText, Text: val}, nil

	case []any:
		items, err := instructionLines(val)
		if err != nil {
			return Instructions{}, err
		}
		if len(items) == 0 {
			return Instructions{Kind: InstructionsNone}, nil
		}
		return Instructions{Kind: InstructionsList, Items: items}, nil

	case map[string]any:
		general, err := instructionLines(val["general"])
		if err != nil {
			return Instructions{}, fmt.Errorf("general: %w", err)
		}
		out := Instructions{Kind: InstructionsStructured, General: general}
		if raw, ok := val["sections"]; ok && raw != nil {
			sections, ok := raw.(map[string]any)
			if !ok {
				return Instructions{}, fmt.Errorf("sections: %w", errInstructionsShape)
			}
			out.Sections = make(map[string][]string, len(sections))
			for key, lines := range sections {
				l, err := instructionLines(lines)
				if err != nil {
					return Instructions{}, fmt.Errorf("sections.%s: %w", key, err)
				}
				out.Sections[key] = l
			}
		}
		if len(out.General) == 0 && len(out.Sections) == 0 {
			return Instructions{Kind: InstructionsNone}, nil
		}
		return out, nil
	}
	return Instructions{}, errInstructionsShape
}

// instructionLines reads a string or list of strings into trimmed lines.
func instructionLines(v any) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if s := strings.TrimSpace(val); s != "" {
			return []string{s}, nil
		}
		return nil, nil
	case []any:
		lines := make([]string, 0, len(val))
		for _, item := range val {
			s, ok := item.(string)
			if !ok {
				return nil, errInstructionsShape
			}
			if s = strings.TrimSpace(s); s != "" {
				lines = append(lines, s)
			}
		}
		return lines, nil
	}
	return nil, errInstructionsShape
}
