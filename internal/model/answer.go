package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ErrAnswerShape is returned when a submitted answer cannot be read as the
// question's type.
var ErrAnswerShape = errors.New("answer does not fit question type")

// Answer is a normalized candidate answer. Exactly one field is set for a
// present answer; the zero value means "no answer".
type Answer struct {
	OptionIDs []string `json:"option_ids,omitempty"`
	Text      *string  `json:"text,omitempty"`
	Numeric   *float64 `json:"numeric,omitempty"`
}

// IsEmpty reports whether no answer is present.
func (a Answer) IsEmpty() bool {
	return len(a.OptionIDs) == 0 && a.Text == nil && a.Numeric == nil
}

// Equal reports whether two normalized answers are identical.
func (a Answer) Equal(b Answer) bool {
	if !slices.Equal(a.OptionIDs, b.OptionIDs) {
		return false
	}
	if (a.Text == nil) != (b.Text == nil) || (a.Text != nil && *a.Text != *b.Text) {
		return false
	}
	if (a.Numeric == nil) != (b.Numeric == nil) || (a.Numeric != nil && *a.Numeric != *b.Numeric) {
		return false
	}
	return true
}

// NormalizeAnswer reads a raw client value (string, list of strings, number,
// null) into the canonical Answer for the question type. Empty values
// normalize to the zero Answer so they clear a previous response.
func NormalizeAnswer(qt QuestionType, raw json.RawMessage) (Answer, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Answer{}, nil
	}

	switch qt {
	case QuestionTypeSingleCorrect:
		ids, err := decodeOptionIDs(trimmed)
		if err != nil {
			return Answer{}, err
		}
		if len(ids) > 1 {
			return Answer{}, fmt.Errorf("%w: single-correct takes one option", ErrAnswerShape)
		}
		return Answer{OptionIDs: ids}, nil

	case QuestionTypeMultiCorrect:
		ids, err := decodeOptionIDs(trimmed)
		if err != nil {
			return Answer{}, err
		}
		slices.Sort(ids)
		return Answer{OptionIDs: slices.Compact(ids)}, nil

	case QuestionTypeFreeText:
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return Answer{}, fmt.Errorf("%w: expected text", ErrAnswerShape)
		}
		if strings.TrimSpace(s) == "" {
			return Answer{}, nil
		}
		return Answer{Text: &s}, nil

	case QuestionTypeNumeric:
		var f float64
		if err := json.Unmarshal(trimmed, &f); err != nil {
			var s string
			if err := json.Unmarshal(trimmed, &s); err != nil {
				return Answer{}, fmt.Errorf("%w: expected number", ErrAnswerShape)
			}
			s = strings.TrimSpace(s)
			if s == "" {
				return Answer{}, nil
			}
			if f, err = strconv.ParseFloat(s, 64); err != nil {
				return Answer{}, fmt.Errorf("%w: expected number", ErrAnswerShape)
			}
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return Answer{}, fmt.Errorf("%w: number out of range", ErrAnswerShape)
		}
		return Answer{Numeric: &f}, nil
	}

	return Answer{}, ErrInvalidQuestionType
}

func decodeOptionIDs(raw []byte) ([]string, error) {
	var list []string
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil, fmt.Errorf("%w: expected option id", ErrAnswerShape)
		}
		list = []string{s}
	} else if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("%w: expected option ids", ErrAnswerShape)
	}

	ids := make([]string, 0, len(list))
	for _, id := range list {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return ids, nil
}
