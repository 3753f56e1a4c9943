package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionType tags how a question is answered and graded.
type QuestionType string

const (
	QuestionTypeSingleCorrect QuestionType = "SINGLE_CORRECT"
	QuestionTypeMultiCorrect  QuestionType = "MULTI_CORRECT"
	QuestionTypeFreeText      QuestionType = "FREE_TEXT"
	QuestionTypeNumeric       QuestionType = "NUMERIC"
)

// Valid reports whether t is one of the known question types.
func (t QuestionType) Valid() bool {
	switch t {
	case QuestionTypeSingleCorrect, QuestionTypeMultiCorrect, QuestionTypeFreeText, QuestionTypeNumeric:
		return true
	}
	return false
}

// Marks is the scoring configuration of a question. Negative is added on an
// incorrect answer, so it is usually zero or below.
type Marks struct {
	Positive float64 `json:"positive" yaml:"positive"`
	Negative float64 `json:"negative" yaml:"negative"`
}

// AnswerKey holds the type-appropriate correct answer.
type AnswerKey struct {
	OptionIDs []string `json:"option_ids,omitempty" yaml:"option_ids,omitempty"`
	Texts     []string `json:"texts,omitempty" yaml:"texts,omitempty"`
	Numeric   *float64 `json:"numeric,omitempty" yaml:"numeric,omitempty"`
}

// Question represents a single test question, including its answer key.
type Question struct {
	ID           uuid.UUID       `json:"id"`
	SectionKey   string          `json:"section_key,omitempty"`
	QuestionType QuestionType    `json:"question_type"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options,omitempty"`
	Answer       AnswerKey       `json:"answer"`
	Marks        Marks           `json:"marks"`
	Explanation  string          `json:"explanation,omitempty"`
	OrderNum     int             `json:"order_num"`
}

// Validate checks that the answer key fits the question type.
func (q *Question) Validate() error {
	switch q.QuestionType {
	case QuestionTypeSingleCorrect:
		if len(q.Answer.OptionIDs) != 1 {
			return ErrInvalidAnswerKey
		}
	case QuestionTypeMultiCorrect:
		if len(q.Answer.OptionIDs) == 0 {
			return ErrInvalidAnswerKey
		}
	case QuestionTypeFreeText:
		if len(q.Answer.Texts) == 0 {
			return ErrInvalidAnswerKey
		}
	case QuestionTypeNumeric:
		if q.Answer.Numeric == nil {
			return ErrInvalidAnswerKey
		}
	default:
		return ErrInvalidQuestionType
	}
	return nil
}

// QuestionForStudent is a question without the correct answer, sent to candidates.
type QuestionForStudent struct {
	ID           uuid.UUID       `json:"id"`
	SectionKey   string          `json:"section_key,omitempty"`
	QuestionType QuestionType    `json:"question_type"`
	QuestionText string          `json:"question_text"`
	Options      json.RawMessage `json:"options,omitempty"`
	OrderNum     int             `json:"order_num"`
	Marks        Marks           `json:"marks"`
}
