// Package ingest turns authored YAML test papers into model.TestPaper.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/stemsi/exstem-engine/internal/model"
)

var ErrMissingID = errors.New("test paper needs an id")

// PaperFile is the authored shape of a test paper.
type PaperFile struct {
	ID           string             `yaml:"id"`
	SeriesID     string             `yaml:"series_id"`
	Title        string             `yaml:"title"`
	Status       model.TestStatus   `yaml:"status"`
	Access       model.AccessMode   `yaml:"access"`
	Instructions model.Instructions `yaml:"instructions"`
	Sections     []SectionFile      `yaml:"sections"`
	Questions    []QuestionFile     `yaml:"questions"`
}

type SectionFile struct {
	Key             string   `yaml:"key"`
	Title           string   `yaml:"title"`
	DurationSeconds int      `yaml:"duration_seconds"`
	QuestionIDs     []string `yaml:"question_ids"`
}

type QuestionFile struct {
	ID          string             `yaml:"id"`
	Section     string             `yaml:"section"`
	Type        model.QuestionType `yaml:"type"`
	Text        string             `yaml:"text"`
	Options     []OptionFile       `yaml:"options"`
	Answer      model.AnswerKey    `yaml:"answer"`
	Marks       model.Marks        `yaml:"marks"`
	Explanation string             `yaml:"explanation"`
}

type OptionFile struct {
	ID   string `yaml:"id" json:"id"`
	Text string `yaml:"text" json:"text"`
}

// Decode reads one YAML test paper. Unknown keys are rejected so typos in
// authored files surface at import time.
func Decode(r io.Reader) (*PaperFile, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f PaperFile
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &f, nil
}

// Parse is Decode over a byte slice.
func Parse(data []byte) (*PaperFile, error) {
	return Decode(bytes.NewReader(data))
}

// ToTestPaper builds the stored test paper. Question ids that are not UUIDs
// ("q1") are mapped to stable UUIDs derived from the test id, so a re-import
// of the same file yields the same ids. The result is validated after
// tagged questions join their sections.
func (f *PaperFile) ToTestPaper() (*model.TestPaper, error) {
	if strings.TrimSpace(f.ID) == "" {
		return nil, ErrMissingID
	}
	testID, err := uuid.Parse(f.ID)
	if err != nil {
		testID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("exstem:test:"+f.ID))
	}

	t := &model.TestPaper{
		ID:           testID,
		Title:        f.Title,
		Status:       f.Status,
		Access:       f.Access,
		Instructions: f.Instructions,
	}
	if t.Status == "" {
		t.Status = model.TestStatusDraft
	}
	if t.Access == "" {
		t.Access = model.AccessOpen
	}
	if f.SeriesID != "" {
		sid, err := uuid.Parse(f.SeriesID)
		if err != nil {
			return nil, fmt.Errorf("series_id: %w", err)
		}
		t.SeriesID = &sid
	}

	resolve := func(ref string) uuid.UUID {
		if id, err := uuid.Parse(ref); err == nil {
			return id
		}
		return uuid.NewSHA1(testID, []byte(ref))
	}

	for i, qf := range f.Questions {
		if qf.ID == "" {
			return nil, fmt.Errorf("question %d: missing id", i+1)
		}
		q := model.Question{
			ID:           resolve(qf.ID),
			SectionKey:   qf.Section,
			QuestionType: model.QuestionType(strings.ToUpper(string(qf.Type))),
			QuestionText: qf.Text,
			Answer:       qf.Answer,
			Marks:        qf.Marks,
			Explanation:  qf.Explanation,
			OrderNum:     i + 1,
		}
		if len(qf.Options) > 0 {
			raw, err := json.Marshal(qf.Options)
			if err != nil {
				return nil, fmt.Errorf("question %s options: %w", qf.ID, err)
			}
			q.Options = raw
		}
		t.Questions = append(t.Questions, q)
	}

	for _, sf := range f.Sections {
		s := model.Section{Key: sf.Key, Title: sf.Title, DurationSeconds: sf.DurationSeconds}
		for _, ref := range sf.QuestionIDs {
			s.QuestionIDs = append(s.QuestionIDs, resolve(ref))
		}
		t.Sections = append(t.Sections, s)
	}

	t.AssignTaggedQuestions()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}
