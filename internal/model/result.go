package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionOutcome classifies a scored question.
type QuestionOutcome string

const (
	OutcomeCorrect    QuestionOutcome = "CORRECT"
	OutcomeIncorrect  QuestionOutcome = "INCORRECT"
	OutcomeUnanswered QuestionOutcome = "UNANSWERED"
)

// QuestionResult is the graded outcome of one question.
type QuestionResult struct {
	QuestionID   uuid.UUID       `json:"question_id"`
	SectionKey   string          `json:"section_key"`
	Outcome      QuestionOutcome `json:"outcome"`
	MarksAwarded float64         `json:"marks_awarded"`
}

// SectionResult aggregates one section's questions.
type SectionResult struct {
	SectionKey       string  `json:"section_key"`
	TotalQuestions   int     `json:"total_questions"`
	Answered         int     `json:"answered"`
	Correct          int     `json:"correct"`
	Incorrect        int     `json:"incorrect"`
	NotAnswered      int     `json:"not_answered"`
	Score            float64 `json:"score"`
	MaxScore         float64 `json:"max_score"`
	TimeSpentSeconds int     `json:"time_spent_seconds"`
}

// Result is the frozen scoring output stored on a finalized attempt.
type Result struct {
	TotalScore       float64          `json:"total_score"`
	MaxScore         float64          `json:"max_score"`
	TimeTakenSeconds int              `json:"time_taken_seconds"`
	Sections         []SectionResult  `json:"sections"`
	Questions        []QuestionResult `json:"questions"`
	ScoredAt         time.Time        `json:"scored_at"`
}

// AttemptRanking is the rank and percentile a finalized attempt holds among
// all finalized attempts of the same test.
type AttemptRanking struct {
	AttemptID  uuid.UUID `json:"attempt_id"`
	Rank       int       `json:"rank"`
	Percentile float64   `json:"percentile"`
}

// LeaderboardEntry is one row of a test's leaderboard.
type LeaderboardEntry struct {
	Rank       int       `json:"rank"`
	AttemptID  uuid.UUID `json:"attempt_id"`
	UserID     string    `json:"user_id,omitempty"`
	TotalScore float64   `json:"total_score"`
}
