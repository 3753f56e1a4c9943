//go:build e2e
// +build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/stemsi/exstem-engine/internal/config"
	"github.com/stemsi/exstem-engine/internal/model"
	"github.com/stemsi/exstem-engine/internal/repository"
	"github.com/stemsi/exstem-engine/internal/service"
)

const (
	defaultBaseURL = "http://localhost:8080/api/v1/candidate"
	candidateID    = "e2e-candidate"
)

var (
	baseURL        string
	candidateToken string
	testID         uuid.UUID
	qPhysics       uuid.UUID
	qChem          uuid.UUID
	attemptID      string
)

func TestMain(m *testing.M) {
	// Load .env if present (ignore error)
	_ = godotenv.Load("../../.env")

	baseURL = os.Getenv("BASE_URL")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	if err := seed(); err != nil {
		fmt.Printf("Setup failed: %v\n", err)
		os.Exit(1)
	}

	os.Exit(m.Run())
}

// seed writes a fresh two-section paper straight into Postgres and mints a
// candidate token with the server's secret.
func seed() error {
	ctx := context.Background()
	cfg := config.Load()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, `DELETE FROM attempts WHERE user_id = $1`, candidateID); err != nil {
		return fmt.Errorf("cleanup attempts: %w", err)
	}

	qPhysics, qChem = uuid.New(), uuid.New()
	answer := 9.8
	paper := &model.TestPaper{
		ID:           uuid.New(),
		Title:        "E2E Mock",
		Status:       model.TestStatusPublished,
		Access:       model.AccessOpen,
		Instructions: model.Instructions{Kind: model.InstructionsText, Text: "Two sections, ten minutes each."},
		Sections: []model.Section{
			{Key: "physics", DurationSeconds: 600, QuestionIDs: []uuid.UUID{qPhysics}},
			{Key: "chemistry", DurationSeconds: 600, QuestionIDs: []uuid.UUID{qChem}},
		},
		Questions: []model.Question{
			{ID: qPhysics, QuestionType: model.QuestionTypeNumeric, QuestionText: "g in m/s^2",
				Answer: model.AnswerKey{Numeric: &answer}, Marks: model.Marks{Positive: 4, Negative: -1}},
			{ID: qChem, QuestionType: model.QuestionTypeFreeText, QuestionText: "Symbol for sodium",
				Answer: model.AnswerKey{Texts: []string{"Na"}}, Marks: model.Marks{Positive: 4}},
		},
	}
	if err := paper.Validate(); err != nil {
		return fmt.Errorf("validate paper: %w", err)
	}
	if err := repository.NewTestRepository(pool).UpsertTest(ctx, paper); err != nil {
		return fmt.Errorf("insert paper: %w", err)
	}
	testID = paper.ID

	candidateToken, err = service.NewAuthService(cfg).GenerateCandidateToken(candidateID, time.Hour)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	return nil
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func TestE2EFlow(t *testing.T) {
	// Step 1: Start
	t.Run("StartAttempt", func(t *testing.T) {
		resp, err := send(http.MethodPost, "/tests/"+testID.String()+"/attempts", nil, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
		var body struct {
			Data struct {
				Attempt model.Attempt `json:"attempt"`
			} `json:"data"`
		}
		decodeJSON(t, resp, &body)
		attemptID = body.Data.Attempt.ID.String()
		if body.Data.Attempt.CurrentSectionKey != "physics" {
			t.Fatalf("expected first section active, got %q", body.Data.Attempt.CurrentSectionKey)
		}
	})

	// Step 1b: Start again resumes
	t.Run("ResumeAttempt", func(t *testing.T) {
		resp, err := send(http.MethodPost, "/tests/"+testID.String()+"/attempts", nil, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 2: Save in the active section
	t.Run("SaveResponse", func(t *testing.T) {
		resp, err := send(http.MethodPut, "/attempts/"+attemptID+"/responses", map[string]interface{}{
			"question_id":     qPhysics.String(),
			"selected_answer": 9.8,
		}, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 2b: A section that has not started rejects writes
	t.Run("SaveIntoLockedSection", func(t *testing.T) {
		resp, err := send(http.MethodPut, "/attempts/"+attemptID+"/responses", map[string]interface{}{
			"question_id":     qChem.String(),
			"selected_answer": "Na",
		}, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()

		var body envelope
		decodeJSON(t, resp, &body)
		if resp.StatusCode != http.StatusConflict || body.Error == nil || body.Error.Code != "SECTION_LOCKED" {
			t.Fatalf("expected SECTION_LOCKED, got %d %+v", resp.StatusCode, body.Error)
		}
	})

	// Step 3: Heartbeat
	t.Run("Sync", func(t *testing.T) {
		resp, err := send(http.MethodPost, "/attempts/"+attemptID+"/sync", map[string]interface{}{
			"position":       map[string]interface{}{"section_key": "physics", "question_index": 0},
			"section_states": []map[string]interface{}{{"section_key": "physics", "remaining_seconds": 590}},
		}, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 4: Move on, answer, finish
	t.Run("TransitionAndAnswer", func(t *testing.T) {
		resp, err := send(http.MethodPost, "/attempts/"+attemptID+"/transition", map[string]interface{}{
			"from_section_key": "physics", "to_section_key": "chemistry",
		}, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("transition status %d", resp.StatusCode)
		}

		resp, err = send(http.MethodPut, "/attempts/"+attemptID+"/responses", map[string]interface{}{
			"question_id": qChem.String(), "selected_answer": "na",
		}, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 5: Submit, twice
	t.Run("Submit", func(t *testing.T) {
		for i, wantAlready := range []bool{false, true} {
			resp, err := send(http.MethodPost, "/attempts/"+attemptID+"/submit", nil, candidateToken)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			var body struct {
				Data struct {
					Result           model.Result `json:"result"`
					AlreadySubmitted bool         `json:"already_submitted"`
				} `json:"data"`
			}
			decodeJSON(t, resp, &body)
			resp.Body.Close()

			if body.Data.AlreadySubmitted != wantAlready {
				t.Fatalf("submit #%d: already_submitted = %v", i+1, body.Data.AlreadySubmitted)
			}
			if body.Data.Result.TotalScore != 8 {
				t.Fatalf("submit #%d: total score %v, want 8", i+1, body.Data.Result.TotalScore)
			}
		}
	})

	// Step 6: Review
	t.Run("Review", func(t *testing.T) {
		resp, err := send(http.MethodGet, "/attempts/"+attemptID+"/review", nil, candidateToken)
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status %d: %s", resp.StatusCode, readBody(resp))
		}
	})

	// Step 7: Leaderboard eventually lists the attempt
	t.Run("Leaderboard", func(t *testing.T) {
		deadline := time.Now().Add(10 * time.Second)
		for {
			resp, err := send(http.MethodGet, "/tests/"+testID.String()+"/leaderboard", nil, candidateToken)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			var body struct {
				Data struct {
					Entries []model.LeaderboardEntry `json:"entries"`
				} `json:"data"`
			}
			decodeJSON(t, resp, &body)
			resp.Body.Close()

			if len(body.Data.Entries) > 0 && body.Data.Entries[0].AttemptID.String() == attemptID {
				return
			}
			if time.Now().After(deadline) {
				t.Fatalf("attempt never reached the leaderboard: %+v", body.Data.Entries)
			}
			time.Sleep(500 * time.Millisecond)
		}
	})

	t.Run("RejectsMissingToken", func(t *testing.T) {
		resp, err := send(http.MethodGet, "/attempts/"+attemptID, nil, "")
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
	})
}

func send(method, path string, body interface{}, token string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBytes, _ := json.Marshal(body)
		bodyReader = bytes.NewBuffer(jsonBytes)
	}

	req, err := http.NewRequest(method, baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 10 * time.Second}
	return client.Do(req)
}

func readBody(resp *http.Response) string {
	b, _ := io.ReadAll(resp.Body)
	return string(b)
}

func decodeJSON(t *testing.T, resp *http.Response, v interface{}) {
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("json decode: %v", err)
	}
}
