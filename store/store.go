package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/zaporter/logic-grpo/grpo"
	"github.com/zaporter/logic-grpo/logic"
)

const schema = `
CREATE TABLE IF NOT EXISTS evaluations (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id                  TEXT NOT NULL,
	step                    INTEGER NOT NULL,
	created_at              TEXT NOT NULL,
	total_problems          INTEGER NOT NULL,
	overall_success_rate    REAL NOT NULL,
	formal_correctness_rate REAL NOT NULL,
	plateau_detected        INTEGER NOT NULL,
	stopping_criteria_met   INTEGER NOT NULL,
	summary_json            TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS evaluations_run ON evaluations(run_id, step);

CREATE TABLE IF NOT EXISTS evaluation_results (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	evaluation_id    INTEGER NOT NULL,
	task_type        TEXT NOT NULL,
	difficulty       INTEGER NOT NULL,
	question         TEXT NOT NULL,
	ground_truth     TEXT NOT NULL,
	model_answer     TEXT NOT NULL,
	model_reasoning  TEXT NOT NULL,
	reward           REAL NOT NULL,
	is_correct       INTEGER NOT NULL,
	explanation      TEXT NOT NULL,
	response_time_ns INTEGER NOT NULL,
	FOREIGN KEY (evaluation_id) REFERENCES evaluations(id)
);
`

// Store keeps the evaluation history of training runs in SQLite.
type Store struct {
	db *sql.DB
}

var _ grpo.EvaluationSink = &Store{}

type EvaluationRecord struct {
	ID      int64                  `json:"id"`
	RunID   grpo.RunID             `json:"run_id"`
	Step    int                    `json:"step"`
	Summary grpo.EvaluationSummary `json:"summary"`
}

// NewStore opens (or creates) the database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// RecordEvaluation stores a summary and its per-problem results in one transaction.
func (s *Store) RecordEvaluation(ctx context.Context, runID grpo.RunID, step int, summary grpo.EvaluationSummary, results []grpo.EvaluationResult) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO evaluations (run_id, step, created_at, total_problems, overall_success_rate,
			formal_correctness_rate, plateau_detected, stopping_criteria_met, summary_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(runID), step, summary.Timestamp.UTC().Format(time.RFC3339Nano), summary.TotalProblems,
		summary.OverallSuccessRate, summary.FormalCorrectnessRate,
		summary.PlateauDetected, summary.StoppingCriteriaMet, string(summaryJSON),
	)
	if err != nil {
		return fmt.Errorf("insert evaluation: %w", err)
	}
	evaluationID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("evaluation id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO evaluation_results (evaluation_id, task_type, difficulty, question, ground_truth,
			model_answer, model_reasoning, reward, is_correct, explanation, response_time_ns)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare result insert: %w", err)
	}
	defer stmt.Close()
	for _, r := range results {
		_, err := stmt.ExecContext(ctx, evaluationID, r.TaskType.String(), r.Difficulty, r.Question, r.GroundTruth,
			r.ModelAnswer, r.ModelReasoning, r.Reward, r.IsCorrect, r.Explanation, r.ResponseTime.Nanoseconds())
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// History returns evaluations newest first. An empty runID means every run; limit <= 0 means no limit.
func (s *Store) History(ctx context.Context, runID grpo.RunID, limit int) ([]EvaluationRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step, summary_json FROM evaluations
		 WHERE (? = '' OR run_id = ?)
		 ORDER BY id DESC LIMIT ?`,
		string(runID), string(runID), limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	records := []EvaluationRecord{}
	for rows.Next() {
		var (
			record      EvaluationRecord
			run         string
			summaryJSON string
		)
		if err := rows.Scan(&record.ID, &run, &record.Step, &summaryJSON); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		record.RunID = grpo.RunID(run)
		if err := json.Unmarshal([]byte(summaryJSON), &record.Summary); err != nil {
			return nil, fmt.Errorf("unmarshal summary %d: %w", record.ID, err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// Results returns the per-problem records of one evaluation in insertion order.
func (s *Store) Results(ctx context.Context, evaluationID int64) ([]grpo.EvaluationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT task_type, difficulty, question, ground_truth, model_answer, model_reasoning,
			reward, is_correct, explanation, response_time_ns
		 FROM evaluation_results WHERE evaluation_id = ? ORDER BY id`, evaluationID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	results := []grpo.EvaluationResult{}
	for rows.Next() {
		var (
			r              grpo.EvaluationResult
			taskType       string
			responseTimeNs int64
		)
		err := rows.Scan(&taskType, &r.Difficulty, &r.Question, &r.GroundTruth, &r.ModelAnswer,
			&r.ModelReasoning, &r.Reward, &r.IsCorrect, &r.Explanation, &responseTimeNs)
		if err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if r.TaskType, err = logic.ParseTaskType(taskType); err != nil {
			return nil, err
		}
		r.ResponseTime = time.Duration(responseTimeNs)
		results = append(results, r)
	}
	return results, rows.Err()
}
