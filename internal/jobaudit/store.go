// Package jobaudit 作业审计存储（PostgreSQL）
//
// 每次回放/回补/对账/切换运行在此落一行审计记录：范围、起止
// 时间、最终报告。审计与作业本身解耦，写入失败不阻断作业，
// 只降级为日志告警。
package jobaudit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"event-pipeline/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Store 作业审计存储
type Store struct {
	db *sql.DB
}

// NewStore 创建审计存储并初始化表结构
func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Close 关闭连接
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema 初始化审计表（幂等）
func (s *Store) ensureSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS job_runs (
	run_id      TEXT PRIMARY KEY,
	kind        TEXT NOT NULL,
	scope       JSONB NOT NULL,
	dry_run     BOOLEAN NOT NULL DEFAULT FALSE,
	status      TEXT NOT NULL,
	report      JSONB,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_job_runs_kind ON job_runs(kind, started_at DESC);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to init job_runs schema: %w", err)
	}
	return nil
}

// === JobRun 操作 ===

// JobRun 审计行
type JobRun struct {
	RunID      string           `json:"run_id"`
	Kind       string           `json:"kind"`
	Scope      model.JobScope   `json:"scope"`
	DryRun     bool             `json:"dry_run"`
	Status     string           `json:"status"` // running | succeeded | failed | aborted
	Report     *model.JobReport `json:"report,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// StartRun 记录作业启动
func (s *Store) StartRun(ctx context.Context, runID, kind string, scope model.JobScope, dryRun bool) error {
	scopeJSON, err := json.Marshal(scope)
	if err != nil {
		return fmt.Errorf("marshal scope: %w", err)
	}
	query := `
		INSERT INTO job_runs (run_id, kind, scope, dry_run, status, started_at)
		VALUES ($1, $2, $3, $4, 'running', $5)
	`
	_, err = s.db.ExecContext(ctx, query, runID, kind, scopeJSON, dryRun, time.Now().UTC())
	return err
}

// FinishRun 记录作业结束与最终报告
func (s *Store) FinishRun(ctx context.Context, runID, status string, report *model.JobReport) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	query := `
		UPDATE job_runs SET status = $2, report = $3, finished_at = $4
		WHERE run_id = $1
	`
	_, err = s.db.ExecContext(ctx, query, runID, status, reportJSON, time.Now().UTC())
	return err
}

// GetRun 读取审计行
func (s *Store) GetRun(ctx context.Context, runID string) (*JobRun, error) {
	query := `
		SELECT run_id, kind, scope, dry_run, status, report, started_at, finished_at
		FROM job_runs WHERE run_id = $1
	`
	var (
		run        JobRun
		scopeJSON  []byte
		reportJSON []byte
		finishedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, runID).Scan(
		&run.RunID, &run.Kind, &scopeJSON, &run.DryRun, &run.Status, &reportJSON, &run.StartedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scopeJSON, &run.Scope); err != nil {
		return nil, fmt.Errorf("unmarshal scope: %w", err)
	}
	if len(reportJSON) > 0 {
		run.Report = &model.JobReport{}
		if err := json.Unmarshal(reportJSON, run.Report); err != nil {
			return nil, fmt.Errorf("unmarshal report: %w", err)
		}
	}
	if finishedAt.Valid {
		run.FinishedAt = &finishedAt.Time
	}
	return &run, nil
}

// ListRuns 按种类倒序列出最近的作业运行
func (s *Store) ListRuns(ctx context.Context, kind string, limit int) ([]*JobRun, error) {
	var (
		query string
		args  []interface{}
	)
	if kind != "" {
		query = `SELECT run_id, kind, scope, dry_run, status, report, started_at, finished_at
				 FROM job_runs WHERE kind = $1
				 ORDER BY started_at DESC LIMIT $2`
		args = []interface{}{kind, limit}
	} else {
		query = `SELECT run_id, kind, scope, dry_run, status, report, started_at, finished_at
				 FROM job_runs ORDER BY started_at DESC LIMIT $1`
		args = []interface{}{limit}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*JobRun
	for rows.Next() {
		var (
			run        JobRun
			scopeJSON  []byte
			reportJSON []byte
			finishedAt sql.NullTime
		)
		if err := rows.Scan(&run.RunID, &run.Kind, &scopeJSON, &run.DryRun, &run.Status,
			&reportJSON, &run.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(scopeJSON, &run.Scope); err != nil {
			return nil, fmt.Errorf("unmarshal scope: %w", err)
		}
		if len(reportJSON) > 0 {
			run.Report = &model.JobReport{}
			if err := json.Unmarshal(reportJSON, run.Report); err != nil {
				return nil, fmt.Errorf("unmarshal report: %w", err)
			}
		}
		if finishedAt.Valid {
			run.FinishedAt = &finishedAt.Time
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}
