// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runstore

import (
	"context"
	"encoding/json"
	stderrors "errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"llm-council/internal/council"
)

// Schema 运行记录表；record 保存完整 JSON，其余列供列表与过滤
const Schema = `
CREATE TABLE IF NOT EXISTS council_runs (
	id            TEXT PRIMARY KEY,
	client_key    TEXT NOT NULL DEFAULT '',
	status        TEXT NOT NULL,
	query_preview TEXT NOT NULL DEFAULT '',
	query_hash    TEXT NOT NULL DEFAULT '',
	total_cost    DOUBLE PRECISION NOT NULL DEFAULT 0,
	record        JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS council_runs_client_created ON council_runs (client_key, created_at DESC);
`

// 终态运行不再更新
const upsertRun = `
INSERT INTO council_runs (id, client_key, status, query_preview, query_hash, total_cost, record, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	total_cost = EXCLUDED.total_cost,
	record = EXCLUDED.record,
	updated_at = EXCLUDED.updated_at
WHERE council_runs.status NOT IN ('completed', 'partially_failed', 'failed')`

// pgStore PostgreSQL 实现：一行一个运行，record 为 JSONB
type pgStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore 连接并确保表存在
func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool}, nil
}

// Close 关闭连接池
func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *pgStore) SaveRun(ctx context.Context, run *council.Run) error {
	if run == nil || run.ID == "" {
		return errInvalidRun
	}
	record, err := json.Marshal(run)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, upsertRun,
		run.ID, run.ClientKey, string(run.Status), run.QueryPreview, run.QueryHash,
		run.TotalCost, record, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var status string
		if err := s.pool.QueryRow(ctx, `SELECT status FROM council_runs WHERE id = $1`, run.ID).Scan(&status); err != nil {
			return err
		}
		return &council.ErrRunClosed{ID: run.ID, Status: council.Status(status)}
	}
	return nil
}

func (s *pgStore) LoadRun(ctx context.Context, id string) (*council.Run, error) {
	var record []byte
	err := s.pool.QueryRow(ctx, `SELECT record FROM council_runs WHERE id = $1`, id).Scan(&record)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var run council.Run
	if err := json.Unmarshal(record, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

func (s *pgStore) ListRuns(ctx context.Context, opts ListOptions) ([]Summary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, status, query_preview, total_cost, created_at, updated_at
		 FROM council_runs
		 WHERE ($1 = '' OR client_key = $1)
		 ORDER BY created_at DESC, id
		 LIMIT $2`,
		opts.ClientKey, opts.limit())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Summary, 0)
	for rows.Next() {
		var sm Summary
		var status string
		if err := rows.Scan(&sm.ID, &status, &sm.QueryPreview, &sm.TotalCost, &sm.CreatedAt, &sm.UpdatedAt); err != nil {
			return nil, err
		}
		sm.Status = council.Status(status)
		out = append(out, sm)
	}
	return out, rows.Err()
}
