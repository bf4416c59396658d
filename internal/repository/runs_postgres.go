package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lucashm/pncp-harvester/internal/domain"
)

type PostgresRunsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRunsRepository(ctx context.Context, databaseURL string) (*PostgresRunsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	repo := &PostgresRunsRepository{pool: pool}
	if err := repo.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return repo, nil
}

func (r *PostgresRunsRepository) Close() {
	r.pool.Close()
}

func (r *PostgresRunsRepository) ensureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS harvest_runs (
			id TEXT PRIMARY KEY,
			start_date TEXT NOT NULL,
			end_date TEXT NOT NULL,
			modalities TEXT NOT NULL,
			object_filter TEXT NOT NULL DEFAULT '',
			item_terms TEXT NOT NULL DEFAULT '',
			records_collected INT NOT NULL DEFAULT 0,
			items_matched INT NOT NULL DEFAULT 0,
			report_path TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			finished_at TIMESTAMPTZ NOT NULL
		);
		CREATE TABLE IF NOT EXISTS harvest_items (
			run_id TEXT NOT NULL REFERENCES harvest_runs(id),
			cnpj TEXT NOT NULL,
			year INT NOT NULL,
			sequence INT NOT NULL,
			item_number INT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			quantity DOUBLE PRECISION,
			unit_value DOUBLE PRECISION,
			total_value DOUBLE PRECISION,
			detail_url TEXT NOT NULL DEFAULT '',
			notice_url TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, cnpj, year, sequence, item_number)
		);
	`)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *PostgresRunsRepository) SaveRun(ctx context.Context, run RunRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO harvest_runs (
			id,
			start_date,
			end_date,
			modalities,
			object_filter,
			item_terms,
			records_collected,
			items_matched,
			report_path,
			started_at,
			finished_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			records_collected = EXCLUDED.records_collected,
			items_matched = EXCLUDED.items_matched,
			report_path = EXCLUDED.report_path,
			finished_at = EXCLUDED.finished_at
	`,
		run.ID,
		run.StartDate,
		run.EndDate,
		joinInts(run.Modalities),
		run.ObjectFilter,
		strings.Join(run.ItemTerms, ";"),
		run.RecordsCollected,
		run.ItemsMatched,
		run.ReportPath,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

func (r *PostgresRunsRepository) SaveItems(ctx context.Context, runID string, items []domain.Item) error {
	if len(items) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, item := range items {
		batch.Queue(`
			INSERT INTO harvest_items (
				run_id, cnpj, year, sequence, item_number,
				description, quantity, unit_value, total_value,
				detail_url, notice_url
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT DO NOTHING
		`,
			runID,
			item.Record.CNPJ,
			item.Record.Year,
			item.Record.Sequence,
			item.Number,
			item.Description,
			item.Quantity,
			item.UnitValue,
			item.TotalValue,
			item.DetailURL,
			item.NoticeURL,
		)
	}
	results := r.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range items {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("insert item batch: %w", err)
		}
	}
	return nil
}

func (r *PostgresRunsRepository) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	var (
		run        RunRecord
		modalities string
		terms      string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, start_date, end_date, modalities, object_filter, item_terms,
			records_collected, items_matched, report_path, started_at, finished_at
		FROM harvest_runs
		WHERE id = $1
	`, runID).Scan(
		&run.ID,
		&run.StartDate,
		&run.EndDate,
		&modalities,
		&run.ObjectFilter,
		&terms,
		&run.RecordsCollected,
		&run.ItemsMatched,
		&run.ReportPath,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		if err == pgx.ErrNoRows {
			return RunRecord{}, ErrNotFound
		}
		return RunRecord{}, fmt.Errorf("query run: %w", err)
	}
	run.Modalities = splitInts(modalities)
	if terms != "" {
		run.ItemTerms = strings.Split(terms, ";")
	}
	return run, nil
}

func (r *PostgresRunsRepository) ListItems(ctx context.Context, runID string) ([]domain.Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT cnpj, year, sequence, item_number, description,
			quantity, unit_value, total_value, detail_url, notice_url
		FROM harvest_items
		WHERE run_id = $1
		ORDER BY cnpj, year, sequence, item_number
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		if err := rows.Scan(
			&item.Record.CNPJ,
			&item.Record.Year,
			&item.Record.Sequence,
			&item.Number,
			&item.Description,
			&item.Quantity,
			&item.UnitValue,
			&item.TotalValue,
			&item.DetailURL,
			&item.NoticeURL,
		); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return items, nil
}

func joinInts(values []int) string {
	parts := make([]string, 0, len(values))
	for _, value := range values {
		parts = append(parts, fmt.Sprintf("%d", value))
	}
	return strings.Join(parts, ";")
}

func splitInts(raw string) []int {
	var values []int
	for _, part := range strings.Split(raw, ";") {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		var value int
		if _, err := fmt.Sscanf(trimmed, "%d", &value); err == nil {
			values = append(values, value)
		}
	}
	return values
}
