package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Summary aggregates a set of training parquet files.
type Summary struct {
	Rows     int64
	Games    int64
	Snakes   int64
	MeanQ    [3]float64
	Moves    [3]int64
	MaxTurn  int64
	BySource map[string]int64
}

// Summarize runs DuckDB over every parquet file matching glob. Batches still
// being written into a tmp/ directory are ignored.
func Summarize(ctx context.Context, glob string) (Summary, error) {
	s := Summary{BySource: map[string]int64{}}

	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return s, fmt.Errorf("open duckdb: %w", err)
	}
	defer db.Close()

	view := `CREATE OR REPLACE VIEW samples AS
		SELECT * FROM read_parquet('` + escapeSQLString(glob) + `', filename=true)
		WHERE NOT regexp_matches(filename, '/tmp/batch_[^/]*$')`
	if _, err := db.ExecContext(ctx, view); err != nil {
		return s, fmt.Errorf("create view: %w", err)
	}

	row := db.QueryRowContext(ctx, `SELECT
			COUNT(*),
			COUNT(DISTINCT game_id),
			COUNT(DISTINCT game_id || '/' || snake_id),
			COALESCE(AVG(q_left), 0),
			COALESCE(AVG(q_straight), 0),
			COALESCE(AVG(q_right), 0),
			COUNT(*) FILTER (WHERE move = 0),
			COUNT(*) FILTER (WHERE move = 1),
			COUNT(*) FILTER (WHERE move = 2),
			COALESCE(MAX(turn), 0)
		FROM samples`)
	if err := row.Scan(&s.Rows, &s.Games, &s.Snakes,
		&s.MeanQ[0], &s.MeanQ[1], &s.MeanQ[2],
		&s.Moves[0], &s.Moves[1], &s.Moves[2],
		&s.MaxTurn); err != nil {
		return s, fmt.Errorf("summarize: %w", err)
	}

	rows, err := db.QueryContext(ctx, `SELECT source, COUNT(*) FROM samples GROUP BY source ORDER BY source`)
	if err != nil {
		return s, fmt.Errorf("sources: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int64
		if err := rows.Scan(&src, &n); err != nil {
			return s, err
		}
		s.BySource[src] = n
	}
	return s, rows.Err()
}

func escapeSQLString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
