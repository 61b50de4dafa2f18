package search

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

const createTextIndexSchemaSQL = `
CREATE TABLE IF NOT EXISTS text_passages (
    scope VARCHAR(255) NOT NULL,
    id VARCHAR(255) NOT NULL,
    content TEXT NOT NULL,
    indexed_at TIMESTAMP NOT NULL,
    PRIMARY KEY (scope, id)
);

CREATE INDEX IF NOT EXISTS idx_text_passages_scope ON text_passages(scope);
`

// SQLStore is a lexical index backed by SQLite or Postgres.
//
// Candidate rows are narrowed with LIKE matches per term, then scored in
// process; the table stays portable across both dialects.
type SQLStore struct {
	db      *sql.DB
	dialect string
}

// NewSQLStore creates a durable lexical index on an existing connection.
// Supported dialects: "sqlite3", "postgres".
func NewSQLStore(db *sql.DB, dialect string) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "sqlite3", "postgres":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: sqlite3, postgres)", dialect)
	}

	s := &SQLStore{db: db, dialect: dialect}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, createTextIndexSchemaSQL); err != nil {
		return nil, fmt.Errorf("failed to create text_passages table: %w", err)
	}
	return s, nil
}

func (s *SQLStore) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, fmt.Sprintf("$%d", n)...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}

func (s *SQLStore) Index(ctx context.Context, scope, id, content string) error {
	var err error
	if s.dialect == "postgres" {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO text_passages (scope, id, content, indexed_at) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (scope, id) DO UPDATE SET content = EXCLUDED.content, indexed_at = EXCLUDED.indexed_at`,
			scope, id, content, time.Now())
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO text_passages (scope, id, content, indexed_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (scope, id) DO UPDATE SET content = excluded.content, indexed_at = excluded.indexed_at`,
			scope, id, content, time.Now())
	}
	if err != nil {
		return fmt.Errorf("failed to index passage: %w", err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, scope, id string) error {
	if _, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM text_passages WHERE scope = ? AND id = ?`), scope, id); err != nil {
		return fmt.Errorf("failed to remove passage: %w", err)
	}
	return nil
}

func (s *SQLStore) Search(ctx context.Context, scope, query string, topK int) ([]Result, error) {
	terms := tokenize(query)
	if len(terms) == 0 {
		return []Result{}, nil
	}

	// Narrow to rows matching any term; scoring happens in process.
	clauses := make([]string, 0, len(terms))
	args := []any{scope}
	for _, term := range terms {
		clauses = append(clauses, "LOWER(content) LIKE ?")
		args = append(args, "%"+strings.ReplaceAll(term, "%", "")+"%")
	}

	q := s.rebind(`SELECT id, content FROM text_passages WHERE scope = ? AND (` +
		strings.Join(clauses, " OR ") + `)`)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query passages: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.ID, &r.Content); err != nil {
			return nil, fmt.Errorf("failed to scan passage row: %w", err)
		}
		r.Score = scoreContent(r.Content, terms)
		if r.Score > 0 {
			results = append(results, r)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate passages: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

var _ Store = (*SQLStore)(nil)
