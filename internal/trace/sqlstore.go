package trace

import (
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" driver
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLStore persists traces to PostgreSQL, one JSONB document per session.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore connects to the trace database at connStr and applies any
// pending migrations.
func OpenSQLStore(connStr string) (*SQLStore, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("trace open: %w", err)
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace ping: %w", err)
	}
	if err = migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("trace migrate: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return err
	}

	var current int
	row := db.QueryRow(`SELECT COALESCE(MAX(version), -1) FROM schema_version`)
	if err = row.Scan(&current); err != nil {
		return err
	}

	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	for i := current + 1; i < len(entries); i++ {
		data, readErr := migrationFS.ReadFile("migrations/" + entries[i].Name())
		if readErr != nil {
			return fmt.Errorf("read migration %d: %w", i, readErr)
		}
		if _, execErr := db.Exec(string(data)); execErr != nil {
			return fmt.Errorf("migration %d: %w", i, execErr)
		}
		if _, execErr := db.Exec(`INSERT INTO schema_version (version) VALUES ($1)`, i); execErr != nil {
			return fmt.Errorf("migration %d record: %w", i, execErr)
		}
	}
	return nil
}

func (s *SQLStore) Save(t *Trace) error {
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("trace marshal: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO traces (session_id, started_at, ended_at, data)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO UPDATE SET ended_at = $3, data = $4`,
		t.SessionID, t.StartedAt, t.EndedAt, data,
	)
	if err != nil {
		return fmt.Errorf("trace insert: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(sessionID string) (*Trace, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM traces WHERE session_id = $1`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("trace select: %w", err)
	}
	var t Trace
	if err = json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("trace decode: %w", err)
	}
	return &t, nil
}

func (s *SQLStore) LoadAll() ([]*Trace, int, error) {
	rows, err := s.db.Query(`SELECT session_id, data FROM traces ORDER BY started_at ASC`)
	if err != nil {
		return nil, 0, fmt.Errorf("trace select all: %w", err)
	}
	defer rows.Close()

	var traces []*Trace
	skipped := 0
	for rows.Next() {
		var id string
		var data []byte
		if err = rows.Scan(&id, &data); err != nil {
			return nil, skipped, err
		}
		var t Trace
		if decodeErr := json.Unmarshal(data, &t); decodeErr != nil {
			slog.Warn("trace record malformed, skipping", "session_id", id, "error", decodeErr)
			skipped++
			continue
		}
		traces = append(traces, &t)
	}
	return traces, skipped, rows.Err()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}
