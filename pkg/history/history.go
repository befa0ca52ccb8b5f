// Package history archives finished executions to sqlite so completions
// survive the runner pruning its state file.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/B-Whitt/skillwatch/pkg/execution"
)

// Record is one archived execution.
type Record struct {
	ExecutionID   string
	SkillName     string
	Source        string
	SourceDetails string
	Status        string
	TotalSteps    int
	EventCount    int
	StartTime     time.Time
	EndTime       *time.Time
	Error         string
	ArchivedAt    time.Time
}

// Archive wraps the sqlite store.
type Archive struct {
	db *sql.DB
}

// Open creates or opens the archive database at dbPath.
func Open(dbPath string) (*Archive, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening history db: %w", err)
	}
	a := &Archive{db: db}
	if err := a.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

func (a *Archive) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions_archive (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		execution_id TEXT NOT NULL UNIQUE,
		skill_name TEXT NOT NULL,
		source TEXT,
		source_details TEXT,
		status TEXT NOT NULL,
		total_steps INTEGER NOT NULL DEFAULT 0,
		event_count INTEGER NOT NULL DEFAULT 0,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		error TEXT,
		archived_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_archive_skill ON executions_archive(skill_name);
	CREATE INDEX IF NOT EXISTS idx_archive_start ON executions_archive(start_time);
	`
	if _, err := a.db.Exec(schema); err != nil {
		return fmt.Errorf("migrating history db: %w", err)
	}
	return nil
}

// Add records a finished execution. Recording the same execution id twice
// is a no-op, which pairs with the tracker's exactly-once completion hook
// to keep the archive duplicate-free across restarts.
func (a *Archive) Add(exec *execution.Execution) error {
	var end interface{}
	if exec.EndTime != nil {
		end = exec.EndTime.UTC()
	}
	_, err := a.db.Exec(
		`INSERT OR IGNORE INTO executions_archive
		 (execution_id, skill_name, source, source_details, status, total_steps, event_count, start_time, end_time, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ID, exec.SkillName, string(exec.Source), exec.SourceDetails,
		string(exec.Status), exec.TotalSteps, len(exec.Events),
		exec.StartTime.UTC(), end, lastError(exec),
	)
	if err != nil {
		return fmt.Errorf("archiving execution %s: %w", exec.ID, err)
	}
	return nil
}

// List returns the most recently finished executions, newest first.
func (a *Archive) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(
		`SELECT execution_id, skill_name, source, source_details, status,
		        total_steps, event_count, start_time, end_time, error, archived_at
		 FROM executions_archive
		 ORDER BY start_time DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var end sql.NullTime
		var errMsg sql.NullString
		if err := rows.Scan(
			&r.ExecutionID, &r.SkillName, &r.Source, &r.SourceDetails, &r.Status,
			&r.TotalSteps, &r.EventCount, &r.StartTime, &end, &errMsg, &r.ArchivedAt,
		); err != nil {
			return nil, err
		}
		if end.Valid {
			t := end.Time
			r.EndTime = &t
		}
		if errMsg.Valid {
			r.Error = errMsg.String
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// lastError pulls the most recent error text out of the log, preferring
// the terminal event's message.
func lastError(exec *execution.Execution) string {
	for i := len(exec.Events) - 1; i >= 0; i-- {
		if exec.Events[i].Error != "" {
			return exec.Events[i].Error
		}
	}
	return ""
}
