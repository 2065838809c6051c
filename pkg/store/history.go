// Package store persists attribution reports in a local SQLite database so
// that past runs can be listed and inspected.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/schema"
)

// ErrNotFound is returned when no report has the requested id.
var ErrNotFound = errors.New("report not found")

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS reports (
    id                TEXT PRIMARY KEY,
    strategy          TEXT NOT NULL,
    target_node       TEXT NOT NULL,
    root_cause        TEXT NOT NULL DEFAULT '',
    root_cause_metric TEXT NOT NULL DEFAULT '',
    confidence        REAL NOT NULL DEFAULT 0.0,
    payload           TEXT NOT NULL,
    generated_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_generated_at ON reports(generated_at DESC);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS findings (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    report_id   TEXT NOT NULL,
    metric      TEXT NOT NULL DEFAULT '',
    node        TEXT NOT NULL,
    percent     REAL NOT NULL DEFAULT 0.0,
    significant INTEGER NOT NULL DEFAULT 0,
    FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_findings_node ON findings(node);
CREATE INDEX IF NOT EXISTS idx_reports_root_cause ON reports(root_cause);
`,
	},
}

// Summary is the listing view of a stored report.
type Summary struct {
	ID              string
	Strategy        string
	TargetNode      string
	RootCause       string
	RootCauseMetric string
	Confidence      float64
	GeneratedAt     time.Time
}

// History is a SQLite-backed report history.
type History struct {
	db *sql.DB
}

// Open opens or creates the history database at path and applies pending
// migrations.
func Open(path string) (*History, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	h := &History{db: db}
	if err := h.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return h, nil
}

func (h *History) migrate() error {
	_, err := h.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := h.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}
		if _, err := h.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := h.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration.
func (h *History) SchemaVersion(ctx context.Context) (int, error) {
	var v sql.NullInt64
	if err := h.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_versions`).Scan(&v); err != nil {
		return 0, err
	}
	return int(v.Int64), nil
}

// Close releases the database.
func (h *History) Close() error { return h.db.Close() }

// SaveReport stores report with its findings. A report without an id is
// assigned a new uuid; the stored id is returned.
func (h *History) SaveReport(ctx context.Context, report schema.AttributionReport) (string, error) {
	if report.ReportID == "" {
		report.ReportID = uuid.NewString()
	}
	if report.GeneratedAt.IsZero() {
		report.GeneratedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return "", fmt.Errorf("marshal report: %w", err)
	}

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
INSERT INTO reports (id, strategy, target_node, root_cause, root_cause_metric, confidence, payload, generated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.ReportID, report.Strategy, report.TargetNode, report.RootCause, report.RootCauseMetric,
		report.Confidence, string(payload), report.GeneratedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert report: %w", err)
	}
	for _, f := range report.Findings {
		_, err = tx.ExecContext(ctx, `
INSERT INTO findings (report_id, metric, node, percent, significant) VALUES (?, ?, ?, ?, ?)`,
			report.ReportID, f.Metric, f.Node, f.PercentContribution, boolToInt(f.Significant),
		)
		if err != nil {
			return "", fmt.Errorf("insert finding: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return report.ReportID, nil
}

// GetReport loads the full report with id.
func (h *History) GetReport(ctx context.Context, id string) (schema.AttributionReport, error) {
	var payload string
	err := h.db.QueryRowContext(ctx, `SELECT payload FROM reports WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return schema.AttributionReport{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return schema.AttributionReport{}, fmt.Errorf("get report: %w", err)
	}
	var report schema.AttributionReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return schema.AttributionReport{}, fmt.Errorf("decode report %s: %w", id, err)
	}
	return report, nil
}

// ListReports returns the newest reports first. A non-positive limit
// defaults to 20.
func (h *History) ListReports(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := h.db.QueryContext(ctx, `
SELECT id, strategy, target_node, root_cause, root_cause_metric, confidence, generated_at
FROM reports ORDER BY generated_at DESC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		var generated string
		if err := rows.Scan(&s.ID, &s.Strategy, &s.TargetNode, &s.RootCause, &s.RootCauseMetric, &s.Confidence, &generated); err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		if s.GeneratedAt, err = time.Parse(time.RFC3339Nano, generated); err != nil {
			return nil, fmt.Errorf("parse generated_at %q: %w", generated, err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RootCauseCounts counts stored reports per blamed node.
func (h *History) RootCauseCounts(ctx context.Context) (map[string]int, error) {
	rows, err := h.db.QueryContext(ctx, `
SELECT root_cause, COUNT(*) FROM reports WHERE root_cause != '' GROUP BY root_cause`)
	if err != nil {
		return nil, fmt.Errorf("count root causes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var node string
		var n int
		if err := rows.Scan(&node, &n); err != nil {
			return nil, err
		}
		out[node] = n
	}
	return out, rows.Err()
}

// DeleteReport removes a report and its findings.
func (h *History) DeleteReport(ctx context.Context, id string) error {
	res, err := h.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete report: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func (h *History) countFindings(ctx context.Context, id string) (int, error) {
	var n int
	err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM findings WHERE report_id = ?`, id).Scan(&n)
	return n, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
