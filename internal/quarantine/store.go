package quarantine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	ErrNotFound          = errors.New("QUARANTINE_NOT_FOUND: no quarantine entry with that id")
	ErrInvalidTransition = errors.New("QUARANTINE_REVIEW: only pending entries can be reviewed")
)

const schema = `
CREATE TABLE IF NOT EXISTS quarantine_entries (
	id                TEXT PRIMARY KEY,
	skill_id          TEXT NOT NULL,
	source            TEXT NOT NULL DEFAULT '',
	quarantine_reason TEXT NOT NULL DEFAULT '',
	severity          TEXT NOT NULL,
	detected_patterns TEXT NOT NULL DEFAULT '[]',
	quarantine_date   TEXT NOT NULL,
	reviewed_by       TEXT NOT NULL DEFAULT '',
	review_status     TEXT NOT NULL DEFAULT 'pending',
	review_notes      TEXT NOT NULL DEFAULT '',
	review_date       TEXT NOT NULL DEFAULT '',
	created_at        TEXT NOT NULL,
	updated_at        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_quarantine_skill_id ON quarantine_entries(skill_id);
CREATE INDEX IF NOT EXISTS idx_quarantine_status ON quarantine_entries(review_status);
`

const columns = `id, skill_id, source, quarantine_reason, severity, detected_patterns, quarantine_date,
	reviewed_by, review_status, review_notes, review_date, created_at, updated_at`

const severityRank = `CASE severity WHEN 'MALICIOUS' THEN 4 WHEN 'SUSPICIOUS' THEN 3 WHEN 'RISKY' THEN 2 ELSE 1 END`

// Store persists quarantine entries in a SQLite database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open creates or opens the database at path and ensures the schema.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("QUARANTINE_OPEN: %w", err)
	}
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("QUARANTINE_OPEN: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("QUARANTINE_SCHEMA: %w", err)
	}
	s := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// dsn escapes path so that characters like ? and # stay part of the file
// name instead of starting the query or fragment.
func dsn(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(path),
		RawQuery: "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)",
	}
	return u.String()
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Create inserts a new pending entry and returns it with id and timestamps
// filled in.
func (s *Store) Create(ctx context.Context, e Entry) (Entry, error) {
	if strings.TrimSpace(e.SkillID) == "" {
		return Entry{}, fmt.Errorf("QUARANTINE_CREATE: skill id is required")
	}
	if e.Severity.Rank() == 0 {
		return Entry{}, fmt.Errorf("QUARANTINE_CREATE: invalid severity %q", e.Severity)
	}
	now := s.now().UTC()
	e.ID = uuid.NewString()
	e.ReviewStatus = StatusPending
	e.ReviewedBy, e.ReviewNotes, e.ReviewDate = "", "", nil
	if e.QuarantineDate.IsZero() {
		e.QuarantineDate = now
	}
	if e.DetectedPatterns == nil {
		e.DetectedPatterns = []string{}
	}
	e.CreatedAt, e.UpdatedAt = now, now

	patterns, err := json.Marshal(e.DetectedPatterns)
	if err != nil {
		return Entry{}, fmt.Errorf("QUARANTINE_CREATE: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO quarantine_entries (`+columns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SkillID, e.Source, e.QuarantineReason, string(e.Severity), string(patterns),
		formatTime(e.QuarantineDate), "", string(StatusPending), "", "",
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		return Entry{}, fmt.Errorf("QUARANTINE_CREATE: %w", err)
	}
	return e, nil
}

func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM quarantine_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	return e, err
}

func (s *Store) ListBySkill(ctx context.Context, skillID string) ([]Entry, error) {
	return s.List(ctx, Filter{SkillID: skillID})
}

// List returns matching entries, most recently quarantined first.
func (s *Store) List(ctx context.Context, f Filter) ([]Entry, error) {
	var where []string
	var args []any
	if f.SkillID != "" {
		where = append(where, "skill_id = ?")
		args = append(args, f.SkillID)
	}
	if f.Status != "" {
		where = append(where, "review_status = ?")
		args = append(args, string(f.Status))
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, string(f.Severity))
	}
	q := `SELECT ` + columns + ` FROM quarantine_entries`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY quarantine_date DESC, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("QUARANTINE_LIST: %w", err)
	}
	defer rows.Close()
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Review moves a pending entry to approved or rejected.
func (s *Store) Review(ctx context.Context, id string, r Review) (Entry, error) {
	if r.Status != StatusApproved && r.Status != StatusRejected {
		return Entry{}, fmt.Errorf("QUARANTINE_REVIEW: decision must be approved or rejected, got %q", r.Status)
	}
	if strings.TrimSpace(r.Reviewer) == "" {
		return Entry{}, fmt.Errorf("QUARANTINE_REVIEW: reviewer is required")
	}
	now := formatTime(s.now().UTC())
	res, err := s.db.ExecContext(ctx, `UPDATE quarantine_entries
		SET review_status = ?, reviewed_by = ?, review_notes = ?, review_date = ?, updated_at = ?
		WHERE id = ? AND review_status = ?`,
		string(r.Status), r.Reviewer, r.Notes, now, now, id, string(StatusPending))
	if err != nil {
		return Entry{}, fmt.Errorf("QUARANTINE_REVIEW: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Entry{}, fmt.Errorf("QUARANTINE_REVIEW: %w", err)
	}
	if n == 0 {
		if _, err := s.Get(ctx, id); err != nil {
			return Entry{}, err
		}
		return Entry{}, ErrInvalidTransition
	}
	return s.Get(ctx, id)
}

// Purge deletes an entry. Entries are never removed any other way.
func (s *Store) Purge(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM quarantine_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("QUARANTINE_PURGE: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetMostSevere returns the highest-severity entry for skillID that has not
// been approved, or nil if there is none.
func (s *Store) GetMostSevere(ctx context.Context, skillID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+columns+` FROM quarantine_entries
		WHERE skill_id = ? AND review_status != ?
		ORDER BY `+severityRank+` DESC, quarantine_date DESC, id
		LIMIT 1`, skillID, string(StatusApproved))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{ByStatus: map[ReviewStatus]int{}, BySeverity: map[Severity]int{}}
	rows, err := s.db.QueryContext(ctx, `SELECT review_status, severity, COUNT(*) FROM quarantine_entries GROUP BY review_status, severity`)
	if err != nil {
		return Stats{}, fmt.Errorf("QUARANTINE_STATS: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, sev string
		var n int
		if err := rows.Scan(&status, &sev, &n); err != nil {
			return Stats{}, fmt.Errorf("QUARANTINE_STATS: %w", err)
		}
		st.Total += n
		st.ByStatus[ReviewStatus(status)] += n
		st.BySeverity[Severity(sev)] += n
	}
	return st, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(r rowScanner) (Entry, error) {
	var (
		e                                   Entry
		severity, status, patterns          string
		quarantined, reviewed, created, upd string
	)
	if err := r.Scan(&e.ID, &e.SkillID, &e.Source, &e.QuarantineReason, &severity, &patterns, &quarantined,
		&e.ReviewedBy, &status, &e.ReviewNotes, &reviewed, &created, &upd); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("QUARANTINE_READ: %w", err)
	}
	e.Severity = Severity(severity)
	e.ReviewStatus = ReviewStatus(status)
	if err := json.Unmarshal([]byte(patterns), &e.DetectedPatterns); err != nil {
		return Entry{}, fmt.Errorf("QUARANTINE_READ: detected patterns: %w", err)
	}
	var err error
	if e.QuarantineDate, err = parseTime(quarantined); err != nil {
		return Entry{}, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return Entry{}, err
	}
	if e.UpdatedAt, err = parseTime(upd); err != nil {
		return Entry{}, err
	}
	if reviewed != "" {
		t, err := parseTime(reviewed)
		if err != nil {
			return Entry{}, err
		}
		e.ReviewDate = &t
	}
	return e, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("QUARANTINE_READ: bad timestamp %q: %w", s, err)
	}
	return t, nil
}
