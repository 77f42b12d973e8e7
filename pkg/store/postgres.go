package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dossier-hq/dossier/pkg/models"
)

// PostgresStore implements Store over a *sql.DB using the pgx driver.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store backed by the given connection pool.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const sessionColumns = `session_id, query, depth, max_sources, focus_areas, provider_prefs,
	report_format, citation_style, supervised,
	status, error_message, source_count, finding_count, created_at, started_at, completed_at`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var (
		s             models.Session
		focusAreas    []byte
		providerPrefs []byte
	)
	err := row.Scan(&s.ID, &s.Query, &s.Depth, &s.MaxSources, &focusAreas, &providerPrefs,
		&s.ReportFormat, &s.CitationStyle, &s.Supervised,
		&s.Status, &s.ErrorMessage, &s.SourceCount, &s.FindingCount,
		&s.CreatedAt, &s.StartedAt, &s.CompletedAt)
	if err != nil {
		return nil, err
	}
	if len(focusAreas) > 0 {
		if err := json.Unmarshal(focusAreas, &s.FocusAreas); err != nil {
			return nil, fmt.Errorf("failed to decode focus_areas: %w", err)
		}
	}
	if len(providerPrefs) > 0 {
		if err := json.Unmarshal(providerPrefs, &s.ProviderPrefs); err != nil {
			return nil, fmt.Errorf("failed to decode provider_prefs: %w", err)
		}
	}
	return &s, nil
}

func jsonList(v []string) []byte {
	if v == nil {
		return []byte("[]")
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return []byte("[]")
	}
	return raw
}

func (p *PostgresStore) CreateSession(ctx context.Context, s *models.Session) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO research_sessions
			(session_id, query, depth, max_sources, focus_areas, provider_prefs,
			 report_format, citation_style, supervised, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		s.ID, s.Query, s.Depth, s.MaxSources, jsonList(s.FocusAreas), jsonList(s.ProviderPrefs),
		s.ReportFormat, s.CitationStyle, s.Supervised, s.Status, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM research_sessions WHERE session_id = $1`, id)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) ListSessions(ctx context.Context, f models.SessionFilters) ([]*models.Session, int, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}

	where := ``
	args := []any{}
	if f.Status != "" {
		where = ` WHERE status = $1`
		args = append(args, f.Status)
	}

	var total int
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM research_sessions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	query := `SELECT ` + sessionColumns + ` FROM research_sessions` + where +
		fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d OFFSET %d`, limit, f.Offset)
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, total, rows.Err()
}

func (p *PostgresStore) UpdateSessionStatus(ctx context.Context, id string, status models.SessionStatus, errMsg string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE research_sessions SET
			status = $2,
			error_message = $3,
			started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN NOW() ELSE started_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled', 'rejected') THEN NOW() ELSE completed_at END
		WHERE session_id = $1`,
		id, status, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) UpdateSessionCounts(ctx context.Context, id string, sources, findings int) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE research_sessions SET source_count = $2, finding_count = $3
		WHERE session_id = $1`,
		id, sources, findings)
	if err != nil {
		return fmt.Errorf("failed to update session counts: %w", err)
	}
	return nil
}

// ClaimNextSession claims the oldest pending session with SKIP LOCKED so
// concurrent workers never grab the same one.
func (p *PostgresStore) ClaimNextSession(ctx context.Context) (*models.Session, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE research_sessions SET status = 'running', started_at = NOW()
		WHERE session_id = (
			SELECT session_id FROM research_sessions
			WHERE status = 'pending'
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+sessionColumns)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSessionsAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim session: %w", err)
	}
	return s, nil
}

func (p *PostgresStore) InsertSources(ctx context.Context, sessionID string, sources []models.Source) (int, error) {
	inserted := 0
	for _, src := range sources {
		res, err := p.db.ExecContext(ctx, `
			INSERT INTO sources (session_id, title, url, snippet, provider, category, relevance, credibility, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (session_id, url) DO NOTHING`,
			sessionID, src.Title, src.URL, src.Snippet, src.Provider, src.Category,
			src.Relevance, src.Credibility, timeOrNow(src.CreatedAt))
		if err != nil {
			return inserted, fmt.Errorf("failed to insert source: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, nil
}

func (p *PostgresStore) ListSources(ctx context.Context, sessionID string) ([]models.Source, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_id, title, url, snippet, provider, category, relevance, credibility, created_at
		FROM sources WHERE session_id = $1 ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	defer rows.Close()

	var sources []models.Source
	for rows.Next() {
		var s models.Source
		if err := rows.Scan(&s.ID, &s.SessionID, &s.Title, &s.URL, &s.Snippet,
			&s.Provider, &s.Category, &s.Relevance, &s.Credibility, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan source: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

func (p *PostgresStore) CountSources(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sources WHERE session_id = $1`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count sources: %w", err)
	}
	return n, nil
}

func (p *PostgresStore) InsertFindings(ctx context.Context, sessionID string, findings []models.Finding) error {
	for _, f := range findings {
		refs, err := json.Marshal(f.Sources)
		if err != nil {
			return fmt.Errorf("failed to encode finding sources: %w", err)
		}
		if f.Sources == nil {
			refs = []byte("[]")
		}
		_, err = p.db.ExecContext(ctx, `
			INSERT INTO findings (session_id, text, sources, credibility, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			sessionID, f.Text, refs, f.Credibility, timeOrNow(f.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert finding: %w", err)
		}
	}
	return nil
}

func (p *PostgresStore) ListFindings(ctx context.Context, sessionID string) ([]models.Finding, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_id, text, sources, credibility, created_at
		FROM findings WHERE session_id = $1 ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list findings: %w", err)
	}
	defer rows.Close()

	var findings []models.Finding
	for rows.Next() {
		var (
			f    models.Finding
			refs []byte
		)
		if err := rows.Scan(&f.ID, &f.SessionID, &f.Text, &refs, &f.Credibility, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan finding: %w", err)
		}
		if len(refs) > 0 {
			if err := json.Unmarshal(refs, &f.Sources); err != nil {
				return nil, fmt.Errorf("failed to decode finding sources: %w", err)
			}
		}
		findings = append(findings, f)
	}
	return findings, rows.Err()
}

func (p *PostgresStore) PutArtifact(ctx context.Context, sessionID, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode artifact %q: %w", key, err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO artifacts (session_id, key, data, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (session_id, key) DO UPDATE SET data = EXCLUDED.data, created_at = NOW()`,
		sessionID, key, raw)
	if err != nil {
		return fmt.Errorf("failed to store artifact %q: %w", key, err)
	}
	return nil
}

func (p *PostgresStore) GetArtifact(ctx context.Context, sessionID, key string, out any) error {
	var raw []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT data FROM artifacts WHERE session_id = $1 AND key = $2`,
		sessionID, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to query artifact %q: %w", key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode artifact %q: %w", key, err)
	}
	return nil
}

func (p *PostgresStore) SaveReport(ctx context.Context, r *models.Report) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO reports (session_id, markdown, html, quality, source_count, verified_ratio, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (session_id) DO UPDATE SET
			markdown = EXCLUDED.markdown,
			html = EXCLUDED.html,
			quality = EXCLUDED.quality,
			source_count = EXCLUDED.source_count,
			verified_ratio = EXCLUDED.verified_ratio,
			confidence = EXCLUDED.confidence,
			created_at = EXCLUDED.created_at`,
		r.SessionID, r.Markdown, r.HTML, r.Quality, r.SourceCount,
		r.VerifiedRatio, r.Confidence, timeOrNow(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to save report: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetReport(ctx context.Context, sessionID string) (*models.Report, error) {
	var r models.Report
	err := p.db.QueryRowContext(ctx, `
		SELECT session_id, markdown, html, quality, source_count, verified_ratio, confidence, created_at
		FROM reports WHERE session_id = $1`, sessionID).
		Scan(&r.SessionID, &r.Markdown, &r.HTML, &r.Quality, &r.SourceCount,
			&r.VerifiedRatio, &r.Confidence, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query report: %w", err)
	}
	return &r, nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
