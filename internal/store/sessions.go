package store

import (
	"context"
	"database/sql"
	"errors"
	"net/http"

	errs "igharvest/pkg/errors"
	"igharvest/pkg/models"
)

// SaveSession stores the credential blob of username, replacing any
// previous one.
func (s *Store) SaveSession(ctx context.Context, username string, blob []byte) error {
	ts := now()
	_, err := s.exec(ctx, `
		INSERT INTO user_sessions (username, session_data, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (username) DO UPDATE SET
			session_data = excluded.session_data,
			updated_at   = excluded.updated_at`,
		username, string(blob), ts, ts,
	)
	if err != nil {
		return persistErr("save session", err)
	}
	return nil
}

// LoadSession returns the stored session of username.
func (s *Store) LoadSession(ctx context.Context, username string) (*models.SessionRecord, error) {
	row := s.queryRow(ctx, `
		SELECT username, session_data, created_at, updated_at
		FROM user_sessions WHERE username = ?`, username)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(errs.ErrorTypeNotFound, http.StatusNotFound, "no session stored for %s", username)
	}
	if err != nil {
		return nil, persistErr("load session", err)
	}
	return rec, nil
}

// ListSessions returns every stored session, most recently updated first.
func (s *Store) ListSessions(ctx context.Context) ([]models.SessionRecord, error) {
	rows, err := s.query(ctx, `
		SELECT username, session_data, created_at, updated_at
		FROM user_sessions ORDER BY updated_at DESC, username`)
	if err != nil {
		return nil, persistErr("list sessions", err)
	}
	defer rows.Close()

	var records []models.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, persistErr("scan session", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list sessions", err)
	}
	return records, nil
}

// DeleteSession removes the stored session of username, if any.
func (s *Store) DeleteSession(ctx context.Context, username string) error {
	if _, err := s.exec(ctx, `DELETE FROM user_sessions WHERE username = ?`, username); err != nil {
		return persistErr("delete session", err)
	}
	return nil
}

func scanSession(sc scanner) (*models.SessionRecord, error) {
	var (
		rec     models.SessionRecord
		created timeValue
		updated timeValue
	)
	if err := sc.Scan(&rec.Username, &rec.Data, &created, &updated); err != nil {
		return nil, err
	}
	rec.CreatedAt = created.t
	rec.UpdatedAt = updated.t
	return &rec, nil
}
