package store

import (
	"context"
	"encoding/json"
	"fmt"

	"igharvest/pkg/models"
)

type snapshotTable struct {
	name   string
	keyCol string
}

var (
	profileSnapshots = snapshotTable{name: "fetched_profiles", keyCol: "username"}
	postSnapshots    = snapshotTable{name: "fetched_posts", keyCol: "shortcode"}
)

// SaveProfileSnapshot appends the raw metadata of a profile.
func (s *Store) SaveProfileSnapshot(ctx context.Context, username string, data json.RawMessage) error {
	return s.saveSnapshot(ctx, profileSnapshots, username, data)
}

// SavePostSnapshot appends the raw metadata of a post.
func (s *Store) SavePostSnapshot(ctx context.Context, shortcode string, data json.RawMessage) error {
	return s.saveSnapshot(ctx, postSnapshots, shortcode, data)
}

// ListProfileSnapshots returns the newest snapshots of a profile.
func (s *Store) ListProfileSnapshots(ctx context.Context, username string, limit int) ([]models.Snapshot, error) {
	return s.listSnapshots(ctx, profileSnapshots, username, limit)
}

// ListPostSnapshots returns the newest snapshots of a post.
func (s *Store) ListPostSnapshots(ctx context.Context, shortcode string, limit int) ([]models.Snapshot, error) {
	return s.listSnapshots(ctx, postSnapshots, shortcode, limit)
}

func (s *Store) saveSnapshot(ctx context.Context, t snapshotTable, key string, data json.RawMessage) error {
	if !json.Valid(data) {
		return persistErr("save "+t.name, fmt.Errorf("snapshot for %s is not valid JSON", key))
	}
	_, err := s.exec(ctx,
		`INSERT INTO `+t.name+` (`+t.keyCol+`, data, fetched_at) VALUES (?, ?, ?)`,
		key, string(data), now(),
	)
	if err != nil {
		return persistErr("save "+t.name, err)
	}
	return nil
}

func (s *Store) listSnapshots(ctx context.Context, t snapshotTable, key string, limit int) ([]models.Snapshot, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.query(ctx,
		`SELECT id, `+t.keyCol+`, data, fetched_at FROM `+t.name+`
		 WHERE `+t.keyCol+` = ? ORDER BY fetched_at DESC, id DESC LIMIT ?`,
		key, limit,
	)
	if err != nil {
		return nil, persistErr("list "+t.name, err)
	}
	defer rows.Close()

	var out []models.Snapshot
	for rows.Next() {
		var (
			snap    models.Snapshot
			data    []byte
			fetched timeValue
		)
		if err := rows.Scan(&snap.ID, &snap.Key, &data, &fetched); err != nil {
			return nil, persistErr("scan "+t.name, err)
		}
		snap.Data = json.RawMessage(data)
		snap.FetchedAt = fetched.t
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list "+t.name, err)
	}
	return out, nil
}
