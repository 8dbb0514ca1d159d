package store

import (
	"context"
	"database/sql"
	"time"

	"kestrel-irp/core/actors"
)

const (
	DirectoryKindHQ   = "hq"
	DirectoryKindArea = "area"
)

// DirectoryStore persists the actor directory cache between restarts so
// the resolver has labels before the first upstream refresh lands.
type DirectoryStore interface {
	ReplaceHQStaff(ctx context.Context, entries []actors.Entry) error
	ReplaceAreaOfficers(ctx context.Context, areaID int64, entries []actors.Entry) error
	ListHQStaff(ctx context.Context) ([]actors.Entry, error)
	ListAreaOfficers(ctx context.Context, areaID int64) ([]actors.Entry, error)
	ListAreas(ctx context.Context) ([]int64, error)
}

type directoryStore struct {
	db *sql.DB
}

func NewDirectoryStore(db *sql.DB) DirectoryStore {
	return &directoryStore{db: db}
}

func (s *directoryStore) ReplaceHQStaff(ctx context.Context, entries []actors.Entry) error {
	return s.replace(ctx, DirectoryKindHQ, 0, entries)
}

func (s *directoryStore) ReplaceAreaOfficers(ctx context.Context, areaID int64, entries []actors.Entry) error {
	return s.replace(ctx, DirectoryKindArea, areaID, entries)
}

func (s *directoryStore) replace(ctx context.Context, kind string, areaID int64, entries []actors.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM directory_actors WHERE kind=? AND area_id=?`, kind, areaID); err != nil {
		tx.Rollback()
		return err
	}
	now := time.Now().UTC()
	for _, e := range entries {
		if e.ID == 0 || e.DisplayName == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO directory_actors(actor_id, kind, area_id, display_name, updated_at)
			VALUES(?,?,?,?,?)`, e.ID, kind, areaID, e.DisplayName, now); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *directoryStore) ListHQStaff(ctx context.Context) ([]actors.Entry, error) {
	return s.list(ctx, DirectoryKindHQ, 0)
}

func (s *directoryStore) ListAreaOfficers(ctx context.Context, areaID int64) ([]actors.Entry, error) {
	return s.list(ctx, DirectoryKindArea, areaID)
}

func (s *directoryStore) list(ctx context.Context, kind string, areaID int64) ([]actors.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT actor_id, area_id, display_name FROM directory_actors
		WHERE kind=? AND area_id=? ORDER BY actor_id ASC`, kind, areaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []actors.Entry
	for rows.Next() {
		var e actors.Entry
		if err := rows.Scan(&e.ID, &e.AreaID, &e.DisplayName); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func (s *directoryStore) ListAreas(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT area_id FROM directory_actors WHERE kind=? ORDER BY area_id ASC`, DirectoryKindArea)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}
