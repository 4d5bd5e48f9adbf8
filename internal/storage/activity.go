package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/t77yq/tracklet/internal/model"
)

// ActivityRepo is the append-only activity log. Entries are never
// updated or deleted.
type ActivityRepo struct {
	q queryer
}

const activityColumns = `id, entity_type, entity_id, action, field, old_value, new_value, summary, created_at`

// Append stores a new entry and assigns its ID. The ID sequence is
// monotonically increasing and breaks creation-time ties.
func (r *ActivityRepo) Append(ctx context.Context, entry *model.ActivityEntry) error {
	result, err := r.q.ExecContext(ctx, `
		INSERT INTO activity_log (
			entity_type, entity_id, action, field, old_value, new_value, summary, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.EntityType,
		entry.EntityID,
		entry.Action,
		nullString(entry.Field),
		nullString(entry.OldValue),
		nullString(entry.NewValue),
		entry.Summary,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append activity entry: %w", mapError(err))
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read activity entry id: %w", err)
	}
	entry.ID = id
	return nil
}

// Since returns every entry created at or after the given time,
// ordered by creation time with ties broken by insertion order.
func (r *ActivityRepo) Since(ctx context.Context, since time.Time) ([]model.ActivityEntry, error) {
	return r.list(ctx,
		"SELECT "+activityColumns+" FROM activity_log WHERE created_at >= ? ORDER BY created_at, id",
		since)
}

// ForEntity returns the most recent entries for one entity, newest
// first, capped at limit.
func (r *ActivityRepo) ForEntity(ctx context.Context, entityType model.EntityType, entityID int64, limit int) ([]model.ActivityEntry, error) {
	return r.list(ctx, `
		SELECT `+activityColumns+` FROM activity_log
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`,
		entityType, entityID, limit)
}

// LastTransition returns the most recent entry recording the given
// field reaching the given value for an entity, or nil when no such
// transition was ever logged.
func (r *ActivityRepo) LastTransition(ctx context.Context, entityType model.EntityType, entityID int64, field, newValue string) (*model.ActivityEntry, error) {
	row := r.q.QueryRowContext(ctx, `
		SELECT `+activityColumns+` FROM activity_log
		WHERE entity_type = ? AND entity_id = ? AND field = ? AND new_value = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`,
		entityType, entityID, field, newValue)

	entry, err := scanActivity(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to scan activity entry: %w", mapError(err))
	}
	return entry, nil
}

func (r *ActivityRepo) list(ctx context.Context, query string, args ...any) ([]model.ActivityEntry, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity entries: %w", mapError(err))
	}
	defer rows.Close()

	var entries []model.ActivityEntry
	for rows.Next() {
		entry, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", mapError(err))
	}
	return entries, nil
}

func scanActivity(s scanner) (*model.ActivityEntry, error) {
	var entry model.ActivityEntry
	var field, oldValue, newValue sql.NullString

	err := s.Scan(
		&entry.ID,
		&entry.EntityType,
		&entry.EntityID,
		&entry.Action,
		&field,
		&oldValue,
		&newValue,
		&entry.Summary,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	entry.Field = field.String
	entry.OldValue = oldValue.String
	entry.NewValue = newValue.String
	return &entry, nil
}
