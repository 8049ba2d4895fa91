package marker

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	Upsert(ctx context.Context, m *Marker) error
	UpsertBatch(ctx context.Context, markers []*Marker) error
	Get(ctx context.Context, id string) (*Marker, error)
	List(ctx context.Context, includeDeleted bool) ([]*Marker, error)
	Count(ctx context.Context, includeDeleted bool) (int, error)
	SoftDelete(ctx context.Context, id string) (bool, error)
	DeleteAll(ctx context.Context) error
	Vacuum(ctx context.Context) error
	Stats(ctx context.Context) (*Stats, error)

	GetMeta(ctx context.Context, key string) (string, error)
	SetMeta(ctx context.Context, key, value string) error
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const markerColumns = "id, timestamp, color, description, category, video_index, created_at, updated_at, state"

func (r *SQLiteRepository) Upsert(ctx context.Context, m *Marker) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO markers (`+markerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			color = excluded.color,
			description = excluded.description,
			category = excluded.category,
			video_index = excluded.video_index,
			updated_at = excluded.updated_at,
			state = excluded.state
	`, m.ID, m.Timestamp, m.Color, nullString(m.Description), m.Category,
		nullIntPtr(m.VideoIndex), m.CreatedAt.Format(time.RFC3339),
		nullTimePtr(m.UpdatedAt), string(markerState(m)))
	return err
}

func (r *SQLiteRepository) UpsertBatch(ctx context.Context, markers []*Marker) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO markers (`+markerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			timestamp = excluded.timestamp,
			color = excluded.color,
			description = excluded.description,
			category = excluded.category,
			video_index = excluded.video_index,
			updated_at = excluded.updated_at,
			state = excluded.state
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, m := range markers {
		if _, err := stmt.ExecContext(ctx, m.ID, m.Timestamp, m.Color,
			nullString(m.Description), m.Category, nullIntPtr(m.VideoIndex),
			m.CreatedAt.Format(time.RFC3339), nullTimePtr(m.UpdatedAt),
			string(markerState(m))); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Marker, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+markerColumns+` FROM markers WHERE id = ?
	`, id)
	return scanMarker(row)
}

func (r *SQLiteRepository) List(ctx context.Context, includeDeleted bool) ([]*Marker, error) {
	query := `SELECT ` + markerColumns + ` FROM markers`
	if !includeDeleted {
		query += ` WHERE state = 'live'`
	}
	query += ` ORDER BY timestamp ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var markers []*Marker
	for rows.Next() {
		m, err := scanMarkerRow(rows)
		if err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}
	return markers, rows.Err()
}

func (r *SQLiteRepository) Count(ctx context.Context, includeDeleted bool) (int, error) {
	query := "SELECT COUNT(*) FROM markers"
	if !includeDeleted {
		query += " WHERE state = 'live'"
	}
	var count int
	err := r.db.QueryRowContext(ctx, query).Scan(&count)
	return count, err
}

// SoftDelete flips a live marker to deleted. It reports whether a live
// record existed.
func (r *SQLiteRepository) SoftDelete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE markers SET state = 'deleted', updated_at = ? WHERE id = ? AND state = 'live'
	`, time.Now().Format(time.RFC3339), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *SQLiteRepository) DeleteAll(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM markers")
	return err
}

func (r *SQLiteRepository) Vacuum(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "VACUUM")
	return err
}

func (r *SQLiteRepository) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByCategory: make(map[string]int),
		ByColor:    make(map[string]int),
	}

	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM markers WHERE state = 'live'").Scan(&stats.Total)
	if err != nil {
		return nil, err
	}
	err = r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM markers WHERE state = 'deleted'").Scan(&stats.Deleted)
	if err != nil {
		return nil, err
	}

	if stats.Total > 0 {
		err = r.db.QueryRowContext(ctx,
			"SELECT MIN(timestamp), MAX(timestamp) FROM markers WHERE state = 'live'",
		).Scan(&stats.FirstMs, &stats.LastMs)
		if err != nil {
			return nil, err
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM markers WHERE state = 'live' GROUP BY category
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var category string
		var n int
		if err := rows.Scan(&category, &n); err != nil {
			return nil, err
		}
		stats.ByCategory[category] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	colorRows, err := r.db.QueryContext(ctx, `
		SELECT color, COUNT(*) FROM markers WHERE state = 'live' GROUP BY color
	`)
	if err != nil {
		return nil, err
	}
	defer colorRows.Close()
	for colorRows.Next() {
		var color string
		var n int
		if err := colorRows.Scan(&color, &n); err != nil {
			return nil, err
		}
		stats.ByColor[color] = n
	}
	return stats, colorRows.Err()
}

func (r *SQLiteRepository) GetMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (r *SQLiteRepository) SetMeta(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMarker(row *sql.Row) (*Marker, error) {
	m, err := scanMarkerFrom(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

func scanMarkerRow(rows *sql.Rows) (*Marker, error) {
	return scanMarkerFrom(rows)
}

func scanMarkerFrom(s rowScanner) (*Marker, error) {
	var m Marker
	var description sql.NullString
	var videoIndex sql.NullInt64
	var createdAt string
	var updatedAt sql.NullString
	var state string

	err := s.Scan(&m.ID, &m.Timestamp, &m.Color, &description, &m.Category,
		&videoIndex, &createdAt, &updatedAt, &state)
	if err != nil {
		return nil, err
	}

	m.Description = description.String
	if videoIndex.Valid {
		idx := int(videoIndex.Int64)
		m.VideoIndex = &idx
	}
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if updatedAt.Valid {
		t, err := time.Parse(time.RFC3339, updatedAt.String)
		if err == nil {
			m.UpdatedAt = &t
		}
	}
	m.State = State(state)
	return &m, nil
}

func markerState(m *Marker) State {
	if m.State == "" {
		return StateLive
	}
	return m.State
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullIntPtr(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func nullTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}
