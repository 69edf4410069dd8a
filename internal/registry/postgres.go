package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wrale/device-auth-proxy/internal/backend"
)

// Schema is the device table used by PostgresStore
const Schema = `
CREATE TABLE IF NOT EXISTS devices (
	device_id     TEXT PRIMARY KEY,
	secret_salt   BYTEA NOT NULL,
	generation    BIGINT NOT NULL DEFAULT 1,
	sequence      BIGINT NOT NULL DEFAULT 0,
	revoked       BOOLEAN NOT NULL DEFAULT FALSE,
	device_type   TEXT NOT NULL DEFAULT '',
	app_version   TEXT NOT NULL DEFAULT '',
	region        TEXT NOT NULL DEFAULT '',
	registered_at TIMESTAMPTZ NOT NULL,
	last_seen_at  TIMESTAMPTZ
)`

const deviceColumns = `device_id, secret_salt, generation, sequence, revoked,
	device_type, app_version, region, registered_at, last_seen_at`

// PostgresStore implements the Store interface on PostgreSQL. Conditional
// updates are single UPDATE ... WHERE ... RETURNING statements.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore connects to PostgreSQL and verifies the connection
func NewPostgresStore(ctx context.Context, dbURL string) (*PostgresStore, error) {
	const op = "registry.postgres.New"

	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	db, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &PostgresStore{db: db}, nil
}

// EnsureSchema creates the device table if it does not exist
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("registry.postgres.EnsureSchema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresStore) Close() {
	s.db.Close()
}

// CheckHealth verifies database connectivity
func (s *PostgresStore) CheckHealth(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return backend.Unavailable("postgres health check failed", err)
	}
	return nil
}

// Create inserts a new device
func (s *PostgresStore) Create(ctx context.Context, d *Device) error {
	const op = "registry.postgres.Create"

	query := `
		INSERT INTO devices (device_id, secret_salt, generation, sequence, revoked,
			device_type, app_version, region, registered_at)
		VALUES ($1, $2, $3, 0, FALSE, $4, $5, $6, $7)
	`

	_, err := s.db.Exec(ctx, query,
		d.ID,
		d.Salt,
		int64(d.Generation),
		d.DeviceType,
		d.AppVersion,
		d.Region,
		d.RegisteredAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrConflict
		}
		return backend.Unavailable(op, err)
	}

	return nil
}

// Get retrieves a device by ID
func (s *PostgresStore) Get(ctx context.Context, id string) (*Device, error) {
	const op = "registry.postgres.Get"

	query := `SELECT ` + deviceColumns + ` FROM devices WHERE device_id = $1`

	d, err := scanDevice(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, backend.Unavailable(op, err)
	}
	return d, nil
}

// Reactivate re-registers a revoked device
func (s *PostgresStore) Reactivate(ctx context.Context, id string, salt []byte, meta Metadata, now time.Time) (*Device, error) {
	const op = "registry.postgres.Reactivate"

	query := `
		UPDATE devices
		SET secret_salt = $2, revoked = FALSE, generation = generation + 1,
			registered_at = $3, device_type = $4, app_version = $5, region = $6
		WHERE device_id = $1 AND revoked
		RETURNING ` + deviceColumns

	d, err := scanDevice(s.db.QueryRow(ctx, query, id, salt, now, meta.DeviceType, meta.AppVersion, meta.Region))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, backend.Unavailable(op, err)
	}

	// The device exists but is active
	if _, err := s.revoked(ctx, op, id); err != nil {
		return nil, err
	}
	return nil, ErrConflict
}

// Rotate replaces the salt of an active device
func (s *PostgresStore) Rotate(ctx context.Context, id string, salt []byte) (*Device, error) {
	const op = "registry.postgres.Rotate"

	query := `
		UPDATE devices
		SET secret_salt = $2, generation = generation + 1
		WHERE device_id = $1 AND NOT revoked
		RETURNING ` + deviceColumns

	d, err := scanDevice(s.db.QueryRow(ctx, query, id, salt))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, backend.Unavailable(op, err)
	}
	return nil, s.diagnose(ctx, op, id)
}

// Revoke marks a device revoked
func (s *PostgresStore) Revoke(ctx context.Context, id string) error {
	const op = "registry.postgres.Revoke"

	tag, err := s.db.Exec(ctx, `UPDATE devices SET revoked = TRUE WHERE device_id = $1`, id)
	if err != nil {
		return backend.Unavailable(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceSequence increments the token sequence
func (s *PostgresStore) AdvanceSequence(ctx context.Context, id string) (uint64, error) {
	const op = "registry.postgres.AdvanceSequence"

	query := `
		UPDATE devices SET sequence = sequence + 1
		WHERE device_id = $1 AND NOT revoked
		RETURNING sequence
	`

	var seq int64
	err := s.db.QueryRow(ctx, query, id).Scan(&seq)
	if err == nil {
		return uint64(seq), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, backend.Unavailable(op, err)
	}
	return 0, s.diagnose(ctx, op, id)
}

// CompareAndAdvanceSequence increments the token sequence if it equals expected
func (s *PostgresStore) CompareAndAdvanceSequence(ctx context.Context, id string, expected uint64) (uint64, error) {
	const op = "registry.postgres.CompareAndAdvanceSequence"

	query := `
		UPDATE devices SET sequence = sequence + 1
		WHERE device_id = $1 AND sequence = $2 AND NOT revoked
		RETURNING sequence
	`

	var seq int64
	err := s.db.QueryRow(ctx, query, id, int64(expected)).Scan(&seq)
	if err == nil {
		return uint64(seq), nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, backend.Unavailable(op, err)
	}
	if err := s.diagnose(ctx, op, id); err != nil {
		return 0, err
	}
	return 0, ErrStaleSequence
}

// Touch records the last time the device was seen
func (s *PostgresStore) Touch(ctx context.Context, id string, now time.Time) error {
	const op = "registry.postgres.Touch"

	tag, err := s.db.Exec(ctx, `UPDATE devices SET last_seen_at = $2 WHERE device_id = $1`, id, now)
	if err != nil {
		return backend.Unavailable(op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// diagnose explains why a conditional update on an active device matched no row.
// It returns nil when the device exists and is active.
func (s *PostgresStore) diagnose(ctx context.Context, op, id string) error {
	revoked, err := s.revoked(ctx, op, id)
	if err != nil {
		return err
	}
	if revoked {
		return ErrRevoked
	}
	return nil
}

func (s *PostgresStore) revoked(ctx context.Context, op, id string) (bool, error) {
	var revoked bool
	err := s.db.QueryRow(ctx, `SELECT revoked FROM devices WHERE device_id = $1`, id).Scan(&revoked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, backend.Unavailable(op, err)
	}
	return revoked, nil
}

func scanDevice(row pgx.Row) (*Device, error) {
	var (
		d        Device
		gen, seq int64
		lastSeen *time.Time
	)

	err := row.Scan(
		&d.ID,
		&d.Salt,
		&gen,
		&seq,
		&d.Revoked,
		&d.DeviceType,
		&d.AppVersion,
		&d.Region,
		&d.RegisteredAt,
		&lastSeen,
	)
	if err != nil {
		return nil, err
	}

	d.Generation = uint64(gen)
	d.Sequence = uint64(seq)
	d.RegisteredAt = d.RegisteredAt.UTC()
	if lastSeen != nil {
		d.LastSeenAt = lastSeen.UTC()
	}
	return &d, nil
}

var _ Store = (*PostgresStore)(nil)
