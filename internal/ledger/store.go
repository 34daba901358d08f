package ledger

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"colabsfm/internal/services"
	"colabsfm/internal/sqlitedb"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DefaultUploader is recorded when a caller supplies no uploader identifier.
const DefaultUploader = "unknown"

// Record is one persisted upload.
type Record struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	UserID    string    `json:"user_id"`
	Region    string    `json:"region_name"`
	SizeBytes int64     `json:"size_bytes"`
	Camera    string    `json:"camera,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store manages upload records backed by SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open connects to the ledger database at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlitedb.Open(ctx, path, migrationFS, "migrations")
	if err != nil {
		return nil, services.Wrap(services.ErrLedger, "ledger", "open", path, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// New wraps an existing connection. The caller is responsible for the schema
// (see EnsureSchema).
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// EnsureSchema applies any pending migrations. It is idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := sqlitedb.Migrate(ctx, s.db, migrationFS, "migrations"); err != nil {
		return services.Wrap(services.ErrLedger, "ledger", "ensure schema", "", err)
	}
	return nil
}

// Batch is an open ledger transaction.
type Batch struct {
	tx    *sql.Tx
	now   func() time.Time
	count int
	done  bool
}

// Begin opens a batch. Callers must Commit or Rollback it.
func (s *Store) Begin(ctx context.Context) (*Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrLedger, "ledger", "begin", "", err)
	}
	return &Batch{tx: tx, now: s.now}, nil
}

// Append inserts one record inside the batch and returns its identifier.
func (b *Batch) Append(ctx context.Context, rec Record) (int64, error) {
	if b.done {
		return 0, services.Wrap(services.ErrLedger, "ledger", "append", "batch already finished", nil)
	}
	if strings.TrimSpace(rec.Filename) == "" || strings.TrimSpace(rec.Region) == "" {
		return 0, services.Wrap(services.ErrLedger, "ledger", "append", "filename and region are required", nil)
	}
	userID := strings.TrimSpace(rec.UserID)
	if userID == "" {
		userID = DefaultUploader
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = b.now()
	}
	res, err := b.tx.ExecContext(
		ctx,
		`INSERT INTO uploads (filename, user_id, region_name, size_bytes, camera, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		rec.Filename,
		userID,
		rec.Region,
		rec.SizeBytes,
		sqlitedb.NullableString(rec.Camera),
		sqlitedb.Timestamp(created),
	)
	if err != nil {
		return 0, services.Wrap(services.ErrLedger, "ledger", "append", rec.Filename, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, services.Wrap(services.ErrLedger, "ledger", "append", "last insert id", err)
	}
	b.count++
	return id, nil
}

// Len reports how many records the batch holds.
func (b *Batch) Len() int {
	return b.count
}

// Commit makes every appended record durable.
func (b *Batch) Commit() error {
	if b.done {
		return services.Wrap(services.ErrLedger, "ledger", "commit", "batch already finished", nil)
	}
	b.done = true
	if err := b.tx.Commit(); err != nil {
		return services.Wrap(services.ErrLedger, "ledger", "commit", "", err)
	}
	return nil
}

// Rollback discards the batch. It is a no-op after Commit.
func (b *Batch) Rollback() error {
	if b.done {
		return nil
	}
	b.done = true
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return services.Wrap(services.ErrLedger, "ledger", "rollback", "", err)
	}
	return nil
}

const recordColumns = "id, filename, user_id, region_name, size_bytes, camera, created_at"

// ListByRegion returns every record for region. Order follows insertion but
// callers should not rely on it.
func (s *Store) ListByRegion(ctx context.Context, region string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM uploads WHERE region_name = ? ORDER BY id`, region)
	if err != nil {
		return nil, services.Wrap(services.ErrLedger, "ledger", "list", region, err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, services.Wrap(services.ErrLedger, "ledger", "scan", region, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, services.Wrap(services.ErrLedger, "ledger", "list", region, err)
	}
	return records, nil
}

// CountByRegion returns the number of records held for region.
func (s *Store) CountByRegion(ctx context.Context, region string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM uploads WHERE region_name = ?`, region).Scan(&count); err != nil {
		return 0, services.Wrap(services.ErrLedger, "ledger", "count", region, err)
	}
	return count, nil
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (Record, error) {
	var (
		rec        Record
		camera     sql.NullString
		createdRaw string
	)
	if err := scanner.Scan(&rec.ID, &rec.Filename, &rec.UserID, &rec.Region, &rec.SizeBytes, &camera, &createdRaw); err != nil {
		return Record{}, err
	}
	rec.Camera = camera.String
	created, err := sqlitedb.ParseTimestamp(createdRaw)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at: %w", err)
	}
	rec.CreatedAt = created
	return rec, nil
}
