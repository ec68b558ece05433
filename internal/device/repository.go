package device

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nerrad567/microcoaster-core/internal/auth"
)

// Repository defines the interface for module persistence operations.
type Repository interface {
	// Provision inserts a new unclaimed module with the given secret.
	// Returns ErrModuleExists if the ID is taken.
	Provision(ctx context.Context, m *Module, secret string) error

	// Get retrieves a module by ID.
	// Returns ErrModuleNotFound if the module does not exist.
	Get(ctx context.Context, id string) (*Module, error)

	// List retrieves all modules ordered by ID.
	List(ctx context.Context) ([]Module, error)

	// ListByOwner retrieves the modules owned by a user.
	ListByOwner(ctx context.Context, userID string) ([]Module, error)

	// Claim assigns an unclaimed module to a user after checking its secret.
	Claim(ctx context.Context, id, secret, userID string) (*Module, error)

	// Release clears the owner of a module owned by userID.
	Release(ctx context.Context, id, userID string) error

	// FindOwner returns the owning user of a module.
	FindOwner(ctx context.Context, id string) (string, error)

	// ValidateCredentials authenticates a connecting module.
	ValidateCredentials(ctx context.Context, id, secret string) (*Module, error)

	// PersistStatus records the last known presence of a module.
	PersistStatus(ctx context.Context, id string, status Status) error
}

// SQLiteRepository implements Repository using SQLite.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository creates a new SQLite-backed module repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{
		db:  db,
		now: func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

const moduleColumns = `id, type, name, owner_id, secret_hash, status, last_seen, claimed_at, created_at, updated_at`

// Provision inserts a new unclaimed module.
func (r *SQLiteRepository) Provision(ctx context.Context, m *Module, secret string) error {
	if err := ValidateModule(m); err != nil {
		return err
	}
	if err := ValidateSecret(secret); err != nil {
		return err
	}

	hash, err := auth.HashPassword(secret)
	if err != nil {
		return fmt.Errorf("hashing module secret: %w", err)
	}

	now := r.now()
	m.SecretHash = hash
	m.OwnerID = ""
	m.Status = StatusUnknown
	m.LastSeen, m.ClaimedAt = nil, nil
	m.CreatedAt, m.UpdatedAt = now, now

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO modules (`+moduleColumns+`) VALUES (?, ?, ?, NULL, ?, ?, NULL, NULL, ?, ?)`,
		m.ID, string(m.Type), m.Name, m.SecretHash, string(m.Status),
		formatTime(now), formatTime(now),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrModuleExists
		}
		return fmt.Errorf("inserting module: %w", err)
	}
	return nil
}

// Get retrieves a module by ID.
func (r *SQLiteRepository) Get(ctx context.Context, id string) (*Module, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+moduleColumns+` FROM modules WHERE id = ?`, id)
	m, err := scanModule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrModuleNotFound
		}
		return nil, fmt.Errorf("querying module by id: %w", err)
	}
	return m, nil
}

// List retrieves all modules.
func (r *SQLiteRepository) List(ctx context.Context) ([]Module, error) {
	return r.queryModules(ctx, `SELECT `+moduleColumns+` FROM modules ORDER BY id`)
}

// ListByOwner retrieves the modules owned by userID.
func (r *SQLiteRepository) ListByOwner(ctx context.Context, userID string) ([]Module, error) {
	return r.queryModules(ctx,
		`SELECT `+moduleColumns+` FROM modules WHERE owner_id = ? ORDER BY id`, userID)
}

// Claim assigns a module to userID. The secret is checked first, so an
// unknown ID and a wrong secret are indistinguishable. Claiming a module
// the caller already owns succeeds without changes.
func (r *SQLiteRepository) Claim(ctx context.Context, id, secret, userID string) (*Module, error) {
	m, err := r.ValidateCredentials(ctx, id, secret)
	switch {
	case errors.Is(err, ErrNoOwner):
		// Unclaimed: the expected case.
	case err != nil:
		return nil, err
	case m.OwnerID == userID:
		return m, nil
	default:
		return nil, ErrAlreadyClaimed
	}

	now := r.now()
	result, err := r.db.ExecContext(ctx,
		`UPDATE modules SET owner_id = ?, claimed_at = ?, updated_at = ?
		 WHERE id = ? AND owner_id IS NULL`,
		userID, formatTime(now), formatTime(now), id,
	)
	if err != nil {
		return nil, fmt.Errorf("claiming module: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("checking claim result: %w", err)
	}
	if rows == 0 {
		// Lost a race with another claimant.
		return nil, ErrAlreadyClaimed
	}
	return r.Get(ctx, id)
}

// Release clears the owner of a module.
func (r *SQLiteRepository) Release(ctx context.Context, id, userID string) error {
	owner, err := r.FindOwner(ctx, id)
	if errors.Is(err, ErrNoOwner) {
		return ErrNotOwner
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrNotOwner
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE modules SET owner_id = NULL, claimed_at = NULL, updated_at = ?
		 WHERE id = ? AND owner_id = ?`,
		formatTime(r.now()), id, userID,
	)
	if err != nil {
		return fmt.Errorf("releasing module: %w", err)
	}
	return nil
}

// FindOwner returns the owning user of a module, ErrModuleNotFound for an
// unknown ID, or ErrNoOwner for an unclaimed module.
func (r *SQLiteRepository) FindOwner(ctx context.Context, id string) (string, error) {
	var owner sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT owner_id FROM modules WHERE id = ?`, id).Scan(&owner)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrModuleNotFound
		}
		return "", fmt.Errorf("querying module owner: %w", err)
	}
	if !owner.Valid || owner.String == "" {
		return "", ErrNoOwner
	}
	return owner.String, nil
}

// ValidateCredentials authenticates a module by ID and secret.
//
// An unknown ID and a wrong secret both return ErrInvalidCredentials after
// the same amount of hashing work. A correct secret for an unclaimed module
// returns the module together with ErrNoOwner.
func (r *SQLiteRepository) ValidateCredentials(ctx context.Context, id, secret string) (*Module, error) {
	m, err := r.Get(ctx, id)
	if errors.Is(err, ErrModuleNotFound) {
		auth.BurnVerify(secret)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	ok, err := auth.VerifyPassword(secret, m.SecretHash)
	if err != nil {
		return nil, fmt.Errorf("verifying module secret: %w", err)
	}
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if !m.IsClaimed() {
		return m, ErrNoOwner
	}
	return m, nil
}

// PersistStatus records the presence status and stamps last_seen.
func (r *SQLiteRepository) PersistStatus(ctx context.Context, id string, status Status) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	now := formatTime(r.now())
	result, err := r.db.ExecContext(ctx,
		`UPDATE modules SET status = ?, last_seen = ?, updated_at = ? WHERE id = ?`,
		string(status), now, now, id,
	)
	if err != nil {
		return fmt.Errorf("persisting module status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking status result: %w", err)
	}
	if rows == 0 {
		return ErrModuleNotFound
	}
	return nil
}

func (r *SQLiteRepository) queryModules(ctx context.Context, query string, args ...any) ([]Module, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying modules: %w", err)
	}
	defer rows.Close()

	var modules []Module
	for rows.Next() {
		m, err := scanModule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning module: %w", err)
		}
		modules = append(modules, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating modules: %w", err)
	}
	return modules, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanModule(row rowScanner) (*Module, error) {
	var m Module
	var typ, status string
	var owner, lastSeen, claimedAt sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&m.ID, &typ, &m.Name, &owner, &m.SecretHash, &status,
		&lastSeen, &claimedAt, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	m.Type = Type(typ)
	m.Status = Status(status)
	m.OwnerID = owner.String
	m.LastSeen = parseNullTime(lastSeen)
	m.ClaimedAt = parseNullTime(claimedAt)
	m.CreatedAt, _ = time.Parse(time.RFC3339, createdAt) //nolint:errcheck // format is controlled
	m.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
	return &m, nil
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
