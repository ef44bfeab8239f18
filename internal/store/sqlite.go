package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/valorwatch/valorwatch/internal/errors"
	"github.com/valorwatch/valorwatch/internal/models"
	_ "modernc.org/sqlite"
)

// Store is the persistence boundary for users and credential records. Token
// fields cross this boundary already encrypted. Concurrent writers to the
// same record serialize through SQLite's transactional guarantees.
type Store interface {
	CreateUser(ctx context.Context, id int64, locale string) (*models.User, error)
	GetUser(ctx context.Context, id int64) (*models.User, error)
	UpdateUserLocale(ctx context.Context, id int64, locale string) error
	SetMainAccount(ctx context.Context, id int64, puuid string) error
	DeleteUser(ctx context.Context, id int64) error

	CreateCredential(ctx context.Context, rec *models.CredentialRecord) error
	GetCredential(ctx context.Context, puuid string, ownerID int64) (*models.CredentialRecord, error)
	UpdateCredential(ctx context.Context, rec *models.CredentialRecord) (bool, error)
	DeleteCredential(ctx context.Context, puuid string, ownerID int64) (bool, error)
	ListCredentials(ctx context.Context, ownerID int64) ([]*models.CredentialRecord, error)
	ListAllCredentials(ctx context.Context) ([]*models.CredentialRecord, error)

	Close() error
}

// SQLiteStore implements Store on a WAL-mode SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and runs
// pending migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, &errors.ErrDatabaseOpen{Path: dbPath, Err: err}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "create migrations table", Err: err}
	}

	var currentVersion int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "get current migration version", Err: err}
	}

	migrations := []struct {
		version int
		up      string
	}{
		{
			version: 1,
			up: `
				CREATE TABLE IF NOT EXISTS users (
					id INTEGER PRIMARY KEY,
					locale TEXT NOT NULL DEFAULT 'en-US',
					main_puuid TEXT NOT NULL DEFAULT '',
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS credentials (
					puuid TEXT NOT NULL,
					owner_id INTEGER NOT NULL,
					game_name TEXT NOT NULL DEFAULT '',
					tag_line TEXT NOT NULL DEFAULT '',
					region TEXT NOT NULL DEFAULT '',
					scope TEXT NOT NULL DEFAULT '',
					token_type TEXT NOT NULL DEFAULT 'Bearer',
					access_token TEXT NOT NULL,
					id_token TEXT NOT NULL,
					entitlement_token TEXT NOT NULL,
					ssid_cookie TEXT NOT NULL,
					expires_at INTEGER NOT NULL,
					created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (puuid, owner_id),
					FOREIGN KEY (owner_id) REFERENCES users(id) ON DELETE CASCADE
				);

				CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_id);
				CREATE INDEX IF NOT EXISTS idx_credentials_created ON credentials(created_at);
			`,
		},
	}

	tx, err := db.Begin()
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "begin transaction", Err: err}
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, m := range migrations {
		if m.version > currentVersion {
			if _, err := tx.Exec(m.up); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
			if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
				return &errors.ErrDatabaseMigration{Version: m.version, Err: err}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return &errors.ErrDatabaseQuery{Operation: "commit migrations", Err: err}
	}
	return nil
}

// CreateUser inserts a user, returning the existing row unchanged if the
// user was already created by an earlier interaction.
func (s *SQLiteStore) CreateUser(ctx context.Context, id int64, locale string) (*models.User, error) {
	if locale == "" {
		locale = "en-US"
	}
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, locale) VALUES (?, ?) ON CONFLICT(id) DO NOTHING", id, locale)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "create user", Err: err}
	}
	return s.GetUser(ctx, id)
}

// GetUser returns the user or nil when absent.
func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx,
		"SELECT id, locale, main_puuid, created_at FROM users WHERE id = ?", id).
		Scan(&u.ID, &u.Locale, &u.MainPUUID, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get user", Err: err}
	}
	return &u, nil
}

// UpdateUserLocale changes a user's locale.
func (s *SQLiteStore) UpdateUserLocale(ctx context.Context, id int64, locale string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE users SET locale = ? WHERE id = ?", locale, id)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "update user locale", Err: err}
	}
	return nil
}

// SetMainAccount designates the user's main linked account.
func (s *SQLiteStore) SetMainAccount(ctx context.Context, id int64, puuid string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE users SET main_puuid = ? WHERE id = ?", puuid, id)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "set main account", Err: err}
	}
	return nil
}

// DeleteUser removes a user; credentials cascade.
func (s *SQLiteStore) DeleteUser(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM users WHERE id = ?", id)
	if err != nil {
		return &errors.ErrDatabaseQuery{Operation: "delete user", Err: err}
	}
	return nil
}

// CreateCredential inserts a credential record. Linking the same upstream
// account twice for one owner fails with ErrDuplicateCredential.
func (s *SQLiteStore) CreateCredential(ctx context.Context, rec *models.CredentialRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO credentials
			(puuid, owner_id, game_name, tag_line, region, scope, token_type,
			 access_token, id_token, entitlement_token, ssid_cookie, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PUUID, rec.OwnerID, rec.GameName, rec.TagLine, rec.Region, rec.Scope,
		rec.TokenType, rec.AccessToken, rec.IDToken, rec.EntitlementToken,
		rec.SSIDCookie, rec.ExpiresAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") ||
			strings.Contains(err.Error(), "constraint failed") {
			return &errors.ErrDuplicateCredential{PUUID: rec.PUUID, OwnerID: rec.OwnerID}
		}
		return &errors.ErrDatabaseQuery{Operation: "create credential", Err: err}
	}
	return nil
}

// GetCredential returns the record for (puuid, ownerID) or nil when absent.
func (s *SQLiteStore) GetCredential(ctx context.Context, puuid string, ownerID int64) (*models.CredentialRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT puuid, owner_id, game_name, tag_line, region, scope, token_type,
		       access_token, id_token, entitlement_token, ssid_cookie, expires_at, created_at
		FROM credentials WHERE puuid = ? AND owner_id = ?`, puuid, ownerID)

	rec, err := scanCredential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "get credential", Err: err}
	}
	return rec, nil
}

// UpdateCredential overwrites the token bundle and expiry of an existing
// record. Returns false when no matching record exists.
func (s *SQLiteStore) UpdateCredential(ctx context.Context, rec *models.CredentialRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE credentials
		SET game_name = ?, tag_line = ?, scope = ?, token_type = ?,
		    access_token = ?, id_token = ?, entitlement_token = ?,
		    ssid_cookie = ?, expires_at = ?
		WHERE puuid = ? AND owner_id = ?`,
		rec.GameName, rec.TagLine, rec.Scope, rec.TokenType,
		rec.AccessToken, rec.IDToken, rec.EntitlementToken,
		rec.SSIDCookie, rec.ExpiresAt, rec.PUUID, rec.OwnerID)
	if err != nil {
		return false, &errors.ErrDatabaseQuery{Operation: "update credential", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &errors.ErrDatabaseQuery{Operation: "update credential", Err: err}
	}
	return n > 0, nil
}

// DeleteCredential removes a record. Returns false when nothing matched.
func (s *SQLiteStore) DeleteCredential(ctx context.Context, puuid string, ownerID int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM credentials WHERE puuid = ? AND owner_id = ?", puuid, ownerID)
	if err != nil {
		return false, &errors.ErrDatabaseQuery{Operation: "delete credential", Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, &errors.ErrDatabaseQuery{Operation: "delete credential", Err: err}
	}
	return n > 0, nil
}

// ListCredentials returns all records for an owner in ascending creation
// order, so the oldest linked account comes first.
func (s *SQLiteStore) ListCredentials(ctx context.Context, ownerID int64) ([]*models.CredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT puuid, owner_id, game_name, tag_line, region, scope, token_type,
		       access_token, id_token, entitlement_token, ssid_cookie, expires_at, created_at
		FROM credentials WHERE owner_id = ?
		ORDER BY created_at ASC, puuid ASC`, ownerID)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list credentials", Err: err}
	}
	defer rows.Close()

	var recs []*models.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "list credentials", Err: err}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list credentials", Err: err}
	}
	return recs, nil
}

// ListAllCredentials returns every record across owners, for the admin
// surface. Token fields stay encrypted.
func (s *SQLiteStore) ListAllCredentials(ctx context.Context) ([]*models.CredentialRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT puuid, owner_id, game_name, tag_line, region, scope, token_type,
		       access_token, id_token, entitlement_token, ssid_cookie, expires_at, created_at
		FROM credentials
		ORDER BY owner_id ASC, created_at ASC, puuid ASC`)
	if err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list all credentials", Err: err}
	}
	defer rows.Close()

	var recs []*models.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, &errors.ErrDatabaseQuery{Operation: "list all credentials", Err: err}
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &errors.ErrDatabaseQuery{Operation: "list all credentials", Err: err}
	}
	return recs, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCredential(row rowScanner) (*models.CredentialRecord, error) {
	var rec models.CredentialRecord
	var createdAt time.Time
	err := row.Scan(&rec.PUUID, &rec.OwnerID, &rec.GameName, &rec.TagLine,
		&rec.Region, &rec.Scope, &rec.TokenType, &rec.AccessToken, &rec.IDToken,
		&rec.EntitlementToken, &rec.SSIDCookie, &rec.ExpiresAt, &createdAt)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = createdAt
	return &rec, nil
}
