// Package db persists OAuth tokens in Postgres through the pgx stdlib driver.
// The ledger itself is never stored; only the chat bot's credentials survive a restart.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx postgres driver registered as 'pgx'

	"github.com/onnwee/chatpoll/crypto"
	"github.com/onnwee/chatpoll/oauth"
)

// Connect opens a Postgres connection and verifies it with a ping.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("db: empty DSN")
	}
	dbx, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	dbx.SetMaxOpenConns(4)
	dbx.SetConnMaxIdleTime(5 * time.Minute)
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := dbx.PingContext(pctx); err != nil {
		_ = dbx.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return dbx, nil
}

// Migrate applies idempotent schema changes.
func Migrate(ctx context.Context, dbx *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS oauth_tokens (
			provider TEXT PRIMARY KEY,
			access_token TEXT,
			refresh_token TEXT,
			expires_at TIMESTAMPTZ,
			scope TEXT,
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			encryption_version INTEGER DEFAULT 0,
			encryption_key_id TEXT
		)`,
		// columns added after the first release
		`ALTER TABLE oauth_tokens ADD COLUMN IF NOT EXISTS encryption_version INTEGER DEFAULT 0`,
		`ALTER TABLE oauth_tokens ADD COLUMN IF NOT EXISTS encryption_key_id TEXT`,
		`ALTER TABLE oauth_tokens ADD COLUMN IF NOT EXISTS login TEXT`,
	}
	for i, s := range stmts {
		if _, err := dbx.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("postgres migrate step %d failed: %w", i, err)
		}
	}
	return nil
}

// TokenStore implements oauth.TokenStore on the oauth_tokens table. With a
// Sealer, tokens are encrypted (encryption_version=1); without one they are
// stored in plaintext (version 0). Plaintext rows are always readable.
type TokenStore struct {
	DB     *sql.DB
	Sealer crypto.Sealer
}

// NewTokenStore wires a store. An empty encryptionKey disables encryption.
func NewTokenStore(dbx *sql.DB, encryptionKey string) (*TokenStore, error) {
	ts := &TokenStore{DB: dbx}
	if encryptionKey == "" {
		slog.Warn("ENCRYPTION_KEY not set, OAuth tokens will be stored in plaintext (not recommended for production)", slog.String("component", "db_encryption"))
		return ts, nil
	}
	box, err := crypto.NewBox(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryption: %w", err)
	}
	ts.Sealer = box
	slog.Info("OAuth token encryption enabled (AES-256-GCM)", slog.String("component", "db_encryption"), slog.String("key_id", box.KeyID()))
	return ts, nil
}

// PutToken stores or replaces the provider's token.
func (s *TokenStore) PutToken(ctx context.Context, provider string, tok oauth.Token) error {
	access, refresh := tok.AccessToken, tok.RefreshToken
	encVersion, keyID := 0, ""
	if s.Sealer != nil {
		var err error
		if access, err = s.Sealer.Seal(access, provider); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = s.Sealer.Seal(refresh, provider); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		encVersion, keyID = 1, s.Sealer.KeyID()
	}
	var expiry sql.NullTime
	if !tok.Expiry.IsZero() {
		expiry = sql.NullTime{Time: tok.Expiry, Valid: true}
	}
	q := `INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, login, encryption_version, encryption_key_id, updated_at)
		  VALUES($1,$2,$3,$4,$5,$6,$7,$8,NOW())
		  ON CONFLICT(provider) DO UPDATE SET
		    access_token=EXCLUDED.access_token,
		    refresh_token=EXCLUDED.refresh_token,
		    expires_at=EXCLUDED.expires_at,
		    scope=EXCLUDED.scope,
		    login=EXCLUDED.login,
		    encryption_version=EXCLUDED.encryption_version,
		    encryption_key_id=EXCLUDED.encryption_key_id,
		    updated_at=NOW()`
	_, err := s.DB.ExecContext(ctx, q, provider, access, refresh, expiry, strings.TrimSpace(tok.Scope), tok.Login, encVersion, keyID)
	return err
}

// GetToken reads the provider's token, decrypting when needed. Missing rows
// yield oauth.ErrNotFound.
func (s *TokenStore) GetToken(ctx context.Context, provider string) (oauth.Token, error) {
	var (
		tok        oauth.Token
		access     sql.NullString
		refresh    sql.NullString
		expiry     sql.NullTime
		scope      sql.NullString
		login      sql.NullString
		encVersion int
		keyID      sql.NullString
	)
	row := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, login, COALESCE(encryption_version, 0), encryption_key_id
		 FROM oauth_tokens WHERE provider = $1`, provider)
	err := row.Scan(&access, &refresh, &expiry, &scope, &login, &encVersion, &keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return tok, oauth.ErrNotFound
	}
	if err != nil {
		return tok, err
	}
	tok = oauth.Token{AccessToken: access.String, RefreshToken: refresh.String, Scope: scope.String, Login: login.String}
	if expiry.Valid {
		tok.Expiry = expiry.Time
	}
	if encVersion != 1 {
		return tok, nil
	}
	if s.Sealer == nil {
		return oauth.Token{}, fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
	}
	if keyID.Valid && keyID.String != "" && keyID.String != s.Sealer.KeyID() {
		return oauth.Token{}, fmt.Errorf("token was encrypted with key %s, configured key is %s", keyID.String, s.Sealer.KeyID())
	}
	if tok.AccessToken, err = s.Sealer.Open(tok.AccessToken, provider); err != nil {
		return oauth.Token{}, fmt.Errorf("decrypt access token: %w", err)
	}
	if tok.RefreshToken, err = s.Sealer.Open(tok.RefreshToken, provider); err != nil {
		return oauth.Token{}, fmt.Errorf("decrypt refresh token: %w", err)
	}
	return tok, nil
}

// Ping reports database reachability for readiness checks.
func (s *TokenStore) Ping(ctx context.Context) error {
	return s.DB.PingContext(ctx)
}
