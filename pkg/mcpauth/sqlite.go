package mcpauth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/oauth2"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a durable Store backed by a SQLite database. Rows are keyed
// by (session ID, server URL) so one database file can serve many sessions
// while each SQLiteStore value stays scoped to exactly one of them.
type SQLiteStore struct {
	db        *sql.DB
	sessionID string
	logger    *slog.Logger
}

// NewSQLiteStore opens (creating if needed) the database at path and returns
// a store scoped to sessionID. Parent directories are created, WAL mode is
// enabled, and the schema is applied on open.
func NewSQLiteStore(path, sessionID string) (*SQLiteStore, error) {
	if sessionID == "" {
		return nil, errors.New("mcpauth: session ID is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mcpauth: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("mcpauth: open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("mcpauth: enable WAL mode: %w", err)
	}

	s := &SQLiteStore{
		db:        db,
		sessionID: sessionID,
		logger:    slog.Default().With("component", "credential-store"),
	}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("mcpauth: create schema: %w", err)
	}
	s.logger.Info("credential store opened", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS credentials (
			session_id TEXT NOT NULL,
			server_url TEXT NOT NULL,
			verifier TEXT,
			client_information TEXT,
			tokens TEXT,
			updated_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, server_url)
		);

		CREATE TABLE IF NOT EXISTS authorization_states (
			state TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			server_url TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveVerifier(ctx context.Context, serverURL, verifier string) error {
	return s.upsertColumn(ctx, serverURL, "verifier", verifier)
}

func (s *SQLiteStore) Verifier(ctx context.Context, serverURL string) (string, error) {
	var verifier sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT verifier FROM credentials WHERE session_id = ? AND server_url = ?`,
		s.sessionID, serverURL).Scan(&verifier)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrMissingVerifier, serverURL)
	}
	if err != nil {
		return "", fmt.Errorf("mcpauth: load verifier: %w", err)
	}
	if !verifier.Valid || verifier.String == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingVerifier, serverURL)
	}
	return verifier.String, nil
}

func (s *SQLiteStore) SaveClientInformation(ctx context.Context, serverURL string, info ClientInformation) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("mcpauth: marshal client information: %w", err)
	}
	return s.upsertColumn(ctx, serverURL, "client_information", string(data))
}

func (s *SQLiteStore) ClientInformation(ctx context.Context, serverURL string) (ClientInformation, bool, error) {
	raw, ok, err := s.loadColumn(ctx, serverURL, "client_information")
	if err != nil || !ok {
		return ClientInformation{}, false, err
	}
	var info ClientInformation
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		return ClientInformation{}, false, fmt.Errorf("mcpauth: unmarshal client information: %w", err)
	}
	return info, true, nil
}

func (s *SQLiteStore) SaveTokens(ctx context.Context, serverURL string, tok *oauth2.Token) error {
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("mcpauth: marshal tokens: %w", err)
	}
	return s.upsertColumn(ctx, serverURL, "tokens", string(data))
}

func (s *SQLiteStore) Tokens(ctx context.Context, serverURL string) (*oauth2.Token, bool, error) {
	raw, ok, err := s.loadColumn(ctx, serverURL, "tokens")
	if err != nil || !ok {
		return nil, false, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, false, fmt.Errorf("mcpauth: unmarshal tokens: %w", err)
	}
	return &tok, true, nil
}

func (s *SQLiteStore) SaveAuthorizationState(ctx context.Context, state, serverURL string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO authorization_states (state, session_id, server_url, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (state) DO UPDATE SET server_url = excluded.server_url`,
		state, s.sessionID, serverURL, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mcpauth: save authorization state: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AuthorizationState(ctx context.Context, state string) (string, bool, error) {
	var serverURL string
	err := s.db.QueryRowContext(ctx,
		`SELECT server_url FROM authorization_states WHERE state = ? AND session_id = ?`,
		state, s.sessionID).Scan(&serverURL)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mcpauth: load authorization state: %w", err)
	}
	return serverURL, true, nil
}

func (s *SQLiteStore) Clear(ctx context.Context, serverURL string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM credentials WHERE session_id = ? AND server_url = ?`,
		s.sessionID, serverURL)
	if err != nil {
		return fmt.Errorf("mcpauth: clear credentials: %w", err)
	}
	return nil
}

// upsertColumn writes a single credential column for (session, server),
// leaving the other columns untouched so the verifier, client information,
// and tokens can be saved independently as the flow progresses.
func (s *SQLiteStore) upsertColumn(ctx context.Context, serverURL, column, value string) error {
	query := fmt.Sprintf(
		`INSERT INTO credentials (session_id, server_url, %s, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (session_id, server_url) DO UPDATE SET %s = excluded.%s, updated_at = excluded.updated_at`,
		column, column, column)
	if _, err := s.db.ExecContext(ctx, query, s.sessionID, serverURL, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("mcpauth: save %s: %w", column, err)
	}
	return nil
}

func (s *SQLiteStore) loadColumn(ctx context.Context, serverURL, column string) (string, bool, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM credentials WHERE session_id = ? AND server_url = ?`, column)
	var value sql.NullString
	err := s.db.QueryRowContext(ctx, query, s.sessionID, serverURL).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("mcpauth: load %s: %w", column, err)
	}
	if !value.Valid || value.String == "" {
		return "", false, nil
	}
	return value.String, true, nil
}
