package client

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// Profile is the last connection the user completed successfully
type Profile struct {
	Host     string
	Port     int
	Username string
	At       time.Time
}

// State remembers the client's last successful connection between runs.
// Chat messages are never stored.
type State struct {
	db  *sql.DB
	dir string // Directory where state is stored
}

// OpenState opens or creates the client state database
func OpenState(path string) (*State, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}

	// Client only needs one connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	state := &State{
		db:  db,
		dir: dir,
	}

	if err := state.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return state, nil
}

// Close closes the state database
func (s *State) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist
func (s *State) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS Config (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS ConnectionHistory (
	server_address TEXT PRIMARY KEY,
	host TEXT NOT NULL,
	port INTEGER NOT NULL,
	username TEXT NOT NULL,
	last_success_at INTEGER NOT NULL
);
`
	_, err := s.db.Exec(schema)
	return err
}

// GetConfig retrieves a configuration value, or "" if unset
func (s *State) GetConfig(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM Config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetConfig stores a configuration value
func (s *State) SetConfig(key, value string) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)
	`, key, value)
	return err
}

// GetLastUsername returns the last accepted username
func (s *State) GetLastUsername() string {
	username, _ := s.GetConfig("last_username")
	return username
}

// SaveConnection records an accepted connection and makes it the last profile
func (s *State) SaveConnection(host string, port int, username string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	address := fmt.Sprintf("%s:%d", host, port)
	if _, err := tx.Exec(`
		INSERT OR REPLACE INTO ConnectionHistory (server_address, host, port, username, last_success_at)
		VALUES (?, ?, ?, ?, ?)
	`, address, host, port, username, time.Now().Unix()); err != nil {
		return err
	}

	for key, value := range map[string]string{
		"last_server":   address,
		"last_username": username,
	} {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO Config (key, value) VALUES (?, ?)`, key, value); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// LastProfile returns the most recent successful connection, or nil if there is none
func (s *State) LastProfile() (*Profile, error) {
	address, err := s.GetConfig("last_server")
	if err != nil || address == "" {
		return nil, err
	}

	var (
		p  Profile
		at int64
	)
	err = s.db.QueryRow(`
		SELECT host, port, username, last_success_at
		FROM ConnectionHistory
		WHERE server_address = ?
	`, address).Scan(&p.Host, &p.Port, &p.Username, &at)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p.At = time.Unix(at, 0)
	return &p, nil
}

// UsernameFor returns the username last accepted by host:port, or ""
func (s *State) UsernameFor(host string, port int) string {
	var username string
	err := s.db.QueryRow(`
		SELECT username FROM ConnectionHistory WHERE server_address = ?
	`, host+":"+strconv.Itoa(port)).Scan(&username)
	if err != nil {
		return ""
	}
	return username
}

// GetStateDir returns the directory where state is stored
func (s *State) GetStateDir() string {
	return s.dir
}
