// Package store provides the SQLite-backed persistent store for users,
// projects and chat history.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/R1cK-ChaN/hersite/internal/project"
)

// ErrUserNotFound is returned when no user matches the lookup.
var ErrUserNotFound = errors.New("user not found")

// User is one invite-token account.
type User struct {
	ID          string
	InviteToken string
}

// ChatMessage is one persisted chat transcript entry as shown to the
// user (not the model-facing tool transcript).
type ChatMessage struct {
	ID        string `json:"id"`
	Role      string `json:"role"` // "user" or "agent"
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"` // unix millis
	Status    string `json:"status"`    // sending|streaming|complete|error
}

// Store wraps the SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and runs migrations.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		invite_token TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL DEFAULT (unixepoch())
	);

	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		tagline TEXT NOT NULL DEFAULT '',
		template_id TEXT NOT NULL,
		site_url TEXT,
		preview_url TEXT,
		last_deployed_at INTEGER,
		has_unpublished_changes INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT (unixepoch()),
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_projects_user_id ON projects(user_id);

	CREATE TABLE IF NOT EXISTS chat_messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'complete',
		FOREIGN KEY (user_id) REFERENCES users(id)
	);
	CREATE INDEX IF NOT EXISTS idx_chat_user_id ON chat_messages(user_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateUser inserts a new invite-token account.
func (s *Store) CreateUser(id, inviteToken string) error {
	_, err := s.db.Exec("INSERT INTO users (id, invite_token) VALUES (?, ?)", id, inviteToken)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// UserByToken looks up a user by invite token.
func (s *Store) UserByToken(inviteToken string) (*User, error) {
	row := s.db.QueryRow("SELECT id, invite_token FROM users WHERE invite_token = ?", inviteToken)
	var u User
	if err := row.Scan(&u.ID, &u.InviteToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user by token: %w", err)
	}
	return &u, nil
}

// UserByID looks up a user by id.
func (s *Store) UserByID(id string) (*User, error) {
	row := s.db.QueryRow("SELECT id, invite_token FROM users WHERE id = ?", id)
	var u User
	if err := row.Scan(&u.ID, &u.InviteToken); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("user by id: %w", err)
	}
	return &u, nil
}

// SaveProject upserts a project record. Implements project.Persister.
func (s *Store) SaveProject(p *project.Project) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO projects
		(id, user_id, name, tagline, template_id, site_url, preview_url, last_deployed_at, has_unpublished_changes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.Tagline, p.TemplateID,
		nullable(p.SiteURL), nullable(p.PreviewURL), nullableInt(p.LastDeployedAt),
		boolToInt(p.HasUnpublishedChanges),
	)
	if err != nil {
		return fmt.Errorf("save project: %w", err)
	}
	return nil
}

// ProjectByUser returns the user's most recent project, or nil.
func (s *Store) ProjectByUser(userID string) (*project.Project, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, name, tagline, template_id, site_url, preview_url, last_deployed_at, has_unpublished_changes
		FROM projects WHERE user_id = ? ORDER BY created_at DESC LIMIT 1`, userID)

	var p project.Project
	var siteURL, previewURL sql.NullString
	var deployedAt sql.NullInt64
	var dirty int
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Tagline, &p.TemplateID,
		&siteURL, &previewURL, &deployedAt, &dirty)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("project by user: %w", err)
	}
	p.SiteURL = siteURL.String
	p.PreviewURL = previewURL.String
	p.LastDeployedAt = deployedAt.Int64
	p.HasUnpublishedChanges = dirty != 0
	return &p, nil
}

// AllProjects returns every user's most recent project, for restoring
// active projects at startup.
func (s *Store) AllProjects() ([]*project.Project, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, name, tagline, template_id, site_url, preview_url, last_deployed_at, has_unpublished_changes
		FROM projects p
		WHERE created_at = (SELECT MAX(created_at) FROM projects WHERE user_id = p.user_id)
		ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("all projects: %w", err)
	}
	defer rows.Close()

	var projects []*project.Project
	for rows.Next() {
		var p project.Project
		var siteURL, previewURL sql.NullString
		var deployedAt sql.NullInt64
		var dirty int
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &p.Tagline, &p.TemplateID,
			&siteURL, &previewURL, &deployedAt, &dirty); err != nil {
			return nil, fmt.Errorf("all projects: %w", err)
		}
		p.SiteURL = siteURL.String
		p.PreviewURL = previewURL.String
		p.LastDeployedAt = deployedAt.Int64
		p.HasUnpublishedChanges = dirty != 0
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

// SaveChatMessage upserts one chat transcript entry.
func (s *Store) SaveChatMessage(userID string, m ChatMessage) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO chat_messages (id, user_id, role, content, timestamp, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, userID, m.Role, m.Content, m.Timestamp, m.Status)
	if err != nil {
		return fmt.Errorf("save chat message: %w", err)
	}
	return nil
}

// ChatHistory returns the user's chat transcript, oldest first.
func (s *Store) ChatHistory(userID string, limit int) ([]ChatMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT id, role, content, timestamp, status
		FROM chat_messages WHERE user_id = ? ORDER BY timestamp ASC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	defer rows.Close()

	var msgs []ChatMessage
	for rows.Next() {
		var m ChatMessage
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &m.Timestamp, &m.Status); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ClearChatHistory deletes the user's chat transcript.
func (s *Store) ClearChatHistory(userID string) error {
	_, err := s.db.Exec("DELETE FROM chat_messages WHERE user_id = ?", userID)
	if err != nil {
		return fmt.Errorf("clear chat history: %w", err)
	}
	return nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(n int64) any {
	if n == 0 {
		return nil
	}
	return n
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
