package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/nstogner/forge/pkg/domain"
	"github.com/nstogner/forge/pkg/store"
)

// Store implements ProjectStore, MessageStore, and StepStore using SQLite.
type Store struct {
	db *sql.DB
}

// Verify interface compliance at compile time.
var _ store.ProjectStore = (*Store)(nil)
var _ store.MessageStore = (*Store)(nil)
var _ store.StepStore = (*Store)(nil)

// New opens (or creates) a SQLite database at the given path and runs migrations.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		role TEXT NOT NULL,
		type TEXT NOT NULL DEFAULT 'RESULT',
		content TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		FOREIGN KEY (project_id) REFERENCES projects(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_project_updated ON messages(project_id, updated_at);

	CREATE TABLE IF NOT EXISTS fragments (
		id TEXT PRIMARY KEY,
		message_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		summary TEXT NOT NULL DEFAULT '',
		files TEXT NOT NULL DEFAULT '{}',
		sandbox_url TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		FOREIGN KEY (message_id) REFERENCES messages(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS job_steps (
		job_id TEXT NOT NULL,
		name TEXT NOT NULL,
		result TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		PRIMARY KEY (job_id, name)
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// --- ProjectStore ---

func (s *Store) CreateProject(ctx context.Context, p *domain.Project) error {
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (s *Store) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	p := &domain.Project{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, updated_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %s: %w", id, store.ErrNotFound)
	}
	return p, err
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at, updated_at FROM projects ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var projects []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// --- MessageStore ---

func (s *Store) CreateMessage(ctx context.Context, m *domain.Message) error {
	now := time.Now().UTC()
	m.CreatedAt = now
	m.UpdatedAt = now
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, project_id, role, type, content, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ProjectID, m.Role, m.Type, m.Content, m.Status, m.CreatedAt, m.UpdatedAt,
	)
	return err
}

// messageColumns is the SELECT list shared by all message queries: the
// message row left-joined with its fragment.
const messageColumns = `
	m.id, m.project_id, m.role, m.type, m.content, m.status, m.created_at, m.updated_at,
	f.id, f.title, f.summary, f.files, f.sandbox_url, f.created_at`

func scanMessage(scan func(dest ...any) error) (*domain.Message, error) {
	var m domain.Message
	var fragID, fragTitle, fragSummary, fragFiles, fragURL sql.NullString
	var fragCreated sql.NullTime

	err := scan(
		&m.ID, &m.ProjectID, &m.Role, &m.Type, &m.Content, &m.Status, &m.CreatedAt, &m.UpdatedAt,
		&fragID, &fragTitle, &fragSummary, &fragFiles, &fragURL, &fragCreated,
	)
	if err != nil {
		return nil, err
	}

	if fragID.Valid {
		frag := &domain.Fragment{
			ID:         fragID.String,
			MessageID:  m.ID,
			Title:      fragTitle.String,
			Summary:    fragSummary.String,
			SandboxURL: fragURL.String,
			CreatedAt:  fragCreated.Time,
		}
		if err := json.Unmarshal([]byte(fragFiles.String), &frag.Files); err != nil {
			return nil, fmt.Errorf("decode fragment files: %w", err)
		}
		m.Fragment = frag
	}
	return &m, nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*domain.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m LEFT JOIN fragments f ON f.message_id = m.id
		 WHERE m.id = ?`, id)

	m, err := scanMessage(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("message %s: %w", id, store.ErrNotFound)
	}
	return m, err
}

func (s *Store) ListMessages(ctx context.Context, projectID string) ([]domain.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m LEFT JOIN fragments f ON f.message_id = m.id
		 WHERE m.project_id = ? ORDER BY m.updated_at ASC`, projectID)
}

func (s *Store) UpdatedSince(ctx context.Context, projectID string, watermark time.Time) ([]domain.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m LEFT JOIN fragments f ON f.message_id = m.id
		 WHERE m.project_id = ? AND m.updated_at > ? ORDER BY m.updated_at ASC`,
		projectID, watermark.UTC())
}

func (s *Store) ListStreaming(ctx context.Context) ([]domain.Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageColumns+`
		 FROM messages m LEFT JOIN fragments f ON f.message_id = m.id
		 WHERE m.role = ? AND m.status = ? ORDER BY m.updated_at ASC`,
		domain.RoleAssistant, domain.StatusStreaming)
}

func (s *Store) queryMessages(ctx context.Context, query string, args ...any) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		m, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func (s *Store) UpdateStreaming(ctx context.Context, id, content string, status domain.MessageStatus) error {
	// The status guard makes terminal states sticky: a write that races a
	// completed job is dropped instead of reopening the message.
	result, err := s.db.ExecContext(ctx,
		`UPDATE messages SET content=?, status=?, updated_at=? WHERE id=? AND status=?`,
		content, status, time.Now().UTC(), id, domain.StatusStreaming,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("streaming message %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) CompleteMessage(ctx context.Context, id, content string, frag *domain.Fragment) error {
	files, err := json.Marshal(frag.Files)
	if err != nil {
		return fmt.Errorf("encode fragment files: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	result, err := tx.ExecContext(ctx,
		`UPDATE messages SET content=?, status=?, type=?, updated_at=? WHERE id=? AND status=?`,
		content, domain.StatusCompleted, domain.TypeResult, now, id, domain.StatusStreaming,
	)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("streaming message %s: %w", id, store.ErrNotFound)
	}

	frag.MessageID = id
	frag.CreatedAt = now
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO fragments (id, message_id, title, summary, files, sandbox_url, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		frag.ID, frag.MessageID, frag.Title, frag.Summary, string(files), frag.SandboxURL, frag.CreatedAt,
	); err != nil {
		return err
	}

	return tx.Commit()
}

// --- StepStore ---

func (s *Store) GetStep(ctx context.Context, jobID, name string) (string, error) {
	var result string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM job_steps WHERE job_id=? AND name=?`, jobID, name,
	).Scan(&result)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("step %s/%s: %w", jobID, name, store.ErrNotFound)
	}
	return result, err
}

func (s *Store) PutStep(ctx context.Context, jobID, name, result string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_steps (job_id, name, result, created_at) VALUES (?, ?, ?, ?)`,
		jobID, name, result, time.Now().UTC(),
	)
	return err
}
