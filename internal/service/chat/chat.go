package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"minichat/internal/models"
)

// DefaultHistoryLimit is the window served when a caller asks for
// recent messages without a limit.
const DefaultHistoryLimit = 50

// AnonymousSender labels messages from connections with no bound user
// and no usable client-supplied sender.
const AnonymousSender = "anonymous"

// ErrEmptyContent rejects submissions that are empty after trimming.
var ErrEmptyContent = errors.New("content cannot be empty")

// Service owns the durable users and messages collections. Messages
// are append-only; user records are created once and never mutated.
type Service struct {
	db *sql.DB
}

// NewService builds a chat service on the given database handle.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// AppendMessage persists one message, stamping the server time, and
// returns the fully-formed record including its assigned id.
func (s *Service) AppendMessage(ctx context.Context, content, sender string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyContent
	}
	sender = strings.TrimSpace(sender)
	if sender == "" {
		sender = AnonymousSender
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (content, sender, created_at) VALUES (?, ?, ?)`,
		content, sender, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("message id: %w", err)
	}
	return &models.Message{ID: id, Content: content, Sender: sender, CreatedAt: now}, nil
}

// RecentMessages returns up to limit of the most recently appended
// messages in chronological order. The store is queried newest-first
// and the result reversed, so the window always ends at the newest row.
func (s *Service) RecentMessages(ctx context.Context, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, sender, created_at FROM messages ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.Message, 0, limit)
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.Content, &m.Sender, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// FindOrCreateUser resolves a GitHub profile to the local user record,
// creating it on first login. Repeated calls with the same github id
// return the same record and never write a duplicate.
func (s *Service) FindOrCreateUser(ctx context.Context, githubID, username string) (*models.User, error) {
	githubID = strings.TrimSpace(githubID)
	if githubID == "" {
		return nil, errors.New("github id is required")
	}
	username = strings.TrimSpace(username)
	if username == "" {
		username = AnonymousSender
	}

	if user, err := s.userByGitHubID(ctx, githubID); err == nil {
		return user, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (github_id, username, created_at) VALUES (?, ?, ?)`,
		githubID, username, now,
	)
	if err != nil {
		// A concurrent first login may have won the unique-index race.
		if user, lookupErr := s.userByGitHubID(ctx, githubID); lookupErr == nil {
			return user, nil
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("user id: %w", err)
	}
	return &models.User{ID: id, GitHubID: githubID, Username: username, CreatedAt: now}, nil
}

// GetUser returns the user by primary key, or sql.ErrNoRows.
func (s *Service) GetUser(ctx context.Context, id int64) (*models.User, error) {
	if id <= 0 {
		return nil, errors.New("invalid user id")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, github_id, username, created_at FROM users WHERE id = ?`, id,
	)
	var user models.User
	if err := row.Scan(&user.ID, &user.GitHubID, &user.Username, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

func (s *Service) userByGitHubID(ctx context.Context, githubID string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, github_id, username, created_at FROM users WHERE github_id = ?`, githubID,
	)
	var user models.User
	if err := row.Scan(&user.ID, &user.GitHubID, &user.Username, &user.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("query user by github id: %w", err)
	}
	return &user, nil
}
