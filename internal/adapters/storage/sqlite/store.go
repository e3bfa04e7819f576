// Package sqlite stores conversations in an embedded SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	migrate "github.com/rubenv/sql-migrate"

	"github.com/PabloGalante/farum-coach/internal/domain"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dbPath and applies pending
// migrations.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", "file:"+dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)")
	if err != nil {
		return nil, fmt.Errorf("open conversation db: %w", err)
	}

	if _, err := migrate.Exec(db, "sqlite3", migrations, migrate.Up); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate conversation db: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const conversationColumns = `id, tenant_id, user_id, topic, phase, status, signals, categories, vals,
	model_used, total_tokens, session_cost, version, created_at, updated_at, completed_at`

func (s *Store) Create(ctx context.Context, conv *domain.Conversation) error {
	row, err := encode(conv)
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, string(conv.ID)).Scan(&exists)
		if err == nil {
			return domain.ErrAlreadyExists
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("check conversation: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO conversations (`+conversationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			row.args()...,
		)
		if err != nil {
			return fmt.Errorf("insert conversation: %w", err)
		}
		return insertMessages(ctx, tx, conv, 0)
	})
}

func (s *Store) Load(ctx context.Context, id domain.ConversationID) (*domain.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, string(id)))
	if err != nil {
		return nil, err
	}
	if conv.Messages, err = s.loadMessages(ctx, id); err != nil {
		return nil, err
	}
	return conv, nil
}

// Save updates the conversation row guarded by its version and appends the
// messages not stored yet, in one transaction.
func (s *Store) Save(ctx context.Context, conv *domain.Conversation) error {
	row, err := encode(conv)
	if err != nil {
		return err
	}

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE conversations SET phase = ?, status = ?, signals = ?, categories = ?, vals = ?,
				model_used = ?, total_tokens = ?, session_cost = ?, version = version + 1,
				updated_at = ?, completed_at = ?
			WHERE id = ? AND version = ?`,
			row.Phase, row.Status, row.Signals, row.Categories, row.Values,
			row.ModelUsed, row.TotalTokens, row.SessionCost,
			row.UpdatedAt, row.CompletedAt,
			row.ID, row.Version,
		)
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update conversation: %w", err)
		}
		if n == 0 {
			var exists int
			if err := tx.QueryRowContext(ctx, `SELECT 1 FROM conversations WHERE id = ?`, row.ID).Scan(&exists); errors.Is(err, sql.ErrNoRows) {
				return domain.ErrNotFound
			}
			return domain.ErrConflict
		}

		var stored int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE conversation_id = ?`, row.ID).Scan(&stored); err != nil {
			return fmt.Errorf("count messages: %w", err)
		}
		return insertMessages(ctx, tx, conv, stored)
	})
	if err != nil {
		return err
	}
	conv.Version++
	return nil
}

func (s *Store) FindOpen(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, topic domain.Topic) (*domain.Conversation, error) {
	conv, err := scanConversation(s.db.QueryRowContext(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		WHERE tenant_id = ? AND user_id = ? AND topic = ? AND status IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		string(tenantID), string(userID), string(topic),
		string(domain.StatusActive), string(domain.StatusPaused),
	))
	if err != nil {
		return nil, err
	}
	if conv.Messages, err = s.loadMessages(ctx, conv.ID); err != nil {
		return nil, err
	}
	return conv, nil
}

// ListByUser returns conversation headers, newest first, without messages.
func (s *Store) ListByUser(ctx context.Context, tenantID domain.TenantID, userID domain.UserID, limit int) ([]*domain.Conversation, error) {
	q := `SELECT ` + conversationColumns + ` FROM conversations WHERE tenant_id = ? AND user_id = ? ORDER BY created_at DESC`
	args := []any{string(tenantID), string(userID)}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []*domain.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conv)
	}
	return out, rows.Err()
}

func (s *Store) loadMessages(ctx context.Context, id domain.ConversationID) ([]*domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, role, content, phase, created_at FROM messages WHERE conversation_id = ? ORDER BY seq`,
		string(id),
	)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	defer rows.Close()

	var out []*domain.Message
	for rows.Next() {
		var (
			m                         domain.Message
			msgID, role, phase, stamp string
		)
		if err := rows.Scan(&msgID, &role, &m.Content, &phase, &stamp); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.ID, m.Role, m.Phase = domain.MessageID(msgID), domain.Role(role), domain.Phase(phase)
		if m.CreatedAt, err = time.Parse(timeLayout, stamp); err != nil {
			return nil, fmt.Errorf("parse message time: %w", err)
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func insertMessages(ctx context.Context, tx *sql.Tx, conv *domain.Conversation, from int) error {
	for i := from; i < len(conv.Messages); i++ {
		m := conv.Messages[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO messages (conversation_id, seq, id, role, content, phase, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			string(conv.ID), i, string(m.ID), string(m.Role), m.Content, string(m.Phase), m.CreatedAt.UTC().Format(timeLayout),
		)
		if err != nil {
			return fmt.Errorf("insert message %d: %w", i, err)
		}
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// conversationRow is the column encoding of a Conversation.
type conversationRow struct {
	ID, TenantID, UserID, Topic, Phase, Status string
	Signals, Categories, Values                string
	ModelUsed                                  string
	TotalTokens                                int
	SessionCost                                float64
	Version                                    int
	CreatedAt, UpdatedAt                       string
	CompletedAt                                sql.NullString
}

func (r conversationRow) args() []any {
	return []any{
		r.ID, r.TenantID, r.UserID, r.Topic, r.Phase, r.Status, r.Signals, r.Categories, r.Values,
		r.ModelUsed, r.TotalTokens, r.SessionCost, r.Version, r.CreatedAt, r.UpdatedAt, r.CompletedAt,
	}
}

func encode(c *domain.Conversation) (conversationRow, error) {
	signals, err := json.Marshal(c.Signals)
	if err != nil {
		return conversationRow{}, fmt.Errorf("encode signals: %w", err)
	}
	categories, err := json.Marshal(nonNil(c.Categories))
	if err != nil {
		return conversationRow{}, fmt.Errorf("encode categories: %w", err)
	}
	values, err := json.Marshal(nonNil(c.Values))
	if err != nil {
		return conversationRow{}, fmt.Errorf("encode values: %w", err)
	}

	row := conversationRow{
		ID:          string(c.ID),
		TenantID:    string(c.TenantID),
		UserID:      string(c.UserID),
		Topic:       string(c.Topic),
		Phase:       string(c.Phase),
		Status:      string(c.Status),
		Signals:     string(signals),
		Categories:  string(categories),
		Values:      string(values),
		ModelUsed:   c.ModelUsed,
		TotalTokens: c.TotalTokens,
		SessionCost: c.SessionCost,
		Version:     c.Version,
		CreatedAt:   c.CreatedAt.UTC().Format(timeLayout),
		UpdatedAt:   c.UpdatedAt.UTC().Format(timeLayout),
	}
	if c.CompletedAt != nil {
		row.CompletedAt = sql.NullString{String: c.CompletedAt.UTC().Format(timeLayout), Valid: true}
	}
	return row, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(sc scanner) (*domain.Conversation, error) {
	var r conversationRow
	err := sc.Scan(&r.ID, &r.TenantID, &r.UserID, &r.Topic, &r.Phase, &r.Status,
		&r.Signals, &r.Categories, &r.Values, &r.ModelUsed, &r.TotalTokens, &r.SessionCost,
		&r.Version, &r.CreatedAt, &r.UpdatedAt, &r.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	c := &domain.Conversation{
		ID:          domain.ConversationID(r.ID),
		TenantID:    domain.TenantID(r.TenantID),
		UserID:      domain.UserID(r.UserID),
		Topic:       domain.Topic(r.Topic),
		Phase:       domain.Phase(r.Phase),
		Status:      domain.Status(r.Status),
		ModelUsed:   r.ModelUsed,
		TotalTokens: r.TotalTokens,
		SessionCost: r.SessionCost,
		Version:     r.Version,
	}
	if err := json.Unmarshal([]byte(r.Signals), &c.Signals); err != nil {
		return nil, fmt.Errorf("decode signals: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Categories), &c.Categories); err != nil {
		return nil, fmt.Errorf("decode categories: %w", err)
	}
	if err := json.Unmarshal([]byte(r.Values), &c.Values); err != nil {
		return nil, fmt.Errorf("decode values: %w", err)
	}
	if c.CreatedAt, err = time.Parse(timeLayout, r.CreatedAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(timeLayout, r.UpdatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if r.CompletedAt.Valid {
		t, err := time.Parse(timeLayout, r.CompletedAt.String)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		c.CompletedAt = &t
	}
	if len(c.Categories) == 0 {
		c.Categories = nil
	}
	if len(c.Values) == 0 {
		c.Values = nil
	}
	return c, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
