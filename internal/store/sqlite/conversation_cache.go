package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"rtclient/internal/domain"
)

// ConversationCache keeps the last loaded conversation list, in list order,
// so a restarted client can render before the first REST round trip.
type ConversationCache struct {
	db *sql.DB
}

func NewConversationCache(db *sql.DB) *ConversationCache {
	return &ConversationCache{db: db}
}

var _ domain.ConversationCache = (*ConversationCache)(nil)

// SaveConversations replaces the cached list.
func (c *ConversationCache) SaveConversations(ctx context.Context, convs []domain.Conversation) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversation_members`); err != nil {
		return fmt.Errorf("clear members: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations`); err != nil {
		return fmt.Errorf("clear conversations: %w", err)
	}

	for i, conv := range convs {
		var lastAt sql.NullInt64
		if conv.LastMessageAt != nil {
			lastAt = sql.NullInt64{Int64: conv.LastMessageAt.UnixMilli(), Valid: true}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, position, name, type, last_message_at, unread_count, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, conv.ID, i, conv.Name, string(conv.Type), lastAt, conv.UnreadCount, conv.CreatedAt.UnixMilli()); err != nil {
			return fmt.Errorf("insert conversation %s: %w", conv.ID, err)
		}
		for j, m := range conv.Members {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO conversation_members (conversation_id, user_id, name, position)
				VALUES (?, ?, ?, ?)
			`, conv.ID, m.UserID, m.Name, j); err != nil {
				return fmt.Errorf("insert member: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// LoadConversations returns the cached list, or an empty list when nothing was saved.
func (c *ConversationCache) LoadConversations(ctx context.Context) ([]domain.Conversation, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, type, last_message_at, unread_count, created_at
		FROM conversations
		ORDER BY position
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []domain.Conversation
	index := make(map[string]int)
	for rows.Next() {
		var (
			conv      domain.Conversation
			name      sql.NullString
			typ       string
			lastAt    sql.NullInt64
			createdAt int64
		)
		if err := rows.Scan(&conv.ID, &name, &typ, &lastAt, &conv.UnreadCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		if name.Valid {
			n := name.String
			conv.Name = &n
		}
		if lastAt.Valid {
			t := time.UnixMilli(lastAt.Int64).UTC()
			conv.LastMessageAt = &t
		}
		conv.Type = domain.ConversationType(typ)
		conv.CreatedAt = time.UnixMilli(createdAt).UTC()
		conv.Members = []domain.Member{}
		index[conv.ID] = len(convs)
		convs = append(convs, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	members, err := c.db.QueryContext(ctx, `
		SELECT conversation_id, user_id, name
		FROM conversation_members
		ORDER BY conversation_id, position
	`)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer members.Close()

	for members.Next() {
		var convID string
		var m domain.Member
		if err := members.Scan(&convID, &m.UserID, &m.Name); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		if i, ok := index[convID]; ok {
			convs[i].Members = append(convs[i].Members, m)
		}
	}
	if err := members.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}

	if convs == nil {
		convs = []domain.Conversation{}
	}
	return convs, nil
}
