package msgstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"callcore/internal/database"
	"callcore/internal/domain"
	"callcore/pkg/errors"
)

// CassandraStore implements MessageStore on a messages table partitioned by
// conversation and month bucket, so hot partitions stay bounded.
type CassandraStore struct {
	db *database.CassandraDB
}

// NewCassandraStore creates a message store over an open session
func NewCassandraStore(db *database.CassandraDB) *CassandraStore {
	return &CassandraStore{db: db}
}

// bucket maps a timestamp onto its month partition (YYYYMM)
func bucket(t time.Time) int {
	return t.Year()*100 + int(t.Month())
}

// Append implements MessageStore
func (s *CassandraStore) Append(ctx context.Context, msg *domain.Message) error {
	if msg.MessageID == uuid.Nil {
		msg.MessageID = uuid.New()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO messages (
			conversation_id, bucket, message_id, sender_id,
			content, attachment_urls, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	err := s.db.ExecWithContext(ctx, query,
		msg.ConversationID,
		bucket(msg.CreatedAt),
		msg.MessageID,
		msg.SenderID,
		msg.Content,
		msg.AttachmentURLs,
		msg.CreatedAt,
	)
	if err != nil {
		return errors.DatabaseError(err)
	}
	return nil
}

// Recent implements MessageStore. Only the current bucket is read; older
// history lives behind pagination, which the agent does not serve.
func (s *CassandraStore) Recent(ctx context.Context, conversationID uuid.UUID, limit int) ([]*domain.Message, error) {
	query := `
		SELECT conversation_id, message_id, sender_id, content, attachment_urls, created_at
		FROM messages
		WHERE conversation_id = ? AND bucket = ?
		ORDER BY created_at DESC
		LIMIT ?
	`

	iter := s.db.QueryWithContext(ctx, query, conversationID, bucket(time.Now()), limit).Iter()
	var messages []*domain.Message
	for {
		msg := &domain.Message{}
		if !iter.Scan(
			&msg.ConversationID,
			&msg.MessageID,
			&msg.SenderID,
			&msg.Content,
			&msg.AttachmentURLs,
			&msg.CreatedAt,
		) {
			break
		}
		messages = append(messages, msg)
	}
	if err := iter.Close(); err != nil {
		return nil, errors.DatabaseError(err)
	}
	return messages, nil
}
