// README: Chat message store with per-booking sequence allocation.
package realtime

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"quickassist/internal/infra"
	"quickassist/internal/types"
)

type ChatRepository interface {
	// Append assigns the next per-booking sequence number and stores m.
	Append(ctx context.Context, m *ChatMessage) error
	History(ctx context.Context, bookingID types.ID, afterSeq int64, limit int) ([]ChatMessage, error)
}

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Append(ctx context.Context, m *ChatMessage) error {
	return infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		// Replicas posting to the same booking queue here.
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "chat:"+string(m.BookingID)); err != nil {
			return fmt.Errorf("lock chat sequence: %w", err)
		}
		if err := tx.QueryRow(ctx, `SELECT name FROM users WHERE id = $1`, string(m.SenderID)).Scan(&m.SenderName); err != nil {
			return fmt.Errorf("load sender: %w", err)
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO chat_messages (booking_id, sender_id, message, seq, created_at)
			SELECT $1, $2, $3, COALESCE(MAX(seq), 0) + 1, $4
			FROM chat_messages WHERE booking_id = $1
			RETURNING id, seq`,
			string(m.BookingID), string(m.SenderID), m.Message, m.CreatedAt,
		).Scan(&m.ID, &m.Seq)
		if err != nil {
			return fmt.Errorf("insert chat message: %w", err)
		}
		return nil
	})
}

func (s *Store) History(ctx context.Context, bookingID types.ID, afterSeq int64, limit int) ([]ChatMessage, error) {
	rows, err := s.db.Query(ctx, `
		SELECT m.id, m.booking_id, m.sender_id, u.name, m.message, m.seq, m.created_at
		FROM chat_messages m JOIN users u ON u.id = m.sender_id
		WHERE m.booking_id = $1 AND m.seq > $2
		ORDER BY m.seq ASC LIMIT $3`, string(bookingID), afterSeq, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ChatMessage, error) {
		var m ChatMessage
		err := row.Scan(&m.ID, &m.BookingID, &m.SenderID, &m.SenderName, &m.Message, &m.Seq, &m.CreatedAt)
		return m, err
	})
}
