package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/voicemesh/internal/domain"
	"github.com/google/uuid"
)

const kindCall = "call"

type callContent struct {
	Status   domain.CallStatus `json:"status"`
	Duration string            `json:"duration,omitempty"`
}

// Message is one row of a conversation's history.
type Message struct {
	ID             string
	ConversationID domain.ConversationID
	SenderID       domain.UserID
	Kind           string
	Content        string
	CreatedAt      time.Time
}

// LogCall writes the outcome as a system message. Both parties log the same
// call; the second write of an outcome is ignored.
func (s *Store) LogCall(ctx context.Context, conv domain.ConversationID, rec domain.CallRecord) error {
	content, err := json.Marshal(callContent{Status: rec.Status, Duration: rec.Duration})
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `INSERT OR IGNORE INTO messages
		(id, conversation_id, sender_id, kind, content, call_room_id, call_status, created_at)
		VALUES (?, ?, NULL, ?, ?, ?, ?, ?)`,
		uuid.NewString(), string(conv), kindCall, string(content),
		string(rec.RoomID), string(rec.Status), s.clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("log call: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		s.log.Debug().Str("room", string(rec.RoomID)).Str("status", string(rec.Status)).Msg("call already logged")
		return nil
	}
	s.log.Info().
		Str("conversation", string(conv)).
		Str("room", string(rec.RoomID)).
		Str("status", string(rec.Status)).
		Str("duration", rec.Duration).
		Msg("call logged")
	return nil
}

// History returns the messages of a conversation, oldest first.
func (s *Store) History(ctx context.Context, conv domain.ConversationID) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, conversation_id, COALESCE(sender_id, ''), kind, content, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at, rowid`, string(conv))
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m        Message
			convID   string
			sender   string
			creation int64
		)
		if err := rows.Scan(&m.ID, &convID, &sender, &m.Kind, &m.Content, &creation); err != nil {
			return nil, err
		}
		m.ConversationID = domain.ConversationID(convID)
		m.SenderID = domain.UserID(sender)
		m.CreatedAt = time.UnixMilli(creation)
		out = append(out, m)
	}
	return out, rows.Err()
}

// CallRecord decodes a call message back into its record.
func (m Message) CallRecord() (domain.CallStatus, string, bool) {
	if m.Kind != kindCall {
		return "", "", false
	}
	var c callContent
	if err := json.Unmarshal([]byte(m.Content), &c); err != nil {
		return "", "", false
	}
	return c.Status, c.Duration, true
}
