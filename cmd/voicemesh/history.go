package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dkeye/voicemesh/internal/adapters/store"
	"github.com/dkeye/voicemesh/internal/domain"
)

// printHistory writes one line per logged call of conv, oldest first.
func printHistory(ctx context.Context, db *store.Store, conv domain.ConversationID, w io.Writer) error {
	msgs, err := db.History(ctx, conv)
	if err != nil {
		return err
	}
	calls := 0
	for _, m := range msgs {
		status, duration, ok := m.CallRecord()
		if !ok {
			continue
		}
		calls++
		line := fmt.Sprintf("%s  %s", m.CreatedAt.Format(time.DateTime), status)
		if duration != "" {
			line += "  " + duration
		}
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	if calls == 0 {
		_, err = fmt.Fprintf(w, "no calls in %s\n", conv)
	}
	return err
}
