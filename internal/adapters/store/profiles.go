package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dkeye/voicemesh/internal/domain"
)

func (s *Store) FetchProfile(ctx context.Context, id domain.UserID) (*domain.Profile, error) {
	p := &domain.Profile{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT username, display_name, avatar_url FROM profiles WHERE id = ?`, string(id)).
		Scan(&p.Username, &p.DisplayName, &p.AvatarURL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", id, domain.ErrProfileNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p domain.Profile) error {
	if err := p.SetUsername(p.Username); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO profiles (id, username, display_name, avatar_url)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			username=excluded.username,
			display_name=excluded.display_name,
			avatar_url=excluded.avatar_url`,
		string(p.ID), p.Username, p.DisplayName, p.AvatarURL)
	if err != nil {
		return fmt.Errorf("upsert profile %s: %w", p.ID, err)
	}
	return nil
}
