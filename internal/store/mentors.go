package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const variantColumns = `id, name, tagline, status, copy, avatar_source, created_at, updated_at, updated_by`

func scanVariant(row interface{ Scan(...any) error }) (MentorVariant, error) {
	var v MentorVariant
	var copyJSON, avatarJSON []byte
	err := row.Scan(&v.ID, &v.Name, &v.Tagline, &v.Status, &copyJSON, &avatarJSON, &v.CreatedAt, &v.UpdatedAt, &v.UpdatedBy)
	if err != nil {
		return MentorVariant{}, err
	}
	if err := json.Unmarshal(copyJSON, &v.Copy); err != nil {
		return MentorVariant{}, fmt.Errorf("unmarshal variant copy: %w", err)
	}
	if err := json.Unmarshal(avatarJSON, &v.AvatarSource); err != nil {
		return MentorVariant{}, fmt.Errorf("unmarshal variant avatars: %w", err)
	}
	return v, nil
}

func (s *PostgresStore) GetVariant(ctx context.Context, variantID string) (MentorVariant, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+variantColumns+` FROM mentor_variants WHERE id=$1`, variantID)
	return scanVariant(row)
}

func (s *PostgresStore) ListVariants(ctx context.Context) ([]MentorVariant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+variantColumns+` FROM mentor_variants ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	defer rows.Close()

	items := make([]MentorVariant, 0)
	for rows.Next() {
		v, err := scanVariant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) CreateVariant(ctx context.Context, v MentorVariant) (MentorVariant, error) {
	copyJSON, avatarJSON, err := marshalVariantMaps(v)
	if err != nil {
		return MentorVariant{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO mentor_variants (id, name, tagline, status, copy, avatar_source, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+variantColumns+`
	`, v.ID, v.Name, v.Tagline, v.Status, copyJSON, avatarJSON, v.UpdatedBy)
	created, err := scanVariant(row)
	if isUniqueViolation(err) {
		return MentorVariant{}, ErrDuplicate
	}
	if err != nil {
		return MentorVariant{}, fmt.Errorf("insert variant: %w", err)
	}
	return created, nil
}

// UpdateVariant applies a partial update under a row lock. Fields absent
// from the patch keep their stored values.
func (s *PostgresStore) UpdateVariant(ctx context.Context, variantID string, patch VariantPatch) (MentorVariant, error) {
	var updated MentorVariant
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		current, err := scanVariant(tx.QueryRowContext(ctx, `SELECT `+variantColumns+` FROM mentor_variants WHERE id=$1 FOR UPDATE`, variantID))
		if err != nil {
			return err
		}
		if patch.Name != nil {
			current.Name = *patch.Name
		}
		if patch.Tagline != nil {
			current.Tagline = *patch.Tagline
		}
		if patch.Copy != nil {
			current.Copy = patch.Copy
		}
		if patch.AvatarSource != nil {
			current.AvatarSource = patch.AvatarSource
		}
		copyJSON, avatarJSON, err := marshalVariantMaps(current)
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			UPDATE mentor_variants
			SET name=$2, tagline=$3, copy=$4, avatar_source=$5, updated_at=NOW(), updated_by=$6
			WHERE id=$1
			RETURNING `+variantColumns+`
		`, variantID, current.Name, current.Tagline, copyJSON, avatarJSON, patch.UpdatedBy)
		updated, err = scanVariant(row)
		if err != nil {
			return fmt.Errorf("update variant: %w", err)
		}
		return nil
	})
	if err != nil {
		return MentorVariant{}, err
	}
	return updated, nil
}

// DeleteVariant removes a draft variant. The status and active-pointer
// checks run inside the same transaction as the delete, so a concurrent
// publish or activation cannot slip past them.
func (s *PostgresStore) DeleteVariant(ctx context.Context, variantID string) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		var status string
		if err := tx.QueryRowContext(ctx, `SELECT status FROM mentor_variants WHERE id=$1 FOR UPDATE`, variantID).Scan(&status); err != nil {
			return err
		}
		// active_variant is NULL until a variant is first activated, so the
		// pointer read has to tolerate both a missing row and a NULL column.
		var active sql.NullString
		if err := tx.QueryRowContext(ctx, `SELECT active_variant FROM mentor_config WHERE id=1 FOR UPDATE`).Scan(&active); err != nil && err != sql.ErrNoRows {
			return fmt.Errorf("read mentor config: %w", err)
		}
		if active.Valid && active.String == variantID {
			return ErrVariantActive
		}
		if status != VariantStatusDraft {
			return ErrVariantNotDraft
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM mentor_variants WHERE id=$1`, variantID); err != nil {
			return fmt.Errorf("delete variant: %w", err)
		}
		return nil
	})
}

// PublishVariant marks the variant published and, when makeActive is set,
// repoints the config at it in the same transaction. The store never
// observes an active pointer at a draft variant.
func (s *PostgresStore) PublishVariant(ctx context.Context, variantID string, makeActive bool, updatedBy string) (MentorVariant, error) {
	var published MentorVariant
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			UPDATE mentor_variants SET status=$2, updated_at=NOW(), updated_by=$3
			WHERE id=$1
			RETURNING `+variantColumns+`
		`, variantID, VariantStatusPublished, updatedBy)
		v, err := scanVariant(row)
		if err != nil {
			return err
		}
		if makeActive {
			if _, err := tx.ExecContext(ctx, `
				UPDATE mentor_config SET active_variant=$1, updated_at=NOW(), updated_by=$2 WHERE id=1
			`, variantID, updatedBy); err != nil {
				return fmt.Errorf("activate variant: %w", err)
			}
		}
		published = v
		return nil
	})
	if err != nil {
		return MentorVariant{}, err
	}
	return published, nil
}

func (s *PostgresStore) GetMentorConfig(ctx context.Context) (MentorConfig, error) {
	var cfg MentorConfig
	var active sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT active_variant, show_mentor_header, updated_at, updated_by
		FROM mentor_config WHERE id=1
	`).Scan(&active, &cfg.ShowMentorHeader, &cfg.UpdatedAt, &cfg.UpdatedBy)
	if err != nil {
		return MentorConfig{}, err
	}
	cfg.ActiveVariant = active.String
	return cfg, nil
}

// EnsureMentorConfig seeds the singleton pointer row if it is missing.
func (s *PostgresStore) EnsureMentorConfig(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mentor_config (id, active_variant, show_mentor_header, updated_by)
		VALUES (1, NULL, TRUE, 'system')
		ON CONFLICT (id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("ensure mentor config: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateMentorConfig(ctx context.Context, patch ConfigPatch) (MentorConfig, error) {
	var cfg MentorConfig
	var active sql.NullString
	err := s.db.QueryRowContext(ctx, `
		UPDATE mentor_config
		SET active_variant=COALESCE($1, active_variant),
			show_mentor_header=COALESCE($2, show_mentor_header),
			updated_at=NOW(), updated_by=$3
		WHERE id=1
		RETURNING active_variant, show_mentor_header, updated_at, updated_by
	`, patch.ActiveVariant, patch.ShowMentorHeader, patch.UpdatedBy).
		Scan(&active, &cfg.ShowMentorHeader, &cfg.UpdatedAt, &cfg.UpdatedBy)
	if err != nil {
		return MentorConfig{}, err
	}
	cfg.ActiveVariant = active.String
	return cfg, nil
}

func marshalVariantMaps(v MentorVariant) ([]byte, []byte, error) {
	if v.Copy == nil {
		v.Copy = map[string]string{}
	}
	if v.AvatarSource == nil {
		v.AvatarSource = map[string]string{}
	}
	copyJSON, err := json.Marshal(v.Copy)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal variant copy: %w", err)
	}
	avatarJSON, err := json.Marshal(v.AvatarSource)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal variant avatars: %w", err)
	}
	return copyJSON, avatarJSON, nil
}
