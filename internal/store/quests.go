package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
)

const questColumns = `id, domain, archetype, title, description, xp_reward, weight, state, version_counter, created_at, created_by, updated_at, updated_by`

func scanQuest(row interface{ Scan(...any) error }) (Quest, error) {
	var q Quest
	err := row.Scan(
		&q.ID, &q.Content.Domain, &q.Content.Archetype, &q.Content.Title, &q.Content.Description,
		&q.Content.XPReward, &q.Content.Weight, &q.State, &q.VersionCounter,
		&q.CreatedAt, &q.CreatedBy, &q.UpdatedAt, &q.UpdatedBy,
	)
	return q, err
}

func (s *PostgresStore) GetQuest(ctx context.Context, questID string) (Quest, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questColumns+` FROM quests WHERE id=$1`, questID)
	return scanQuest(row)
}

func (s *PostgresStore) ListQuests(ctx context.Context, filter QuestFilter) ([]Quest, error) {
	query := `SELECT ` + questColumns + ` FROM quests`
	var clauses []string
	var args []any
	if filter.Domain != "" {
		args = append(args, filter.Domain)
		clauses = append(clauses, fmt.Sprintf("domain=$%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		clauses = append(clauses, fmt.Sprintf("state=$%d", len(args)))
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list quests: %w", err)
	}
	defer rows.Close()

	items := make([]Quest, 0)
	for rows.Next() {
		q, err := scanQuest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan quest: %w", err)
		}
		items = append(items, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quests: %w", err)
	}
	return items, nil
}

// CreateQuest writes the quest document and its version-1 snapshot in one
// transaction. An id collision surfaces as ErrDuplicate via the primary key,
// so the existence check and the write cannot race.
func (s *PostgresStore) CreateQuest(ctx context.Context, questID string, content QuestContent, createdBy string) (Quest, error) {
	var created Quest
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `
			INSERT INTO quests (id, domain, archetype, title, description, xp_reward, weight, state, version_counter, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
			RETURNING `+questColumns+`
		`, questID, content.Domain, content.Archetype, content.Title, content.Description,
			content.XPReward, content.Weight, QuestStateDraft, createdBy)
		q, err := scanQuest(row)
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("insert quest: %w", err)
		}
		if err := insertQuestVersion(ctx, tx, questID, "1", content, createdBy); err != nil {
			return err
		}
		created = q
		return nil
	})
	if err != nil {
		return Quest{}, err
	}
	return created, nil
}

// UpdateQuestContent reads the current quest under a row lock, bumps the
// version counter by exactly one, then writes the new content and appends
// the snapshot in the same transaction. Concurrent updates serialize on the
// row lock instead of both claiming the same version.
func (s *PostgresStore) UpdateQuestContent(ctx context.Context, questID string, content QuestContent, updatedBy string) (Quest, error) {
	var updated Quest
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		var counter int
		if err := tx.QueryRowContext(ctx, `SELECT version_counter FROM quests WHERE id=$1 FOR UPDATE`, questID).Scan(&counter); err != nil {
			return err
		}
		next := counter + 1
		row := tx.QueryRowContext(ctx, `
			UPDATE quests
			SET domain=$2, archetype=$3, title=$4, description=$5, xp_reward=$6, weight=$7,
				version_counter=$8, updated_at=NOW(), updated_by=$9
			WHERE id=$1
			RETURNING `+questColumns+`
		`, questID, content.Domain, content.Archetype, content.Title, content.Description,
			content.XPReward, content.Weight, next, updatedBy)
		q, err := scanQuest(row)
		if err != nil {
			return fmt.Errorf("update quest: %w", err)
		}
		if err := insertQuestVersion(ctx, tx, questID, strconv.Itoa(next), content, updatedBy); err != nil {
			return err
		}
		updated = q
		return nil
	})
	if err != nil {
		return Quest{}, err
	}
	return updated, nil
}

// SetQuestState flips the lifecycle state without touching content or the
// version counter. Status changes never produce snapshots.
func (s *PostgresStore) SetQuestState(ctx context.Context, questID, state, updatedBy string) (Quest, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE quests SET state=$2, updated_at=NOW(), updated_by=$3
		WHERE id=$1
		RETURNING `+questColumns+`
	`, questID, state, updatedBy)
	return scanQuest(row)
}

// DuplicateQuest copies the source content into a fresh quest. The copy
// starts over: draft state, version counter 1, new audit fields, and a
// single version-1 snapshot. Source history never carries over.
func (s *PostgresStore) DuplicateQuest(ctx context.Context, sourceID, newID, createdBy string) (Quest, error) {
	var created Quest
	err := s.runTx(ctx, func(tx *sql.Tx) error {
		src, err := scanQuest(tx.QueryRowContext(ctx, `SELECT `+questColumns+` FROM quests WHERE id=$1`, sourceID))
		if err != nil {
			return err
		}
		row := tx.QueryRowContext(ctx, `
			INSERT INTO quests (id, domain, archetype, title, description, xp_reward, weight, state, version_counter, created_by, updated_by)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $9)
			RETURNING `+questColumns+`
		`, newID, src.Content.Domain, src.Content.Archetype, src.Content.Title, src.Content.Description,
			src.Content.XPReward, src.Content.Weight, QuestStateDraft, createdBy)
		q, err := scanQuest(row)
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if err != nil {
			return fmt.Errorf("insert duplicate quest: %w", err)
		}
		if err := insertQuestVersion(ctx, tx, newID, "1", src.Content, createdBy); err != nil {
			return err
		}
		created = q
		return nil
	})
	if err != nil {
		return Quest{}, err
	}
	return created, nil
}

func insertQuestVersion(ctx context.Context, tx *sql.Tx, questID, version string, content QuestContent, updatedBy string) error {
	snapshot, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO quest_versions (quest_id, version, snapshot, updated_by)
		VALUES ($1, $2, $3, $4)
	`, questID, version, snapshot, updatedBy); err != nil {
		return fmt.Errorf("insert quest version %s/%s: %w", questID, version, err)
	}
	return nil
}

func (s *PostgresStore) ListQuestVersions(ctx context.Context, questID string) ([]QuestVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT quest_id, version, snapshot, updated_by, snapshot_created_at
		FROM quest_versions
		WHERE quest_id=$1
		ORDER BY snapshot_created_at ASC, version::int ASC
	`, questID)
	if err != nil {
		return nil, fmt.Errorf("list quest versions: %w", err)
	}
	defer rows.Close()

	items := make([]QuestVersion, 0)
	for rows.Next() {
		v, err := scanQuestVersion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quest versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetQuestVersion(ctx context.Context, questID, version string) (QuestVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT quest_id, version, snapshot, updated_by, snapshot_created_at
		FROM quest_versions
		WHERE quest_id=$1 AND version=$2
	`, questID, version)
	return scanQuestVersion(row)
}

func scanQuestVersion(row interface{ Scan(...any) error }) (QuestVersion, error) {
	var v QuestVersion
	var snapshot []byte
	if err := row.Scan(&v.QuestID, &v.Version, &snapshot, &v.UpdatedBy, &v.SnapshotCreatedAt); err != nil {
		return QuestVersion{}, err
	}
	if err := json.Unmarshal(snapshot, &v.Content); err != nil {
		return QuestVersion{}, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return v, nil
}
