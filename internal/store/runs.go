package store

import (
	"context"
	"database/sql"
	"fmt"
)

func (s *PostgresStore) InsertRun(ctx context.Context, run Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO quest_runs (id, quest_id, status, rating, reward_total, chaos_mode, presented_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, run.ID, run.QuestID, run.Status, run.Rating, run.RewardTotal, run.ChaosMode, run.PresentedAt)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ForEachRun streams the whole run log in presentation order. The scan is
// read-only and may observe runs appended while it is underway; the rollup
// is an eventually consistent snapshot by design.
func (s *PostgresStore) ForEachRun(ctx context.Context, fn func(Run) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, quest_id, status, rating, reward_total, chaos_mode, presented_at
		FROM quest_runs
		ORDER BY presented_at ASC
	`)
	if err != nil {
		return fmt.Errorf("scan runs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var run Run
		if err := rows.Scan(&run.ID, &run.QuestID, &run.Status, &run.Rating, &run.RewardTotal, &run.ChaosMode, &run.PresentedAt); err != nil {
			return fmt.Errorf("scan run: %w", err)
		}
		if err := fn(run); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate runs: %w", err)
	}
	return nil
}

// ReplaceStats commits every per-quest rollup plus the global summary in a
// single transaction. Either the whole batch lands or none of it does, so a
// failed rebuild leaves the previous consistent rollups in place. Upserts
// touch only the aggregated columns.
func (s *PostgresStore) ReplaceStats(ctx context.Context, stats []QuestStats, summary StatsSummary) error {
	return s.runTx(ctx, func(tx *sql.Tx) error {
		for _, st := range stats {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO quest_stats (
					quest_id, presented, accepted, completed, skipped,
					rating_sum, rating_count, reward_total,
					chaos_presented, chaos_accepted, chaos_completed, chaos_skipped,
					last_presented_at, computed_at
				)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
				ON CONFLICT (quest_id) DO UPDATE SET
					presented=EXCLUDED.presented,
					accepted=EXCLUDED.accepted,
					completed=EXCLUDED.completed,
					skipped=EXCLUDED.skipped,
					rating_sum=EXCLUDED.rating_sum,
					rating_count=EXCLUDED.rating_count,
					reward_total=EXCLUDED.reward_total,
					chaos_presented=EXCLUDED.chaos_presented,
					chaos_accepted=EXCLUDED.chaos_accepted,
					chaos_completed=EXCLUDED.chaos_completed,
					chaos_skipped=EXCLUDED.chaos_skipped,
					last_presented_at=EXCLUDED.last_presented_at,
					computed_at=NOW()
			`, st.QuestID, st.Presented, st.Accepted, st.Completed, st.Skipped,
				st.RatingSum, st.RatingCount, st.RewardTotal,
				st.ChaosPresented, st.ChaosAccepted, st.ChaosCompleted, st.ChaosSkipped,
				st.LastPresentedAt); err != nil {
				return fmt.Errorf("upsert quest stats %s: %w", st.QuestID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO quest_stats_summary (
				id, quest_count, total_presented, total_accepted, total_completed,
				total_skipped, total_rating_sum, total_rating_count, total_reward,
				total_chaos_presented, total_chaos_accepted, total_chaos_completed, total_chaos_skipped,
				last_presented_at, computed_at
			)
			VALUES (1, $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW())
			ON CONFLICT (id) DO UPDATE SET
				quest_count=EXCLUDED.quest_count,
				total_presented=EXCLUDED.total_presented,
				total_accepted=EXCLUDED.total_accepted,
				total_completed=EXCLUDED.total_completed,
				total_skipped=EXCLUDED.total_skipped,
				total_rating_sum=EXCLUDED.total_rating_sum,
				total_rating_count=EXCLUDED.total_rating_count,
				total_reward=EXCLUDED.total_reward,
				total_chaos_presented=EXCLUDED.total_chaos_presented,
				total_chaos_accepted=EXCLUDED.total_chaos_accepted,
				total_chaos_completed=EXCLUDED.total_chaos_completed,
				total_chaos_skipped=EXCLUDED.total_chaos_skipped,
				last_presented_at=EXCLUDED.last_presented_at,
				computed_at=NOW()
		`, summary.QuestCount, summary.TotalPresented, summary.TotalAccepted, summary.TotalCompleted,
			summary.TotalSkipped, summary.TotalRatingSum, summary.TotalRatingCount, summary.TotalReward,
			summary.TotalChaosPresented, summary.TotalChaosAccepted, summary.TotalChaosCompleted, summary.TotalChaosSkipped,
			summary.LastPresentedAt); err != nil {
			return fmt.Errorf("upsert stats summary: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) GetQuestStats(ctx context.Context, questID string) (QuestStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT quest_id, presented, accepted, completed, skipped,
			rating_sum, rating_count, reward_total,
			chaos_presented, chaos_accepted, chaos_completed, chaos_skipped,
			last_presented_at, computed_at
		FROM quest_stats WHERE quest_id=$1
	`, questID)
	return scanQuestStats(row)
}

func (s *PostgresStore) ListQuestStats(ctx context.Context) ([]QuestStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT quest_id, presented, accepted, completed, skipped,
			rating_sum, rating_count, reward_total,
			chaos_presented, chaos_accepted, chaos_completed, chaos_skipped,
			last_presented_at, computed_at
		FROM quest_stats
		ORDER BY quest_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list quest stats: %w", err)
	}
	defer rows.Close()

	items := make([]QuestStats, 0)
	for rows.Next() {
		st, err := scanQuestStats(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate quest stats: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetStatsSummary(ctx context.Context) (StatsSummary, error) {
	var sum StatsSummary
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT quest_count, total_presented, total_accepted, total_completed,
			total_skipped, total_rating_sum, total_rating_count, total_reward,
			total_chaos_presented, total_chaos_accepted, total_chaos_completed, total_chaos_skipped,
			last_presented_at, computed_at
		FROM quest_stats_summary WHERE id=1
	`).Scan(&sum.QuestCount, &sum.TotalPresented, &sum.TotalAccepted, &sum.TotalCompleted,
		&sum.TotalSkipped, &sum.TotalRatingSum, &sum.TotalRatingCount, &sum.TotalReward,
		&sum.TotalChaosPresented, &sum.TotalChaosAccepted, &sum.TotalChaosCompleted, &sum.TotalChaosSkipped,
		&last, &sum.ComputedAt)
	if err != nil {
		return StatsSummary{}, err
	}
	if last.Valid {
		t := last.Time
		sum.LastPresentedAt = &t
	}
	return sum, nil
}

func scanQuestStats(row interface{ Scan(...any) error }) (QuestStats, error) {
	var st QuestStats
	var last sql.NullTime
	err := row.Scan(&st.QuestID, &st.Presented, &st.Accepted, &st.Completed, &st.Skipped,
		&st.RatingSum, &st.RatingCount, &st.RewardTotal,
		&st.ChaosPresented, &st.ChaosAccepted, &st.ChaosCompleted, &st.ChaosSkipped,
		&last, &st.ComputedAt)
	if err != nil {
		return QuestStats{}, err
	}
	if last.Valid {
		t := last.Time
		st.LastPresentedAt = &t
	}
	return st, nil
}
