package app

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"sidequest/api/internal/payload"
	"sidequest/api/internal/store"
	"sidequest/api/internal/util"
)

// IngestRun appends one run record from the serving system. Records are
// append-only; nothing ever updates them.
func (s *Service) IngestRun(ctx context.Context, input payload.RunInput) (map[string]any, error) {
	run, err := payload.Run(input, time.Now())
	if err != nil {
		return nil, errValidation(err)
	}
	run.ID = util.NewID("run")
	if err := s.store.InsertRun(ctx, run); err != nil {
		return nil, err
	}
	return map[string]any{"runId": run.ID, "questId": run.QuestID}, nil
}

// RebuildStats streams the whole run log, folds it per quest in memory, and
// replaces every rollup in one transaction. Rebuilding twice from the same
// log produces identical rows.
func (s *Service) RebuildStats(ctx context.Context) (map[string]any, error) {
	folded := map[string]*store.QuestStats{}

	err := s.store.ForEachRun(ctx, func(run store.Run) error {
		stats, ok := folded[run.QuestID]
		if !ok {
			stats = &store.QuestStats{QuestID: run.QuestID}
			folded[run.QuestID] = stats
		}
		foldRun(stats, run)
		return nil
	})
	if err != nil {
		return nil, err
	}

	computedAt := time.Now().UTC()
	rollups := make([]store.QuestStats, 0, len(folded))
	for _, stats := range folded {
		stats.ComputedAt = computedAt
		rollups = append(rollups, *stats)
	}
	sort.Slice(rollups, func(i, j int) bool { return rollups[i].QuestID < rollups[j].QuestID })

	summary := store.StatsSummary{QuestCount: len(rollups), ComputedAt: computedAt}
	for _, stats := range rollups {
		summary.TotalPresented += stats.Presented
		summary.TotalAccepted += stats.Accepted
		summary.TotalCompleted += stats.Completed
		summary.TotalSkipped += stats.Skipped
		summary.TotalRatingSum += stats.RatingSum
		summary.TotalRatingCount += stats.RatingCount
		summary.TotalReward += stats.RewardTotal
		summary.TotalChaosPresented += stats.ChaosPresented
		summary.TotalChaosAccepted += stats.ChaosAccepted
		summary.TotalChaosCompleted += stats.ChaosCompleted
		summary.TotalChaosSkipped += stats.ChaosSkipped
		if stats.LastPresentedAt != nil &&
			(summary.LastPresentedAt == nil || stats.LastPresentedAt.After(*summary.LastPresentedAt)) {
			summary.LastPresentedAt = stats.LastPresentedAt
		}
	}

	if err := s.store.ReplaceStats(ctx, rollups, summary); err != nil {
		if errors.Is(err, store.ErrTxConflict) {
			return nil, errConcurrentModification()
		}
		return nil, err
	}
	return map[string]any{
		"questCount": summary.QuestCount,
		"computedAt": isoTime(computedAt),
	}, nil
}

// foldRun applies one run to a quest rollup. Every run counts as presented;
// a completed run also counts as accepted.
func foldRun(stats *store.QuestStats, run store.Run) {
	stats.Presented++
	accepted := run.Status == store.RunStatusAccepted || run.Status == store.RunStatusCompleted
	if accepted {
		stats.Accepted++
	}
	if run.Status == store.RunStatusCompleted {
		stats.Completed++
	}
	if run.Status == store.RunStatusSkipped {
		stats.Skipped++
	}
	if run.Rating > 0 {
		stats.RatingSum += run.Rating
		stats.RatingCount++
	}
	stats.RewardTotal += run.RewardTotal
	if run.ChaosMode {
		stats.ChaosPresented++
		if accepted {
			stats.ChaosAccepted++
		}
		if run.Status == store.RunStatusCompleted {
			stats.ChaosCompleted++
		}
		if run.Status == store.RunStatusSkipped {
			stats.ChaosSkipped++
		}
	}
	if stats.LastPresentedAt == nil || run.PresentedAt.After(*stats.LastPresentedAt) {
		presentedAt := run.PresentedAt
		stats.LastPresentedAt = &presentedAt
	}
}

func (s *Service) QuestStats(ctx context.Context, questID string) (map[string]any, error) {
	stats, err := s.store.GetQuestStats(ctx, questID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("quest stats", questID)
	}
	if err != nil {
		return nil, err
	}
	return questStatsPayload(stats), nil
}

func (s *Service) Stats(ctx context.Context) (map[string]any, error) {
	summary, err := s.store.GetStatsSummary(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	perQuest, listErr := s.store.ListQuestStats(ctx)
	if listErr != nil {
		return nil, listErr
	}
	items := make([]map[string]any, 0, len(perQuest))
	for _, stats := range perQuest {
		items = append(items, questStatsPayload(stats))
	}
	out := map[string]any{"quests": items}
	if err == nil {
		out["summary"] = summaryPayload(summary)
	} else {
		out["summary"] = nil
	}
	return out, nil
}

func questStatsPayload(stats store.QuestStats) map[string]any {
	return map[string]any{
		"questId":         stats.QuestID,
		"presented":       stats.Presented,
		"accepted":        stats.Accepted,
		"completed":       stats.Completed,
		"skipped":         stats.Skipped,
		"ratingSum":       stats.RatingSum,
		"ratingCount":     stats.RatingCount,
		"rewardTotal":     stats.RewardTotal,
		"chaosPresented":  stats.ChaosPresented,
		"chaosAccepted":   stats.ChaosAccepted,
		"chaosCompleted":  stats.ChaosCompleted,
		"chaosSkipped":    stats.ChaosSkipped,
		"lastPresentedAt": isoTimeOrNil(stats.LastPresentedAt),
		"computedAt":      isoTime(stats.ComputedAt),
	}
}

func summaryPayload(summary store.StatsSummary) map[string]any {
	return map[string]any{
		"questCount":          summary.QuestCount,
		"totalPresented":      summary.TotalPresented,
		"totalAccepted":       summary.TotalAccepted,
		"totalCompleted":      summary.TotalCompleted,
		"totalSkipped":        summary.TotalSkipped,
		"totalRatingSum":      summary.TotalRatingSum,
		"totalRatingCount":    summary.TotalRatingCount,
		"totalReward":         summary.TotalReward,
		"totalChaosPresented": summary.TotalChaosPresented,
		"totalChaosAccepted":  summary.TotalChaosAccepted,
		"totalChaosCompleted": summary.TotalChaosCompleted,
		"totalChaosSkipped":   summary.TotalChaosSkipped,
		"lastPresentedAt":     isoTimeOrNil(summary.LastPresentedAt),
		"computedAt":          isoTime(summary.ComputedAt),
	}
}
