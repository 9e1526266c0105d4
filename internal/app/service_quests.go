package app

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"sidequest/api/internal/payload"
	"sidequest/api/internal/store"
)

var lifecycleActions = map[string]string{
	"publish": store.QuestStateActive,
	"draft":   store.QuestStateDraft,
	"delete":  store.QuestStateArchived,
}

func (s *Service) CreateQuest(ctx context.Context, rawID string, input payload.QuestContentInput, actor string) (map[string]any, error) {
	questID, err := payload.QuestID(rawID)
	if err != nil {
		return nil, errValidation(err)
	}
	content, err := payload.QuestContent(input)
	if err != nil {
		return nil, errValidation(err)
	}

	quest, err := s.store.CreateQuest(ctx, questID, content, actor)
	if err != nil {
		return nil, s.questStoreError(err, questID)
	}
	return questPayload(quest), nil
}

func (s *Service) UpdateQuest(ctx context.Context, questID string, input payload.QuestContentInput, actor string) (map[string]any, error) {
	content, err := payload.QuestContent(input)
	if err != nil {
		return nil, errValidation(err)
	}

	quest, err := s.store.UpdateQuestContent(ctx, questID, content, actor)
	if err != nil {
		return nil, s.questStoreError(err, questID)
	}
	return questPayload(quest), nil
}

// QuestLifecycle flips the lifecycle state. Publish and draft are status
// changes, delete is the soft archive; none of them bump the version.
func (s *Service) QuestLifecycle(ctx context.Context, questID, action, actor string) (map[string]any, error) {
	state, ok := lifecycleActions[action]
	if !ok {
		return nil, errValidationField("action", "must be one of publish, draft, delete")
	}
	quest, err := s.store.SetQuestState(ctx, questID, state, actor)
	if err != nil {
		return nil, s.questStoreError(err, questID)
	}
	return questPayload(quest), nil
}

func (s *Service) DuplicateQuest(ctx context.Context, sourceID, rawNewID, actor string) (map[string]any, error) {
	newID, err := payload.QuestID(rawNewID)
	if err != nil {
		return nil, errValidation(&payload.ValidationError{Field: "newQuestId", Reason: "must be a lowercase slug (letters, digits, hyphens)"})
	}
	if newID == sourceID {
		return nil, errValidationField("newQuestId", "must differ from the source id")
	}

	quest, err := s.store.DuplicateQuest(ctx, sourceID, newID, actor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("quest", sourceID)
	}
	if errors.Is(err, store.ErrDuplicate) {
		return nil, errAlreadyExists("quest", newID)
	}
	if errors.Is(err, store.ErrTxConflict) {
		return nil, errConcurrentModification()
	}
	if err != nil {
		return nil, err
	}
	return questPayload(quest), nil
}

func (s *Service) GetQuest(ctx context.Context, questID string) (map[string]any, error) {
	quest, err := s.store.GetQuest(ctx, questID)
	if err != nil {
		return nil, s.questStoreError(err, questID)
	}
	return questPayload(quest), nil
}

func (s *Service) ListQuests(ctx context.Context, domain, state string, limit int) (map[string]any, error) {
	if state != "" {
		switch state {
		case store.QuestStateDraft, store.QuestStateActive, store.QuestStateArchived:
		default:
			return nil, errValidationField("state", "must be one of draft, active, archived")
		}
	}
	quests, err := s.store.ListQuests(ctx, store.QuestFilter{Domain: domain, State: state, Limit: limit})
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(quests))
	for _, quest := range quests {
		items = append(items, questPayload(quest))
	}
	return map[string]any{"quests": items}, nil
}

func (s *Service) QuestVersions(ctx context.Context, questID string) (map[string]any, error) {
	if _, err := s.store.GetQuest(ctx, questID); err != nil {
		return nil, s.questStoreError(err, questID)
	}
	versions, err := s.store.ListQuestVersions(ctx, questID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, versionPayload(v))
	}
	return map[string]any{"questId": questID, "versions": items}, nil
}

func (s *Service) QuestVersion(ctx context.Context, questID, version string) (map[string]any, error) {
	v, err := s.store.GetQuestVersion(ctx, questID, version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNotFound("quest version", questID+"/"+version)
	}
	if err != nil {
		return nil, err
	}
	return versionPayload(v), nil
}

func (s *Service) questStoreError(err error, questID string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errNotFound("quest", questID)
	case errors.Is(err, store.ErrDuplicate):
		return errAlreadyExists("quest", questID)
	case errors.Is(err, store.ErrTxConflict):
		return errConcurrentModification()
	default:
		return err
	}
}

// questPayload is the serialization boundary: timestamps become RFC 3339
// strings and isActive is derived from the state enum.
func questPayload(q store.Quest) map[string]any {
	return map[string]any{
		"questId":        q.ID,
		"domain":         q.Content.Domain,
		"archetype":      q.Content.Archetype,
		"title":          q.Content.Title,
		"description":    q.Content.Description,
		"xpReward":       q.Content.XPReward,
		"weight":         q.Content.Weight,
		"state":          q.State,
		"isActive":       q.State == store.QuestStateActive,
		"versionCounter": q.VersionCounter,
		"sQuestVersion":  strconv.Itoa(q.VersionCounter),
		"createdAt":      isoTime(q.CreatedAt),
		"createdBy":      q.CreatedBy,
		"updatedAt":      isoTime(q.UpdatedAt),
		"updatedBy":      q.UpdatedBy,
	}
}

func versionPayload(v store.QuestVersion) map[string]any {
	return map[string]any{
		"questId":           v.QuestID,
		"version":           v.Version,
		"domain":            v.Content.Domain,
		"archetype":         v.Content.Archetype,
		"title":             v.Content.Title,
		"description":       v.Content.Description,
		"xpReward":          v.Content.XPReward,
		"weight":            v.Content.Weight,
		"updatedBy":         v.UpdatedBy,
		"snapshotCreatedAt": isoTime(v.SnapshotCreatedAt),
	}
}
