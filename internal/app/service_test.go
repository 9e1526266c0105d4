package app

import (
	"context"
	"database/sql"
	"time"

	"sidequest/api/internal/authpw"
	"sidequest/api/internal/config"
	"sidequest/api/internal/store"
)

type fakeStore struct {
	getUserByEmailFn     func(context.Context, string) (store.User, error)
	getUserByIDFn        func(context.Context, string) (store.User, error)
	createUserFn         func(context.Context, store.User) error
	getQuestFn           func(context.Context, string) (store.Quest, error)
	listQuestsFn         func(context.Context, store.QuestFilter) ([]store.Quest, error)
	createQuestFn        func(context.Context, string, store.QuestContent, string) (store.Quest, error)
	updateQuestContentFn func(context.Context, string, store.QuestContent, string) (store.Quest, error)
	setQuestStateFn      func(context.Context, string, string, string) (store.Quest, error)
	duplicateQuestFn     func(context.Context, string, string, string) (store.Quest, error)
	listQuestVersionsFn  func(context.Context, string) ([]store.QuestVersion, error)
	getQuestVersionFn    func(context.Context, string, string) (store.QuestVersion, error)
	getVariantFn         func(context.Context, string) (store.MentorVariant, error)
	listVariantsFn       func(context.Context) ([]store.MentorVariant, error)
	createVariantFn      func(context.Context, store.MentorVariant) (store.MentorVariant, error)
	updateVariantFn      func(context.Context, string, store.VariantPatch) (store.MentorVariant, error)
	deleteVariantFn      func(context.Context, string) error
	publishVariantFn     func(context.Context, string, bool, string) (store.MentorVariant, error)
	getMentorConfigFn    func(context.Context) (store.MentorConfig, error)
	updateMentorConfigFn func(context.Context, store.ConfigPatch) (store.MentorConfig, error)
	insertRunFn          func(context.Context, store.Run) error
	forEachRunFn         func(context.Context, func(store.Run) error) error
	replaceStatsFn       func(context.Context, []store.QuestStats, store.StatsSummary) error
	getQuestStatsFn      func(context.Context, string) (store.QuestStats, error)
	listQuestStatsFn     func(context.Context) ([]store.QuestStats, error)
	getStatsSummaryFn    func(context.Context) (store.StatsSummary, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}
func (f *fakeStore) SaveRefreshSession(context.Context, string, string, time.Time) error {
	return nil
}
func (f *fakeStore) LookupRefreshSession(context.Context, string) (store.User, error) {
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error {
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(context.Context, string) (bool, error) { return false, nil }

func (f *fakeStore) GetQuest(ctx context.Context, questID string) (store.Quest, error) {
	if f.getQuestFn != nil {
		return f.getQuestFn(ctx, questID)
	}
	return store.Quest{}, sql.ErrNoRows
}
func (f *fakeStore) ListQuests(ctx context.Context, filter store.QuestFilter) ([]store.Quest, error) {
	if f.listQuestsFn != nil {
		return f.listQuestsFn(ctx, filter)
	}
	return nil, nil
}
func (f *fakeStore) CreateQuest(ctx context.Context, questID string, content store.QuestContent, createdBy string) (store.Quest, error) {
	if f.createQuestFn != nil {
		return f.createQuestFn(ctx, questID, content, createdBy)
	}
	return store.Quest{ID: questID, Content: content, State: store.QuestStateDraft, VersionCounter: 1, CreatedBy: createdBy, UpdatedBy: createdBy}, nil
}
func (f *fakeStore) UpdateQuestContent(ctx context.Context, questID string, content store.QuestContent, updatedBy string) (store.Quest, error) {
	if f.updateQuestContentFn != nil {
		return f.updateQuestContentFn(ctx, questID, content, updatedBy)
	}
	return store.Quest{}, sql.ErrNoRows
}
func (f *fakeStore) SetQuestState(ctx context.Context, questID, state, updatedBy string) (store.Quest, error) {
	if f.setQuestStateFn != nil {
		return f.setQuestStateFn(ctx, questID, state, updatedBy)
	}
	return store.Quest{}, sql.ErrNoRows
}
func (f *fakeStore) DuplicateQuest(ctx context.Context, sourceID, newID, createdBy string) (store.Quest, error) {
	if f.duplicateQuestFn != nil {
		return f.duplicateQuestFn(ctx, sourceID, newID, createdBy)
	}
	return store.Quest{}, sql.ErrNoRows
}
func (f *fakeStore) ListQuestVersions(ctx context.Context, questID string) ([]store.QuestVersion, error) {
	if f.listQuestVersionsFn != nil {
		return f.listQuestVersionsFn(ctx, questID)
	}
	return nil, nil
}
func (f *fakeStore) GetQuestVersion(ctx context.Context, questID, version string) (store.QuestVersion, error) {
	if f.getQuestVersionFn != nil {
		return f.getQuestVersionFn(ctx, questID, version)
	}
	return store.QuestVersion{}, sql.ErrNoRows
}

func (f *fakeStore) GetVariant(ctx context.Context, variantID string) (store.MentorVariant, error) {
	if f.getVariantFn != nil {
		return f.getVariantFn(ctx, variantID)
	}
	return store.MentorVariant{}, sql.ErrNoRows
}
func (f *fakeStore) ListVariants(ctx context.Context) ([]store.MentorVariant, error) {
	if f.listVariantsFn != nil {
		return f.listVariantsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) CreateVariant(ctx context.Context, v store.MentorVariant) (store.MentorVariant, error) {
	if f.createVariantFn != nil {
		return f.createVariantFn(ctx, v)
	}
	return v, nil
}
func (f *fakeStore) UpdateVariant(ctx context.Context, variantID string, patch store.VariantPatch) (store.MentorVariant, error) {
	if f.updateVariantFn != nil {
		return f.updateVariantFn(ctx, variantID, patch)
	}
	return store.MentorVariant{}, sql.ErrNoRows
}
func (f *fakeStore) DeleteVariant(ctx context.Context, variantID string) error {
	if f.deleteVariantFn != nil {
		return f.deleteVariantFn(ctx, variantID)
	}
	return nil
}
func (f *fakeStore) PublishVariant(ctx context.Context, variantID string, makeActive bool, updatedBy string) (store.MentorVariant, error) {
	if f.publishVariantFn != nil {
		return f.publishVariantFn(ctx, variantID, makeActive, updatedBy)
	}
	return store.MentorVariant{}, sql.ErrNoRows
}
func (f *fakeStore) GetMentorConfig(ctx context.Context) (store.MentorConfig, error) {
	if f.getMentorConfigFn != nil {
		return f.getMentorConfigFn(ctx)
	}
	return store.MentorConfig{ShowMentorHeader: true}, nil
}
func (f *fakeStore) EnsureMentorConfig(context.Context) error { return nil }
func (f *fakeStore) UpdateMentorConfig(ctx context.Context, patch store.ConfigPatch) (store.MentorConfig, error) {
	if f.updateMentorConfigFn != nil {
		return f.updateMentorConfigFn(ctx, patch)
	}
	return store.MentorConfig{}, nil
}

func (f *fakeStore) InsertRun(ctx context.Context, run store.Run) error {
	if f.insertRunFn != nil {
		return f.insertRunFn(ctx, run)
	}
	return nil
}
func (f *fakeStore) ForEachRun(ctx context.Context, fn func(store.Run) error) error {
	if f.forEachRunFn != nil {
		return f.forEachRunFn(ctx, fn)
	}
	return nil
}
func (f *fakeStore) ReplaceStats(ctx context.Context, stats []store.QuestStats, summary store.StatsSummary) error {
	if f.replaceStatsFn != nil {
		return f.replaceStatsFn(ctx, stats, summary)
	}
	return nil
}
func (f *fakeStore) GetQuestStats(ctx context.Context, questID string) (store.QuestStats, error) {
	if f.getQuestStatsFn != nil {
		return f.getQuestStatsFn(ctx, questID)
	}
	return store.QuestStats{}, sql.ErrNoRows
}
func (f *fakeStore) ListQuestStats(ctx context.Context) ([]store.QuestStats, error) {
	if f.listQuestStatsFn != nil {
		return f.listQuestStatsFn(ctx)
	}
	return nil, nil
}
func (f *fakeStore) GetStatsSummary(ctx context.Context) (store.StatsSummary, error) {
	if f.getStatsSummaryFn != nil {
		return f.getStatsSummaryFn(ctx)
	}
	return store.StatsSummary{}, sql.ErrNoRows
}

type fakeProbe struct {
	probeFn func(context.Context, string) (int, int, error)
}

func (f *fakeProbe) Probe(ctx context.Context, imageURL string) (int, int, error) {
	if f.probeFn != nil {
		return f.probeFn(ctx, imageURL)
	}
	return 512, 512, nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		SyncToken:  "test-sync-token",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		CORSOrigin: "*",
	}
}

func newTestService(st *fakeStore, probe *fakeProbe) *Service {
	if probe == nil {
		probe = &fakeProbe{}
	}
	return &Service{
		cfg:    testConfig(),
		store:  st,
		authpw: authpw.NewService(st),
		probe:  probe,
	}
}
