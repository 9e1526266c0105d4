package store

import "time"

// Quest lifecycle states. Archived quests keep their content and version
// history; only the state changes.
const (
	QuestStateDraft    = "draft"
	QuestStateActive   = "active"
	QuestStateArchived = "archived"
)

// Mentor variant statuses. The lifecycle is one-way: draft -> published.
const (
	VariantStatusDraft     = "draft"
	VariantStatusPublished = "published"
)

// Run statuses as recorded by the serving system.
const (
	RunStatusPresented = "presented"
	RunStatusAccepted  = "accepted"
	RunStatusCompleted = "completed"
	RunStatusSkipped   = "skipped"
)

// QuestContent holds the content-bearing fields of a quest. Changing any of
// them bumps the version counter and produces a snapshot.
type QuestContent struct {
	Domain      string `json:"domain"`
	Archetype   string `json:"archetype"`
	Title       string `json:"title"`
	Description string `json:"description"`
	XPReward    int    `json:"xpReward"`
	Weight      int    `json:"weight"`
}

type Quest struct {
	ID             string
	Content        QuestContent
	State          string
	VersionCounter int
	CreatedAt      time.Time
	CreatedBy      string
	UpdatedAt      time.Time
	UpdatedBy      string
}

// QuestVersion is an immutable snapshot of a quest's content at the moment
// of an accepted write, keyed by the version string.
type QuestVersion struct {
	QuestID           string
	Version           string
	Content           QuestContent
	UpdatedBy         string
	SnapshotCreatedAt time.Time
}

type MentorVariant struct {
	ID           string
	Name         string
	Tagline      string
	Status       string
	Copy         map[string]string
	AvatarSource map[string]string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	UpdatedBy    string
}

// MentorConfig is the singleton pointer document for the mentor header.
type MentorConfig struct {
	ActiveVariant    string
	ShowMentorHeader bool
	UpdatedAt        time.Time
	UpdatedBy        string
}

// Run is one append-only record of a quest presentation. Runs are written
// once by the serving system and never mutated.
type Run struct {
	ID          string
	QuestID     string
	Status      string
	Rating      int
	RewardTotal int
	ChaosMode   bool
	PresentedAt time.Time
}

// QuestStats is the derived per-quest rollup, recomputable from the run log.
type QuestStats struct {
	QuestID         string
	Presented       int
	Accepted        int
	Completed       int
	Skipped         int
	RatingSum       int
	RatingCount     int
	RewardTotal     int
	ChaosPresented  int
	ChaosAccepted   int
	ChaosCompleted  int
	ChaosSkipped    int
	LastPresentedAt *time.Time
	ComputedAt      time.Time
}

// StatsSummary is the global rollup across all quests.
type StatsSummary struct {
	QuestCount          int
	TotalPresented      int
	TotalAccepted       int
	TotalCompleted      int
	TotalSkipped        int
	TotalRatingSum      int
	TotalRatingCount    int
	TotalReward         int
	TotalChaosPresented int
	TotalChaosAccepted  int
	TotalChaosCompleted int
	TotalChaosSkipped   int
	LastPresentedAt     *time.Time
	ComputedAt          time.Time
}

type User struct {
	ID           string
	Email        string
	DisplayName  string
	PasswordHash string
	Admin        bool
	ContentOps   bool
	CreatedAt    time.Time
}

// QuestFilter narrows ListQuests. Zero values mean no filter.
type QuestFilter struct {
	Domain string
	State  string
	Limit  int
}

// VariantPatch carries partial updates for a mentor variant. Nil fields are
// left untouched.
type VariantPatch struct {
	Name         *string
	Tagline      *string
	Copy         map[string]string
	AvatarSource map[string]string
	UpdatedBy    string
}

// ConfigPatch carries partial updates for the mentor config pointer.
type ConfigPatch struct {
	ActiveVariant    *string
	ShowMentorHeader *bool
	UpdatedBy        string
}
