// Package payload turns untrusted request input into well-typed store
// payloads. Everything here is pure; the store is never touched.
package payload

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"sidequest/api/internal/store"
)

// Mentors whose copy and avatar entries every variant must carry.
var RequiredMentors = []string{"sage", "ember", "quill"}

const (
	XPRewardMin = 0
	XPRewardMax = 1000
	WeightMin   = 0
	WeightMax   = 100
	RatingMin   = 0
	RatingMax   = 5
)

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

// ValidationError names the first offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// QuestID validates the stable identifier against the slug pattern.
func QuestID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", invalid("questId", "is required")
	}
	if !slugPattern.MatchString(id) {
		return "", invalid("questId", "must be a lowercase slug (letters, digits, hyphens)")
	}
	return id, nil
}

// VariantID shares the slug rule with quest ids.
func VariantID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", invalid("variantId", "is required")
	}
	if !slugPattern.MatchString(id) {
		return "", invalid("variantId", "must be a lowercase slug (letters, digits, hyphens)")
	}
	return id, nil
}

// QuestContentInput mirrors the JSON body for quest create/update.
type QuestContentInput struct {
	Domain      string `json:"domain"`
	Archetype   string `json:"archetype"`
	Title       string `json:"title"`
	Description string `json:"description"`
	XPReward    int    `json:"xpReward"`
	Weight      int    `json:"weight"`
}

// QuestContent normalizes a full quest content payload.
func QuestContent(input QuestContentInput) (store.QuestContent, error) {
	content := store.QuestContent{
		Domain:      strings.TrimSpace(input.Domain),
		Archetype:   strings.TrimSpace(input.Archetype),
		Title:       strings.TrimSpace(input.Title),
		Description: strings.TrimSpace(input.Description),
		XPReward:    input.XPReward,
		Weight:      input.Weight,
	}
	if content.Title == "" {
		return store.QuestContent{}, invalid("title", "is required")
	}
	if content.Description == "" {
		return store.QuestContent{}, invalid("description", "is required")
	}
	if content.Domain == "" {
		return store.QuestContent{}, invalid("domain", "is required")
	}
	if content.Archetype == "" {
		return store.QuestContent{}, invalid("archetype", "is required")
	}
	if content.XPReward < XPRewardMin || content.XPReward > XPRewardMax {
		return store.QuestContent{}, invalid("xpReward", fmt.Sprintf("must be between %d and %d", XPRewardMin, XPRewardMax))
	}
	if content.Weight < WeightMin || content.Weight > WeightMax {
		return store.QuestContent{}, invalid("weight", fmt.Sprintf("must be between %d and %d", WeightMin, WeightMax))
	}
	return content, nil
}

// VariantDisplay trims an optional display field such as a variant name or
// tagline. Absent stays absent; when supplied the value must not be blank.
func VariantDisplay(field, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if raw != "" && trimmed == "" {
		return "", invalid(field, "must not be blank")
	}
	return trimmed, nil
}

// VariantUpdateInput mirrors the JSON body for a partial variant update.
// Nil fields are left untouched.
type VariantUpdateInput struct {
	Name         *string           `json:"name"`
	Tagline      *string           `json:"tagline"`
	Copy         map[string]string `json:"copy"`
	AvatarSource map[string]string `json:"avatarSource"`
}

// VariantPatch validates each provided field independently.
func VariantPatch(input VariantUpdateInput) (store.VariantPatch, error) {
	var patch store.VariantPatch
	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		if name == "" {
			return store.VariantPatch{}, invalid("name", "must not be empty")
		}
		patch.Name = &name
	}
	if input.Tagline != nil {
		tagline := strings.TrimSpace(*input.Tagline)
		if tagline == "" {
			return store.VariantPatch{}, invalid("tagline", "must not be blank")
		}
		patch.Tagline = &tagline
	}
	if input.Copy != nil {
		if err := VariantCopy(input.Copy); err != nil {
			return store.VariantPatch{}, err
		}
		patch.Copy = input.Copy
	}
	if input.AvatarSource != nil {
		if err := AvatarSource(input.AvatarSource); err != nil {
			return store.VariantPatch{}, err
		}
		patch.AvatarSource = input.AvatarSource
	}
	return patch, nil
}

// VariantCopy requires an entry for every mentor and nothing else.
func VariantCopy(m map[string]string) error {
	for _, mentor := range RequiredMentors {
		text, ok := m[mentor]
		if !ok {
			return invalid("copy."+mentor, "is required")
		}
		if strings.TrimSpace(text) == "" {
			return invalid("copy."+mentor, "must not be empty")
		}
	}
	for key := range m {
		if !isRequiredMentor(key) {
			return invalid("copy."+key, "is not a known mentor")
		}
	}
	return nil
}

// AvatarSource checks keys against the mentor list and requires secure URLs.
// Dimension checks happen later, against the probe, and only for entries
// that actually changed.
func AvatarSource(m map[string]string) error {
	for key, raw := range m {
		if !isRequiredMentor(key) {
			return invalid("avatarSource."+key, "is not a known mentor")
		}
		parsed, err := url.Parse(strings.TrimSpace(raw))
		if err != nil || parsed.Host == "" {
			return invalid("avatarSource."+key, "must be a valid URL")
		}
		if parsed.Scheme != "https" {
			return invalid("avatarSource."+key, "must use https")
		}
	}
	return nil
}

func isRequiredMentor(key string) bool {
	for _, mentor := range RequiredMentors {
		if key == mentor {
			return true
		}
	}
	return false
}

// ConfigUpdateInput mirrors the JSON body for a partial config update.
type ConfigUpdateInput struct {
	ActiveVariant    *string `json:"activeVariant"`
	ShowMentorHeader *bool   `json:"showMentorHeader"`
}

// ConfigPatch validates the provided config fields. The published-status
// precondition on activeVariant is checked by the caller against the store.
func ConfigPatch(input ConfigUpdateInput) (store.ConfigPatch, error) {
	var patch store.ConfigPatch
	if input.ActiveVariant != nil {
		id, err := VariantID(*input.ActiveVariant)
		if err != nil {
			return store.ConfigPatch{}, invalid("activeVariant", "must be a valid variant id")
		}
		patch.ActiveVariant = &id
	}
	patch.ShowMentorHeader = input.ShowMentorHeader
	return patch, nil
}

// RunInput mirrors the JSON body the serving system posts for each run.
type RunInput struct {
	QuestID     string `json:"questId"`
	Status      string `json:"status"`
	Rating      int    `json:"rating"`
	RewardTotal int    `json:"rewardTotal"`
	ChaosMode   bool   `json:"chaosMode"`
	PresentedAt string `json:"presentedAt"`
}

var runStatuses = map[string]struct{}{
	store.RunStatusPresented: {},
	store.RunStatusAccepted:  {},
	store.RunStatusCompleted: {},
	store.RunStatusSkipped:   {},
}

// Run normalizes a run record. PresentedAt defaults to now when omitted.
func Run(input RunInput, now time.Time) (store.Run, error) {
	questID, err := QuestID(input.QuestID)
	if err != nil {
		return store.Run{}, err
	}
	if _, ok := runStatuses[input.Status]; !ok {
		return store.Run{}, invalid("status", "must be one of presented, accepted, completed, skipped")
	}
	if input.Rating < RatingMin || input.Rating > RatingMax {
		return store.Run{}, invalid("rating", fmt.Sprintf("must be between %d and %d", RatingMin, RatingMax))
	}
	if input.RewardTotal < 0 {
		return store.Run{}, invalid("rewardTotal", "must not be negative")
	}
	presentedAt := now
	if strings.TrimSpace(input.PresentedAt) != "" {
		parsed, err := time.Parse(time.RFC3339, input.PresentedAt)
		if err != nil {
			return store.Run{}, invalid("presentedAt", "must be an RFC 3339 timestamp")
		}
		presentedAt = parsed
	}
	return store.Run{
		QuestID:     questID,
		Status:      input.Status,
		Rating:      input.Rating,
		RewardTotal: input.RewardTotal,
		ChaosMode:   input.ChaosMode,
		PresentedAt: presentedAt.UTC(),
	}, nil
}
