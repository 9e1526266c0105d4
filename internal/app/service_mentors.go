package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"sidequest/api/internal/imageprobe"
	"sidequest/api/internal/payload"
	"sidequest/api/internal/store"
)

// Avatars render in a fixed slot, so the probe accepts exactly one size.
const (
	avatarWidth  = 512
	avatarHeight = 512
)

// VariantCreateInput mirrors the JSON body for creating a mentor variant.
type VariantCreateInput struct {
	ID       string `json:"variantId"`
	SourceID string `json:"sourceId"`
	Name     string `json:"name"`
	Tagline  string `json:"tagline"`
}

func (s *Service) CreateVariant(ctx context.Context, input VariantCreateInput, actor string) (map[string]any, error) {
	variantID, err := payload.VariantID(input.ID)
	if err != nil {
		return nil, errValidation(err)
	}
	name, err := payload.VariantDisplay("name", input.Name)
	if err != nil {
		return nil, errValidation(err)
	}
	tagline, err := payload.VariantDisplay("tagline", input.Tagline)
	if err != nil {
		return nil, errValidation(err)
	}

	variant := store.MentorVariant{
		ID:           variantID,
		Name:         name,
		Tagline:      tagline,
		Status:       store.VariantStatusDraft,
		Copy:         map[string]string{},
		AvatarSource: map[string]string{},
		UpdatedBy:    actor,
	}
	if variant.Name == "" {
		variant.Name = variantID
	}

	// A new variant can start from an existing one. Content is copied but
	// the status always resets to draft.
	if input.SourceID != "" {
		source, err := s.store.GetVariant(ctx, input.SourceID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errNotFound("variant", input.SourceID)
		}
		if err != nil {
			return nil, err
		}
		if name == "" {
			variant.Name = source.Name
		}
		if tagline == "" {
			variant.Tagline = source.Tagline
		}
		variant.Copy = cloneStringMap(source.Copy)
		variant.AvatarSource = cloneStringMap(source.AvatarSource)
	}

	created, err := s.store.CreateVariant(ctx, variant)
	if err != nil {
		return nil, s.variantStoreError(err, variantID)
	}
	return variantPayload(created), nil
}

func (s *Service) UpdateVariant(ctx context.Context, variantID string, input payload.VariantUpdateInput, actor string) (map[string]any, error) {
	patch, err := payload.VariantPatch(input)
	if err != nil {
		return nil, errValidation(err)
	}

	current, err := s.store.GetVariant(ctx, variantID)
	if err != nil {
		return nil, s.variantStoreError(err, variantID)
	}

	// Only avatar URLs that actually changed get probed. Re-saving an
	// unchanged map must not fail because a CDN is having a bad day.
	if patch.AvatarSource != nil {
		for mentor, rawURL := range patch.AvatarSource {
			if current.AvatarSource[mentor] == rawURL {
				continue
			}
			if err := s.probeAvatar(ctx, mentor, rawURL); err != nil {
				return nil, err
			}
		}
	}

	patch.UpdatedBy = actor
	updated, err := s.store.UpdateVariant(ctx, variantID, patch)
	if err != nil {
		return nil, s.variantStoreError(err, variantID)
	}
	return variantPayload(updated), nil
}

func (s *Service) DeleteVariant(ctx context.Context, variantID string) error {
	err := s.store.DeleteVariant(ctx, variantID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errNotFound("variant", variantID)
	case errors.Is(err, store.ErrVariantActive):
		return errInvalidState(fmt.Sprintf("variant %q is the active header variant and cannot be deleted", variantID))
	case errors.Is(err, store.ErrVariantNotDraft):
		return errInvalidState(fmt.Sprintf("variant %q is published and cannot be deleted", variantID))
	case errors.Is(err, store.ErrTxConflict):
		return errConcurrentModification()
	default:
		return err
	}
}

func (s *Service) PublishVariant(ctx context.Context, variantID string, makeActive bool, actor string) (map[string]any, error) {
	published, err := s.store.PublishVariant(ctx, variantID, makeActive, actor)
	if err != nil {
		return nil, s.variantStoreError(err, variantID)
	}
	return variantPayload(published), nil
}

func (s *Service) GetVariant(ctx context.Context, variantID string) (map[string]any, error) {
	variant, err := s.store.GetVariant(ctx, variantID)
	if err != nil {
		return nil, s.variantStoreError(err, variantID)
	}
	return variantPayload(variant), nil
}

func (s *Service) ListVariants(ctx context.Context) (map[string]any, error) {
	variants, err := s.store.ListVariants(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(variants))
	for _, v := range variants {
		items = append(items, variantPayload(v))
	}
	return map[string]any{"variants": items}, nil
}

func (s *Service) GetMentorConfig(ctx context.Context) (map[string]any, error) {
	cfg, err := s.store.GetMentorConfig(ctx)
	if err != nil {
		return nil, err
	}
	return configPayload(cfg), nil
}

func (s *Service) UpdateMentorConfig(ctx context.Context, input payload.ConfigUpdateInput, actor string) (map[string]any, error) {
	patch, err := payload.ConfigPatch(input)
	if err != nil {
		return nil, errValidation(err)
	}

	// The pointer may only move to a variant that exists and is already
	// published. The read is a precondition check; a publish racing this
	// update can only move the variant toward published, never away.
	if patch.ActiveVariant != nil {
		target, err := s.store.GetVariant(ctx, *patch.ActiveVariant)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errValidationField("activeVariant", "must reference an existing variant")
		}
		if err != nil {
			return nil, err
		}
		if target.Status != store.VariantStatusPublished {
			return nil, errInvalidState(fmt.Sprintf("variant %q is not published and cannot be activated", target.ID))
		}
	}

	patch.UpdatedBy = actor
	cfg, err := s.store.UpdateMentorConfig(ctx, patch)
	if err != nil {
		return nil, err
	}
	return configPayload(cfg), nil
}

func (s *Service) probeAvatar(ctx context.Context, mentor, rawURL string) error {
	width, height, err := s.probe.Probe(ctx, rawURL)
	if errors.Is(err, imageprobe.ErrFetch) {
		return errDependencyUnavailable(fmt.Sprintf("avatar for %q could not be fetched", mentor))
	}
	if errors.Is(err, imageprobe.ErrDecode) {
		return errValidationField("avatarSource."+mentor, "must point at a decodable image")
	}
	if err != nil {
		return err
	}
	if width != avatarWidth || height != avatarHeight {
		return errValidationField("avatarSource."+mentor, fmt.Sprintf("must be exactly %dx%d pixels, got %dx%d", avatarWidth, avatarHeight, width, height))
	}
	return nil
}

func (s *Service) variantStoreError(err error, variantID string) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return errNotFound("variant", variantID)
	case errors.Is(err, store.ErrDuplicate):
		return errAlreadyExists("variant", variantID)
	case errors.Is(err, store.ErrTxConflict):
		return errConcurrentModification()
	default:
		return err
	}
}

func variantPayload(v store.MentorVariant) map[string]any {
	return map[string]any{
		"variantId":    v.ID,
		"name":         v.Name,
		"tagline":      v.Tagline,
		"status":       v.Status,
		"copy":         v.Copy,
		"avatarSource": v.AvatarSource,
		"createdAt":    isoTime(v.CreatedAt),
		"updatedAt":    isoTime(v.UpdatedAt),
		"updatedBy":    v.UpdatedBy,
	}
}

func configPayload(cfg store.MentorConfig) map[string]any {
	var active any
	if cfg.ActiveVariant != "" {
		active = cfg.ActiveVariant
	}
	return map[string]any{
		"activeVariant":    active,
		"showMentorHeader": cfg.ShowMentorHeader,
		"updatedAt":        isoTime(cfg.UpdatedAt),
		"updatedBy":        cfg.UpdatedBy,
	}
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
