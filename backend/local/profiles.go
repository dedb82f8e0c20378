package local

import (
	"context"
	"time"

	session "github.com/goliatone/go-auth-session"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type profileStore struct {
	db   *bun.DB
	repo repository.Repository[*Profile]
	now  func() time.Time
}

var _ session.ProfileStore = (*profileStore)(nil)

func (s *profileStore) Select(ctx context.Context, id string) (*session.Profile, error) {
	record, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	return toProfile(record), nil
}

func (s *profileStore) Insert(ctx context.Context, profile session.Profile) (*session.Profile, error) {
	id, err := uuid.Parse(profile.ID)
	if err != nil {
		return nil, session.NewValidationError("id", "Invalid identity id")
	}

	now := s.now()
	record := &Profile{
		ID:        id,
		FullName:  profile.FullName,
		FirstName: profile.FirstName,
		LastName:  profile.LastName,
		Bio:       profile.Bio,
		AvatarURL: profile.AvatarURL,
		Website:   profile.Website,
		CreatedAt: &now,
		UpdatedAt: &now,
	}

	if _, err := s.repo.CreateTx(ctx, s.db, record); err != nil {
		if isUniqueViolation(err) {
			return nil, goerrors.New("profile already exists", goerrors.CategoryConflict).
				WithMetadata(map[string]any{"id": profile.ID})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create profile")
	}

	return toProfile(record), nil
}

func (s *profileStore) Update(ctx context.Context, id string, update session.ProfileUpdate) (*session.Profile, error) {
	record, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}

	merged := update.Apply(*toProfile(record))
	now := s.now()
	record.FullName = merged.FullName
	record.FirstName = merged.FirstName
	record.LastName = merged.LastName
	record.Bio = merged.Bio
	record.AvatarURL = merged.AvatarURL
	record.Website = merged.Website
	record.UpdatedAt = &now

	if _, err := s.repo.UpdateTx(ctx, s.db, record, repository.UpdateByID(record.ID.String())); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update profile")
	}

	return toProfile(record), nil
}

func (s *profileStore) get(ctx context.Context, id string) (*Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, session.NewError(session.ErrNotFound, "profile not found").
			WithMetadata(map[string]any{"id": id})
	}

	record, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
			return nil, session.NewError(session.ErrNotFound, "profile not found").
				WithMetadata(map[string]any{"id": id})
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve profile")
	}
	return record, nil
}

func toProfile(p *Profile) *session.Profile {
	return &session.Profile{
		ID:        p.ID.String(),
		FullName:  p.FullName,
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Bio:       p.Bio,
		AvatarURL: p.AvatarURL,
		Website:   p.Website,
		UpdatedAt: p.UpdatedAt,
	}
}
