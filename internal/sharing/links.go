// Package sharing manages upload links: creation, validation and revocation.
package sharing

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/fruitsalade/linkdrop/internal/metadata"
	"github.com/fruitsalade/linkdrop/internal/metrics"
)

var (
	ErrLinkNotFound     = errors.New("upload link not found")
	ErrRevoked          = errors.New("upload link has been revoked")
	ErrExpired          = errors.New("upload link has expired")
	ErrLimitReached     = errors.New("upload link limit reached")
	ErrPasswordRequired = errors.New("password required")
	ErrInvalidPassword  = errors.New("invalid password")
)

// Store is the persistence the link store needs.
type Store interface {
	InsertLink(ctx context.Context, l *metadata.Link) error
	GetLink(ctx context.Context, id string) (*metadata.Link, error)
	DeactivateLink(ctx context.Context, id, ownerID string) error
	IncrementLinkUploads(ctx context.Context, id string) (bool, error)
	ListLinksByOwner(ctx context.Context, ownerID string) ([]metadata.Link, error)
	CountActiveLinks(ctx context.Context) (int64, error)
}

// LinkStore manages upload links.
type LinkStore struct {
	db  Store
	now func() time.Time
}

// NewLinkStore creates a new link store.
func NewLinkStore(db Store) *LinkStore {
	return &LinkStore{db: db, now: time.Now}
}

// CreateOptions are the optional settings of a new link.
type CreateOptions struct {
	Password     string
	ExpiresInSec int64
	MaxUploads   int
}

// Create creates a new upload link owned by ownerID.
func (s *LinkStore) Create(ctx context.Context, ownerID, name string, opts CreateOptions) (*metadata.Link, error) {
	if ownerID == "" || name == "" {
		return nil, fmt.Errorf("owner and name are required")
	}
	id, err := generateToken()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	link := &metadata.Link{
		ID:         id,
		OwnerID:    ownerID,
		Name:       name,
		MaxUploads: opts.MaxUploads,
		IsActive:   true,
	}
	if opts.Password != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash password: %w", err)
		}
		link.PasswordHash = string(hashed)
	}
	if opts.ExpiresInSec > 0 {
		t := s.now().Add(time.Duration(opts.ExpiresInSec) * time.Second).Truncate(time.Second).UTC()
		link.ExpiresAt = &t
	}

	if err := s.db.InsertLink(ctx, link); err != nil {
		return nil, err
	}
	s.updateActiveCount(ctx)
	return link, nil
}

// Get returns a link without validating it.
func (s *LinkStore) Get(ctx context.Context, id string) (*metadata.Link, error) {
	l, err := s.db.GetLink(ctx, id)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, ErrLinkNotFound
	}
	return l, err
}

// Validate checks that a link accepts uploads.
// Checks: exists, active, not expired, upload limit not reached, password.
func (s *LinkStore) Validate(ctx context.Context, id, password string) (*metadata.Link, error) {
	link, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !link.IsActive {
		return nil, ErrRevoked
	}
	if link.ExpiresAt != nil && s.now().After(*link.ExpiresAt) {
		return nil, ErrExpired
	}
	if link.MaxUploads > 0 && link.UploadCount >= link.MaxUploads {
		return nil, ErrLimitReached
	}

	if link.PasswordHash != "" {
		if password == "" {
			return nil, ErrPasswordRequired
		}
		if err := bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)); err != nil {
			return nil, ErrInvalidPassword
		}
	}
	return link, nil
}

// RecordUpload counts one upload against the link's limit.
func (s *LinkStore) RecordUpload(ctx context.Context, id string) error {
	ok, err := s.db.IncrementLinkUploads(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLimitReached
	}
	return nil
}

// Revoke deactivates a link owned by ownerID.
func (s *LinkStore) Revoke(ctx context.Context, id, ownerID string) error {
	err := s.db.DeactivateLink(ctx, id, ownerID)
	if errors.Is(err, metadata.ErrNotFound) {
		return ErrLinkNotFound
	}
	if err != nil {
		return err
	}
	s.updateActiveCount(ctx)
	return nil
}

// ListByOwner returns the links created by ownerID.
func (s *LinkStore) ListByOwner(ctx context.Context, ownerID string) ([]metadata.Link, error) {
	return s.db.ListLinksByOwner(ctx, ownerID)
}

// RequireOwner returns the link if ownerID owns it.
func (s *LinkStore) RequireOwner(ctx context.Context, id, ownerID string) (*metadata.Link, error) {
	link, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if link.OwnerID != ownerID {
		// Other users' links are indistinguishable from missing ones.
		return nil, ErrLinkNotFound
	}
	return link, nil
}

func (s *LinkStore) updateActiveCount(ctx context.Context) {
	if count, err := s.db.CountActiveLinks(ctx); err == nil {
		metrics.SetUploadLinksActive(count)
	}
}

func generateToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
