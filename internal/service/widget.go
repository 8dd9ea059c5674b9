package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/parlor-chat/parlor/internal/domain"
	"github.com/parlor-chat/parlor/internal/storage"
)

const (
	// WidgetKeyBytes is the number of random bytes in a widget public key.
	WidgetKeyBytes = 16

	// widgetKeyPrefix marks widget public keys in embed scripts and logs.
	widgetKeyPrefix = "wk_"

	// MaxAvatarSize caps avatar uploads at 5MB.
	MaxAvatarSize = 5 * 1024 * 1024
)

// =============================================================================
// Interface Definition
// =============================================================================

// WidgetService defines the interface for widget management.
type WidgetService interface {
	// Create registers a new widget for an organization and generates its
	// public embed key.
	Create(ctx context.Context, orgID uuid.UUID, params domain.WidgetParams) (*domain.Widget, error)

	// Get retrieves a widget by ID.
	Get(ctx context.Context, id uuid.UUID) (*domain.Widget, error)

	// GetByPublicKey retrieves a widget by its public embed key.
	GetByPublicKey(ctx context.Context, publicKey string) (*domain.Widget, error)

	// List returns all widgets owned by an organization.
	List(ctx context.Context, orgID uuid.UUID) ([]domain.Widget, error)

	// Update modifies a widget's configuration.
	Update(ctx context.Context, id uuid.UUID, params domain.WidgetParams) (*domain.Widget, error)

	// Delete removes a widget and its stored avatar.
	Delete(ctx context.Context, id uuid.UUID) error

	// UploadAvatar stores a new avatar image plus a thumbnail and records
	// the storage key on the widget. Replaces any previous avatar.
	UploadAvatar(ctx context.Context, id uuid.UUID, filename, contentType string, data io.Reader) (*domain.Widget, error)

	// AvatarURL returns a URL for the widget's avatar, or "" if unset.
	AvatarURL(ctx context.Context, widget *domain.Widget) (string, error)
}

// =============================================================================
// Implementation
// =============================================================================

type widgetService struct {
	widgets    WidgetStore
	store      storage.Storage
	thumbnails ThumbnailProcessor
	logger     *slog.Logger
}

// NewWidgetService creates a new WidgetService.
func NewWidgetService(widgets WidgetStore, store storage.Storage, thumbnails ThumbnailProcessor, logger *slog.Logger) WidgetService {
	return &widgetService{
		widgets:    widgets,
		store:      store,
		thumbnails: thumbnails,
		logger:     logger,
	}
}

// Create registers a new widget.
func (s *widgetService) Create(ctx context.Context, orgID uuid.UUID, params domain.WidgetParams) (*domain.Widget, error) {
	const op = "widget.create"

	if err := validateWidgetParams(&params); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, err.Error())
	}

	publicKey, err := generateWidgetKey()
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to generate widget key")
	}

	widget, err := s.widgets.CreateWidget(ctx, orgID, publicKey, params)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to create widget")
	}

	s.logger.Info("widget created",
		"widget_id", widget.ID,
		"organization_id", orgID,
		"public_key", widget.PublicKey,
	)

	return widget, nil
}

// Get retrieves a widget by ID.
func (s *widgetService) Get(ctx context.Context, id uuid.UUID) (*domain.Widget, error) {
	const op = "widget.get"

	widget, err := s.widgets.GetWidget(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "widget", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve widget")
	}
	return widget, nil
}

// GetByPublicKey retrieves a widget by its public embed key.
func (s *widgetService) GetByPublicKey(ctx context.Context, publicKey string) (*domain.Widget, error) {
	const op = "widget.get_by_public_key"

	widget, err := s.widgets.GetWidgetByPublicKey(ctx, publicKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "widget", publicKey)
		}
		return nil, domain.Internal(err, op, "Failed to retrieve widget")
	}
	return widget, nil
}

// List returns all widgets owned by an organization.
func (s *widgetService) List(ctx context.Context, orgID uuid.UUID) ([]domain.Widget, error) {
	const op = "widget.list"

	widgets, err := s.widgets.ListWidgets(ctx, orgID)
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to list widgets")
	}
	return widgets, nil
}

// Update modifies a widget's configuration.
func (s *widgetService) Update(ctx context.Context, id uuid.UUID, params domain.WidgetParams) (*domain.Widget, error) {
	const op = "widget.update"

	if err := validateWidgetParams(&params); err != nil {
		return nil, domain.Wrap(err, domain.EINVALID, op, err.Error())
	}

	widget, err := s.widgets.UpdateWidget(ctx, id, params)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "widget", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to update widget")
	}
	return widget, nil
}

// Delete removes a widget and its stored avatar.
func (s *widgetService) Delete(ctx context.Context, id uuid.UUID) error {
	const op = "widget.delete"

	widget, err := s.widgets.GetWidget(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.NotFound(op, "widget", id.String())
		}
		return domain.Internal(err, op, "Failed to retrieve widget")
	}

	if err := s.widgets.DeleteWidget(ctx, id); err != nil {
		return domain.Internal(err, op, "Failed to delete widget")
	}

	// Storage deletes are idempotent; a leftover object is only wasted
	// space so failures are logged, not surfaced.
	if widget.AvatarKey != "" {
		if err := s.store.Delete(ctx, widget.AvatarKey); err != nil {
			s.logger.Warn("failed to delete widget avatar",
				"op", op,
				"widget_id", id,
				"key", widget.AvatarKey,
				"error", err,
			)
		}
	}

	s.logger.Info("widget deleted", "widget_id", id)
	return nil
}

// UploadAvatar stores a new avatar image and thumbnail for a widget.
func (s *widgetService) UploadAvatar(ctx context.Context, id uuid.UUID, filename, contentType string, data io.Reader) (*domain.Widget, error) {
	const op = "widget.upload_avatar"

	widget, err := s.widgets.GetWidget(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NotFound(op, "widget", id.String())
		}
		return nil, domain.Internal(err, op, "Failed to retrieve widget")
	}

	detected := storage.DetectContentType(contentType, filename, nil)
	if !storage.IsAllowedImageType(detected) {
		return nil, domain.Invalid(op, "Avatar must be a JPEG, PNG, WebP, or GIF image")
	}

	// Buffer the upload so it can be both stored and thumbnailed.
	buf, err := io.ReadAll(io.LimitReader(data, MaxAvatarSize+1))
	if err != nil {
		return nil, domain.Internal(err, op, "Failed to read avatar upload")
	}
	if int64(len(buf)) > MaxAvatarSize {
		return nil, domain.Invalid(op, "Avatar must be at most 5MB")
	}

	key := storage.AvatarKey(id, filename)
	if err := s.store.Put(ctx, key, bytes.NewReader(buf), storage.PutOptions{
		ContentType: detected,
		MaxSize:     MaxAvatarSize,
		Overwrite:   true,
		Public:      true,
	}); err != nil {
		return nil, domain.Internal(err, op, "Failed to store avatar")
	}

	// A failed thumbnail leaves the full-size avatar usable; the widget
	// falls back to it.
	thumb, _, _, err := s.thumbnails.GenerateThumbnail(bytes.NewReader(buf), AvatarThumbnailSize, AvatarThumbnailSize)
	if err != nil {
		s.logger.Warn("failed to generate avatar thumbnail",
			"op", op,
			"widget_id", id,
			"error", err,
		)
	} else {
		thumbKey := storage.AvatarThumbnailKey(id, filename)
		if err := s.store.Put(ctx, thumbKey, bytes.NewReader(thumb), storage.PutOptions{
			ContentType: "image/jpeg",
			Overwrite:   true,
			Public:      true,
		}); err != nil {
			s.logger.Warn("failed to store avatar thumbnail",
				"op", op,
				"widget_id", id,
				"error", err,
			)
		}
	}

	oldKey := widget.AvatarKey
	if err := s.widgets.UpdateWidgetAvatar(ctx, id, key); err != nil {
		return nil, domain.Internal(err, op, "Failed to record avatar")
	}
	widget.AvatarKey = key

	if oldKey != "" && oldKey != key {
		if err := s.store.Delete(ctx, oldKey); err != nil {
			s.logger.Warn("failed to delete previous avatar",
				"op", op,
				"widget_id", id,
				"key", oldKey,
				"error", err,
			)
		}
	}

	s.logger.Info("widget avatar uploaded",
		"widget_id", id,
		"key", key,
		"size", len(buf),
	)

	return widget, nil
}

// AvatarURL returns a URL for the widget's avatar, or "" if unset.
func (s *widgetService) AvatarURL(ctx context.Context, widget *domain.Widget) (string, error) {
	const op = "widget.avatar_url"

	if widget.AvatarKey == "" {
		return "", nil
	}
	url, err := s.store.URL(ctx, widget.AvatarKey, 0)
	if err != nil {
		return "", domain.Internal(err, op, "Failed to build avatar URL")
	}
	return url, nil
}

// =============================================================================
// Helpers
// =============================================================================

// generateWidgetKey creates a new public embed key.
func generateWidgetKey() (string, error) {
	buf := make([]byte, WidgetKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return widgetKeyPrefix + hex.EncodeToString(buf), nil
}

func validateWidgetParams(params *domain.WidgetParams) error {
	params.Name = strings.TrimSpace(params.Name)
	params.Greeting = strings.TrimSpace(params.Greeting)

	if params.Name == "" {
		return errors.New("name is required")
	}
	if params.ThemeColor != "" && !strings.HasPrefix(params.ThemeColor, "#") {
		return errors.New("theme color must be a hex value")
	}
	return nil
}
