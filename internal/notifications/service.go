package notifications

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	"github.com/angelmondragon/freightlane-backend/pkg/pagination"
)

// Request describes a single in-app notification.
type Request struct {
	UserID  uuid.UUID
	Title   string
	Message string
	Type    enums.NotificationType
	Data    map[string]any
	// DedupeKey collapses repeats of the same logical notification, e.g. a
	// replayed transition. Empty means no deduplication.
	DedupeKey string
}

// Notifier is what the allocation and trip flows depend on. Notify never
// fails the caller; problems are logged.
type Notifier interface {
	Notify(ctx context.Context, req Request)
}

// Service defines notification list/read operations.
type Service interface {
	Notifier
	List(ctx context.Context, params ListParams) (*ListResult, error)
	MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error)
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

// ListParams configures pagination for notifications.
type ListParams struct {
	UserID     uuid.UUID
	Limit      int
	Cursor     string
	UnreadOnly bool
}

// ListResult wraps returned notifications and the cursor for the next page.
type ListResult struct {
	Items  []models.Notification `json:"items"`
	Cursor string                `json:"cursor"`
}

// NewService wires notifications dependencies.
func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "notifications repository required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	return &service{repo: repo, logg: logg, now: time.Now}, nil
}

func (s *service) Notify(ctx context.Context, req Request) {
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"notification_type": string(req.Type),
		"recipient_id":      req.UserID.String(),
	})
	if req.UserID == uuid.Nil || !req.Type.IsValid() {
		s.logg.Warn(logCtx, "notification dropped: recipient or type missing")
		return
	}

	var payload json.RawMessage
	if len(req.Data) > 0 {
		raw, err := json.Marshal(req.Data)
		if err != nil {
			s.logg.Error(logCtx, "marshal notification data", err)
			return
		}
		payload = raw
	}

	notification := &models.Notification{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Type:      req.Type,
		Title:     req.Title,
		Message:   req.Message,
		Data:      payload,
		CreatedAt: s.now().UTC(),
	}
	if req.DedupeKey != "" {
		key := req.DedupeKey
		notification.DedupeKey = &key
	}

	created, err := s.repo.Create(ctx, notification)
	if err != nil {
		s.logg.Error(logCtx, "create notification", err)
		return
	}
	if !created {
		s.logg.Debug(s.logg.WithField(logCtx, "dedupe_key", req.DedupeKey), "notification already delivered")
	}
}

func (s *service) List(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.UserID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}
	after, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}

	rows, err := s.repo.List(ctx, inboxFilter{
		UserID:     params.UserID,
		Limit:      params.Limit,
		After:      after,
		UnreadOnly: params.UnreadOnly,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list notifications")
	}
	items, next := pagination.Page(rows, params.Limit, func(n models.Notification) pagination.Cursor {
		return pagination.Cursor{CreatedAt: n.CreatedAt, ID: n.ID}
	})
	if items == nil {
		items = []models.Notification{}
	}
	return &ListResult{Items: items, Cursor: next}, nil
}

func (s *service) MarkRead(ctx context.Context, userID, notificationID uuid.UUID) error {
	switch {
	case userID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	case notificationID == uuid.Nil:
		return pkgerrors.New(pkgerrors.CodeValidation, "notification id required")
	}
	found, err := s.repo.MarkRead(ctx, userID, notificationID, s.now().UTC())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notification read")
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeNotFound, "notification not found")
	}
	return nil
}

func (s *service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int64, error) {
	if userID == uuid.Nil {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "user id required")
	}

	count, err := s.repo.MarkAllRead(ctx, userID, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark notifications read")
	}
	return count, nil
}
