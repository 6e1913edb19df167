package notifications

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/freightlane-backend/internal/testdb"
	"github.com/angelmondragon/freightlane-backend/pkg/db/models"
	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
	paginationpkg "github.com/angelmondragon/freightlane-backend/pkg/pagination"
)

type fakeRepository struct {
	createFn      func(ctx context.Context, notification *models.Notification) (bool, error)
	listFn        func(ctx context.Context, filter inboxFilter) ([]models.Notification, error)
	markReadFn    func(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (bool, error)
	markAllReadFn func(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error)
}

func (f *fakeRepository) WithTx(tx *gorm.DB) Repository {
	return f
}

func (f *fakeRepository) Create(ctx context.Context, notification *models.Notification) (bool, error) {
	if f.createFn != nil {
		return f.createFn(ctx, notification)
	}
	return true, nil
}

func (f *fakeRepository) List(ctx context.Context, filter inboxFilter) ([]models.Notification, error) {
	if f.listFn != nil {
		return f.listFn(ctx, filter)
	}
	return nil, nil
}

func (f *fakeRepository) MarkRead(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (bool, error) {
	if f.markReadFn != nil {
		return f.markReadFn(ctx, userID, notificationID, now)
	}
	return true, nil
}

func (f *fakeRepository) MarkAllRead(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
	if f.markAllReadFn != nil {
		return f.markAllReadFn(ctx, userID, now)
	}
	return 0, nil
}

func (f *fakeRepository) DeleteOlderThan(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	return 0, nil
}

func newServiceWithRepo(repo Repository) Service {
	svc, _ := NewService(repo, logger.Nop())
	return svc
}

func TestService_ListNotifications(t *testing.T) {
	first := models.Notification{ID: uuid.New(), CreatedAt: time.Now().Add(-time.Hour)}
	second := models.Notification{ID: uuid.New(), CreatedAt: time.Now().Add(-2 * time.Hour)}

	repo := &fakeRepository{
		listFn: func(ctx context.Context, filter inboxFilter) ([]models.Notification, error) {
			if filter.Limit != 1 {
				t.Fatalf("unexpected limit %d", filter.Limit)
			}
			return []models.Notification{first, second}, nil
		},
	}

	svc := newServiceWithRepo(repo)
	result, err := svc.List(context.Background(), ListParams{UserID: uuid.New(), Limit: 1})
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(result.Items) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(result.Items))
	}
	decoded, err := paginationpkg.ParseCursor(result.Cursor)
	if err != nil {
		t.Fatalf("invalid cursor %q: %v", result.Cursor, err)
	}
	if decoded.ID != first.ID {
		t.Fatalf("expected cursor id %s got %s", first.ID, decoded.ID)
	}
}

func TestService_ListNotificationsInvalidCursor(t *testing.T) {
	svc := newServiceWithRepo(&fakeRepository{})
	_, err := svc.List(context.Background(), ListParams{UserID: uuid.New(), Cursor: "bad"})
	if err == nil {
		t.Fatal("expected error for invalid cursor")
	}
	if code := pkgerrors.As(err).Code(); code != pkgerrors.CodeValidation {
		t.Fatalf("expected validation error, got %s", code)
	}
}

func TestService_MarkReadNotFound(t *testing.T) {
	repo := &fakeRepository{
		markReadFn: func(ctx context.Context, userID, notificationID uuid.UUID, now time.Time) (bool, error) {
			return false, nil
		},
	}
	svc := newServiceWithRepo(repo)
	err := svc.MarkRead(context.Background(), uuid.New(), uuid.New())
	if !pkgerrors.HasCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestService_MarkAllReadError(t *testing.T) {
	repo := &fakeRepository{
		markAllReadFn: func(ctx context.Context, userID uuid.UUID, now time.Time) (int64, error) {
			return 0, errors.New("boom")
		},
	}
	svc := newServiceWithRepo(repo)
	if _, err := svc.MarkAllRead(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected error")
	}
}

func TestService_NotifySwallowsRepositoryErrors(t *testing.T) {
	calls := 0
	repo := &fakeRepository{
		createFn: func(ctx context.Context, notification *models.Notification) (bool, error) {
			calls++
			return false, errors.New("db down")
		},
	}
	svc := newServiceWithRepo(repo)
	svc.Notify(context.Background(), Request{
		UserID:  uuid.New(),
		Type:    enums.NotificationTypeTripStatus,
		Title:   "Trip update",
		Message: "loading",
	})
	require.Equal(t, 1, calls)

	svc.Notify(context.Background(), Request{Type: enums.NotificationTypeTripStatus})
	require.Equal(t, 1, calls, "notifications without a recipient are dropped before the repository")
}

func TestNotifyDedupesByKey(t *testing.T) {
	db := testdb.Open(t)
	svc := newServiceWithRepo(NewRepository(db))
	userID := uuid.New()

	req := Request{
		UserID:    userID,
		Type:      enums.NotificationTypeDeliveryConfirmation,
		Title:     "Confirm delivery",
		Message:   "confirm within 72h",
		Data:      map[string]any{"assignmentId": uuid.NewString()},
		DedupeKey: "trip:abc:delivered_pending_confirmation",
	}
	svc.Notify(context.Background(), req)
	svc.Notify(context.Background(), req)

	var count int64
	require.NoError(t, db.Model(&models.Notification{}).Where("user_id = ?", userID).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestRepositoryListPagesAndMarksRead(t *testing.T) {
	db := testdb.Open(t)
	repo := NewRepository(db)
	svc := newServiceWithRepo(repo)
	userID := uuid.New()
	base := testdb.Now().Add(-time.Hour)

	for i := 0; i < 3; i++ {
		_, err := repo.Create(context.Background(), &models.Notification{
			ID:        uuid.New(),
			UserID:    userID,
			Type:      enums.NotificationTypeTripStatus,
			Title:     "Trip update",
			Message:   "status changed",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}

	page, err := svc.List(context.Background(), ListParams{UserID: userID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	require.NotEmpty(t, page.Cursor)
	require.True(t, page.Items[0].CreatedAt.After(page.Items[1].CreatedAt))

	rest, err := svc.List(context.Background(), ListParams{UserID: userID, Limit: 2, Cursor: page.Cursor})
	require.NoError(t, err)
	require.Len(t, rest.Items, 1)
	require.Empty(t, rest.Cursor)

	require.NoError(t, svc.MarkRead(context.Background(), userID, rest.Items[0].ID))
	require.NoError(t, svc.MarkRead(context.Background(), userID, rest.Items[0].ID), "marking twice is a no-op")
	require.True(t, pkgerrors.HasCode(svc.MarkRead(context.Background(), uuid.New(), rest.Items[0].ID), pkgerrors.CodeNotFound))
	unread, err := svc.List(context.Background(), ListParams{UserID: userID, UnreadOnly: true})
	require.NoError(t, err)
	require.Len(t, unread.Items, 2)

	deleted, err := repo.DeleteOlderThan(context.Background(), nil, base.Add(90*time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)
}
