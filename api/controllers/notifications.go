package controllers

import (
	"net/http"

	"github.com/angelmondragon/freightlane-backend/api/middleware"
	"github.com/angelmondragon/freightlane-backend/api/validators"
	"github.com/angelmondragon/freightlane-backend/internal/notifications"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/logger"
)

var errInboxUnavailable = pkgerrors.New(pkgerrors.CodeDependency, "notifications service unavailable")

// ListNotifications pages the caller's inbox, newest first. ?unreadOnly=true
// hides read items.
func ListNotifications(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return authed(logg, func(r *http.Request, p middleware.Principal) (any, error) {
		if svc == nil {
			return nil, errInboxUnavailable
		}
		page, err := validators.ParsePage(r)
		if err != nil {
			return nil, err
		}
		unreadOnly, err := validators.ParseQueryBool(r, "unreadOnly")
		if err != nil {
			return nil, err
		}
		return svc.List(r.Context(), notifications.ListParams{
			UserID:     p.UserID,
			Limit:      page.Limit,
			Cursor:     page.Cursor,
			UnreadOnly: unreadOnly,
		})
	})
}

func MarkNotificationRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return authed(logg, func(r *http.Request, p middleware.Principal) (any, error) {
		if svc == nil {
			return nil, errInboxUnavailable
		}
		id, err := validators.ParseUUIDParam(r, "notificationId")
		if err != nil {
			return nil, err
		}
		if err := svc.MarkRead(r.Context(), p.UserID, id); err != nil {
			return nil, err
		}
		return map[string]bool{"read": true}, nil
	})
}

func MarkAllNotificationsRead(svc notifications.Service, logg *logger.Logger) http.HandlerFunc {
	return authed(logg, func(r *http.Request, p middleware.Principal) (any, error) {
		if svc == nil {
			return nil, errInboxUnavailable
		}
		n, err := svc.MarkAllRead(r.Context(), p.UserID)
		if err != nil {
			return nil, err
		}
		return map[string]int64{"updated": n}, nil
	})
}
