package validators

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/pagination"
)

func badParam(field, msg string, extra map[string]any) error {
	details := map[string]any{"field": field}
	for k, v := range extra {
		details[k] = v
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}

func queryValue(r *http.Request, key string) string {
	return strings.TrimSpace(r.URL.Query().Get(key))
}

// ParseQueryInt reads an optional integer bounded to [min, max].
func ParseQueryInt(r *http.Request, key string, defaultVal, min, max int) (int, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badParam(key, "query parameter must be numeric", nil)
	}
	if n < min || n > max {
		return 0, badParam(key, "query parameter out of range", map[string]any{"min": min, "max": max})
	}
	return n, nil
}

// ParseQueryBool reads an optional boolean flag such as ?unreadOnly=true.
func ParseQueryBool(r *http.Request, key string) (bool, error) {
	raw := queryValue(r, key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, badParam(key, "query parameter must be true or false", nil)
	}
	return b, nil
}

// ParsePage reads ?limit= and ?cursor= for keyset-paged lists.
func ParsePage(r *http.Request) (pagination.Params, error) {
	limit, err := ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
	if err != nil {
		return pagination.Params{}, err
	}
	return pagination.Params{Limit: limit, Cursor: queryValue(r, "cursor")}, nil
}

// ParseUUIDParam reads a chi URL parameter as a UUID.
func ParseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, key)))
	if err != nil {
		return uuid.Nil, badParam(key, "path parameter must be a UUID", nil)
	}
	return id, nil
}
