package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/pagination"
)

type locationBody struct {
	Lat   float64 `json:"lat" validate:"latitude"`
	Lng   float64 `json:"lng" validate:"longitude"`
	Slots int     `json:"slots" validate:"required,min=1"`
}

func TestDecodeJSONBodyReportsFieldErrors(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"lat":91,"lng":10,"slots":0}`))
	var body locationBody
	err := DecodeJSONBody(req, &body)
	require.Error(t, err)

	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, pkgerrors.CodeValidation, typed.Code())
	details, ok := typed.Details().(map[string]string)
	require.True(t, ok)
	require.Equal(t, "must be a latitude between -90 and 90", details["lat"])
	require.Equal(t, "is required", details["slots"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"lat":1,"lng":1,"slots":1,"extra":true}`))
	var body locationBody
	require.True(t, pkgerrors.HasCode(DecodeJSONBody(req, &body), pkgerrors.CodeValidation))
}

func TestParseQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=20", nil)
	v, err := ParseQueryInt(req, "limit", 10, 1, 50)
	require.NoError(t, err)
	require.Equal(t, 20, v)

	req = httptest.NewRequest(http.MethodGet, "/?limit=500", nil)
	_, err = ParseQueryInt(req, "limit", 10, 1, 50)
	require.Error(t, err)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	v, err = ParseQueryInt(req, "limit", 10, 1, 50)
	require.NoError(t, err)
	require.Equal(t, 10, v)
}

func TestParseUUIDParam(t *testing.T) {
	rc := chi.NewRouteContext()
	rc.URLParams.Add("assignmentId", "not-a-uuid")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	_, err := ParseUUIDParam(req, "assignmentId")
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestSanitizeString(t *testing.T) {
	require.Equal(t, "dock 4", SanitizeString("  dock 4 \x00 ", 0))
	require.Equal(t, "gate\tB\nleft", SanitizeString("gate\tB\nleft\x07", 0))
	// Cuts by rune, never inside a multi-byte character.
	require.Equal(t, "São", SanitizeString("São Paulo", 3))
	require.Equal(t, "", SanitizeString("   ", 10))
}

func TestDecodeJSONBodyRejectsTrailingAndOversizedBodies(t *testing.T) {
	var body locationBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"lat":1,"lng":1,"slots":1}{"lat":2}`))
	require.ErrorContains(t, DecodeJSONBody(req, &body), "single JSON object")

	huge := `{"lat":1,"lng":1,"slots":1,"pad":"` + strings.Repeat("x", MaxBodyBytes) + `"}`
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(huge))
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	require.ErrorContains(t, err, "too large")
}

func TestTripStatusTag(t *testing.T) {
	type statusBody struct {
		Status string `json:"status" validate:"required,trip_status"`
	}
	var body statusBody
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"in_transit"}`))
	require.NoError(t, DecodeJSONBody(req, &body))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"status":"teleported"}`))
	err := DecodeJSONBody(req, &body)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	require.Equal(t, map[string]string{"status": "must be a known trip status"}, typed.Details())
}

func TestParsePageAndQueryBool(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?limit=5&cursor=%20abc%20&unreadOnly=1", nil)
	page, err := ParsePage(req)
	require.NoError(t, err)
	require.Equal(t, 5, page.Limit)
	require.Equal(t, "abc", page.Cursor)

	unread, err := ParseQueryBool(req, "unreadOnly")
	require.NoError(t, err)
	require.True(t, unread)

	page, err = ParsePage(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.Equal(t, pagination.DefaultLimit, page.Limit)

	_, err = ParseQueryBool(httptest.NewRequest(http.MethodGet, "/?unreadOnly=maybe", nil), "unreadOnly")
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}
