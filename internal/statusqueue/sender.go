package statusqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
	"github.com/angelmondragon/freightlane-backend/pkg/types"
)

// HTTPSender posts transitions to the freightlane API.
type HTTPSender struct {
	baseURL string
	token   string
	client  *http.Client
}

var _ Sender = (*HTTPSender)(nil)

// NewHTTPSender builds a sender against baseURL authenticated with a bearer token.
func NewHTTPSender(baseURL, token string, client *http.Client) (*HTTPSender, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid api base url %q", baseURL)
	}
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPSender{baseURL: u.String(), token: token, client: client}, nil
}

type transitionBody struct {
	Status    string   `json:"status"`
	RequestID string   `json:"requestId"`
	Notes     *string  `json:"notes,omitempty"`
	Lat       *float64 `json:"lat,omitempty"`
	Lng       *float64 `json:"lng,omitempty"`
}

func (s *HTTPSender) Send(ctx context.Context, requestID string, t Transition) (SendResult, error) {
	body, err := json.Marshal(transitionBody{
		Status:    string(t.Target),
		RequestID: requestID,
		Notes:     t.Notes,
		Lat:       t.Lat,
		Lng:       t.Lng,
	})
	if err != nil {
		return SendResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode transition")
	}

	endpoint := fmt.Sprintf("%s/api/v1/assignments/%s/transitions", s.baseURL, t.AssignmentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return SendResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build transition request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", requestID)
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return SendResult{}, pkgerrors.Wrap(pkgerrors.CodeUnreachable, err, "send transition")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SendResult{}, pkgerrors.Wrap(pkgerrors.CodeUnreachable, err, "read transition response")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var envelope struct {
			Data SendResult `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return SendResult{}, pkgerrors.Wrap(pkgerrors.CodeUnreachable, err, "decode transition response")
		}
		return envelope.Data, nil
	}
	return SendResult{}, decodeError(resp.StatusCode, raw)
}

// decodeError turns an API error envelope back into a typed error. Server
// side failures and throttling are reported as unreachable so they get queued.
func decodeError(status int, raw []byte) error {
	var envelope types.ErrorEnvelope
	_ = json.Unmarshal(raw, &envelope)
	apiErr := envelope.Error

	if apiErr.Retryable || status >= 500 || status == http.StatusTooManyRequests || status == http.StatusRequestTimeout {
		return pkgerrors.New(pkgerrors.CodeUnreachable, fmt.Sprintf("api returned %d", status)).
			WithDetails(map[string]any{"status": status, "code": apiErr.Code})
	}

	code := pkgerrors.Code(apiErr.Code)
	if code == "" {
		code = codeForStatus(status)
	}
	msg := apiErr.Message
	if msg == "" {
		msg = http.StatusText(status)
	}
	out := pkgerrors.New(code, msg)
	if apiErr.Details != nil {
		out = out.WithDetails(apiErr.Details)
	}
	return out
}

func codeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized:
		return pkgerrors.CodeUnauthorized
	case http.StatusForbidden:
		return pkgerrors.CodeForbidden
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusConflict:
		return pkgerrors.CodeConflict
	case http.StatusUnprocessableEntity:
		return pkgerrors.CodeInvalidTransition
	default:
		return pkgerrors.CodeValidation
	}
}
