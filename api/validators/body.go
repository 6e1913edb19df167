package validators

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/freightlane-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
)

// MaxBodyBytes caps JSON request bodies; the largest legitimate body is an
// allocation with its driver list.
const MaxBodyBytes = 64 << 10

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("trip_status", func(fl validator.FieldLevel) bool {
		return enums.TripStatus(strings.TrimSpace(fl.Field().String())).IsValid()
	})
	return v
}

// jsonFieldName makes validation details use the wire name of a field.
func jsonFieldName(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "", "-":
		return f.Name
	}
	return name
}

// DecodeJSONBody reads exactly one JSON object into dest and runs its
// validate tags. Every failure is a CodeValidation error.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	defer io.Copy(io.Discard, body) //nolint:errcheck

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return decodeFailure(err)
	}
	if dec.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must hold a single JSON object")
	}
	if err := validate.Struct(dest); err != nil {
		return fieldFailures(err)
	}
	return nil
}

func decodeFailure(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body too large").
			WithDetails(map[string]any{"limitBytes": tooLarge.Limit})
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
		WithDetails(map[string]any{"error": err.Error()})
}

func fieldFailures(err error) *pkgerrors.Error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		details[fe.Field()] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

// tagMessages holds the client-facing text per validate tag. A trailing space
// means the tag parameter is appended.
var tagMessages = map[string]string{
	"required":    "is required",
	"min":         "must be at least ",
	"max":         "must be at most ",
	"lt":          "must be less than ",
	"latitude":    "must be a latitude between -90 and 90",
	"longitude":   "must be a longitude between -180 and 180",
	"uuid":        "must be a UUID",
	"uuid4":       "must be a UUID",
	"trip_status": "must be a known trip status",
	"dive":        "contains an invalid entry",
}

func describe(fe validator.FieldError) string {
	msg, ok := tagMessages[fe.Tag()]
	if !ok {
		return "is invalid"
	}
	if strings.HasSuffix(msg, " ") {
		return msg + fe.Param()
	}
	return msg
}
