package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"

	pkgerrors "github.com/angelmondragon/freightlane-backend/pkg/errors"
)

const (
	sqlStateUniqueViolation      = "23505"
	sqlStateSerializationFailure = "40001"
	sqlStateDeadlockDetected     = "40P01"
	sqlStateLockNotAvailable     = "55P03"
	sqlStateQueryCanceled        = "57014"
)

// IsUniqueViolation reports whether the provided error references a unique
// violation. When constraintName is provided, the constraint must match too.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) && constraintName == "" {
		return true
	}
	if code, constraint := pkgerrors.SQLState(err); code == sqlStateUniqueViolation {
		return constraintName == "" || constraint == constraintName
	}
	msg := err.Error()
	if constraintName != "" {
		return strings.Contains(msg, constraintName)
	}
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsContention reports lock, deadlock and serialization failures that are safe
// to retry as a whole transaction.
func IsContention(err error) bool {
	if err == nil {
		return false
	}
	if pkgerrors.HasCode(err, pkgerrors.CodeContention) {
		return true
	}
	switch code, _ := pkgerrors.SQLState(err); code {
	case sqlStateSerializationFailure, sqlStateDeadlockDetected, sqlStateLockNotAvailable, sqlStateQueryCanceled:
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}
