package db

import (
	"errors"
	"strings"

	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports whether err is a unique-constraint violation on
// any supported dialect.
func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	message := err.Error()

	// PostgreSQL 23505
	if strings.Contains(message, "duplicate key value violates unique constraint") {
		return true
	}

	// MySQL 1062
	if strings.Contains(message, "Error 1062") {
		return true
	}

	// SQLite 2067
	if strings.Contains(message, "UNIQUE constraint failed") {
		return true
	}

	return false
}

// IsSerializationFailure reports whether err is a transaction serialization
// conflict that is safe to retry.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}

	message := err.Error()

	// PostgreSQL 40001
	if strings.Contains(message, "SQLSTATE 40001") || strings.Contains(message, "could not serialize access") {
		return true
	}

	// PostgreSQL 40P01 deadlocks resolve the same way: retry.
	if strings.Contains(message, "deadlock detected") {
		return true
	}

	// MySQL 1213
	if strings.Contains(message, "Error 1213") {
		return true
	}

	// SQLite serializes writers; a busy database plays the same role.
	if strings.Contains(message, "database is locked") || strings.Contains(message, "SQLITE_BUSY") {
		return true
	}

	return false
}
