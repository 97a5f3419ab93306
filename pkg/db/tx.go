package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrSerializationConflict is returned when a serializable transaction keeps
// colliding after all retries.
var ErrSerializationConflict = errors.New("serialization_conflict")

const (
	serializableMaxAttempts = 3
	serializableBackoffBase = 25 * time.Millisecond
)

// RunSerializable executes fn inside a SERIALIZABLE transaction, retrying a
// bounded number of times on serialization failures. SQLite runs serializable
// by default and its driver rejects explicit isolation options, so the
// options are only passed on server dialects.
func RunSerializable(ctx context.Context, gormDB *gorm.DB, fn func(tx *gorm.DB) error) error {
	var opts *sql.TxOptions
	if gormDB.Dialector.Name() != "sqlite" {
		opts = &sql.TxOptions{Isolation: sql.LevelSerializable}
	}

	var err error
	for attempt := 0; attempt < serializableMaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := serializableBackoffBase << (attempt - 1)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		if opts != nil {
			err = gormDB.WithContext(ctx).Transaction(fn, opts)
		} else {
			err = gormDB.WithContext(ctx).Transaction(fn)
		}
		if err == nil {
			return nil
		}
		if !IsSerializationFailure(err) {
			return err
		}
	}

	return errors.Join(ErrSerializationConflict, err)
}
