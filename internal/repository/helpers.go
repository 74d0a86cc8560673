package repository

import (
	"errors"

	"github.com/lib/pq"
)

// uniqueViolation is the Postgres error code for unique constraint violations
const uniqueViolation = "23505"

// foreignKeyViolation is the Postgres error code for FK constraint violations
const foreignKeyViolation = "23503"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation
}
