package validate

import "errors"

var (
	ErrAmbiguousTimezone    = errors.New("timestamp has no resolvable timezone")
	ErrSchemaViolation      = errors.New("record violates schema")
	ErrMissingRateReference = errors.New("asset pair has no rate reference in window")
)
