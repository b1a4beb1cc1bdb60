package errtrack

import "fmt"

// RecordNotFoundError indicates the error record was not found
type RecordNotFoundError struct {
	ID string
}

func (e *RecordNotFoundError) Error() string {
	return fmt.Sprintf("error record not found: %s", e.ID)
}

// InvalidRecordError indicates an ingested error is missing required fields
type InvalidRecordError struct {
	Field string
}

func (e *InvalidRecordError) Error() string {
	return fmt.Sprintf("invalid error record: %s is required", e.Field)
}
