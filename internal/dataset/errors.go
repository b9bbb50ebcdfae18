package dataset

import "fmt"

// IngestionError reports a dataset that could not be loaded. Ingestion
// failures are fatal to an analysis run; there is nothing to analyze.
type IngestionError struct {
	// Dataset is the dataset name or path.
	Dataset string

	// Reason describes what was wrong with the input.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *IngestionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ingest %s: %s: %v", e.Dataset, e.Reason, e.Err)
	}
	return fmt.Sprintf("ingest %s: %s", e.Dataset, e.Reason)
}

func (e *IngestionError) Unwrap() error {
	return e.Err
}

func ingestErr(name, reason string, err error) *IngestionError {
	return &IngestionError{Dataset: name, Reason: reason, Err: err}
}
