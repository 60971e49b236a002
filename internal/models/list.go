package models

// ListResponse wraps collection results.
type ListResponse[T any] struct {
	SubjectID string `json:"subject_id"`
	Count     int    `json:"count"`
	Items     []T    `json:"items"`
}

// NewList builds a ListResponse; items is never encoded as null.
func NewList[T any](subject string, items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{SubjectID: subject, Count: len(items), Items: items}
}
