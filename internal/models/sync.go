package models

import "encoding/json"

// BatchRequest is the POST /sync/:entity payload.
// external_ids is optional; when omitted the ids of records are the full set.
type BatchRequest struct {
	Records       []json.RawMessage `json:"records"`
	ExternalIDs   []string          `json:"external_ids,omitempty"`
	SkipReconcile bool              `json:"skip_reconcile,omitempty"`
}

// CycleRequest is the POST /sync payload. Batches are processed users first,
// then opportunities, then activities.
type CycleRequest struct {
	Users         *BatchRequest `json:"users,omitempty"`
	Opportunities *BatchRequest `json:"opportunities,omitempty"`
	Activities    *BatchRequest `json:"activities,omitempty"`
}

// Empty reports whether the request carries no batch at all.
func (r CycleRequest) Empty() bool {
	return r.Users == nil && r.Opportunities == nil && r.Activities == nil
}
