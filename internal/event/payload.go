package event

import "time"

// UserSynced carries one identity record from the upstream system.
type UserSynced struct {
	ExternalID         string `json:"external_id"`
	InternalID         string `json:"internal_id"`
	Name               string `json:"name"`
	Email              string `json:"email,omitempty"`
	Title              string `json:"title,omitempty"`
	SuperiorExternalID string `json:"superior_external_id,omitempty"`
}

// OpportunitySynced carries one opportunity. The owner and account are
// referenced by external id only.
type OpportunitySynced struct {
	ExternalID        string     `json:"external_id"`
	InternalID        string     `json:"internal_id"`
	Name              string     `json:"name"`
	Stage             string     `json:"stage"`
	Amount            float64    `json:"amount"`
	CloseDate         *time.Time `json:"close_date,omitempty"`
	OwnerExternalID   string     `json:"owner_external_id"`
	AccountExternalID string     `json:"account_external_id,omitempty"`
	AccountName       string     `json:"account_name,omitempty"`
}

// ActivitySynced carries one activity logged against an opportunity.
type ActivitySynced struct {
	ExternalID            string     `json:"external_id"`
	InternalID            string     `json:"internal_id"`
	Subject               string     `json:"subject"`
	Kind                  string     `json:"kind,omitempty"`
	OccurredAt            *time.Time `json:"occurred_at,omitempty"`
	OpportunityExternalID string     `json:"opportunity_external_id"`
}

// RecordDeactivated is emitted by reconciliation when a record vanished upstream.
type RecordDeactivated struct {
	EntityType AggregateType `json:"entity_type"`
	ExternalID string        `json:"external_id"`
}
