package view

import "time"

// Attribute names used in store filters.
const (
	AttrSuperior    = "superior_external_id"
	AttrOwner       = "owner_external_id"
	AttrOpportunity = "opportunity_external_id"
)

// PersonRef is an embedded snapshot of an identity record.
type PersonRef struct {
	ExternalID string `json:"external_id"`
	InternalID string `json:"internal_id"`
	Name       string `json:"name"`
	Email      string `json:"email,omitempty"`
}

// UserProfile is the identity/hierarchy view of one user.
type UserProfile struct {
	Meta
	Name               string `json:"name"`
	Email              string `json:"email,omitempty"`
	Title              string `json:"title,omitempty"`
	SuperiorExternalID string `json:"superior_external_id,omitempty"`
	// Superior is nil while SuperiorExternalID points at a user not yet synced.
	Superior     *PersonRef  `json:"superior,omitempty"`
	Subordinates []PersonRef `json:"subordinates"`
}

func (u UserProfile) Attrs() map[string]string {
	return map[string]string{AttrSuperior: u.SuperiorExternalID}
}

// Ref returns the embeddable snapshot of this profile.
func (u UserProfile) Ref() PersonRef {
	return PersonRef{ExternalID: u.ExternalID, InternalID: u.InternalID, Name: u.Name, Email: u.Email}
}

// AccessGrant is the computed visibility closure of one subject: the set of
// subjects that may read anything this subject owns.
type AccessGrant struct {
	Meta
	SuperiorExternalID string `json:"superior_external_id,omitempty"`
	// Ancestors holds the internal ids of the superior chain, nearest first.
	Ancestors []string `json:"ancestors"`
	// CycleError is set when the superior chain loops; VisibleTo then keeps
	// its last good value.
	CycleError string `json:"cycle_error,omitempty"`
}

func (g AccessGrant) Attrs() map[string]string {
	return map[string]string{AttrSuperior: g.SuperiorExternalID}
}

// AccountRef is an embedded snapshot of the account an opportunity belongs to.
type AccountRef struct {
	ExternalID string `json:"external_id,omitempty"`
	Name       string `json:"name,omitempty"`
}

// Opportunity is the denormalized opportunity view.
type Opportunity struct {
	Meta
	Name            string     `json:"name"`
	Stage           string     `json:"stage"`
	Amount          float64    `json:"amount"`
	CloseDate       *time.Time `json:"close_date,omitempty"`
	OwnerExternalID string     `json:"owner_external_id"`
	Owner           *PersonRef `json:"owner,omitempty"`
	Account         AccountRef `json:"account"`
}

func (o Opportunity) Attrs() map[string]string {
	return map[string]string{AttrOwner: o.OwnerExternalID}
}

// OpportunityRef is the parent summary embedded in activities.
type OpportunityRef struct {
	ExternalID  string `json:"external_id"`
	Name        string `json:"name"`
	Stage       string `json:"stage"`
	AccountName string `json:"account_name,omitempty"`
}

// Ref returns the embeddable summary of this opportunity.
func (o Opportunity) Ref() OpportunityRef {
	return OpportunityRef{ExternalID: o.ExternalID, Name: o.Name, Stage: o.Stage, AccountName: o.Account.Name}
}

// Activity is the denormalized activity view. Its visible-to set is a copy
// of its parent opportunity's.
type Activity struct {
	Meta
	Subject               string         `json:"subject"`
	Kind                  string         `json:"kind,omitempty"`
	OccurredAt            *time.Time     `json:"occurred_at,omitempty"`
	OpportunityExternalID string         `json:"opportunity_external_id"`
	Opportunity           OpportunityRef `json:"opportunity"`
}

func (a Activity) Attrs() map[string]string {
	return map[string]string{AttrOpportunity: a.OpportunityExternalID}
}
