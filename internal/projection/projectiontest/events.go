// Package projectiontest builds sync events for projection tests.
package projectiontest

import (
	"testing"
	"time"

	"github.com/PratikDhanave/salesview/internal/event"
)

// Epoch is the timestamp of version 1 events; version n is n seconds later.
var Epoch = time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)

func build(tb testing.TB, typ event.Type, aggType event.AggregateType, id string, version int64, payload any) event.Event {
	tb.Helper()
	evt, err := event.New(typ, aggType, id, version, payload, event.Metadata{Source: "test"})
	if err != nil {
		tb.Fatalf("build %s event: %v", typ, err)
	}
	evt.Timestamp = Epoch.Add(time.Duration(version) * time.Second)
	return evt
}

// User builds a user.synced event. The internal id is "u-" + externalID.
func User(tb testing.TB, externalID, superior string, version int64) event.Event {
	tb.Helper()
	return build(tb, event.TypeUserSynced, event.AggregateUser, externalID, version, event.UserSynced{
		ExternalID:         externalID,
		InternalID:         InternalID(externalID),
		Name:               externalID,
		Email:              externalID + "@example.com",
		SuperiorExternalID: superior,
	})
}

// Opportunity builds an opportunity.synced event.
func Opportunity(tb testing.TB, externalID, owner, stage string, amount float64, version int64) event.Event {
	tb.Helper()
	return build(tb, event.TypeOpportunitySynced, event.AggregateOpportunity, externalID, version, event.OpportunitySynced{
		ExternalID:        externalID,
		InternalID:        "o-" + externalID,
		Name:              "Deal " + externalID,
		Stage:             stage,
		Amount:            amount,
		OwnerExternalID:   owner,
		AccountExternalID: "acc-1",
		AccountName:       "Acme",
	})
}

// Activity builds an activity.synced event.
func Activity(tb testing.TB, externalID, opportunity string, version int64) event.Event {
	tb.Helper()
	return build(tb, event.TypeActivitySynced, event.AggregateActivity, externalID, version, event.ActivitySynced{
		ExternalID:            externalID,
		InternalID:            "a-" + externalID,
		Subject:               "Call about " + opportunity,
		Kind:                  "call",
		OccurredAt:            &Epoch,
		OpportunityExternalID: opportunity,
	})
}

// Deactivated builds a record.deactivated event.
func Deactivated(tb testing.TB, entity event.AggregateType, externalID string, version int64) event.Event {
	tb.Helper()
	return build(tb, event.TypeRecordDeactivated, entity, externalID, version, event.RecordDeactivated{
		EntityType: entity,
		ExternalID: externalID,
	})
}

// InternalID is the internal id User assigns to an external id.
func InternalID(externalID string) string { return "u-" + externalID }
