package models

// AuditEventType names an append-only audit entry.
type AuditEventType string

const (
	AuditInfleetMatched AuditEventType = "infleet_matched"
	AuditDefleetMatched AuditEventType = "defleet_matched"
)

// ActorDealerwareWebhook is the actor recorded for ingested vendor events.
const ActorDealerwareWebhook = "dealerware_webhook"

// AuditEvent is a write-once record in loaner_audit.
type AuditEvent struct {
	ID              string         `json:"id,omitempty" bson:"_id,omitempty"`
	Event           AuditEventType `json:"event" bson:"event"`
	LoanerRequestID string         `json:"loaner_request_id" bson:"loaner_request_id"`
	Actor           string         `json:"actor" bson:"actor"`
	Metadata        map[string]any `json:"metadata" bson:"metadata"`
	CreatedAt       *Timestamp     `json:"created_at,omitempty" bson:"created_at,omitempty"`
}
