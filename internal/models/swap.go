package models

// SwapRequest is a request to replace an active loaner's vehicle. Rows are
// written once here and handled by a separate approval workflow.
type SwapRequest struct {
	ID                   string     `json:"id,omitempty" bson:"_id,omitempty"`
	LoanerID             string     `json:"loaner_id" bson:"loaner_id"`
	ReplacementVIN       string     `json:"replacement_vin" bson:"replacement_vin"`
	ReplacementMakeModel *string    `json:"replacement_make_model,omitempty" bson:"replacement_make_model,omitempty"`
	ReplacementColor     *string    `json:"replacement_color,omitempty" bson:"replacement_color,omitempty"`
	ReplacementTrim      *string    `json:"replacement_trim,omitempty" bson:"replacement_trim,omitempty"`
	ReplacementMiles     *float64   `json:"replacement_miles,omitempty" bson:"replacement_miles,omitempty"`
	Status               Status     `json:"status" bson:"status"`
	RequestedBy          string     `json:"requested_by" bson:"requested_by"`
	CreatedAt            *Timestamp `json:"created_at,omitempty" bson:"created_at,omitempty"`
}
