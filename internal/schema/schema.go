// Package schema declares the source and helper-column contracts for the two
// record types the pipeline handles. Contracts are built by explicit
// constructors and passed to the stages that need them; there is no
// process-global registry.
package schema

import "fmt"

// RecordType selects the rule set and the required-column schema.
type RecordType string

const (
	Subscription RecordType = "subscription"
	Appointment  RecordType = "appointment"
)

// Valid reports whether t is one of the known record types.
func (t RecordType) Valid() bool {
	return t == Subscription || t == Appointment
}

// Parse converts a string (e.g. a CLI flag) into a RecordType.
func Parse(s string) (RecordType, error) {
	t := RecordType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown record type %q (want %q or %q)", s, Subscription, Appointment)
	}
	return t, nil
}

// Field describes one column of a contract.
type Field struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"` // "int" | "float" | "text" | "bool" | "date" | "timeofday"
	Required bool     `json:"required,omitempty"`
	Enum     []string `json:"enum,omitempty"`
	Layout   string   `json:"layout,omitempty"` // date layout override
}

// Contract is an ordered set of fields describing a table shape.
type Contract struct {
	Name   string  `json:"name"`
	Key    string  `json:"key"` // identifier column, also the upsert key
	Fields []Field `json:"fields"`
}

// Columns returns the field names in declaration order.
func (c Contract) Columns() []string {
	cols := make([]string, len(c.Fields))
	for i, f := range c.Fields {
		cols[i] = f.Name
	}
	return cols
}

// FieldByName returns the field with the given name, if declared.
func (c Contract) FieldByName(name string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// SourceContract returns the raw-input contract for a record type. Required
// fields are the columns the rule set reads; optional fields may be absent
// per-row (rules yield null-with-reason instead).
func SourceContract(t RecordType) (Contract, error) {
	switch t {
	case Subscription:
		return Contract{
			Name: "t_subscription",
			Key:  "subscription_id",
			Fields: []Field{
				{Name: "subscription_id", Type: "int", Required: true},
				{Name: "status", Type: "int", Required: true},
				{Name: "preferred_days", Type: "int"},
				{Name: "preferred_start", Type: "timeofday"},
				{Name: "preferred_end", Type: "timeofday"},
				{Name: "start_date", Type: "date"},
				{Name: "adj_end_date", Type: "date"},
				{Name: "contract_value", Type: "float"},
				{Name: "term_months", Type: "int"},
				{Name: "client_id", Type: "text"},
				{Name: "crm_source", Type: "text"},
				{Name: "record_created_at", Type: "date"},
			},
		}, nil
	case Appointment:
		return Contract{
			Name: "t_appointment",
			Key:  "appointment_id",
			Fields: []Field{
				{Name: "appointment_id", Type: "int", Required: true},
				{Name: "master_account_id", Type: "int", Required: true},
				{Name: "appointment_date", Type: "date", Required: true},
				{Name: "status", Type: "int", Required: true},
				{Name: "duration", Type: "float", Required: true},
				{Name: "crm_minutes", Type: "float", Required: true},
				{Name: "value", Type: "float", Required: true},
				{Name: "average_minutes", Type: "float", Required: true},
				{Name: "time_in", Type: "date"},
				{Name: "time_out", Type: "date"},
				{Name: "client_id", Type: "text"},
				{Name: "crm_source", Type: "text"},
				{Name: "record_created_at", Type: "date"},
			},
		}, nil
	default:
		return Contract{}, fmt.Errorf("no source contract for record type %q", t)
	}
}

// HelperContract returns the output contract for a record type: the identifier
// plus every helper column the rule set produces, in load order.
func HelperContract(t RecordType) (Contract, error) {
	switch t {
	case Subscription:
		return Contract{
			Name: "t_subscription_helper",
			Key:  "subscription_id",
			Fields: []Field{
				{Name: "subscription_id", Type: "int", Required: true},
				{Name: "constrained_time", Type: "bool"},
				{Name: "is_active_flag", Type: "bool"},
				{Name: "days_active", Type: "int"},
				{Name: "days_to_end", Type: "int"},
				{Name: "monthly_value", Type: "float"},
				{Name: "client_id", Type: "text"},
				{Name: "crm_source", Type: "text"},
				{Name: "record_created_at", Type: "date"},
			},
		}, nil
	case Appointment:
		return Contract{
			Name: "t_appointment_helper",
			Key:  "appointment_id",
			Fields: []Field{
				{Name: "appointment_id", Type: "int", Required: true},
				{Name: "is_error", Type: "bool"},
				{Name: "minutes_outlier_out", Type: "float"},
				{Name: "fill_in_errors", Type: "float"},
				{Name: "multivisit", Type: "bool"},
				{Name: "multivisit_count", Type: "int"},
				{Name: "multivisit_duration", Type: "float"},
				{Name: "multivisit_crm_time", Type: "float"},
				{Name: "multivisit_adjusted_minutes", Type: "float"},
				{Name: "drive_time", Type: "float"},
				{Name: "total_time", Type: "float"},
				{Name: "client_id", Type: "text"},
				{Name: "crm_source", Type: "text"},
				{Name: "record_created_at", Type: "date"},
			},
		}, nil
	default:
		return Contract{}, fmt.Errorf("no helper contract for record type %q", t)
	}
}
