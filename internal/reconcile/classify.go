// Package reconcile classifies canonical records and splits a batch against
// the persisted submitted and staged id sets.
package reconcile

import (
	"strings"

	"github.com/sells-group/screening-sync/internal/model"
)

// Rules parameterizes the completeness check.
type Rules struct {
	// LocationAccounts are account codes whose records require a location code.
	LocationAccounts map[string]bool
}

// NewRules builds Rules from a list of location-bearing account codes.
func NewRules(locationAccounts []string) Rules {
	r := Rules{LocationAccounts: make(map[string]bool, len(locationAccounts))}
	for _, c := range locationAccounts {
		r.LocationAccounts[strings.TrimSpace(c)] = true
	}
	return r
}

// Classification fields are never themselves required.
var unchecked = map[model.Field]bool{
	model.FieldReason:           true,
	model.FieldResult:           true,
	model.FieldRegulationStatus: true,
}

// Missing returns the required fields that are blank, in schema order.
func Missing(rec *model.Record, rules Rules) []model.Field {
	var missing []model.Field
	for _, f := range model.Fields {
		if unchecked[f] || exempt(rec, f, rules) {
			continue
		}
		if strings.TrimSpace(rec.Value(f)) == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// IsComplete reports whether every conditionally required field is populated.
// It depends only on the record's field values.
func IsComplete(rec *model.Record, rules Rules) bool {
	return len(Missing(rec, rules)) == 0
}

func exempt(rec *model.Record, f model.Field, rules Rules) bool {
	switch f {
	case model.FieldLocationCode:
		return !rules.LocationAccounts[strings.TrimSpace(rec.CompanyCode)]
	case model.FieldLaboratory:
		return model.IsPointOfCare(rec.TestType) || model.IsBreathAlcohol(rec.TestType)
	case model.FieldPositiveAnalytes:
		return !rec.IsPositive()
	case model.FieldRegulatoryAgency:
		return strings.TrimSpace(rec.RegulationStatus) != model.RegulationDOT
	case model.FieldMeasuredValue:
		return !model.IsBreathAlcohol(rec.TestType)
	}
	return false
}
