// Package model defines the canonical drug-test record and the persisted entities around it.
package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Regulation statuses.
const (
	RegulationDOT    = "DOT"
	RegulationNonDOT = "Non-DOT"
)

// Canonical result values.
const (
	ResultNegative       = "Negative"
	ResultNegativeDilute = "Negative-Dilute"
	ResultPositive       = "Positive"
	ResultPositiveDilute = "Positive-Dilute"
	ResultCancelled      = "Cancelled"
	ResultLabReject      = "Lab Reject"
)

// Canonical test types.
const (
	TestTypeLabUrine      = "Lab Based Urine Test"
	TestTypeLabHair       = "Lab Based Hair Test"
	TestTypePOCTUrine     = "POCT Urine Test"
	TestTypeBreathAlcohol = "Alcohol Breath Test"
	TestTypePhysical      = "Physical"
	TestTypeOther         = "Other"
)

// Record is the canonical, source-agnostic representation of one test result.
// Dates are calendar dates formatted as YYYY-MM-DD; an empty string means unknown.
type Record struct {
	ExternalID         string              `json:"external_id"`
	FirstName          string              `json:"first_name"`
	LastName           string              `json:"last_name"`
	SecondaryID        string              `json:"secondary_id"`
	CompanyName        string              `json:"company_name"`
	CompanyCode        string              `json:"company_code"`
	CollectionDate     string              `json:"collection_date"`
	ResultReceivedDate string              `json:"result_received_date"`
	Reason             string              `json:"reason"`
	Result             string              `json:"result"`
	PositiveAnalytes   []string            `json:"positive_analytes,omitempty"`
	TestType           string              `json:"test_type"`
	RegulationStatus   string              `json:"regulation_status"`
	RegulatoryAgency   string              `json:"regulatory_agency"`
	MeasuredValue      decimal.NullDecimal `json:"measured_value"`
	Laboratory         string              `json:"laboratory"`
	CollectionSiteName string              `json:"collection_site_name"`
	CollectionSiteID   string              `json:"collection_site_id"`
	LocationCode       string              `json:"location_code"`
}

// Field names a canonical attribute of Record.
type Field string

// Canonical fields.
const (
	FieldExternalID         Field = "external_id"
	FieldFirstName          Field = "first_name"
	FieldLastName           Field = "last_name"
	FieldSecondaryID        Field = "secondary_id"
	FieldCompanyName        Field = "company_name"
	FieldCompanyCode        Field = "company_code"
	FieldCollectionDate     Field = "collection_date"
	FieldResultReceivedDate Field = "result_received_date"
	FieldReason             Field = "reason"
	FieldResult             Field = "result"
	FieldPositiveAnalytes   Field = "positive_analytes"
	FieldTestType           Field = "test_type"
	FieldRegulationStatus   Field = "regulation_status"
	FieldRegulatoryAgency   Field = "regulatory_agency"
	FieldMeasuredValue      Field = "measured_value"
	FieldLaboratory         Field = "laboratory"
	FieldCollectionSiteName Field = "collection_site_name"
	FieldCollectionSiteID   Field = "collection_site_id"
	FieldLocationCode       Field = "location_code"
)

// Fields lists every canonical field in schema order.
var Fields = []Field{
	FieldExternalID,
	FieldFirstName,
	FieldLastName,
	FieldSecondaryID,
	FieldCompanyName,
	FieldCompanyCode,
	FieldCollectionDate,
	FieldResultReceivedDate,
	FieldReason,
	FieldResult,
	FieldPositiveAnalytes,
	FieldTestType,
	FieldRegulationStatus,
	FieldRegulatoryAgency,
	FieldMeasuredValue,
	FieldLaboratory,
	FieldCollectionSiteName,
	FieldCollectionSiteID,
	FieldLocationCode,
}

// Value returns the string form of a field. Multi-valued fields are joined
// with ", " and a null measurement is "".
func (r *Record) Value(f Field) string {
	switch f {
	case FieldExternalID:
		return r.ExternalID
	case FieldFirstName:
		return r.FirstName
	case FieldLastName:
		return r.LastName
	case FieldSecondaryID:
		return r.SecondaryID
	case FieldCompanyName:
		return r.CompanyName
	case FieldCompanyCode:
		return r.CompanyCode
	case FieldCollectionDate:
		return r.CollectionDate
	case FieldResultReceivedDate:
		return r.ResultReceivedDate
	case FieldReason:
		return r.Reason
	case FieldResult:
		return r.Result
	case FieldPositiveAnalytes:
		return strings.Join(r.PositiveAnalytes, ", ")
	case FieldTestType:
		return r.TestType
	case FieldRegulationStatus:
		return r.RegulationStatus
	case FieldRegulatoryAgency:
		return r.RegulatoryAgency
	case FieldMeasuredValue:
		if !r.MeasuredValue.Valid {
			return ""
		}
		return r.MeasuredValue.Decimal.String()
	case FieldLaboratory:
		return r.Laboratory
	case FieldCollectionSiteName:
		return r.CollectionSiteName
	case FieldCollectionSiteID:
		return r.CollectionSiteID
	case FieldLocationCode:
		return r.LocationCode
	default:
		return ""
	}
}

// IsPositive reports whether the result is a positive disposition.
func (r *Record) IsPositive() bool {
	return r.Result == ResultPositive || r.Result == ResultPositiveDilute
}

// StagedRecord is an incomplete Record awaiting manual review.
type StagedRecord struct {
	Record
	Reviewed   bool       `json:"reviewed"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	StagedAt   time.Time  `json:"staged_at"`
}

// Submission marks an external id as accepted by the CRM.
type Submission struct {
	ExternalID  string    `json:"external_id"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// IDSet is a set of external ids.
type IDSet map[string]struct{}

// NewIDSet builds a set from ids.
func NewIDSet(ids ...string) IDSet {
	s := make(IDSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports whether id is in the set. A nil set contains nothing.
func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Add inserts id.
func (s IDSet) Add(id string) { s[id] = struct{}{} }

// IsBreathAlcohol reports whether a test type is a breath-alcohol test.
func IsBreathAlcohol(testType string) bool {
	return strings.Contains(strings.ToLower(testType), "breath")
}

// IsPointOfCare reports whether a test type is a point-of-care (instant) test.
func IsPointOfCare(testType string) bool {
	return strings.Contains(strings.ToLower(testType), "poct")
}
