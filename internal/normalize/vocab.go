package normalize

import (
	"strings"

	"github.com/sells-group/screening-sync/internal/model"
)

var reasonMap = map[string]string{
	"pre-employment":               "Pre-Employment",
	"reasonable suspicion/cause":   "Reasonable Suspicion",
	"reasonable suspicion / cause": "Reasonable Suspicion",
	"post accident":                "Post Accident",
	"post-accident":                "Post Accident",
	"vehicle accident":             "Post Accident",
	"return to duty":               "Return To Duty",
	"return to work":               "Return To Duty",
	"rtw":                          "Return To Duty",
	"company fit for duty":         "Return To Duty",
	"random":                       "Random",
	"job requirement":              "Job Requirement",
	"prereq lift":                  "Job Requirement",
	"followup":                     "Follow-Up",
	"follow-up":                    "Follow-Up",
	"other":                        "Other",
	"pre-assignment":               "Pre-Assignment",
	"cdl recertification":          "CDL Recertification",
	"re-certification":             "Recertification",
	"recertification":              "Recertification",
}

// Result values mapped to "" are pending dispositions.
var resultMap = map[string]string{
	"negative":             model.ResultNegative,
	"neg":                  model.ResultNegative,
	"negative-dilute":      model.ResultNegativeDilute,
	"negd":                 model.ResultNegativeDilute,
	"positive":             model.ResultPositive,
	"pos":                  model.ResultPositive,
	"positive-dilute":      model.ResultPositiveDilute,
	"non-contact positive": model.ResultPositive,
	"cancelled":            model.ResultCancelled,
	"canc":                 model.ResultCancelled,
	"test cancelled":       model.ResultCancelled,
	"lab reject":           model.ResultLabReject,
	"pending":              "",
	"not reported":         "",
	"received at lab":      "",
	"pending ccf":          "",
	"in process with mro":  "",
	"sent to lab":          "",
}

var agencyMap = map[string]string{
	"fmcsa":          "FMCSA",
	"phmsa":          "PHMSA",
	"fta":            "FTA",
	"default":        "",
	"not provided":   "",
	"not applicable": "",
}

// Laboratory names, matched by substring of the raw value.
var labRules = []Rule{
	{Contains: []string{"omega"}, Value: "Omega Laboratories"},
	{Contains: []string{"alere"}, Value: "Abbott Toxicology"},
	{Contains: []string{"quest"}, Value: "Quest Diagnostics"},
	{Contains: []string{"crl", "clinical reference"}, Value: "Clinical Reference Laboratory"},
}

// MapReason maps a raw test reason to its canonical value.
func MapReason(v string) string {
	return lookupOrTitle(reasonMap, v)
}

// MapResult maps a raw result. Pending dispositions map to "".
func MapResult(v string) string {
	return lookupOrTitle(resultMap, v)
}

// MapAgency maps a raw regulatory agency.
func MapAgency(v string) string {
	return lookupOrTitle(agencyMap, v)
}

// MapRegulation maps a raw regulated flag to DOT or Non-DOT.
func MapRegulation(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "dot", "dot-fmcsa":
		return model.RegulationDOT
	}
	return model.RegulationNonDOT
}

// MapLaboratory classifies a raw lab value. Unknown labs map to "" so the
// record is routed to review rather than submitted with an unresolvable lab.
func MapLaboratory(v string) string {
	return classify(labRules, v, "")
}

// MapAnalytes splits a delimited analyte list into canonical title-cased names.
func MapAnalytes(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
	var out []string
	for _, f := range fields {
		if a := TitleCase(f); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func lookupOrTitle(m map[string]string, v string) string {
	key := strings.ToLower(strings.TrimSpace(v))
	if key == "" || key == "nan" {
		return ""
	}
	if mapped, ok := m[key]; ok {
		return mapped
	}
	return TitleCase(key)
}

// Rule maps any raw value containing one of Contains (case-insensitive) to Value.
type Rule struct {
	Contains []string `yaml:"contains"`
	Value    string   `yaml:"value"`
}

func classify(rules []Rule, v, fallback string) string {
	s := strings.ToLower(v)
	for _, r := range rules {
		for _, c := range r.Contains {
			if c != "" && strings.Contains(s, strings.ToLower(c)) {
				return r.Value
			}
		}
	}
	return fallback
}
