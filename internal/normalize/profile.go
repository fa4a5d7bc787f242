package normalize

import (
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Company code resolution modes.
const (
	CodeDirect        = "direct"
	CodeAccountNumber = "account_number"
	CodeFuzzy         = "fuzzy"
)

// Column lists the header aliases under which a source reports a field.
type Column struct {
	Aliases  []string `yaml:"aliases"`
	Required bool     `yaml:"required"`
}

// IDSynthesis builds an external id from a type code and a key column when the
// explicit reference is blank. Prefixes is keyed by upper-cased type code.
type IDSynthesis struct {
	TypeColumn Column            `yaml:"type_column"`
	KeyColumn  Column            `yaml:"key_column"`
	Prefixes   map[string]string `yaml:"prefixes"`
}

// Override sets a canonical value when a raw column equals a given value.
type Override struct {
	Column Column `yaml:"column"`
	Equals string `yaml:"equals"`
	Value  string `yaml:"value"`
}

// StaticSite assigns one collection site to every row of a source.
type StaticSite struct {
	Name string `yaml:"name"`
	ID   string `yaml:"id"`
}

// Profile describes one source system as data: where each canonical field
// lives in the raw export and which source-specific rules apply.
type Profile struct {
	Name          string   `yaml:"name"`
	Description   string   `yaml:"description"`
	HeaderMarkers []string `yaml:"header_markers"`

	Status        Column   `yaml:"status"`
	ExcludeStatus []string `yaml:"exclude_status"`

	FullName  Column `yaml:"full_name"`
	FirstName Column `yaml:"first_name"`
	LastName  Column `yaml:"last_name"`

	ExternalID   Column       `yaml:"external_id"`
	SynthesizeID *IDSynthesis `yaml:"synthesize_id"`
	SecondaryID  Column       `yaml:"secondary_id"`

	Company         Column `yaml:"company"`
	CompanyFallback Column `yaml:"company_fallback"`
	CompanyCode     Column `yaml:"company_code"`
	CompanyCodeMode string `yaml:"company_code_mode"`
	AccountNumber   Column `yaml:"account_number"`

	CollectionDate Column `yaml:"collection_date"`
	ReceivedDate   Column `yaml:"received_date"`
	DropUndated    bool   `yaml:"drop_undated"`

	Reason           Column `yaml:"reason"`
	DefaultReason    string `yaml:"default_reason"`
	Result           Column `yaml:"result"`
	DropUnresulted   bool   `yaml:"drop_unresulted"`
	PositiveAnalytes Column `yaml:"positive_analytes"`
	Regulation       Column `yaml:"regulation"`
	Agency           Column `yaml:"agency"`
	MeasuredValue    Column `yaml:"measured_value"`

	TestType         Column    `yaml:"test_type"`
	TestTypeRules    []Rule    `yaml:"test_type_rules"`
	TestTypeDefault  string    `yaml:"test_type_default"`
	TestTypeOverride *Override `yaml:"test_type_override"`

	Laboratory     Column   `yaml:"laboratory"`
	NoLabTestTypes []string `yaml:"no_lab_test_types"`

	SiteName   Column      `yaml:"site_name"`
	SiteID     Column      `yaml:"site_id"`
	StaticSite *StaticSite `yaml:"static_site"`

	Location                     Column   `yaml:"location"`
	LocationDefault              string   `yaml:"location_default"`
	LocationBlank                []string `yaml:"location_blank"`
	ClearSiteForLocationAccounts bool     `yaml:"clear_site_for_location_accounts"`

	BreathReceivedIsCollection bool `yaml:"breath_received_is_collection"`
	POCTSameDayNegative        bool `yaml:"poct_same_day_negative"`
}

// Validate checks that the profile can resolve the fields every record needs.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return eris.New("normalize: profile name is required")
	}
	if len(p.ExternalID.Aliases) == 0 && p.SynthesizeID == nil {
		return eris.Errorf("normalize: profile %s: external_id has no aliases", p.Name)
	}
	if len(p.FullName.Aliases) == 0 && len(p.LastName.Aliases) == 0 {
		return eris.Errorf("normalize: profile %s: no name columns", p.Name)
	}
	switch p.CompanyCodeMode {
	case "", CodeDirect, CodeAccountNumber, CodeFuzzy:
	default:
		return eris.Errorf("normalize: profile %s: unknown company_code_mode %q", p.Name, p.CompanyCodeMode)
	}
	return nil
}

// Registry holds the source profiles known to the process, keyed by name.
type Registry struct {
	mu       sync.RWMutex
	profiles map[string]*Profile
}

// NewRegistry returns a registry seeded with the built-in profiles.
func NewRegistry() *Registry {
	r := &Registry{profiles: make(map[string]*Profile)}
	for _, p := range builtinProfiles() {
		r.profiles[p.Name] = p
	}
	return r
}

// Register adds or replaces a profile.
func (r *Registry) Register(p *Profile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	r.profiles[strings.ToLower(p.Name)] = p
	r.mu.Unlock()
	return nil
}

// Get looks up a profile by case-insensitive name.
func (r *Registry) Get(name string) (*Profile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[strings.ToLower(strings.TrimSpace(name))]
	return p, ok
}

// Names returns the registered profile names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.profiles))
	for n := range r.profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadFile registers every profile in a YAML file of the form
// `profiles: [...]`. Profiles with a built-in name replace the built-in.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return eris.Wrap(err, "normalize: read profile file")
	}
	var doc struct {
		Profiles []*Profile `yaml:"profiles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return eris.Wrap(err, "normalize: parse profile file")
	}
	for _, p := range doc.Profiles {
		if err := r.Register(p); err != nil {
			return err
		}
	}
	return nil
}
