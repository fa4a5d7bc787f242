// Package normalize maps raw source rows into canonical records. Each source
// is described by a Profile; the mapping code is shared.
package normalize

import (
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/screening-sync/internal/dataset"
	"github.com/sells-group/screening-sync/internal/model"
)

// Options configures a Normalizer.
type Options struct {
	// Cutoff drops rows collected before this YYYY-MM-DD date. Empty disables.
	Cutoff string
	// LocationAccounts are the account codes whose records carry a location.
	LocationAccounts []string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Normalizer converts source tables into canonical records using the
// account reference snapshot it was last refreshed with.
type Normalizer struct {
	opts        Options
	locAccounts map[string]bool
	companies   *CompanyIndex

	mu          sync.RWMutex
	accountNums map[string]string
}

// New creates a Normalizer. companies may be nil when no profile uses fuzzy
// company resolution.
func New(opts Options, companies *CompanyIndex) *Normalizer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if companies == nil {
		companies = NewCompanyIndex(1, nil)
	}
	n := &Normalizer{
		opts:        opts,
		locAccounts: make(map[string]bool, len(opts.LocationAccounts)),
		companies:   companies,
		accountNums: make(map[string]string),
	}
	for _, code := range opts.LocationAccounts {
		n.locAccounts[strings.TrimSpace(code)] = true
	}
	return n
}

// Refresh replaces the account snapshot used for company code resolution.
func (n *Normalizer) Refresh(accounts []model.Account) {
	n.companies.Replace(accounts)
	nums := make(map[string]string, len(accounts))
	for _, a := range accounts {
		if k := accountNumberKey(a.SourceCode); k != "" {
			nums[k] = a.Code
		}
	}
	n.mu.Lock()
	n.accountNums = nums
	n.mu.Unlock()
}

// layout holds the resolved column index of every profile field; -1 means absent.
type layout struct {
	status, fullName, firstName, lastName              int
	externalID, synthType, synthKey, secondaryID       int
	company, companyFallback, companyCode, accountNum  int
	collectionDate, receivedDate                       int
	reason, result, analytes, regulation, agency, meas int
	testType, overrideCol, laboratory                  int
	siteName, siteID, location                         int
}

func resolveLayout(t *dataset.Table, p *Profile) (layout, error) {
	var missing []string
	find := func(c Column) int {
		if len(c.Aliases) == 0 {
			return -1
		}
		i, ok := t.Find(c.Aliases...)
		if !ok && c.Required {
			missing = append(missing, c.Aliases[0])
		}
		return i
	}

	l := layout{
		status:          find(p.Status),
		fullName:        find(p.FullName),
		firstName:       find(p.FirstName),
		lastName:        find(p.LastName),
		externalID:      find(p.ExternalID),
		synthType:       -1,
		synthKey:        -1,
		secondaryID:     find(p.SecondaryID),
		company:         find(p.Company),
		companyFallback: find(p.CompanyFallback),
		companyCode:     find(p.CompanyCode),
		accountNum:      find(p.AccountNumber),
		collectionDate:  find(p.CollectionDate),
		receivedDate:    find(p.ReceivedDate),
		reason:          find(p.Reason),
		result:          find(p.Result),
		analytes:        find(p.PositiveAnalytes),
		regulation:      find(p.Regulation),
		agency:          find(p.Agency),
		meas:            find(p.MeasuredValue),
		testType:        find(p.TestType),
		overrideCol:     -1,
		laboratory:      find(p.Laboratory),
		siteName:        find(p.SiteName),
		siteID:          find(p.SiteID),
		location:        find(p.Location),
	}
	if p.SynthesizeID != nil {
		l.synthType = find(p.SynthesizeID.TypeColumn)
		l.synthKey = find(p.SynthesizeID.KeyColumn)
	}
	if p.TestTypeOverride != nil {
		l.overrideCol = find(p.TestTypeOverride.Column)
	}

	if len(missing) > 0 {
		return l, eris.Wrapf(model.ErrSchemaMismatch, "normalize: %s: required columns not found: %s",
			p.Name, strings.Join(missing, ", "))
	}
	return l, nil
}

// dropCounts tallies rows removed before reconciliation.
type dropCounts struct {
	excluded, noID, undated, unresulted, beforeCutoff int
}

// Normalize maps every row of t through profile p. Rows excluded by status,
// missing an external id, or collected before the cutoff are dropped. A
// required column that cannot be located fails with ErrSchemaMismatch.
func (n *Normalizer) Normalize(t *dataset.Table, p *Profile) ([]model.Record, error) {
	l, err := resolveLayout(t, p)
	if err != nil {
		return nil, err
	}

	exclude := make(map[string]bool, len(p.ExcludeStatus))
	for _, s := range p.ExcludeStatus {
		exclude[strings.ToLower(strings.TrimSpace(s))] = true
	}
	today := n.opts.Now().UTC().Format(DateLayout)

	var drops dropCounts
	out := make([]model.Record, 0, t.Len())
	for _, row := range t.Rows {
		v := func(i int) string { return t.Value(row, i) }

		if exclude[strings.ToLower(v(l.status))] {
			drops.excluded++
			continue
		}

		var rec model.Record

		// Identity.
		if l.fullName >= 0 {
			rec.FirstName, rec.LastName = SplitName(v(l.fullName))
		} else {
			rec.FirstName = TitleCase(v(l.firstName))
			rec.LastName = TitleCase(v(l.lastName))
		}
		rec.ExternalID = n.externalID(p, l, v)
		if rec.ExternalID == "" {
			drops.noID++
			continue
		}
		rec.SecondaryID = v(l.secondaryID)

		// Dates.
		rec.CollectionDate = ParseDate(v(l.collectionDate))
		if rec.CollectionDate == "" && p.DropUndated {
			drops.undated++
			continue
		}
		rec.ResultReceivedDate = ParseDate(v(l.receivedDate))

		// Vocabularies.
		if l.reason >= 0 {
			rec.Reason = MapReason(v(l.reason))
		} else {
			rec.Reason = p.DefaultReason
		}
		rec.Result = MapResult(v(l.result))
		if rec.Result == "" && p.DropUnresulted {
			drops.unresulted++
			continue
		}
		rec.RegulationStatus = MapRegulation(v(l.regulation))
		rec.RegulatoryAgency = MapAgency(v(l.agency))
		rec.MeasuredValue = parseMeasurement(v(l.meas))
		rec.TestType = n.testType(p, l, v)
		if rec.IsPositive() {
			rec.PositiveAnalytes = MapAnalytes(v(l.analytes))
		}
		rec.Laboratory = MapLaboratory(v(l.laboratory))
		if matchesAny(rec.TestType, p.NoLabTestTypes) {
			rec.Laboratory = ""
		}

		// Company.
		rec.CompanyName = v(l.company)
		if blankish(rec.CompanyName) {
			rec.CompanyName = v(l.companyFallback)
		}
		rec.CompanyCode = n.companyCode(p, l, v, rec.CompanyName)

		// Site and location.
		if p.StaticSite != nil {
			rec.CollectionSiteName = p.StaticSite.Name
			rec.CollectionSiteID = p.StaticSite.ID
		} else {
			rec.CollectionSiteName = TitleCase(v(l.siteName))
			rec.CollectionSiteID = StripFloatSuffix(v(l.siteID))
		}
		rec.LocationCode = n.location(p, l, v, rec.CompanyCode)
		if p.ClearSiteForLocationAccounts && n.locAccounts[rec.CompanyCode] {
			rec.LocationCode = ""
			rec.CollectionSiteName = ""
			rec.CollectionSiteID = ""
		}

		applyOverrides(&rec, p, today)

		if n.opts.Cutoff != "" && rec.CollectionDate != "" && rec.CollectionDate < n.opts.Cutoff {
			drops.beforeCutoff++
			continue
		}

		out = append(out, rec)
	}

	zap.L().Debug("normalize: rows mapped",
		zap.String("source", p.Name),
		zap.Int("input", t.Len()),
		zap.Int("output", len(out)),
		zap.Int("excluded_status", drops.excluded),
		zap.Int("missing_id", drops.noID),
		zap.Int("undated", drops.undated),
		zap.Int("unresulted", drops.unresulted),
		zap.Int("before_cutoff", drops.beforeCutoff),
	)
	return out, nil
}

func (n *Normalizer) externalID(p *Profile, l layout, v func(int) string) string {
	if id := v(l.externalID); !blankish(id) {
		return id
	}
	if p.SynthesizeID == nil {
		return ""
	}
	prefix, ok := p.SynthesizeID.Prefixes[strings.ToUpper(v(l.synthType))]
	key := v(l.synthKey)
	if !ok || key == "" {
		return ""
	}
	return prefix + key
}

func (n *Normalizer) testType(p *Profile, l layout, v func(int) string) string {
	if o := p.TestTypeOverride; o != nil && strings.EqualFold(v(l.overrideCol), o.Equals) {
		return o.Value
	}
	raw := v(l.testType)
	if len(p.TestTypeRules) == 0 {
		return raw
	}
	return classify(p.TestTypeRules, raw, p.TestTypeDefault)
}

func (n *Normalizer) companyCode(p *Profile, l layout, v func(int) string, company string) string {
	switch p.CompanyCodeMode {
	case CodeAccountNumber:
		key := accountNumberKey(v(l.accountNum))
		if key == "" {
			return ""
		}
		n.mu.RLock()
		defer n.mu.RUnlock()
		return n.accountNums[key]
	case CodeFuzzy:
		code, _, ok := n.companies.Match(company)
		if !ok {
			return ""
		}
		return code
	default:
		return v(l.companyCode)
	}
}

func (n *Normalizer) location(p *Profile, l layout, v func(int) string, code string) string {
	loc := p.LocationDefault
	if l.location >= 0 && n.locAccounts[code] {
		loc = v(l.location)
	}
	for _, b := range p.LocationBlank {
		if strings.EqualFold(loc, b) {
			return ""
		}
	}
	return loc
}

// applyOverrides enforces the business rules that trump source-reported values.
func applyOverrides(rec *model.Record, p *Profile, today string) {
	if model.IsBreathAlcohol(rec.TestType) {
		if rec.MeasuredValue.Valid && rec.MeasuredValue.Decimal.IsZero() {
			rec.Result = model.ResultNegative
		}
		if p.BreathReceivedIsCollection {
			rec.ResultReceivedDate = rec.CollectionDate
		}
	}
	if p.POCTSameDayNegative && model.IsPointOfCare(rec.TestType) &&
		rec.CollectionDate != "" && rec.CollectionDate == today {
		rec.Result = model.ResultNegative
		rec.ResultReceivedDate = rec.CollectionDate
	}
	if !rec.IsPositive() {
		rec.PositiveAnalytes = nil
	}
}

func parseMeasurement(s string) decimal.NullDecimal {
	if blankish(s) {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// accountNumberKey canonicalizes numeric account numbers so "0042", "42"
// and "42.0" compare equal. A fractional or non-numeric cell has no key.
func accountNumberKey(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	d, err := decimal.NewFromString(s)
	if err != nil || !d.IsInteger() {
		return ""
	}
	return d.String()
}

func matchesAny(v string, substrings []string) bool {
	lv := strings.ToLower(v)
	for _, s := range substrings {
		if s != "" && strings.Contains(lv, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
