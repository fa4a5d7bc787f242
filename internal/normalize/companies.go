package normalize

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/agext/levenshtein"

	"github.com/sells-group/screening-sync/internal/model"
)

var nonAlnumRe = regexp.MustCompile(`[^a-z0-9]+`)

// indel distance: substitution costs a delete plus an insert.
var ratioParams = levenshtein.NewParams().SubCost(2)

// CompanyIndex resolves free-text company names to account codes by fuzzy
// matching against a snapshot of known accounts. It is safe for concurrent
// use; Replace swaps the snapshot atomically.
type CompanyIndex struct {
	threshold float64

	mu      sync.RWMutex
	entries []companyEntry
}

type companyEntry struct {
	key  string
	code string
}

// NewCompanyIndex creates an index accepting matches scoring at or above threshold (0..1).
func NewCompanyIndex(threshold float64, accounts []model.Account) *CompanyIndex {
	c := &CompanyIndex{threshold: threshold}
	c.Replace(accounts)
	return c
}

// Replace swaps the account snapshot.
func (c *CompanyIndex) Replace(accounts []model.Account) {
	entries := make([]companyEntry, 0, len(accounts))
	for _, a := range accounts {
		key := companyKey(a.Name)
		if key == "" || a.Code == "" {
			continue
		}
		entries = append(entries, companyEntry{key: key, code: a.Code})
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
}

// Len returns the number of indexed accounts.
func (c *CompanyIndex) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Match returns the code of the best-scoring account. ok is false when the
// name is blank or the best score is below the threshold. Ties keep the
// earliest account.
func (c *CompanyIndex) Match(name string) (code string, score float64, ok bool) {
	key := companyKey(name)
	if key == "" {
		return "", 0, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	best := -1.0
	for _, e := range c.entries {
		s := levenshtein.Similarity(key, e.key, ratioParams)
		if s > best {
			best = s
			code = e.code
		}
	}
	if best < c.threshold {
		return "", best, false
	}
	return code, best, true
}

// TokenSortRatio scores two names in [0,1] after lowercasing, stripping
// punctuation and sorting tokens.
func TokenSortRatio(a, b string) float64 {
	return levenshtein.Similarity(companyKey(a), companyKey(b), ratioParams)
}

func companyKey(name string) string {
	name = nonAlnumRe.ReplaceAllString(strings.ToLower(name), " ")
	tokens := strings.Fields(name)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}
