package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/screening-sync/internal/model"
)

func TestTokenSortRatio(t *testing.T) {
	assert.InDelta(t, 1.0, TokenSortRatio("Trucking, Acme LLC", "ACME TRUCKING LLC"), 0.0001)
	assert.Less(t, TokenSortRatio("Acme Trucking", "Zenith Bakery"), 0.5)
}

func TestCompanyIndex_Match(t *testing.T) {
	idx := NewCompanyIndex(0.70, []model.Account{
		{Code: "A200", Name: "Acme Trucking LLC"},
		{Code: "A300", Name: "Blue Line Transit"},
		{Code: "", Name: "No Code Holdings"},
	})
	assert.Equal(t, 2, idx.Len())

	code, score, ok := idx.Match("ACME Trucking, LLC")
	assert.True(t, ok)
	assert.Equal(t, "A200", code)
	assert.InDelta(t, 1.0, score, 0.0001)

	code, _, ok = idx.Match("Blue Line Transit Inc")
	assert.True(t, ok)
	assert.Equal(t, "A300", code)

	_, _, ok = idx.Match("Completely Unrelated Bakery")
	assert.False(t, ok)

	_, _, ok = idx.Match("   ")
	assert.False(t, ok)
}

func TestCompanyIndex_Replace(t *testing.T) {
	idx := NewCompanyIndex(0.70, nil)
	_, _, ok := idx.Match("Acme Trucking")
	assert.False(t, ok)

	idx.Replace([]model.Account{{Code: "A200", Name: "Acme Trucking"}})
	code, _, ok := idx.Match("Acme Trucking")
	assert.True(t, ok)
	assert.Equal(t, "A200", code)
}
