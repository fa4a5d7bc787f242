package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"03/04/2024", "2024-03-04"},
		{"2024-03-04", "2024-03-04"},
		{"03/04/2024 10:15", "2024-03-04"},
		{"2024-03-04 10:15", "2024-03-04"},
		{"3/4/24", "2024-03-04"},
		{"3/4/2024", "2024-03-04"},
		{"March 4, 2024", "2024-03-04"},
		{"2024-03-04T10:15:00Z", "2024-03-04"},
		{"  ", ""},
		{"nan", ""},
		{"not a date", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseDate(tt.in))
		})
	}
}

func TestParseDate_EquivalentFormsAgree(t *testing.T) {
	forms := []string{"03/04/2024", "2024-03-04", "03/04/2024 10:15"}
	for _, f := range forms {
		assert.Equal(t, ParseDate(forms[0]), ParseDate(f), f)
	}
}
