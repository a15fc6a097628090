package row

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2026-01-31")
	require.NoError(t, err)
	assert.Equal(t, Date{Year: 2026, Month: time.January, Day: 31}, d)
	assert.Equal(t, "2026-01-31", d.String())

	d, err = ParseDate("2026-03-05T10:11:12Z")
	require.NoError(t, err)
	assert.Equal(t, "2026-03-05", d.String())

	_, err = ParseDate("31/01/2026")
	assert.Error(t, err)
}

func TestAddMonthsClampsToMonthEnd(t *testing.T) {
	tests := []struct {
		from   string
		months int
		want   string
	}{
		{"2026-01-31", 1, "2026-02-28"},
		{"2028-01-31", 1, "2028-02-29"},
		{"2026-03-31", 1, "2026-04-30"},
		{"2026-12-15", 1, "2027-01-15"},
		{"2026-01-15", -1, "2025-12-15"},
		{"2026-05-31", 13, "2027-06-30"},
	}
	for _, tt := range tests {
		t.Run(tt.from, func(t *testing.T) {
			assert.Equal(t, tt.want, MustDate(tt.from).AddMonths(tt.months).String())
		})
	}
}

func TestAddYearsLeapDay(t *testing.T) {
	assert.Equal(t, "2029-02-28", MustDate("2028-02-29").AddYears(1).String())
	assert.Equal(t, "2032-02-29", MustDate("2028-02-29").AddYears(4).String())
}

func TestAddDays(t *testing.T) {
	assert.Equal(t, "2026-03-01", MustDate("2026-02-28").AddDays(1).String())
	assert.Equal(t, "2026-01-08", MustDate("2026-01-01").AddDays(7).String())
}

func TestDateCompare(t *testing.T) {
	a := MustDate("2026-01-01")
	b := MustDate("2026-01-02")
	assert.True(t, a.Before(b))
	assert.True(t, b.After(a))
	assert.Equal(t, 0, a.Compare(MustDate("2026-01-01")))
	assert.True(t, Date{}.IsZero())
}
