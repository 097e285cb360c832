package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		name string
		a, b time.Time
		want int
	}{
		{"same day", date(2026, 10, 19), date(2026, 10, 19).Add(23 * time.Hour), 0},
		{"one day", date(2026, 10, 18).Add(23 * time.Hour), date(2026, 10, 19), 1},
		{"across dst in another zone", time.Date(2026, 3, 7, 12, 0, 0, 0, time.FixedZone("EST", -5*3600)), date(2026, 3, 9), 2},
		{"leap year", date(2024, 2, 28), date(2024, 3, 1), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DaysBetween(tt.a, tt.b))
		})
	}
}

func TestWindow(t *testing.T) {
	from, to := Window(time.Date(2026, 10, 19, 17, 45, 0, 0, time.UTC), 90)
	assert.Equal(t, date(2026, 7, 21), from)
	assert.Equal(t, date(2026, 10, 20), to)
}

func TestDeriveSentinelForInactiveCustomer(t *testing.T) {
	asOf := date(2026, 10, 19)
	customers := []Customer{{ID: "C1", SignupDate: ptr(date(2026, 10, 1))}}

	values := Derive(asOf, customers, nil, 9999)

	require.Len(t, values, 3)
	assert.Equal(t, DaysSinceLastActivity, values[0].FeatureName)
	assert.Equal(t, float64(9999), values[0].Value)
	assert.Equal(t, DaysSinceSignup, values[1].FeatureName)
	assert.Equal(t, float64(18), values[1].Value)
	assert.Equal(t, EventCount, values[2].FeatureName)
	assert.Equal(t, float64(0), values[2].Value)
}

func TestDeriveUsesLatestEvent(t *testing.T) {
	asOf := date(2026, 10, 19)
	customers := []Customer{{ID: "42", SignupDate: ptr(date(2025, 10, 19))}}
	events := []Event{
		{UserID: "42", EventTime: date(2026, 10, 10).Add(8 * time.Hour)},
		{UserID: "42", EventTime: date(2026, 10, 17).Add(23 * time.Hour)},
		{UserID: "42", EventTime: date(2026, 9, 1)},
		{UserID: "7", EventTime: date(2026, 10, 18)},
	}

	values := Derive(asOf, customers, events, 9999)

	got := map[string]float64{}
	for _, v := range values {
		assert.Equal(t, "42", v.EntityID)
		assert.Equal(t, asOf, v.AsOfDate)
		got[v.FeatureName] = v.Value
	}
	assert.Equal(t, map[string]float64{
		DaysSinceSignup:       365,
		DaysSinceLastActivity: 2,
		EventCount:            3,
	}, got)
}

func TestDeriveSkipsMissingSignup(t *testing.T) {
	values := Derive(date(2026, 10, 19), []Customer{{ID: "C1"}}, nil, 9999)

	for _, v := range values {
		assert.NotEqual(t, DaysSinceSignup, v.FeatureName)
	}
	assert.Len(t, values, 2)
}

func TestDeriveSortsByEntityThenFeature(t *testing.T) {
	signup := ptr(date(2026, 1, 1))
	customers := []Customer{{ID: "C3", SignupDate: signup}, {ID: "C1", SignupDate: signup}, {ID: "C2", SignupDate: signup}}

	values := Derive(date(2026, 10, 19), customers, nil, 9999)

	require.Len(t, values, 9)
	for i := 1; i < len(values); i++ {
		prev, cur := values[i-1], values[i]
		ordered := prev.EntityID < cur.EntityID ||
			(prev.EntityID == cur.EntityID && prev.FeatureName < cur.FeatureName)
		assert.True(t, ordered, "row %d out of order", i)
	}
	assert.Equal(t, []string{DaysSinceLastActivity, DaysSinceSignup, EventCount}, featureNames(values))
}

func TestDeriveNormalizesAsOf(t *testing.T) {
	values := Derive(time.Date(2026, 10, 19, 22, 0, 0, 0, time.UTC),
		[]Customer{{ID: "C1", SignupDate: ptr(date(2026, 10, 18))}}, nil, 9999)

	for _, v := range values {
		assert.Equal(t, date(2026, 10, 19), v.AsOfDate)
	}
}
