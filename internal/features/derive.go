package features

import (
	"sort"
	"time"

	"marketflow/pkg/models"
)

// Feature names written to FEATURE_STORE
const (
	DaysSinceSignup       = "days_since_signup"
	DaysSinceLastActivity = "days_since_last_activity"
	EventCount            = "event_count_90d"
)

// Customer is one DIM_CUSTOMER row as read for feature computation
type Customer struct {
	ID         string
	SignupDate *time.Time
}

// Event is one FACT_CLICK_EVENTS row inside the lookback window
type Event struct {
	UserID    string
	EventTime time.Time
}

// Day truncates t to midnight UTC of its UTC calendar date
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DaysBetween is the whole number of calendar days from a to b in UTC
func DaysBetween(a, b time.Time) int {
	return int(Day(b).Sub(Day(a)).Hours() / 24)
}

// Window returns the half-open event window [asOf - lookback, asOf + 1 day)
func Window(asOf time.Time, lookbackDays int) (time.Time, time.Time) {
	day := Day(asOf)
	return day.AddDate(0, 0, -lookbackDays), day.AddDate(0, 0, 1)
}

type activity struct {
	last  time.Time
	count int
}

// Derive computes every feature for every customer against asOf and returns
// them in long form, sorted by entity and then feature name. Events for users
// that are not customers are ignored. A customer with no signup date gets no
// days_since_signup row; one with no events gets noActivity for
// days_since_last_activity.
func Derive(asOf time.Time, customers []Customer, events []Event, noActivity int) []models.FeatureValue {
	asOf = Day(asOf)

	byUser := make(map[string]*activity)
	for _, ev := range events {
		a, ok := byUser[ev.UserID]
		if !ok {
			a = &activity{}
			byUser[ev.UserID] = a
		}
		if a.count == 0 || ev.EventTime.After(a.last) {
			a.last = ev.EventTime
		}
		a.count++
	}

	values := make([]models.FeatureValue, 0, len(customers)*3)
	for _, c := range customers {
		add := func(name string, v int) {
			values = append(values, models.FeatureValue{
				EntityID:    c.ID,
				FeatureName: name,
				Value:       float64(v),
				AsOfDate:    asOf,
			})
		}

		if c.SignupDate != nil {
			add(DaysSinceSignup, DaysBetween(*c.SignupDate, asOf))
		}
		if a, ok := byUser[c.ID]; ok {
			add(DaysSinceLastActivity, DaysBetween(a.last, asOf))
			add(EventCount, a.count)
		} else {
			add(DaysSinceLastActivity, noActivity)
			add(EventCount, 0)
		}
	}

	sort.SliceStable(values, func(i, j int) bool {
		if values[i].EntityID != values[j].EntityID {
			return values[i].EntityID < values[j].EntityID
		}
		return values[i].FeatureName < values[j].FeatureName
	})
	return values
}

// featureNames returns the distinct feature names in values, sorted
func featureNames(values []models.FeatureValue) []string {
	seen := make(map[string]bool)
	var names []string
	for _, v := range values {
		if !seen[v.FeatureName] {
			seen[v.FeatureName] = true
			names = append(names, v.FeatureName)
		}
	}
	sort.Strings(names)
	return names
}
