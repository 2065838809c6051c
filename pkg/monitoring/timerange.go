// Package monitoring fetches metric series and service topology from live
// monitoring backends and converts them into tables and causal graphs.
package monitoring

import (
	"net/url"
	"strconv"
	"time"

	"github.com/ogulcanaydogan/causal-rca-toolkit/pkg/rcaerr"
)

// RangeType selects how a TimeRange is anchored.
type RangeType string

const (
	BeforeNow    RangeType = "BEFORE_NOW"
	BeforeTime   RangeType = "BEFORE_TIME"
	AfterTime    RangeType = "AFTER_TIME"
	BetweenTimes RangeType = "BETWEEN_TIMES"
)

// TimeRange is a query window. Which fields are required depends on Type.
type TimeRange struct {
	Type         RangeType
	DurationMins int
	Start        time.Time
	End          time.Time
}

// LastMinutes returns a BEFORE_NOW range.
func LastMinutes(mins int) TimeRange {
	return TimeRange{Type: BeforeNow, DurationMins: mins}
}

// Validate checks that the fields required by Type are set.
func (r TimeRange) Validate() error {
	switch r.Type {
	case BeforeNow:
		if r.DurationMins <= 0 {
			return rcaerr.Configf("when using %s, duration must be set", r.Type)
		}
	case BeforeTime:
		if r.End.IsZero() || r.DurationMins <= 0 {
			return rcaerr.Configf("when using %s, duration and end time must be set", r.Type)
		}
	case AfterTime:
		if r.Start.IsZero() || r.DurationMins <= 0 {
			return rcaerr.Configf("when using %s, duration and start time must be set", r.Type)
		}
	case BetweenTimes:
		if r.Start.IsZero() || r.End.IsZero() {
			return rcaerr.Configf("when using %s, start and end time must be set", r.Type)
		}
		if !r.End.After(r.Start) {
			return rcaerr.Configf("end time %s is not after start time %s", r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
		}
	default:
		return rcaerr.Configf("time range type must be one of %s, %s, %s, %s; got %q",
			BeforeNow, BeforeTime, AfterTime, BetweenTimes, r.Type)
	}
	return nil
}

// Bounds resolves the range to absolute start and end times relative to now.
func (r TimeRange) Bounds(now time.Time) (time.Time, time.Time, error) {
	if err := r.Validate(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	d := time.Duration(r.DurationMins) * time.Minute
	switch r.Type {
	case BeforeNow:
		return now.Add(-d), now, nil
	case BeforeTime:
		return r.End.Add(-d), r.End, nil
	case AfterTime:
		return r.Start, r.Start.Add(d), nil
	default:
		return r.Start, r.End, nil
	}
}

// params encodes the range as controller query parameters; unset fields are
// omitted.
func (r TimeRange) params() url.Values {
	v := url.Values{}
	v.Set("time-range-type", string(r.Type))
	if r.DurationMins > 0 {
		v.Set("duration-in-mins", strconv.Itoa(r.DurationMins))
	}
	if !r.Start.IsZero() {
		v.Set("start-time", strconv.FormatInt(r.Start.UnixMilli(), 10))
	}
	if !r.End.IsZero() {
		v.Set("end-time", strconv.FormatInt(r.End.UnixMilli(), 10))
	}
	return v
}
