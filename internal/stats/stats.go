// Package stats holds the population statistics and hour bucketing shared by
// risk scoring and timeline detection.
package stats

import (
	"math"
	"time"
)

// HourLayout formats the yyyy-mm-dd-HH bucket key.
const HourLayout = "2006-01-02-15"

// Running accumulates a population mean and variance in one pass (Welford).
type Running struct {
	n    int
	mean float64
	m2   float64
	max  float64
}

func (r *Running) Add(x float64) {
	r.n++
	if r.n == 1 || x > r.max {
		r.max = x
	}
	diff := x - r.mean
	r.mean += diff / float64(r.n)
	r.m2 += diff * (x - r.mean)
}

func (r *Running) Count() int {
	return r.n
}

func (r *Running) Mean() float64 {
	return r.mean
}

func (r *Running) Max() float64 {
	return r.max
}

// Std is the population standard deviation; it is 0 for fewer than two samples.
func (r *Running) Std() float64 {
	if r.n < 2 {
		return 0
	}
	v := r.m2 / float64(r.n)
	if v <= 0 {
		return 0
	}
	return math.Sqrt(v)
}

func MeanStd(values []float64) (float64, float64) {
	var r Running
	for _, v := range values {
		r.Add(v)
	}
	return r.Mean(), r.Std()
}

func HourKey(t time.Time) string {
	return t.Format(HourLayout)
}

// HourStart truncates t to the start of its hour in t's own location.
func HourStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, t.Location())
}

// Bucket is one hour of activity, ordered by first appearance.
type Bucket struct {
	Key   string
	Start time.Time
	Count int
}

// HourBuckets groups timestamps by hour key, keeping buckets in the order
// their first timestamp appears.
func HourBuckets(times []time.Time) []Bucket {
	index := make(map[string]int)
	out := make([]Bucket, 0)
	for _, ts := range times {
		key := HourKey(ts)
		if i, ok := index[key]; ok {
			out[i].Count++
			continue
		}
		index[key] = len(out)
		out = append(out, Bucket{Key: key, Start: HourStart(ts), Count: 1})
	}
	return out
}

// MaxDistinctPerHour returns the largest number of distinct values seen
// within any one hour bucket.
func MaxDistinctPerHour(times []time.Time, values []string) int {
	perHour := make(map[string]map[string]struct{})
	best := 0
	for i, ts := range times {
		key := HourKey(ts)
		set, ok := perHour[key]
		if !ok {
			set = make(map[string]struct{})
			perHour[key] = set
		}
		set[values[i]] = struct{}{}
		if len(set) > best {
			best = len(set)
		}
	}
	return best
}

// Round rounds to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
