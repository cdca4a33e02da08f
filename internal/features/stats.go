// Package features derives per-(ad, week) statistical features from raw
// metrics and normalized results: rolling baselines, deltas, lags, and
// trend slopes.
package features

import (
	"sort"
)

// Median returns the median of values, or nil for an empty slice.
func Median(values []float64) *float64 {
	if len(values) == 0 {
		return nil
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	var m float64
	if len(sorted)%2 == 0 {
		m = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		m = sorted[mid]
	}
	return &m
}

// MedianPositive returns the median of the strictly positive values, or nil
// if none are positive.
func MedianPositive(values []float64) *float64 {
	var positive []float64
	for _, v := range values {
		if v > 0 {
			positive = append(positive, v)
		}
	}
	return Median(positive)
}

// OLSSlope returns the ordinary-least-squares slope of values against their
// indices (0, 1, 2, ...), or nil when fewer than two points exist. Callers
// pass series in chronological order, oldest first.
func OLSSlope(values []float64) *float64 {
	n := len(values)
	if n < 2 {
		return nil
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, y := range values {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	den := float64(n)*sumXX - sumX*sumX
	if den == 0 {
		return nil
	}
	slope := (float64(n)*sumXY - sumX*sumY) / den
	return &slope
}

// PercentDelta returns (current − baseline) / baseline × 100, defined only
// when baseline is present and > 0.
func PercentDelta(current float64, baseline *float64) *float64 {
	if baseline == nil || *baseline <= 0 {
		return nil
	}
	d := (current - *baseline) / *baseline * 100
	return &d
}

// PercentChange returns the single-step percent change from prev to current,
// defined only when prev > 0.
func PercentChange(current, prev float64) *float64 {
	if prev <= 0 {
		return nil
	}
	d := (current - prev) / prev * 100
	return &d
}
