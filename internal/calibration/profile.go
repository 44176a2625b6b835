// Package calibration tracks per-domain Beta posteriors over observed
// outcome success and turns the gap between claimed confidence and observed
// success into actionable guidance.
package calibration

import (
	"fmt"
	"time"

	"gonum.org/v1/gonum/stat/distuv"
)

// Trend labels for the rolling outcome window.
const (
	TrendImproving = "improving"
	TrendStable    = "stable"
	TrendDeclining = "declining"
	TrendUnknown   = "unknown"
)

// windowSize bounds the rolling outcome window used for trend detection.
const windowSize = 20

// trendDelta is the half-window mean difference that counts as movement.
const trendDelta = 0.1

// gapThreshold separates well-calibrated from over/underconfident.
const gapThreshold = 0.15

// Profile is the per-domain posterior. Alpha and Beta start at the uniform
// prior (1,1); SampleSize excludes the prior.
type Profile struct {
	Domain          string  `json:"domain"`
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	MeanSuccessRate float64 `json:"mean_success_rate"`
	Variance        float64 `json:"variance"`
	SampleSize      int     `json:"sample_size"`
	Trend           string  `json:"trend"`
	LastUpdated     int64   `json:"last_updated"`
	Window          []bool  `json:"window,omitempty"`
}

// NewProfile returns the uniform prior for a domain.
func NewProfile(domain string) *Profile {
	p := &Profile{
		Domain: domain,
		Alpha:  1,
		Beta:   1,
		Trend:  TrendUnknown,
	}
	p.recompute()
	return p
}

// Observe folds one outcome into the posterior and the trend window.
func (p *Profile) Observe(success bool, now time.Time) {
	if success {
		p.Alpha++
	} else {
		p.Beta++
	}
	p.Window = append(p.Window, success)
	if len(p.Window) > windowSize {
		p.Window = p.Window[len(p.Window)-windowSize:]
	}
	p.LastUpdated = now.Unix()
	p.recompute()
}

func (p *Profile) recompute() {
	total := p.Alpha + p.Beta
	p.MeanSuccessRate = p.Alpha / total
	p.Variance = (p.Alpha * p.Beta) / (total * total * (total + 1))
	p.SampleSize = int(total) - 2
	p.Trend = trendOf(p.Window)
}

// trendOf compares the mean of the recent half of the window against the
// earlier half.
func trendOf(window []bool) string {
	if len(window) < 4 {
		return TrendUnknown
	}
	half := len(window) / 2
	earlier := meanOf(window[:len(window)-half])
	recent := meanOf(window[len(window)-half:])
	switch {
	case recent-earlier >= trendDelta:
		return TrendImproving
	case earlier-recent >= trendDelta:
		return TrendDeclining
	default:
		return TrendStable
	}
}

func meanOf(window []bool) float64 {
	if len(window) == 0 {
		return 0
	}
	var hits float64
	for _, ok := range window {
		if ok {
			hits++
		}
	}
	return hits / float64(len(window))
}

// CredibleInterval95 returns the central 95% interval of the posterior.
func (p *Profile) CredibleInterval95() [2]float64 {
	dist := distuv.Beta{Alpha: p.Alpha, Beta: p.Beta}
	return [2]float64{dist.Quantile(0.025), dist.Quantile(0.975)}
}

// Guidance is the caller-facing calibration summary.
type Guidance struct {
	Domain             string     `json:"domain"`
	MeanSuccessRate    float64    `json:"mean_success_rate"`
	Variance           float64    `json:"variance"`
	SampleSize         int        `json:"sample_size"`
	Trend              string     `json:"trend"`
	ConfidenceGap      float64    `json:"confidence_gap"`
	Adjustment         float64    `json:"adjustment"`
	CredibleInterval95 [2]float64 `json:"credible_interval_95"`
	Recommendation     string     `json:"recommendation"`
	LastUpdated        int64      `json:"last_updated,omitempty"`
}

// GuidanceFor scores a claimed confidence against the posterior. The
// adjustment is the shift that would have made the claim match observation.
func (p *Profile) GuidanceFor(confidence float64) Guidance {
	gap := confidence - p.MeanSuccessRate
	return Guidance{
		Domain:             p.Domain,
		MeanSuccessRate:    p.MeanSuccessRate,
		Variance:           p.Variance,
		SampleSize:         p.SampleSize,
		Trend:              p.Trend,
		ConfidenceGap:      gap,
		Adjustment:         -gap,
		CredibleInterval95: p.CredibleInterval95(),
		Recommendation:     recommendationFor(gap, p.SampleSize),
		LastUpdated:        p.LastUpdated,
	}
}

func recommendationFor(gap float64, sampleSize int) string {
	switch {
	case gap > gapThreshold:
		return fmt.Sprintf("Overconfident: stated confidence runs %.0f%% above the observed success rate over %d outcomes. Lower estimates by about %.0f%%.",
			gap*100, sampleSize, gap*100)
	case gap < -gapThreshold:
		return fmt.Sprintf("Underconfident: observed success rate runs %.0f%% above stated confidence over %d outcomes. Raise estimates by about %.0f%%.",
			-gap*100, sampleSize, -gap*100)
	default:
		return "Well-calibrated for this domain."
	}
}
