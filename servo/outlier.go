/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package servo

import (
	"math"

	"github.com/eclesh/welford"
)

// OutlierFilterConfig configures the optional Peirce's-criterion delay/
// offset outlier filter.
type OutlierFilterConfig struct {
	Enabled bool
	// WindowSize is the number of samples the running mean/stddev covers
	// before autotune re-evaluates the threshold.
	WindowSize int
	// Threshold is the initial acceptance band width in standard
	// deviations from the running mean.
	Threshold float64
	MinThreshold float64
	MaxThreshold float64
	ThresholdStep float64
	// MinPercent/MaxPercent bound the acceptable discard rate per window;
	// autotune nudges Threshold when the observed rate drifts outside it.
	MinPercent float64
	MaxPercent float64
	// Weight in [0.01, 2.0] blends a rejected sample's replacement value
	// between the running mean (0) and the raw sample (as weight -> high).
	Weight float64

	// StepLevel is the absolute delay threshold (ns) above which the
	// step-detect sub-filter blocks updates outright, within
	// StepThreshold standard deviations.
	StepLevel     float64
	StepThreshold float64
	// StepCredit is the depletable budget of consecutive blocks allowed;
	// it recharges by one every WindowSize samples.
	StepCredit int
}

// DefaultOutlierFilterConfig matches ptpd's outlierfilter.c defaults.
func DefaultOutlierFilterConfig() OutlierFilterConfig {
	return OutlierFilterConfig{
		Enabled:       false,
		WindowSize:    30,
		Threshold:     1.0,
		MinThreshold:  0.5,
		MaxThreshold:  5.0,
		ThresholdStep: 0.1,
		MinPercent:    1.0,
		MaxPercent:    10.0,
		Weight:        1.0,
		StepLevel:     1e9, // 1 second, ns
		StepThreshold: 6.0,
		StepCredit:    10,
	}
}

// OutlierFilter smooths out individual bad delay/offset samples using a
// Peirce's-criterion-style acceptance band around a running mean/stddev,
// with an autotuned threshold and a separate step-detect guard.
type OutlierFilter struct {
	cfg OutlierFilterConfig

	raw      *welford.Stats
	filtered *welford.Stats

	windowSamples  int
	windowOutliers int
	threshold      float64

	stepCredit    int
	samplesInStep int

	lastOutlier bool
}

// NewOutlierFilter constructs a filter from cfg. If cfg.Enabled is false,
// Sample is a passthrough.
func NewOutlierFilter(cfg OutlierFilterConfig) *OutlierFilter {
	if cfg.Weight <= 0 {
		cfg.Weight = 1.0
	}
	if cfg.Weight > 2.0 {
		cfg.Weight = 2.0
	}
	if cfg.Weight < 0.01 {
		cfg.Weight = 0.01
	}
	return &OutlierFilter{
		cfg:        cfg,
		raw:        welford.New(),
		filtered:   welford.New(),
		threshold:  cfg.Threshold,
		stepCredit: cfg.StepCredit,
	}
}

// LastWasOutlier reports whether the most recent Sample call rejected its
// input.
func (f *OutlierFilter) LastWasOutlier() bool { return f.lastOutlier }

// Sample feeds one raw sample (nanoseconds) through the filter and returns
// the value to actually use downstream, and whether a clock update should
// be blocked entirely (the step-detect guard tripped and credit is
// exhausted).
func (f *OutlierFilter) Sample(value float64) (out float64, blockUpdate bool) {
	if !f.cfg.Enabled {
		return value, false
	}

	f.raw.Add(value)
	mean := f.raw.Mean()
	stddev := f.raw.Stddev()

	f.lastOutlier = false
	out = value

	if stddev > 0 && math.Abs(value-mean) > f.threshold*stddev {
		f.lastOutlier = true
		out = mean + f.cfg.Weight*(value-mean)
	}

	if math.Abs(value) > f.cfg.StepLevel && (stddev == 0 || math.Abs(value-mean) > f.cfg.StepThreshold*stddev) {
		if f.stepCredit > 0 {
			f.stepCredit--
			blockUpdate = true
		}
	}

	f.filtered.Add(out)
	f.tune()
	return out, blockUpdate
}

func (f *OutlierFilter) tune() {
	f.windowSamples++
	if f.lastOutlier {
		f.windowOutliers++
	}
	f.samplesInStep++
	if f.samplesInStep >= f.cfg.WindowSize {
		if f.stepCredit < f.cfg.StepCredit {
			f.stepCredit++
		}
		f.samplesInStep = 0
	}
	if f.windowSamples < f.cfg.WindowSize {
		return
	}
	pct := (float64(f.windowOutliers) / float64(f.windowSamples)) * 100.0
	switch {
	case pct < f.cfg.MinPercent:
		f.threshold -= f.cfg.ThresholdStep
	case pct > f.cfg.MaxPercent:
		f.threshold += f.cfg.ThresholdStep
	}
	if f.threshold < f.cfg.MinThreshold {
		f.threshold = f.cfg.MinThreshold
	}
	if f.threshold > f.cfg.MaxThreshold {
		f.threshold = f.cfg.MaxThreshold
	}
	f.windowSamples = 0
	f.windowOutliers = 0
}
