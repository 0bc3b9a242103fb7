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

import "time"

// Action is what the engine should do with a computed offset.
type Action uint8

// Possible servo actions.
const (
	ActionSlew Action = iota
	ActionStep
	ActionPanic
	ActionSuspend
)

// StepPolicyConfig governs the step-vs-slew and panic-mode decision.
type StepPolicyConfig struct {
	EnablePanicMode    bool
	PanicModeDuration  time.Duration
	NoStep             bool
	StepOnce           bool
	AllowStepBackwards bool
	// StepThreshold is the |offset| above which a step (rather than a
	// slew) is considered at all; 1s per the 1588 "one second rule".
	StepThreshold time.Duration
}

// DefaultStepPolicyConfig matches ptpd's defaults: panic mode on, one
// second threshold, no step after the first sync.
func DefaultStepPolicyConfig() StepPolicyConfig {
	return StepPolicyConfig{
		EnablePanicMode:   true,
		PanicModeDuration: 2 * time.Minute,
		NoStep:            true,
		StepOnce:          true,
		StepThreshold:     time.Second,
	}
}

// StepPolicy decides, for each offset sample, whether to slew, step,
// suspend clock updates (panic mode), or decline (blocked by NoStep). It
// is stateful only in that it remembers whether the first sync has
// already been consumed (for StepOnce), whether panic mode is active,
// and whether the current excursion has already run a panic window to
// completion - a persisting excursion doesn't re-enter panic a second
// time, it falls through to the step decision below.
type StepPolicy struct {
	cfg StepPolicyConfig

	firstSyncSeen bool
	panicUntil    time.Time
	inPanic       bool
	panicked      bool
}

// NewStepPolicy builds a StepPolicy from cfg.
func NewStepPolicy(cfg StepPolicyConfig) *StepPolicy {
	return &StepPolicy{cfg: cfg}
}

// InPanic reports whether panic mode is currently suspending updates.
func (p *StepPolicy) InPanic(now time.Time) bool {
	if p.inPanic && now.After(p.panicUntil) {
		p.inPanic = false
		p.panicked = true
	}
	return p.inPanic
}

// Decide classifies offset (may be negative) observed at now.
func (p *StepPolicy) Decide(now time.Time, offset time.Duration) Action {
	if p.InPanic(now) {
		return ActionSuspend
	}

	abs := offset
	if abs < 0 {
		abs = -abs
	}

	if abs < p.cfg.StepThreshold {
		p.firstSyncSeen = true
		p.panicked = false
		return ActionSlew
	}

	// |offset| >= threshold: panic mode takes priority, once per
	// excursion. Once its window has elapsed and the offset still
	// hasn't recovered, fall through to the step decision instead of
	// re-arming another panic window.
	if p.cfg.EnablePanicMode && !p.panicked {
		p.inPanic = true
		p.panicUntil = now.Add(p.cfg.PanicModeDuration)
		p.firstSyncSeen = true
		return ActionPanic
	}

	stepAllowed := !p.cfg.NoStep
	if !p.firstSyncSeen && p.cfg.StepOnce {
		stepAllowed = true
	}
	p.firstSyncSeen = true

	if offset < 0 && !p.cfg.AllowStepBackwards {
		stepAllowed = false
	}

	if stepAllowed {
		return ActionStep
	}
	return ActionSlew
}
