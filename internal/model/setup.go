package model

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"stratengine/internal/timeframe"
)

// Direction of a setup.
type Direction int

const (
	Bear Direction = -1
	Bull Direction = 1
)

func (d Direction) String() string {
	switch d {
	case Bull:
		return "bull"
	case Bear:
		return "bear"
	default:
		return "none"
	}
}

// Pattern is the [target, trigger] strat pair a setup was built from.
type Pattern [2]StratID

func (p Pattern) String() string {
	return string(p[0]) + "-" + string(p[1])
}

// ParsePattern is the inverse of Pattern.String.
func ParsePattern(s string) (Pattern, error) {
	a, b, ok := strings.Cut(s, "-")
	if !ok || a == "" || b == "" {
		return Pattern{}, fmt.Errorf("invalid pattern %q", s)
	}
	return Pattern{StratID(a), StratID(b)}, nil
}

// MarshalText encodes the pattern as "1-2U".
func (p Pattern) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// UnmarshalText decodes "1-2U".
func (p *Pattern) UnmarshalText(b []byte) error {
	v, err := ParsePattern(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// State is the lifecycle tag of a setup. The alert flags on Setup move
// independently of it.
type State string

const (
	StatePending   State = "PENDING"
	StateInForce   State = "IN_FORCE"
	StateMagnitude State = "MAGNITUDE"
	StateNegated   State = "NEGATED"
	StateExpired   State = "EXPIRED"
	StateRetired   State = "RETIRED"
)

// Terminal reports whether no further evaluation happens in this state.
func (s State) Terminal() bool {
	return s == StateNegated || s == StateExpired || s == StateRetired
}

// NegatedReason codes are persisted; do not renumber.
type NegatedReason int

const (
	ReasonRRMinimum    NegatedReason = 1
	ReasonTFCConflict  NegatedReason = 2
	ReasonMagThreshold NegatedReason = 3
	ReasonContinuation NegatedReason = 4
)

func (r NegatedReason) String() string {
	switch r {
	case ReasonRRMinimum:
		return "RR_MINIMUM"
	case ReasonTFCConflict:
		return "TFC_CONFLICT"
	case ReasonMagThreshold:
		return "MAG_THRESHOLD"
	case ReasonContinuation:
		return "CONTINUATION"
	default:
		return fmt.Sprintf("REASON_%d", int(r))
	}
}

// Field identifies a mutable setup column for change tracking.
type Field uint32

const (
	FieldTrigger Field = 1 << iota
	FieldTarget
	FieldRR
	FieldPotentialOutside
	FieldInForce
	FieldInForceAlerted
	FieldHitMagnitude
	FieldMagnitudeAlerted
	FieldNegated
	FieldState
	FieldExpires
	FieldInitialTrigger
	FieldLastTriggered
	FieldTriggerCount
)

// Has reports whether all bits of x are set.
func (f Field) Has(x Field) bool { return f&x == x }

// Setup is a tradeable trigger/target/stop derived from a closed bar pair.
//
// Mutable state changes only through the methods below so that Dirty()
// reflects exactly the columns that need writing. Once the state is
// terminal every mutator is a no-op.
type Setup struct {
	ID        int64                `json:"id"`
	Symbol    string               `json:"symbol"`
	Class     timeframe.SymbolType `json:"class"`
	TF        timeframe.Timeframe  `json:"tf"`
	Direction Direction            `json:"direction"`
	Timestamp time.Time            `json:"timestamp"` // trigger bar start
	Pattern   Pattern              `json:"pattern"`   // as detected; part of Key
	Priority  int                  `json:"priority"`
	Shape     string               `json:"shape,omitempty"`
	PMG       int                  `json:"pmg"`

	Trigger float64   `json:"trigger"`
	Target  float64   `json:"target"`           // 0 when no target exists
	Targets []float64 `json:"targets,omitempty"` // ladder found at detection, nearest first
	Stop    float64   `json:"stop"`
	RR      float64   `json:"rr"`

	TriggerBar Bar `json:"trigger_bar"`
	TargetBar  Bar `json:"target_bar"`

	PotentialOutside     bool            `json:"potential_outside"`
	InForce              bool            `json:"in_force"`
	InForceAlerted       bool            `json:"in_force_alerted"`
	InForceLastAlerted   time.Time       `json:"in_force_last_alerted"`
	HitMagnitude         bool            `json:"hit_magnitude"`
	MagnitudeAlerted     bool            `json:"magnitude_alerted"`
	MagnitudeLastAlerted time.Time       `json:"magnitude_last_alerted"`
	Negated              bool            `json:"negated"`
	NegatedReasons       []NegatedReason `json:"negated_reasons,omitempty"`
	State                State           `json:"state"`
	Expires              time.Time       `json:"expires"` // zero until the calendar resolves it
	InitialTrigger       time.Time       `json:"initial_trigger"`
	LastTriggered        time.Time       `json:"last_triggered"`
	TriggerCount         int             `json:"trigger_count"`

	dirty Field
}

// Key returns the uniqueness key (symbol, timeframe, pattern, direction, timestamp).
func (s *Setup) Key() string {
	return fmt.Sprintf("%s|%s|%s|%d|%d", s.Symbol, s.TF, s.Pattern, s.Direction, s.Timestamp.Unix())
}

// HasTarget reports whether a target level exists.
func (s *Setup) HasTarget() bool { return s.Target > 0 }

// Dirty returns the fields changed since the last ClearDirty.
func (s *Setup) Dirty() Field { return s.dirty }

// ClearDirty resets change tracking after a successful write.
func (s *Setup) ClearDirty() { s.dirty = 0 }

func (s *Setup) touch(f Field) { s.dirty |= f }

func (s *Setup) frozen() bool { return s.State.Terminal() }

// SetTrigger repoints the trigger level.
func (s *Setup) SetTrigger(v float64) {
	if s.frozen() || s.Trigger == v {
		return
	}
	s.Trigger = v
	s.touch(FieldTrigger)
}

// SetTarget repoints the target level.
func (s *Setup) SetTarget(v float64) {
	if s.frozen() || s.Target == v {
		return
	}
	s.Target = v
	s.touch(FieldTarget)
}

// SetRR updates the risk:reward ratio.
func (s *Setup) SetRR(v float64) {
	if s.frozen() || s.RR == v {
		return
	}
	s.RR = v
	s.touch(FieldRR)
}

// CurrentPattern is the pattern as reported in alerts: the detected pair,
// or [trigger, P3] once the trigger bar is turning into an outside bar.
func (s *Setup) CurrentPattern() Pattern {
	if s.PotentialOutside {
		return Pattern{s.Pattern[1], StratP3}
	}
	return s.Pattern
}

// MarkPotentialOutside flags the trigger bar as turning into an outside
// bar. One-way. Pattern is left alone so Key stays stable.
func (s *Setup) MarkPotentialOutside() {
	if s.frozen() || s.PotentialOutside {
		return
	}
	s.PotentialOutside = true
	s.touch(FieldPotentialOutside)
}

// SetInForce records whether price is through the trigger. Each false→true
// transition bumps TriggerCount; the first stamps InitialTrigger.
func (s *Setup) SetInForce(v bool, now time.Time) {
	if s.frozen() {
		return
	}
	if v {
		if !s.InForce {
			s.TriggerCount++
			s.touch(FieldTriggerCount)
		}
		if s.InitialTrigger.IsZero() {
			s.InitialTrigger = now
			s.touch(FieldInitialTrigger)
		}
		s.LastTriggered = now
		s.touch(FieldLastTriggered)
		if s.State == StatePending {
			s.setState(StateInForce)
		}
	}
	if s.InForce != v {
		s.InForce = v
		s.touch(FieldInForce)
	}
}

// MarkHitMagnitude sets hit_magnitude. Never resets.
func (s *Setup) MarkHitMagnitude() {
	if s.frozen() || s.HitMagnitude {
		return
	}
	s.HitMagnitude = true
	s.touch(FieldHitMagnitude)
	s.setState(StateMagnitude)
}

// MarkInForceAlerted sets the in-force alert flag. Never resets.
func (s *Setup) MarkInForceAlerted(at time.Time) {
	if s.frozen() || s.InForceAlerted {
		return
	}
	s.InForceAlerted = true
	s.InForceLastAlerted = at
	s.touch(FieldInForceAlerted)
}

// MarkMagnitudeAlerted sets the magnitude alert flag. Never resets.
func (s *Setup) MarkMagnitudeAlerted(at time.Time) {
	if s.frozen() || s.MagnitudeAlerted {
		return
	}
	s.MagnitudeAlerted = true
	s.MagnitudeLastAlerted = at
	s.touch(FieldMagnitudeAlerted)
}

// SetExpires stores a resolved expiry.
func (s *Setup) SetExpires(t time.Time) {
	if s.frozen() || s.Expires.Equal(t) {
		return
	}
	s.Expires = t
	s.touch(FieldExpires)
}

// Negate makes the setup terminal with the given reason.
func (s *Setup) Negate(r NegatedReason) {
	if s.frozen() {
		return
	}
	s.Negated = true
	s.NegatedReasons = addReason(s.NegatedReasons, r)
	s.touch(FieldNegated)
	s.setState(StateNegated)
}

// Expire makes the setup terminal because its calendar window closed.
func (s *Setup) Expire() {
	if s.frozen() {
		return
	}
	s.setState(StateExpired)
}

// Retire makes the setup terminal after its magnitude alert went out.
func (s *Setup) Retire() {
	if s.frozen() {
		return
	}
	s.setState(StateRetired)
}

func (s *Setup) setState(st State) {
	if s.State == st {
		return
	}
	s.State = st
	s.touch(FieldState)
}

func addReason(rs []NegatedReason, r NegatedReason) []NegatedReason {
	for _, x := range rs {
		if x == r {
			return rs
		}
	}
	rs = append(rs, r)
	sort.Slice(rs, func(i, j int) bool { return rs[i] < rs[j] })
	return rs
}

// Alert builds the event for a milestone at the current price.
func (s *Setup) Alert(m Milestone, price float64, at time.Time) AlertEvent {
	return AlertEvent{
		SetupID:   s.ID,
		Symbol:    s.Symbol,
		Class:     s.Class,
		TF:        s.TF,
		Direction: s.Direction,
		Pattern:   s.CurrentPattern(),
		Trigger:   s.Trigger,
		Target:    s.Target,
		Targets:   s.Targets,
		Priority:  s.Priority,
		Shape:     s.Shape,
		Milestone: m,
		Price:     price,
		At:        at,
	}
}
