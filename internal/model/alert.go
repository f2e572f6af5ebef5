package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"stratengine/internal/timeframe"
)

// Milestone is the lifecycle point an alert announces.
type Milestone string

const (
	MilestoneInForce   Milestone = "IN_FORCE"
	MilestoneMagnitude Milestone = "MAGNITUDE"
)

// AlertEvent is emitted at most once per milestone per setup.
type AlertEvent struct {
	SetupID   int64                `json:"setup_id"`
	Symbol    string               `json:"symbol"`
	Class     timeframe.SymbolType `json:"class"`
	TF        timeframe.Timeframe  `json:"tf"`
	Direction Direction            `json:"direction"`
	Pattern   Pattern              `json:"pattern"`
	Trigger   float64              `json:"trigger"`
	Target    float64              `json:"target"`
	Targets   []float64            `json:"targets,omitempty"`
	Priority  int                  `json:"priority"`
	Shape     string               `json:"shape,omitempty"`
	Milestone Milestone            `json:"milestone"`
	Price     float64              `json:"price"`
	At        time.Time            `json:"at"`

	// Continuity of the symbol at alert time; FTFC is 0 without full continuity.
	TFC  Continuity `json:"tfc,omitempty"`
	FTFC Direction  `json:"ftfc"`
}

// Title is a one-line summary used by chat sinks.
func (a *AlertEvent) Title() string {
	return fmt.Sprintf("%s %s %s %s", a.Symbol, a.TF, a.Direction, a.Milestone)
}

// Message is the alert body used by chat sinks.
func (a *AlertEvent) Message() string {
	msg := fmt.Sprintf("pattern %s trigger %.4f target %.4f price %.4f (p%d)",
		a.Pattern, a.Trigger, a.Target, a.Price, a.Priority)
	if len(a.Targets) > 1 {
		parts := make([]string, len(a.Targets))
		for i, t := range a.Targets {
			parts[i] = strconv.FormatFloat(t, 'f', -1, 64)
		}
		msg += " targets " + strings.Join(parts, "/")
	}
	if a.FTFC != 0 {
		msg += " ftfc " + a.FTFC.String()
	}
	return msg
}
