// Package power reads battery charge and charging state from the host.
package power

import (
	"fmt"
	"math"
	"sync"

	"github.com/distatus/battery"

	"github.com/joescharf/buildbench/internal/prompt"
)

// ChargingState is the plugged/charging state of the primary battery.
type ChargingState int

const (
	StateUnknown ChargingState = iota
	StateCharging
	StateDischarging
	StateFull
)

func (s ChargingState) String() string {
	switch s {
	case StateCharging:
		return "charging"
	case StateDischarging:
		return "discharging"
	case StateFull:
		return "full"
	default:
		return "unknown"
	}
}

// PluggedIn reports whether the machine is drawing from external power.
func (s ChargingState) PluggedIn() bool {
	return s == StateCharging || s == StateFull
}

// State is a single fresh reading of the power sensor.
type State struct {
	Percentage int
	Charging   ChargingState
}

// Monitor reads the host power state. Readings are never cached.
type Monitor interface {
	ChargePercentage() (int, error)
	ChargingState() (ChargingState, error)
}

// Read takes one reading of both values.
func Read(m Monitor) (State, error) {
	pct, err := m.ChargePercentage()
	if err != nil {
		return State{}, err
	}
	cs, err := m.ChargingState()
	if err != nil {
		return State{}, err
	}
	return State{Percentage: pct, Charging: cs}, nil
}

// NoBatteryQuestion is asked once per process when no battery is found.
const NoBatteryQuestion = "No battery detected. This benchmark is meant for laptops and loops compiling until the battery runs out. Would you like to continue anyway?"

// BatteryMonitor implements Monitor using the host's battery driver.
type BatteryMonitor struct {
	list    func() ([]*battery.Battery, error)
	confirm prompt.Confirmer

	once    sync.Once
	allowed bool
}

var _ Monitor = (*BatteryMonitor)(nil)

// NewBatteryMonitor returns a monitor that asks c before treating a
// battery-less machine as unplugged.
func NewBatteryMonitor(c prompt.Confirmer) *BatteryMonitor {
	return &BatteryMonitor{list: battery.GetAll, confirm: c}
}

func (m *BatteryMonitor) primary() (*battery.Battery, error) {
	batteries, err := m.list()
	if err != nil && len(batteries) == 0 {
		return nil, fmt.Errorf("read battery: %w", err)
	}
	for _, b := range batteries {
		if b != nil {
			return b, nil
		}
	}
	return nil, nil
}

// Present reports whether the host exposes a battery.
func (m *BatteryMonitor) Present() (bool, error) {
	b, err := m.primary()
	if err != nil {
		return false, err
	}
	return b != nil, nil
}

// ChargePercentage returns the state of charge rounded down, or 100 when the
// host has no battery.
func (m *BatteryMonitor) ChargePercentage() (int, error) {
	b, err := m.primary()
	if err != nil {
		return 0, err
	}
	if b == nil {
		return 100, nil
	}
	if b.Full <= 0 {
		return 0, fmt.Errorf("read battery: full capacity reported as %v", b.Full)
	}
	pct := int(math.Floor(b.Current / b.Full * 100))
	return min(max(pct, 0), 100), nil
}

// ChargingState returns the battery state. Without a battery it answers
// StateDischarging, after asking the confirmer once per monitor whether to
// carry on; a refusal is returned as prompt.ErrDeclined on every call.
func (m *BatteryMonitor) ChargingState() (ChargingState, error) {
	b, err := m.primary()
	if err != nil {
		return StateUnknown, err
	}
	if b == nil {
		m.once.Do(func() {
			m.allowed = m.confirm == nil || m.confirm.Confirm(NoBatteryQuestion)
		})
		if !m.allowed {
			return StateDischarging, prompt.ErrDeclined
		}
		return StateDischarging, nil
	}
	return fromAgnosticState(b.State.Raw), nil
}

func fromAgnosticState(s battery.AgnosticState) ChargingState {
	switch s {
	case battery.Charging:
		return StateCharging
	// Idle batteries sit on AC power without charging.
	case battery.Full, battery.Idle:
		return StateFull
	case battery.Discharging, battery.Empty:
		return StateDischarging
	default:
		return StateUnknown
	}
}
