// Package lift controls the AlohaMini lead-screw lift axis (Z-axis):
// one STS3215 in velocity mode, multi-turn position tracking over the
// wrapping single-turn encoder, stall-based homing against the lower
// hard stop, and a proportional height loop in millimeters.
package lift

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/gwillem/lekiwi/pkg/bus"
)

// Config holds the lift axis configuration. Mechanical defaults match
// the AlohaMini lead screw.
type Config struct {
	Enabled    bool   `json:"enabled"`
	Name       string `json:"name"`
	MotorID    int    `json:"motor_id"`
	MotorModel string `json:"motor_model"`

	// Mechanics: one servo revolution is 360 degrees / 4096 ticks.
	LeadMMPerRev float64 `json:"lead_mm_per_rev"` // screw travel per revolution
	GearRatio    float64 `json:"gear_ratio"`      // servo angle to screw angle
	SoftMinMM    float64 `json:"soft_min_mm"`
	SoftMaxMM    float64 `json:"soft_max_mm"`

	// Homing: descend into the hard stop until stall.
	HomeDownSpeed      int     `json:"home_down_speed"`       // raw velocity units
	HomeStallCurrentMA float64 `json:"home_stall_current_ma"` // stall threshold

	// Height loop.
	KpVel      float64 `json:"kp_vel"`       // raw velocity units per mm of error
	VMax       int     `json:"v_max"`        // raw velocity ceiling
	OnTargetMM float64 `json:"on_target_mm"` // error band considered reached

	DirSign int     `json:"dir_sign"` // +1 or -1, flips the mechanical sense
	StepMM  float64 `json:"step_mm"`  // per-keypress height step
}

// DefaultConfig returns the AlohaMini lift configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		Name:               "lift_axis",
		MotorID:            11,
		MotorModel:         "sts3215",
		LeadMMPerRev:       84,
		GearRatio:          1.0,
		SoftMinMM:          0,
		SoftMaxMM:          600,
		HomeDownSpeed:      1000,
		HomeStallCurrentMA: 60,
		KpVel:              300,
		VMax:               1000,
		OnTargetMM:         1.0,
		DirSign:            -1,
		StepMM:             10,
	}
}

const (
	ticksPerRev = 4096.0
	degPerTick  = 360.0 / ticksPerRev

	// currentScaleMA converts the Present_Current raw reading to mA.
	currentScaleMA = 6.5

	homeSampleInterval = 50 * time.Millisecond
	homeMaxSamples     = 600 // ~30 s at 50 ms
	homeSettleTime     = time.Second
	homeStallDebounce  = 2
	homeMinMoveTicks   = 10
)

// HomeResult reports how a homing run terminated. The zero reference is
// set on both paths; Stalled distinguishes a detected hard stop from an
// exhausted sample budget.
type HomeResult struct {
	Stalled    bool
	Iterations int
	HeightMM   float64
}

// LiftAxis drives the lift over a shared motor bus. All state is owned
// here and mutated only by these methods; callers use it from a single
// goroutine (the control loop).
type LiftAxis struct {
	cfg     Config
	bus     bus.Bus
	enabled bool

	mmPerDeg float64

	lastTick      float64 // last raw encoder sample, [0, ticksPerRev)
	extendedTicks float64 // unwrapped accumulator, unbounded
	zeroRefDeg    float64 // extended angle defined as height 0, set by Home

	targetMM  float64
	hasTarget bool

	configured bool

	sleep func(ctx context.Context, d time.Duration) error
}

// New binds a lift axis to a bus. A nil bus or a disabled config yields
// an axis whose methods are all no-ops.
func New(cfg Config, b bus.Bus) *LiftAxis {
	return &LiftAxis{
		cfg:      cfg,
		bus:      b,
		enabled:  cfg.Enabled && b != nil,
		mmPerDeg: cfg.LeadMMPerRev * cfg.GearRatio / 360.0,
		sleep:    sleepCtx,
	}
}

// Enabled reports whether the axis is active.
func (l *LiftAxis) Enabled() bool { return l.enabled }

// Config returns the axis configuration.
func (l *LiftAxis) Config() Config { return l.cfg }

// KeyHeight is the action/observation key for the height target.
func (l *LiftAxis) KeyHeight() string { return l.cfg.Name + ".height_mm" }

// KeyVelocity is the action/observation key for direct velocity.
func (l *LiftAxis) KeyVelocity() string { return l.cfg.Name + ".vel" }

// Attach registers the lift motor in the bus registry. Idempotent.
func (l *LiftAxis) Attach() {
	if !l.enabled {
		return
	}
	motors := l.bus.Motors()
	if _, ok := motors[l.cfg.Name]; !ok {
		motors[l.cfg.Name] = bus.Motor{ID: l.cfg.MotorID, Model: l.cfg.MotorModel}
	}
}

// Configure puts the motor in velocity mode and seeds the multi-turn
// tick tracking. Runs at most once per attach lifecycle: re-seeding
// lastTick after tracking began would corrupt the accumulator.
func (l *LiftAxis) Configure(ctx context.Context) error {
	if !l.enabled || l.configured {
		return nil
	}
	if err := l.bus.Write(ctx, bus.ItemOperatingMode, l.cfg.Name, bus.OperatingModeVelocity); err != nil {
		return fmt.Errorf("set velocity mode: %w", err)
	}
	tick, err := l.bus.Read(ctx, bus.ItemPresentPosition, l.cfg.Name)
	if err != nil {
		return fmt.Errorf("seed tick tracking: %w", err)
	}
	l.lastTick = float64(tick)
	l.extendedTicks = 0
	l.configured = true
	return nil
}

// updateExtendedTicks folds the current raw encoder sample into the
// unwrapped accumulator. A delta larger than half a revolution is a
// wrap: the axis cannot spin that far between samples.
func (l *LiftAxis) updateExtendedTicks(ctx context.Context) error {
	if !l.enabled {
		return nil
	}
	cur, err := l.bus.Read(ctx, bus.ItemPresentPosition, l.cfg.Name)
	if err != nil {
		return err
	}
	delta := float64(cur) - l.lastTick
	const half = ticksPerRev / 2
	if delta > half {
		delta -= ticksPerRev
	} else if delta < -half {
		delta += ticksPerRev
	}
	l.extendedTicks += delta
	l.lastTick = float64(cur)
	return nil
}

func (l *LiftAxis) extendedDeg() float64 {
	return float64(l.cfg.DirSign) * l.extendedTicks * degPerTick
}

// HeightMM samples the encoder and returns the current height relative
// to the homed zero reference. Returns 0 for a disabled axis.
func (l *LiftAxis) HeightMM(ctx context.Context) (float64, error) {
	if !l.enabled {
		return 0, nil
	}
	if err := l.updateExtendedTicks(ctx); err != nil {
		return 0, err
	}
	return (l.extendedDeg() - l.zeroRefDeg) * l.mmPerDeg, nil
}

// Home drives the axis down until it stalls against the lower hard
// stop, then releases torque, lets the mechanism settle and declares
// the resulting position height 0. Blocking for up to ~30 s; never call
// it from inside the steady-state control loop.
//
// Stall is current above threshold (when useCurrent and the reading
// succeeds) or fewer than 10 ticks of movement per sample, debounced
// over two consecutive samples so a single noisy reading cannot end the
// descent early.
func (l *LiftAxis) Home(ctx context.Context, useCurrent bool) (HomeResult, error) {
	if !l.enabled {
		return HomeResult{}, nil
	}
	if err := l.Configure(ctx); err != nil {
		return HomeResult{}, err
	}
	name := l.cfg.Name

	// The axis may have moved since the last sample; re-read so the
	// first movement check compares against the position at homing
	// start, not a stale tick.
	if err := l.updateExtendedTicks(ctx); err != nil {
		return HomeResult{}, fmt.Errorf("sample start position: %w", err)
	}

	if err := l.bus.Write(ctx, bus.ItemGoalVelocity, name, l.cfg.HomeDownSpeed); err != nil {
		return HomeResult{}, fmt.Errorf("start descent: %w", err)
	}

	var result HomeResult
	stuck := 0
	prevTick := l.lastTick
	for i := 0; i < homeMaxSamples; i++ {
		result.Iterations = i + 1
		if err := l.sleep(ctx, homeSampleInterval); err != nil {
			return result, err
		}
		if err := l.updateExtendedTicks(ctx); err != nil {
			return result, fmt.Errorf("sample position: %w", err)
		}
		moved := math.Abs(l.lastTick-prevTick) > homeMinMoveTicks
		prevTick = l.lastTick

		currentMA := 0.0
		if useCurrent {
			// A failed current read degrades stall detection to
			// movement-only; it does not abort homing.
			if raw, err := l.bus.Read(ctx, bus.ItemPresentCurrent, name); err == nil {
				currentMA = float64(raw) * currentScaleMA
			}
		}

		if (useCurrent && currentMA >= l.cfg.HomeStallCurrentMA) || !moved {
			stuck++
		} else {
			stuck = 0
		}
		if stuck >= homeStallDebounce {
			result.Stalled = true
			break
		}
	}

	// Release torque so the mechanism settles off the hard stop before
	// the zero reference is taken.
	if err := l.bus.Write(ctx, bus.ItemTorqueEnable, name, 0); err != nil {
		return result, fmt.Errorf("release torque: %w", err)
	}
	if err := l.sleep(ctx, homeSettleTime); err != nil {
		return result, err
	}
	if err := l.updateExtendedTicks(ctx); err != nil {
		return result, fmt.Errorf("sample settled position: %w", err)
	}
	l.zeroRefDeg = l.extendedDeg()

	h, err := l.HeightMM(ctx)
	if err != nil {
		return result, err
	}
	result.HeightMM = h
	return result, nil
}

// SetHeightTargetMM stores a pending height target, clamped to the soft
// range. Motion starts on the next Update call.
func (l *LiftAxis) SetHeightTargetMM(mm float64) {
	if !l.enabled {
		return
	}
	l.targetMM = clamp(mm, l.cfg.SoftMinMM, l.cfg.SoftMaxMM)
	l.hasTarget = true
}

// Target returns the pending height target, if any.
func (l *LiftAxis) Target() (float64, bool) {
	return l.targetMM, l.hasTarget
}

// ClearTarget cancels the pending target and commands zero velocity.
func (l *LiftAxis) ClearTarget(ctx context.Context) error {
	if !l.enabled {
		return nil
	}
	l.hasTarget = false
	return l.bus.Write(ctx, bus.ItemGoalVelocity, l.cfg.Name, 0)
}

// Update runs one height-loop tick. Call it at a steady rate (50-100 Hz
// works well); the controller does no internal timing. Once the target
// is reached within OnTargetMM the target is cleared and the motor
// stopped, so the loop cannot hunt around the setpoint.
func (l *LiftAxis) Update(ctx context.Context) error {
	if !l.enabled || !l.hasTarget {
		return nil
	}
	cur, err := l.HeightMM(ctx)
	if err != nil {
		return err
	}
	errMM := l.targetMM - cur
	if math.Abs(errMM) <= l.cfg.OnTargetMM {
		l.hasTarget = false
		return l.bus.Write(ctx, bus.ItemGoalVelocity, l.cfg.Name, 0)
	}
	v := clamp(l.cfg.KpVel*errMM, -float64(l.cfg.VMax), float64(l.cfg.VMax))
	return l.bus.Write(ctx, bus.ItemGoalVelocity, l.cfg.Name, l.cfg.DirSign*int(v))
}

// ApplyAction consumes lift keys from an action map. A height key sets
// the pending target; a direct-velocity key bypasses the height loop,
// clears any pending target, and is zeroed when the axis already sits
// at a soft limit and the command would push further out.
func (l *LiftAxis) ApplyAction(ctx context.Context, action map[string]float64) error {
	if !l.enabled {
		return nil
	}
	if mm, ok := action[l.KeyHeight()]; ok {
		l.SetHeightTargetMM(mm)
	}
	if vf, ok := action[l.KeyVelocity()]; ok {
		l.hasTarget = false
		v := int(clamp(vf, -float64(l.cfg.VMax), float64(l.cfg.VMax)))
		// Boundary guard: a failed height read skips the guard rather
		// than blocking the command.
		if cur, err := l.HeightMM(ctx); err == nil {
			if (cur >= l.cfg.SoftMaxMM && v > 0) || (cur <= l.cfg.SoftMinMM && v < 0) {
				v = 0
			}
		}
		if err := l.bus.Write(ctx, bus.ItemGoalVelocity, l.cfg.Name, v*l.cfg.DirSign); err != nil {
			return fmt.Errorf("direct velocity: %w", err)
		}
	}
	return nil
}

// ContributeObservation adds the lift height and raw velocity readback
// to a shared observation map. Existing keys are left alone.
func (l *LiftAxis) ContributeObservation(ctx context.Context, obs map[string]float64) error {
	if !l.enabled {
		return nil
	}
	h, err := l.HeightMM(ctx)
	if err != nil {
		return err
	}
	obs[l.KeyHeight()] = h
	if v, err := l.bus.Read(ctx, bus.ItemPresentVelocity, l.cfg.Name); err == nil {
		obs[l.KeyVelocity()] = float64(v)
	}
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
