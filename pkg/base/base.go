// Package base drives the LeKiwi 3-omniwheel mobile base: three
// STS3215 wheel servos in velocity mode, commanded in the body frame
// through the kinematics transforms.
package base

import (
	"context"
	"fmt"

	"github.com/gwillem/lekiwi/pkg/bus"
	"github.com/gwillem/lekiwi/pkg/kinematics"
)

// Action/observation keys for the body velocity.
const (
	KeyVelX     = "x.vel"     // m/s
	KeyVelY     = "y.vel"     // m/s
	KeyVelTheta = "theta.vel" // deg/s
)

// Config holds the base configuration. Wheel IDs and geometry default
// to the LeKiwi build.
type Config struct {
	LeftID     int    `json:"left_id"`
	BackID     int    `json:"back_id"`
	RightID    int    `json:"right_id"`
	MotorModel string `json:"motor_model"`

	WheelRadius float64 `json:"wheel_radius"` // m
	BaseRadius  float64 `json:"base_radius"`  // m
	MaxRaw      int     `json:"max_raw"`
}

// DefaultConfig returns the LeKiwi base configuration.
func DefaultConfig() Config {
	return Config{
		LeftID:      8,
		BackID:      9,
		RightID:     10,
		MotorModel:  "sts3215",
		WheelRadius: 0.05,
		BaseRadius:  0.125,
		MaxRaw:      3000,
	}
}

// Base binds the wheel motors on a shared bus to the omni kinematics.
type Base struct {
	cfg  Config
	bus  bus.Bus
	geom kinematics.Geometry
}

// New validates the geometry and binds the base to a bus.
func New(cfg Config, b bus.Bus) (*Base, error) {
	geom, err := kinematics.NewGeometry(cfg.WheelRadius, cfg.BaseRadius, cfg.MaxRaw)
	if err != nil {
		return nil, fmt.Errorf("base geometry: %w", err)
	}
	return &Base{cfg: cfg, bus: b, geom: geom}, nil
}

// Geometry returns the base geometry.
func (b *Base) Geometry() kinematics.Geometry { return b.geom }

func (b *Base) wheelIDs() map[string]int {
	return map[string]int{
		kinematics.LeftWheel:  b.cfg.LeftID,
		kinematics.BackWheel:  b.cfg.BackID,
		kinematics.RightWheel: b.cfg.RightID,
	}
}

// Attach registers the three wheel motors in the bus registry.
// Idempotent.
func (b *Base) Attach() {
	motors := b.bus.Motors()
	for name, id := range b.wheelIDs() {
		if _, ok := motors[name]; !ok {
			motors[name] = bus.Motor{ID: id, Model: b.cfg.MotorModel}
		}
	}
}

// Configure switches every wheel to velocity mode and enables torque.
// Unlock and torque-off failures are tolerated: some firmware revisions
// reject them when already in the requested state.
func (b *Base) Configure(ctx context.Context) error {
	for _, name := range kinematics.AllWheels() {
		_ = b.bus.Write(ctx, bus.ItemLock, name, 0)
		_ = b.bus.Write(ctx, bus.ItemTorqueEnable, name, 0)
		if err := b.bus.Write(ctx, bus.ItemOperatingMode, name, bus.OperatingModeVelocity); err != nil {
			return fmt.Errorf("set %s velocity mode: %w", name, err)
		}
		if err := b.bus.Write(ctx, bus.ItemTorqueEnable, name, 1); err != nil {
			return fmt.Errorf("enable %s torque: %w", name, err)
		}
	}
	return nil
}

// SetBodyVelocity commands a body-frame velocity (x, y in m/s, theta in
// deg/s). All three wheels are written in one sync-write so they start
// together.
func (b *Base) SetBodyVelocity(ctx context.Context, x, y, thetaDegPerSec float64) error {
	cmd := b.geom.BodyToWheelRaw(x, y, thetaDegPerSec)
	if err := b.bus.SyncWrite(ctx, bus.ItemGoalVelocity, map[string]int(cmd)); err != nil {
		return fmt.Errorf("set body velocity: %w", err)
	}
	return nil
}

// Stop commands zero velocity on all wheels.
func (b *Base) Stop(ctx context.Context) error {
	zeros := make(map[string]int, 3)
	for _, name := range kinematics.AllWheels() {
		zeros[name] = 0
	}
	if err := b.bus.SyncWrite(ctx, bus.ItemGoalVelocity, zeros); err != nil {
		return fmt.Errorf("stop base: %w", err)
	}
	return nil
}

// BodyVelocity reads the wheel velocity registers back and converts
// them to the body frame.
func (b *Base) BodyVelocity(ctx context.Context) (x, y, thetaDegPerSec float64, err error) {
	cmd := make(kinematics.WheelCommand, 3)
	for _, name := range kinematics.AllWheels() {
		raw, err := b.bus.Read(ctx, bus.ItemPresentVelocity, name)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("read %s velocity: %w", name, err)
		}
		cmd[name] = raw
	}
	x, y, thetaDegPerSec = b.geom.WheelRawToBody(cmd)
	return x, y, thetaDegPerSec, nil
}

// ApplyAction consumes the body-velocity keys from an action map.
// Absent keys default to zero; a map without any base key is ignored.
func (b *Base) ApplyAction(ctx context.Context, action map[string]float64) error {
	x, okX := action[KeyVelX]
	y, okY := action[KeyVelY]
	theta, okTheta := action[KeyVelTheta]
	if !okX && !okY && !okTheta {
		return nil
	}
	return b.SetBodyVelocity(ctx, x, y, theta)
}

// ContributeObservation adds the body velocity readback to a shared
// observation map.
func (b *Base) ContributeObservation(ctx context.Context, obs map[string]float64) error {
	x, y, theta, err := b.BodyVelocity(ctx)
	if err != nil {
		return err
	}
	obs[KeyVelX] = x
	obs[KeyVelY] = y
	obs[KeyVelTheta] = theta
	return nil
}
