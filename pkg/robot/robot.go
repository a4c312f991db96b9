// Package robot composes the LeKiwi mobile robot: the omni base and
// the lift axis sharing one Feetech serial bus.
package robot

import (
	"context"
	"fmt"

	"github.com/gwillem/lekiwi/pkg/base"
	"github.com/gwillem/lekiwi/pkg/bus"
	"github.com/gwillem/lekiwi/pkg/lift"
)

// Robot owns the serial bus and the two motor subsystems. Use it from
// a single goroutine; the bus is not safe for concurrent access.
type Robot struct {
	bus  *bus.SerialBus
	base *base.Base
	lift *lift.LiftAxis
}

// Connect opens the serial bus and attaches and configures the base
// and the lift axis.
func Connect(ctx context.Context, cfg *Config) (*Robot, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("no serial port configured")
	}
	b, err := bus.Open(cfg.Port, bus.DefaultBaudRate)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	mobileBase, err := base.New(cfg.Base, b)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("connect: %w", err)
	}
	liftAxis := lift.New(cfg.Lift, b)

	mobileBase.Attach()
	liftAxis.Attach()

	if err := mobileBase.Configure(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("configure base: %w", err)
	}
	if err := liftAxis.Configure(ctx); err != nil {
		b.Close()
		return nil, fmt.Errorf("configure lift: %w", err)
	}

	return &Robot{bus: b, base: mobileBase, lift: liftAxis}, nil
}

// Disconnect stops the base, halts the lift and closes the bus.
func (r *Robot) Disconnect(ctx context.Context) error {
	var errs []error
	if err := r.base.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.lift.ClearTarget(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := r.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("disconnect errors: %v", errs)
	}
	return nil
}

// Base returns the mobile base.
func (r *Robot) Base() *base.Base { return r.base }

// Lift returns the lift axis.
func (r *Robot) Lift() *lift.LiftAxis { return r.lift }

// SendAction routes a flat action map to the base and the lift.
func (r *Robot) SendAction(ctx context.Context, action map[string]float64) error {
	if err := r.base.ApplyAction(ctx, action); err != nil {
		return fmt.Errorf("send action: %w", err)
	}
	if err := r.lift.ApplyAction(ctx, action); err != nil {
		return fmt.Errorf("send action: %w", err)
	}
	return nil
}

// Update runs one lift height-loop tick. Call it every control cycle.
func (r *Robot) Update(ctx context.Context) error {
	return r.lift.Update(ctx)
}

// GetObservation collects the base and lift observations into a flat
// map.
func (r *Robot) GetObservation(ctx context.Context) (map[string]float64, error) {
	obs := make(map[string]float64)
	if err := r.base.ContributeObservation(ctx, obs); err != nil {
		return nil, fmt.Errorf("get observation: %w", err)
	}
	if err := r.lift.ContributeObservation(ctx, obs); err != nil {
		return nil, fmt.Errorf("get observation: %w", err)
	}
	return obs, nil
}

// StopBase commands zero velocity on all wheels.
func (r *Robot) StopBase(ctx context.Context) error {
	return r.base.Stop(ctx)
}
