package base

import (
	"context"
	"math"
	"testing"

	"github.com/gwillem/lekiwi/pkg/bus"
	"github.com/gwillem/lekiwi/pkg/kinematics"
)

// fakeBus records writes and serves canned velocity readbacks.
type fakeBus struct {
	motors     map[string]bus.Motor
	velocities map[string]int
	syncWrites []map[string]int
	writes     map[string][]int // item -> values, any motor
}

func newFakeBus() *fakeBus {
	return &fakeBus{
		motors:     make(map[string]bus.Motor),
		velocities: make(map[string]int),
		writes:     make(map[string][]int),
	}
}

func (f *fakeBus) Motors() map[string]bus.Motor { return f.motors }

func (f *fakeBus) Read(_ context.Context, item, motor string) (int, error) {
	if item == bus.ItemPresentVelocity {
		return f.velocities[motor], nil
	}
	return 0, nil
}

func (f *fakeBus) Write(_ context.Context, item, _ string, value int) error {
	f.writes[item] = append(f.writes[item], value)
	return nil
}

func (f *fakeBus) SyncWrite(_ context.Context, item string, values map[string]int) error {
	if item == bus.ItemGoalVelocity {
		f.syncWrites = append(f.syncWrites, values)
	}
	return nil
}

func newTestBase(t *testing.T) (*Base, *fakeBus) {
	t.Helper()
	fb := newFakeBus()
	b, err := New(DefaultConfig(), fb)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.Attach()
	return b, fb
}

func TestAttach_RegistersWheels(t *testing.T) {
	b, fb := newTestBase(t)
	b.Attach() // second attach must not duplicate or alter

	if len(fb.motors) != 3 {
		t.Fatalf("registered %d motors, want 3", len(fb.motors))
	}
	want := map[string]int{
		kinematics.LeftWheel:  8,
		kinematics.BackWheel:  9,
		kinematics.RightWheel: 10,
	}
	for name, id := range want {
		if fb.motors[name].ID != id {
			t.Errorf("%s ID = %d, want %d", name, fb.motors[name].ID, id)
		}
	}
}

func TestConfigure_VelocityModeAndTorque(t *testing.T) {
	b, fb := newTestBase(t)
	if err := b.Configure(context.Background()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if got := len(fb.writes[bus.ItemOperatingMode]); got != 3 {
		t.Errorf("%d operating mode writes, want 3", got)
	}
	for _, v := range fb.writes[bus.ItemOperatingMode] {
		if v != bus.OperatingModeVelocity {
			t.Errorf("operating mode = %d, want velocity", v)
		}
	}
	// Per wheel: torque off during mode switch, then back on.
	if got := fb.writes[bus.ItemTorqueEnable]; len(got) != 6 {
		t.Errorf("%d torque writes, want 6", len(got))
	}
}

func TestSetBodyVelocity_SyncWritesAllWheels(t *testing.T) {
	b, fb := newTestBase(t)
	if err := b.SetBodyVelocity(context.Background(), 0, 0, 80); err != nil {
		t.Fatal(err)
	}
	if len(fb.syncWrites) != 1 {
		t.Fatalf("%d sync writes, want 1", len(fb.syncWrites))
	}
	cmd := fb.syncWrites[0]
	if len(cmd) != 3 {
		t.Fatalf("sync write covers %d wheels, want 3", len(cmd))
	}
	// Pure rotation: equal speeds.
	if cmd[kinematics.LeftWheel] != cmd[kinematics.BackWheel] {
		t.Errorf("rotation commands differ: %+v", cmd)
	}
}

func TestStop_ZeroesAllWheels(t *testing.T) {
	b, fb := newTestBase(t)
	if err := b.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	cmd := fb.syncWrites[len(fb.syncWrites)-1]
	for name, v := range cmd {
		if v != 0 {
			t.Errorf("%s = %d after Stop, want 0", name, v)
		}
	}
}

func TestBodyVelocity_RoundTripThroughBus(t *testing.T) {
	b, fb := newTestBase(t)

	wantX, wantY, wantTheta := 0.1, -0.05, 30.0
	cmd := b.Geometry().BodyToWheelRaw(wantX, wantY, wantTheta)
	for name, raw := range cmd {
		fb.velocities[name] = raw
	}

	x, y, theta, err := b.BodyVelocity(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(x-wantX) > 1e-3 || math.Abs(y-wantY) > 1e-3 || math.Abs(theta-wantTheta) > 0.1 {
		t.Errorf("BodyVelocity = (%v, %v, %v), want (%v, %v, %v)", x, y, theta, wantX, wantY, wantTheta)
	}
}

func TestApplyAction(t *testing.T) {
	b, fb := newTestBase(t)

	// No base keys: nothing commanded.
	if err := b.ApplyAction(context.Background(), map[string]float64{"lift_axis.vel": 1}); err != nil {
		t.Fatal(err)
	}
	if len(fb.syncWrites) != 0 {
		t.Error("action without base keys must not command the wheels")
	}

	// Partial keys default to zero.
	if err := b.ApplyAction(context.Background(), map[string]float64{KeyVelTheta: 80}); err != nil {
		t.Fatal(err)
	}
	if len(fb.syncWrites) != 1 {
		t.Fatalf("%d sync writes, want 1", len(fb.syncWrites))
	}
}

func TestContributeObservation(t *testing.T) {
	b, fb := newTestBase(t)
	cmd := b.Geometry().BodyToWheelRaw(0.2, 0, 0)
	for name, raw := range cmd {
		fb.velocities[name] = raw
	}

	obs := map[string]float64{}
	if err := b.ContributeObservation(context.Background(), obs); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{KeyVelX, KeyVelY, KeyVelTheta} {
		if _, ok := obs[key]; !ok {
			t.Errorf("missing observation key %s", key)
		}
	}
	if math.Abs(obs[KeyVelX]-0.2) > 1e-3 {
		t.Errorf("x.vel = %v, want 0.2", obs[KeyVelX])
	}
}
