// Package teleop provides the teleoperation control loop for the
// LeKiwi mobile base and lift axis.
package teleop

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gwillem/lekiwi/pkg/base"
	"github.com/gwillem/lekiwi/pkg/lift"
)

// Robot is the machine surface the control loop drives. It is
// satisfied by *robot.Robot.
type Robot interface {
	SendAction(ctx context.Context, action map[string]float64) error
	Update(ctx context.Context) error
	GetObservation(ctx context.Context) (map[string]float64, error)
	StopBase(ctx context.Context) error
	Lift() *lift.LiftAxis
}

// State represents the current state of teleoperation.
type State struct {
	X         float64 // m/s, readback
	Y         float64 // m/s, readback
	Theta     float64 // deg/s, readback
	HeightMM  float64
	Timestamp time.Time
	Error     error
}

// Config holds configuration for the controller.
type Config struct {
	Hz              int
	WatchdogTimeout time.Duration // stop the base when no command arrives in time
}

// driveCommand is the latest operator intent, refreshed by the UI.
type driveCommand struct {
	x, y, theta float64
	at          time.Time
}

// Controller manages the teleoperation control loop. The robot's bus
// is touched only from the loop goroutine; the UI communicates through
// the mutex-guarded command snapshot.
type Controller struct {
	robot    Robot
	hz       int
	watchdog time.Duration

	mu          sync.Mutex
	cmd         driveCommand
	liftDelta   float64 // pending height nudge, mm
	liftStopped bool
	running     bool

	stateCh chan State
	logCh   chan string
}

// NewController wraps an already-connected robot.
func NewController(r Robot, cfg Config) *Controller {
	if cfg.Hz <= 0 {
		cfg.Hz = 60
	}
	if cfg.WatchdogTimeout <= 0 {
		cfg.WatchdogTimeout = 500 * time.Millisecond
	}
	return &Controller{
		robot:    r,
		hz:       cfg.Hz,
		watchdog: cfg.WatchdogTimeout,
		stateCh:  make(chan State, 1),
		logCh:    make(chan string, 10),
	}
}

// States returns a channel that receives state updates.
func (c *Controller) States() <-chan State {
	return c.stateCh
}

// Logs returns a channel that receives log messages.
func (c *Controller) Logs() <-chan string {
	return c.logCh
}

// Hz returns the control frequency.
func (c *Controller) Hz() int {
	return c.hz
}

// SetDrive stores the operator's body velocity intent. The intent is a
// stream: re-send it every cycle while it stands, or the watchdog
// stops the base. A zero command still counts as fresh input.
func (c *Controller) SetDrive(x, y, theta float64) {
	c.mu.Lock()
	c.cmd = driveCommand{x: x, y: y, theta: theta, at: time.Now()}
	c.mu.Unlock()
}

// NudgeLift queues a relative height step, applied on the next cycle
// against the height sampled inside the loop.
func (c *Controller) NudgeLift(deltaMM float64) {
	c.mu.Lock()
	c.liftDelta += deltaMM
	c.cmd.at = time.Now()
	c.mu.Unlock()
}

// StopAll zeroes the drive intent and cancels any lift motion on the
// next cycle.
func (c *Controller) StopAll() {
	c.mu.Lock()
	c.cmd = driveCommand{at: time.Now()}
	c.liftDelta = 0
	c.liftStopped = true
	c.mu.Unlock()
}

func (c *Controller) log(format string, args ...any) {
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), fmt.Sprintf(format, args...))
	select {
	case c.logCh <- msg:
	default:
		// Drop if channel full
	}
}

// Start begins the teleoperation control loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("already running")
	}
	c.running = true
	c.cmd.at = time.Now()
	c.mu.Unlock()

	c.log("Teleoperation started at %d Hz", c.hz)

	ticker := time.NewTicker(time.Second / time.Duration(c.hz))
	defer ticker.Stop()

	watchdogTripped := false

	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case <-ticker.C:
			watchdogTripped = c.step(ctx, watchdogTripped)
		}
	}
}

// step runs one control cycle and returns the new watchdog state.
func (c *Controller) step(ctx context.Context, watchdogTripped bool) bool {
	c.mu.Lock()
	cmd := c.cmd
	liftDelta := c.liftDelta
	c.liftDelta = 0
	liftStopped := c.liftStopped
	c.liftStopped = false
	c.mu.Unlock()

	stale := time.Since(cmd.at) > c.watchdog
	if stale && !watchdogTripped {
		c.log("No command for %s, stopping base", c.watchdog)
		if err := c.robot.StopBase(ctx); err != nil {
			c.log("Stop error: %v", err)
		}
		watchdogTripped = true
	}
	if !stale {
		watchdogTripped = false
	}

	if !stale {
		action := map[string]float64{
			base.KeyVelX:     cmd.x,
			base.KeyVelY:     cmd.y,
			base.KeyVelTheta: cmd.theta,
		}
		if err := c.robot.SendAction(ctx, action); err != nil {
			c.log("Action error: %v", err)
			c.sendState(State{Error: err, Timestamp: time.Now()})
			return watchdogTripped
		}
	}

	liftAxis := c.robot.Lift()
	if liftStopped {
		if err := liftAxis.ClearTarget(ctx); err != nil {
			c.log("Lift stop error: %v", err)
		}
	} else if liftDelta != 0 {
		if h, err := liftAxis.HeightMM(ctx); err != nil {
			c.log("Lift read error: %v", err)
		} else {
			liftAxis.SetHeightTargetMM(h + liftDelta)
		}
	}

	if err := c.robot.Update(ctx); err != nil {
		c.log("Lift update error: %v", err)
	}

	obs, err := c.robot.GetObservation(ctx)
	if err != nil {
		c.log("Observation error: %v", err)
		c.sendState(State{Error: err, Timestamp: time.Now()})
		return watchdogTripped
	}

	c.sendState(State{
		X:         obs[base.KeyVelX],
		Y:         obs[base.KeyVelY],
		Theta:     obs[base.KeyVelTheta],
		HeightMM:  obs[liftAxis.KeyHeight()],
		Timestamp: time.Now(),
	})
	return watchdogTripped
}

func (c *Controller) sendState(s State) {
	select {
	case c.stateCh <- s:
	default:
		// Drop old state if channel full, replace with new
		select {
		case <-c.stateCh:
		default:
		}
		c.stateCh <- s
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.running = false
	c.mu.Unlock()

	ctx := context.Background()
	if err := c.robot.StopBase(ctx); err != nil {
		c.log("Warning: failed to stop base: %v", err)
	}
	if err := c.robot.Lift().ClearTarget(ctx); err != nil {
		c.log("Warning: failed to stop lift: %v", err)
	}
	c.log("Teleoperation stopped")
}
