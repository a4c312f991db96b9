// Package lekiwi provides teleoperation control for the LeKiwi /
// AlohaMini mobile robot: a 3-omniwheel base and a lead-screw lift
// axis driven over a single Feetech STS serial bus.
//
// # Installation
//
//	go install github.com/gwillem/lekiwi/cmd/lekiwi@latest
//
// # Usage
//
// First, run setup to detect the base and save its configuration:
//
//	lekiwi setup
//
// Home the lift axis so heights are measured from the lower hard stop:
//
//	lekiwi home
//
// Then start teleoperation:
//
//	lekiwi teleoperate
//
// # Packages
//
// The module is organized into the following packages:
//
//   - cmd/lekiwi: CLI with setup, home and teleoperate commands
//   - pkg/kinematics: body/wheel velocity transforms for the omni base
//   - pkg/bus: register-level Feetech STS motor bus
//   - pkg/lift: lift axis controller (multi-turn tracking, homing, height loop)
//   - pkg/base: omni base control
//   - pkg/robot: robot composite and configuration
//   - pkg/teleop: teleoperation control loop
package lekiwi
