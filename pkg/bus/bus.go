// Package bus provides register-level access to Feetech STS servos on
// a shared serial bus. Both the omni base and the lift axis consume the
// narrow Bus interface; SerialBus is the hardware implementation.
package bus

import "context"

// Motor describes a servo registered on the bus.
type Motor struct {
	ID    int    `json:"id"`
	Model string `json:"model"`
}

// Bus is the motor bus contract. Implementations are safe for
// sequential use from a single goroutine only; the control loop owns
// the bus.
type Bus interface {
	// Read returns the current value of a register item for a named motor.
	Read(ctx context.Context, item, motor string) (int, error)

	// Write sets a register item for a named motor.
	Write(ctx context.Context, item, motor string, value int) error

	// SyncWrite sets the same register item on several motors in one
	// broadcast transaction.
	SyncWrite(ctx context.Context, item string, values map[string]int) error

	// Motors is the mutable name-to-descriptor registry. Components
	// register their motors here during attach.
	Motors() map[string]Motor
}

// Register item names understood by the bus.
const (
	ItemOperatingMode   = "Operating_Mode"
	ItemTorqueEnable    = "Torque_Enable"
	ItemLock            = "Lock"
	ItemGoalVelocity    = "Goal_Velocity"
	ItemPresentPosition = "Present_Position"
	ItemPresentVelocity = "Present_Velocity"
	ItemPresentCurrent  = "Present_Current"
)

// Operating_Mode values for STS3215 servos.
const (
	OperatingModePosition = 0
	OperatingModeVelocity = 1
)

// register describes one entry of the STS3215 control table.
type register struct {
	addr byte
	size int // bytes, 1 or 2
	// signMagnitude marks registers whose 16-bit wire value carries the
	// sign in bit 15 instead of two's complement.
	signMagnitude bool
}

// STS3215 control table, limited to the items this module touches.
var registers = map[string]register{
	ItemOperatingMode:   {addr: 33, size: 1},
	ItemTorqueEnable:    {addr: 40, size: 1},
	ItemGoalVelocity:    {addr: 46, size: 2, signMagnitude: true},
	ItemLock:            {addr: 55, size: 1},
	ItemPresentPosition: {addr: 56, size: 2},
	ItemPresentVelocity: {addr: 58, size: 2, signMagnitude: true},
	ItemPresentCurrent:  {addr: 69, size: 2},
}

// encodeWire converts a signed value to the servo's sign-magnitude
// 16-bit format (bit 15 is the sign).
func encodeWire(value int) uint16 {
	if value < 0 {
		return uint16(-value) | 0x8000
	}
	return uint16(value)
}

// decodeWire is the inverse of encodeWire.
func decodeWire(w uint16) int {
	mag := int(w & 0x7FFF)
	if w&0x8000 != 0 {
		return -mag
	}
	return mag
}
