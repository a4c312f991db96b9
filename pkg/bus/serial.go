package bus

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// STS protocol instruction bytes.
const (
	instrRead      = 0x02
	instrWrite     = 0x03
	instrSyncWrite = 0x83

	broadcastID = 0xFE

	// DefaultBaudRate is the factory baud rate of STS3215 servos.
	DefaultBaudRate = 1_000_000
)

// SerialBus drives Feetech STS servos over a serial port.
// Word registers are little-endian on the wire.
type SerialBus struct {
	port   serial.Port
	motors map[string]Motor
}

// Open opens the serial port and returns a bus with an empty motor
// registry.
func Open(portName string, baudRate int) (*SerialBus, error) {
	if baudRate <= 0 {
		baudRate = DefaultBaudRate
	}
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", portName, err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	port.ResetInputBuffer()
	port.ResetOutputBuffer()
	return NewSerialBus(port), nil
}

// NewSerialBus wraps an already-open port. Used by Open and by tests,
// which substitute a scripted serial.Port.
func NewSerialBus(port serial.Port) *SerialBus {
	return &SerialBus{
		port:   port,
		motors: make(map[string]Motor),
	}
}

// Close closes the underlying serial port.
func (b *SerialBus) Close() error {
	return b.port.Close()
}

// Motors returns the mutable motor registry.
func (b *SerialBus) Motors() map[string]Motor {
	return b.motors
}

func (b *SerialBus) motor(name string) (Motor, error) {
	m, ok := b.motors[name]
	if !ok {
		return Motor{}, fmt.Errorf("motor %q not registered on bus", name)
	}
	return m, nil
}

func lookupRegister(item string) (register, error) {
	reg, ok := registers[item]
	if !ok {
		return register{}, fmt.Errorf("unknown register item %q", item)
	}
	return reg, nil
}

// Read reads a register item from a named motor.
func (b *SerialBus) Read(ctx context.Context, item, motor string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m, err := b.motor(motor)
	if err != nil {
		return 0, err
	}
	reg, err := lookupRegister(item)
	if err != nil {
		return 0, err
	}

	b.port.ResetInputBuffer()
	if err := b.send(byte(m.ID), instrRead, []byte{reg.addr, byte(reg.size)}); err != nil {
		return 0, fmt.Errorf("read %s from %s: %w", item, motor, err)
	}
	data, err := b.receive(byte(m.ID), reg.size)
	if err != nil {
		return 0, fmt.Errorf("read %s from %s: %w", item, motor, err)
	}

	if reg.size == 1 {
		return int(data[0]), nil
	}
	w := uint16(data[0]) | uint16(data[1])<<8
	if reg.signMagnitude {
		return decodeWire(w), nil
	}
	return int(w), nil
}

// Write writes a register item to a named motor.
func (b *SerialBus) Write(ctx context.Context, item, motor string, value int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := b.motor(motor)
	if err != nil {
		return err
	}
	reg, err := lookupRegister(item)
	if err != nil {
		return err
	}
	params := append([]byte{reg.addr}, registerBytes(reg, value)...)
	if err := b.send(byte(m.ID), instrWrite, params); err != nil {
		return fmt.Errorf("write %s to %s: %w", item, motor, err)
	}
	return nil
}

// SyncWrite writes the same register item to several motors in one
// broadcast packet. The servos do not reply to broadcasts.
func (b *SerialBus) SyncWrite(ctx context.Context, item string, values map[string]int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(values) == 0 {
		return nil
	}
	reg, err := lookupRegister(item)
	if err != nil {
		return err
	}

	params := []byte{reg.addr, byte(reg.size)}
	for name, value := range values {
		m, err := b.motor(name)
		if err != nil {
			return err
		}
		params = append(params, byte(m.ID))
		params = append(params, registerBytes(reg, value)...)
	}
	if err := b.send(broadcastID, instrSyncWrite, params); err != nil {
		return fmt.Errorf("sync write %s: %w", item, err)
	}
	return nil
}

// registerBytes encodes a value for the wire, little-endian, applying
// sign-magnitude packing where the control table requires it.
func registerBytes(reg register, value int) []byte {
	if reg.size == 1 {
		return []byte{byte(value)}
	}
	w := uint16(value)
	if reg.signMagnitude {
		w = encodeWire(value)
	}
	return []byte{byte(w), byte(w >> 8)}
}

// send frames and writes one instruction packet:
// 0xFF 0xFF id len instr params... checksum.
func (b *SerialBus) send(id, instr byte, params []byte) error {
	packet := make([]byte, 0, 6+len(params))
	packet = append(packet, 0xFF, 0xFF, id, byte(len(params)+2), instr)
	packet = append(packet, params...)
	packet = append(packet, checksum(packet[2:]))
	if _, err := b.port.Write(packet); err != nil {
		return fmt.Errorf("write packet: %w", err)
	}
	return nil
}

// receive reads one status packet and returns its data payload.
func (b *SerialBus) receive(id byte, dataLen int) ([]byte, error) {
	// header + id + len + err + data + checksum
	buf := make([]byte, 6+dataLen)
	if err := b.readFull(buf); err != nil {
		return nil, err
	}
	if buf[0] != 0xFF || buf[1] != 0xFF {
		return nil, fmt.Errorf("bad header % X", buf[:2])
	}
	if buf[2] != id {
		return nil, fmt.Errorf("response from id %d, want %d", buf[2], id)
	}
	if sum := checksum(buf[2 : len(buf)-1]); sum != buf[len(buf)-1] {
		return nil, fmt.Errorf("checksum mismatch: got %#x, want %#x", buf[len(buf)-1], sum)
	}
	if buf[4] != 0 {
		return nil, fmt.Errorf("servo error status %#x", buf[4])
	}
	return buf[5 : 5+dataLen], nil
}

func (b *SerialBus) readFull(buf []byte) error {
	total := 0
	for total < len(buf) {
		n, err := b.port.Read(buf[total:])
		if err != nil {
			return fmt.Errorf("read response: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("read response: %w", io.ErrUnexpectedEOF)
		}
		total += n
	}
	return nil
}

// checksum is the bitwise NOT of the byte sum, per the Feetech protocol.
func checksum(payload []byte) byte {
	var sum byte
	for _, v := range payload {
		sum += v
	}
	return ^sum
}
