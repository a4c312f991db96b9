package bus

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"go.bug.st/serial"
)

// fakePort is a scripted serial.Port: it records written packets and
// replays canned responses.
type fakePort struct {
	written  bytes.Buffer
	response bytes.Buffer
}

func (p *fakePort) Read(buf []byte) (int, error) {
	if p.response.Len() == 0 {
		return 0, io.EOF
	}
	return p.response.Read(buf)
}

func (p *fakePort) Write(buf []byte) (int, error) { return p.written.Write(buf) }

func (p *fakePort) Close() error { return nil }

func (p *fakePort) SetMode(_ *serial.Mode) error { return nil }

func (p *fakePort) Drain() error { return nil }

func (p *fakePort) ResetInputBuffer() error { return nil }

func (p *fakePort) ResetOutputBuffer() error { return nil }

func (p *fakePort) SetDTR(_ bool) error { return nil }

func (p *fakePort) SetRTS(_ bool) error { return nil }

func (p *fakePort) SetReadTimeout(_ time.Duration) error { return nil }

func (p *fakePort) Break(_ time.Duration) error { return nil }
func (p *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) {
	return &serial.ModemStatusBits{}, nil
}

func newTestBus() (*SerialBus, *fakePort) {
	port := &fakePort{}
	b := NewSerialBus(port)
	b.Motors()["lift_axis"] = Motor{ID: 11, Model: "sts3215"}
	b.Motors()["left_wheel"] = Motor{ID: 8, Model: "sts3215"}
	b.Motors()["back_wheel"] = Motor{ID: 9, Model: "sts3215"}
	return b, port
}

// statusPacket builds a well-formed servo status response.
func statusPacket(id byte, data ...byte) []byte {
	packet := []byte{0xFF, 0xFF, id, byte(len(data) + 2), 0x00}
	packet = append(packet, data...)
	packet = append(packet, checksum(packet[2:]))
	return packet
}

func TestWrite_PacketFraming(t *testing.T) {
	b, port := newTestBus()

	if err := b.Write(context.Background(), ItemOperatingMode, "lift_axis", OperatingModeVelocity); err != nil {
		t.Fatalf("Write: %v", err)
	}

	want := []byte{0xFF, 0xFF, 11, 0x04, instrWrite, 33, 1}
	want = append(want, checksum(want[2:]))
	if got := port.written.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("packet = % X, want % X", got, want)
	}
}

func TestWrite_SignMagnitudeVelocity(t *testing.T) {
	b, port := newTestBus()

	if err := b.Write(context.Background(), ItemGoalVelocity, "lift_axis", -1000); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// -1000 -> 1000|0x8000 = 0x83E8, little-endian on the wire.
	got := port.written.Bytes()
	data := got[6:8]
	if data[0] != 0xE8 || data[1] != 0x83 {
		t.Errorf("wire value = % X, want E8 83", data)
	}
}

func TestRead_DecodesWordAndChecksum(t *testing.T) {
	b, port := newTestBus()

	// Present_Position = 2048 (0x0800), little-endian.
	port.response.Write(statusPacket(11, 0x00, 0x08))

	got, err := b.Read(context.Background(), ItemPresentPosition, "lift_axis")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != 2048 {
		t.Errorf("position = %d, want 2048", got)
	}

	// The request on the wire: read 2 bytes at addr 56.
	want := []byte{0xFF, 0xFF, 11, 0x04, instrRead, 56, 2}
	want = append(want, checksum(want[2:]))
	if sent := port.written.Bytes(); !bytes.Equal(sent, want) {
		t.Errorf("request = % X, want % X", sent, want)
	}
}

func TestRead_SignMagnitudeVelocity(t *testing.T) {
	b, port := newTestBus()

	// Present_Velocity = -500 -> 0x81F4 on the wire.
	port.response.Write(statusPacket(11, 0xF4, 0x81))

	got, err := b.Read(context.Background(), ItemPresentVelocity, "lift_axis")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != -500 {
		t.Errorf("velocity = %d, want -500", got)
	}
}

func TestRead_RejectsBadChecksum(t *testing.T) {
	b, port := newTestBus()

	packet := statusPacket(11, 0x00, 0x08)
	packet[len(packet)-1] ^= 0xFF
	port.response.Write(packet)

	if _, err := b.Read(context.Background(), ItemPresentPosition, "lift_axis"); err == nil {
		t.Error("corrupted checksum should fail")
	}
}

func TestRead_UnknownMotor(t *testing.T) {
	b, _ := newTestBus()
	if _, err := b.Read(context.Background(), ItemPresentPosition, "no_such"); err == nil {
		t.Error("unknown motor should fail")
	}
}

func TestSyncWrite_BroadcastLayout(t *testing.T) {
	b, port := newTestBus()

	err := b.SyncWrite(context.Background(), ItemGoalVelocity, map[string]int{
		"left_wheel": 1200,
	})
	if err != nil {
		t.Fatalf("SyncWrite: %v", err)
	}

	// 0xFF 0xFF 0xFE len 0x83 addr size id lo hi checksum
	want := []byte{0xFF, 0xFF, broadcastID, 0x07, instrSyncWrite, 46, 2, 8, 0xB0, 0x04}
	want = append(want, checksum(want[2:]))
	if got := port.written.Bytes(); !bytes.Equal(got, want) {
		t.Errorf("packet = % X, want % X", got, want)
	}
}

func TestWireEncoding_RoundTrip(t *testing.T) {
	for _, v := range []int{0, 1, -1, 1000, -1000, 0x7FFF, -0x7FFF} {
		if got := decodeWire(encodeWire(v)); got != v {
			t.Errorf("wire round trip %d -> %d", v, got)
		}
	}
}

func TestContextCancellation(t *testing.T) {
	b, _ := newTestBus()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := b.Read(ctx, ItemPresentPosition, "lift_axis"); err == nil {
		t.Error("Read with cancelled context should fail")
	}
	if err := b.Write(ctx, ItemGoalVelocity, "lift_axis", 0); err == nil {
		t.Error("Write with cancelled context should fail")
	}
}
