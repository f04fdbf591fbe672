package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
)

// breakDuration and markAfterBreak are the BREAK/MAB timings DMX512/RDM
// receivers expect; comfortably inside the ANSI E1.11 tolerance.
const (
	breakDuration   = 176 * time.Microsecond
	markAfterBreak  = 12 * time.Microsecond
	openRetryWindow = time.Second
)

// SerialTransport drives one USB-serial-attached DMX512/RDM bus via
// go.bug.st/serial, the same library the wider example pack uses for
// half-duplex RS-485 framing (lumberbarons-modbus, simonvetter-modbus).
type SerialTransport struct {
	description string

	mu   sync.Mutex
	port serial.Port
}

// NewSerialTransport opens description (an OS device path, e.g.
// /dev/ttyUSB0) at 250000 baud, 8 data bits, 2 stop bits, no parity, no
// flow control, purging both buffers before use — spec.md §6's open().
func NewSerialTransport(description string) (*SerialTransport, error) {
	port, err := openPort(description)
	if err != nil {
		return nil, err
	}
	return &SerialTransport{description: description, port: port}, nil
}

// openPort runs the open + buffer-reset + read-timeout sequence shared by
// NewSerialTransport and Reopen.
func openPort(description string) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: BaudRate,
		DataBits: DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
	}
	port, err := serial.Open(description, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", description, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: reset input buffer: %w", err)
	}
	if err := port.ResetOutputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: reset output buffer: %w", err)
	}
	if err := port.SetReadTimeout(ReadTimeoutMS * time.Millisecond); err != nil {
		port.Close()
		return nil, fmt.Errorf("transport: set read timeout: %w", err)
	}
	return port, nil
}

// Reopen re-establishes the bus after the device has gone away
// (classifyError set t.port nil): closes any stale handle and reopens
// description from scratch, per spec.md §4.2/§7's "port may re-init"
// after the 1-second backoff. Retries the open itself across
// openRetryWindow, since a just-unplugged USB-serial adapter's device
// node can take a moment to reappear even after the caller's own
// backoff has elapsed.
func (t *SerialTransport) Reopen(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port != nil {
		t.port.Close()
		t.port = nil
	}

	deadline := time.Now().Add(openRetryWindow)
	var lastErr error
	for {
		port, err := openPort(t.description)
		if err == nil {
			t.port = port
			return nil
		}
		lastErr = err

		if time.Now().After(deadline) {
			return lastErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Description returns the device path this transport was opened with; the
// port's controller UID is derived from it (rdm.ControllerUID).
func (t *SerialTransport) Description() string {
	return t.description
}

// WriteDMX sends one DMX universe frame: BREAK, Mark-After-Break, start
// code 0x00, then up to 512 slots.
func (t *SerialTransport) WriteDMX(ctx context.Context, slots []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return ErrUnavailable
	}
	if err := t.frameBreak(); err != nil {
		return err
	}

	frame := make([]byte, 1+len(slots))
	frame[0] = 0x00 // DMX start code
	copy(frame[1:], slots)

	if _, err := t.port.Write(frame); err != nil {
		return t.classifyError(err)
	}
	return nil
}

// WriteRDM sends buf (Packet.Encode output, no leading start_code; the
// BREAK below substitutes for it), framed with BREAK/MAB, then reads a
// response within ReadTimeoutMS. expectDUB is not used: a DUB reply and a
// normal response are read the same way.
func (t *SerialTransport) WriteRDM(ctx context.Context, buf []byte, expectDUB bool) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil, ErrUnavailable
	}
	if err := t.frameBreak(); err != nil {
		return nil, err
	}

	frame := make([]byte, 1+len(buf))
	frame[0] = 0xCC // RDM start code
	copy(frame[1:], buf)

	if _, err := t.port.Write(frame); err != nil {
		return nil, t.classifyError(err)
	}

	return t.readResponse(ctx)
}

func (t *SerialTransport) readResponse(ctx context.Context) ([]byte, error) {
	data := make([]byte, MaxResponseBytes)
	n := 0
	for n < MaxResponseBytes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nn, err := t.port.Read(data[n:])
		if err != nil {
			return nil, t.classifyError(err)
		}
		if nn == 0 {
			break // read timeout elapsed with nothing further buffered
		}
		n += nn
	}
	if n == 0 {
		return nil, nil
	}
	return data[:n], nil
}

func (t *SerialTransport) frameBreak() error {
	if err := t.port.Break(breakDuration); err != nil {
		return t.classifyError(err)
	}
	time.Sleep(markAfterBreak)
	return nil
}

// classifyError maps a lost-device condition to ErrUnavailable so callers
// apply the 1-second backoff spec.md §4.2/§7 require; anything else is
// surfaced as a transient transport error the engine simply retries past.
func (t *SerialTransport) classifyError(err error) error {
	if err == nil {
		return nil
	}
	if portErr, ok := err.(*serial.PortError); ok {
		switch portErr.Code() {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			t.port = nil
			return ErrUnavailable
		}
	}
	return fmt.Errorf("transport: %w", err)
}

// Close releases the underlying OS handle.
func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.port == nil {
		return nil
	}
	err := t.port.Close()
	t.port = nil
	return err
}
