package serial

import (
	"context"
	"fmt"
	"io"

	bugserial "go.bug.st/serial"
)

// Port is an open connection to the actuator board.
type Port interface {
	io.ReadWriteCloser
}

// Opener opens the board connection. The link calls it on start and after
// every failure.
type Opener func(ctx context.Context) (Port, error)

// Device returns an Opener for the serial device at path, configured 8N1 at
// baud.
func Device(path string, baud int) Opener {
	mode := &bugserial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   bugserial.NoParity,
		StopBits: bugserial.OneStopBit,
	}
	return func(ctx context.Context) (Port, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := bugserial.Open(path, mode)
		if err != nil {
			return nil, fmt.Errorf("serial: open %s: %w", path, err)
		}
		return p, nil
	}
}

// Ports lists the serial devices present on this host.
func Ports() ([]string, error) {
	return bugserial.GetPortsList()
}
