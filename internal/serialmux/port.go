package serialmux

import "io"

// SerialPorter is the minimal serial port surface. go.bug.st/serial.Port
// satisfies it, as does any io.ReadWriteCloser used in tests.
type SerialPorter interface {
	io.ReadWriter
	io.Closer
}
