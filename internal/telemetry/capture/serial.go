package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.bug.st/serial"

	"github.com/banshee-data/lexi.report/internal/monitoring"
)

// SerialPorter is the part of a serial port the recorder needs.
type SerialPorter interface {
	io.Reader
	io.Closer
}

// SerialPortOpener opens a serial port. Tests replace it with an in-memory
// port.
type SerialPortOpener func(path string, mode *serial.Mode) (SerialPorter, error)

// OpenSerial opens a real serial port.
func OpenSerial(path string, mode *serial.Mode) (SerialPorter, error) {
	return serial.Open(path, mode)
}

// PortOptions describes the serial connection to the LEXI ground support
// equipment.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}

	opts.Parity = strings.TrimSpace(strings.ToUpper(opts.Parity))
	if opts.Parity == "" {
		opts.Parity = "N"
	}
	switch opts.Parity {
	case "N", "E", "O":
	default:
		return opts, fmt.Errorf("unsupported parity %q", o.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into a go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}

	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// Recorder copies a live serial stream into a capture writer. The output
// is the raw byte stream; framing is left to the batch pipeline.
type Recorder struct {
	Path     string
	Options  PortOptions
	MaxBytes int64            // stop after this many bytes; 0 means no cap
	Open     SerialPortOpener // nil uses OpenSerial
}

const recordChunk = 4096

// Record reads from the port until ctx is cancelled, the port reports EOF
// or MaxBytes have been written. Cancellation is a normal stop and returns
// a nil error. It returns the number of bytes written to w.
func (r *Recorder) Record(ctx context.Context, w io.Writer) (int64, error) {
	mode, err := r.Options.SerialMode()
	if err != nil {
		return 0, err
	}
	open := r.Open
	if open == nil {
		open = OpenSerial
	}
	port, err := open(r.Path, mode)
	if err != nil {
		return 0, fmt.Errorf("open serial port %s: %w", r.Path, err)
	}
	defer port.Close()

	monitoring.Logf("recording %s at %d baud", r.Path, mode.BaudRate)

	chunks := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)

	// Reads block, so they run apart from the select loop; closing the
	// port on return unblocks them.
	go func() {
		defer close(chunks)
		buf := make([]byte, recordChunk)
		for {
			n, err := port.Read(buf)
			if n > 0 {
				chunk := append([]byte(nil), buf[:n]...)
				select {
				case chunks <- chunk:
				case <-done:
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	var written int64
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("recording stopped after %d bytes", written)
			return written, nil

		case err := <-readErr:
			return written, fmt.Errorf("read serial port: %w", err)

		case chunk, ok := <-chunks:
			if !ok {
				select {
				case err := <-readErr:
					return written, fmt.Errorf("read serial port: %w", err)
				default:
				}
				monitoring.Logf("serial port closed after %d bytes", written)
				return written, nil
			}
			if r.MaxBytes > 0 && written+int64(len(chunk)) > r.MaxBytes {
				chunk = chunk[:r.MaxBytes-written]
			}
			n, err := w.Write(chunk)
			written += int64(n)
			if err != nil {
				return written, fmt.Errorf("write capture: %w", err)
			}
			if r.MaxBytes > 0 && written >= r.MaxBytes {
				monitoring.Logf("recording reached %d byte cap", r.MaxBytes)
				return written, nil
			}
		}
	}
}
