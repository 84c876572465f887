package midi

import (
	"errors"
	"fmt"
	"strings"
	"time"

	gomidi "gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
)

// ErrScanTimeout is returned when the driver does not answer a port scan.
// On macOS CoreMIDI can hang; "sudo killall coreaudiod midiserver" fixes it.
var ErrScanTimeout = errors.New("midi: port scan timed out")

// ErrPortNotFound is returned when no port matches a requested name.
var ErrPortNotFound = errors.New("midi: port not found")

// ScanTimeout bounds a single port scan.
const ScanTimeout = 3 * time.Second

// Ports is a snapshot of the driver's ports.
type Ports struct {
	Ins  []drivers.In
	Outs []drivers.Out
}

// ScanPorts lists input and output ports, giving up after timeout.
func ScanPorts(timeout time.Duration) (Ports, error) {
	ch := make(chan Ports, 1)
	go func() {
		ch <- Ports{Ins: gomidi.GetInPorts(), Outs: gomidi.GetOutPorts()}
	}()

	select {
	case p := <-ch:
		return p, nil
	case <-time.After(timeout):
		return Ports{}, ErrScanTimeout
	}
}

// FindOut returns the output port whose name contains name (case
// insensitive). An empty name picks the first port.
func (p Ports) FindOut(name string) (drivers.Out, error) {
	for _, out := range p.Outs {
		if matchPort(out.String(), name) {
			return out, nil
		}
	}
	return nil, fmt.Errorf("output %q: %w", name, ErrPortNotFound)
}

// FindIn returns the input port whose name contains name (case insensitive).
// An empty name picks the first port.
func (p Ports) FindIn(name string) (drivers.In, error) {
	for _, in := range p.Ins {
		if matchPort(in.String(), name) {
			return in, nil
		}
	}
	return nil, fmt.Errorf("input %q: %w", name, ErrPortNotFound)
}

func matchPort(portName, want string) bool {
	if want == "" {
		return true
	}
	return strings.Contains(strings.ToLower(portName), strings.ToLower(want))
}
