package serialmux

import (
	"go.bug.st/serial"
)

// NewRealSerialMux opens the receiver at path and wraps it in a SerialMux.
// initCommands are sent by Initialise.
func NewRealSerialMux(path string, opts PortOptions, initCommands ...string) (*SerialMux[serial.Port], error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	m := NewSerialMux[serial.Port](port)
	m.InitCommands = initCommands
	return m, nil
}
