//go:build !linux

package gpio

import (
	"fmt"
	"io"
)

func openGPIODInputs(cfg InputConfig) (io.Closer, error) {
	return nil, fmt.Errorf("gpio: gpiod unsupported on this platform")
}

func openGPIODOutputs(cfg OutputConfig) (*Outputs, error) {
	return nil, fmt.Errorf("gpio: gpiod unsupported on this platform")
}
