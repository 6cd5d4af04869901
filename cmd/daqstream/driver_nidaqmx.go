//go:build nidaqmx

package main

import (
	"github.com/usnistgov/daqstream/driver"
	"github.com/usnistgov/daqstream/internal/nidaqmx"
	"github.com/usnistgov/daqstream/internal/simdaq"
)

const driverName = "NI-DAQmx"

func openDriver(simulate bool) (driver.Driver, error) {
	if simulate {
		return simdaq.NewNoHardware(simdaq.Clocked()), nil
	}
	return nidaqmx.New(), nil
}
