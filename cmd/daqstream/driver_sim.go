//go:build !nidaqmx

package main

import (
	"github.com/usnistgov/daqstream"
	"github.com/usnistgov/daqstream/driver"
	"github.com/usnistgov/daqstream/internal/simdaq"
)

const driverName = "simulated (built without -tags nidaqmx)"

func openDriver(simulate bool) (driver.Driver, error) {
	if !simulate {
		daqstream.ProblemLogger.Print("built without NI-DAQmx support; acquiring simulated data")
	}
	return simdaq.NewNoHardware(simdaq.Clocked()), nil
}
