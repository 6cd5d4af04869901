//go:build nidaqmx

package nidaqmx

/*
#include <NIDAQmx.h>
*/
import "C"

import (
	"unsafe"
)

//export goEveryNCallback
func goEveryNCallback(task C.TaskHandle, eventType C.int32, nSamples C.uInt32, data unsafe.Pointer) C.int32 {
	r, ok := lookup(uintptr(data))
	if !ok || r.everyN == nil {
		return 0
	}
	return C.int32(r.everyN(taskID(task), int32(eventType), uint32(nSamples), r.userData))
}

//export goDoneCallback
func goDoneCallback(task C.TaskHandle, status C.int32, data unsafe.Pointer) C.int32 {
	r, ok := lookup(uintptr(data))
	if !ok || r.done == nil {
		return 0
	}
	return C.int32(r.done(taskID(task), int32(status), r.userData))
}
