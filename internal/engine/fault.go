// Package engine defines the boundary between speech sessions and the native
// recognition and synthesis engines that back them.
package engine

import (
	"errors"
	"fmt"
	"strconv"
)

// Native failure codes. Values follow the HRESULTs the platform speech API
// reports so codes surfaced to clients match what the engine documents.
const (
	FaultFail           int32 = -2147467259 // E_FAIL
	FaultNotImplemented int32 = -2147467263 // E_NOTIMPL
	FaultInvalidArg     int32 = -2147024809 // E_INVALIDARG
	FaultNotFound       int32 = -2147200966 // SPERR_NOT_FOUND
	FaultBusy           int32 = -2147201018 // SPERR_DEVICE_BUSY
	FaultUninitialized  int32 = -2147201023 // SPERR_UNINITIALIZED
)

var faultMessages = map[int32]string{
	FaultFail:           "Unspecified error",
	FaultNotImplemented: "Not implemented",
	FaultInvalidArg:     "The parameter is incorrect.",
	FaultNotFound:       "The requested data item was not found.",
	FaultBusy:           "The audio device is busy.",
	FaultUninitialized:  "The object has not been properly initialized.",
}

// Fault is a failure reported by a native engine.
type Fault struct {
	Code    int32
	Message string
}

// NewFault builds a Fault, filling in the engine's description for known codes
// when message is empty.
func NewFault(code int32, message string) *Fault {
	if message == "" {
		message = faultMessages[code]
	}
	return &Fault{Code: code, Message: message}
}

func (f *Fault) Error() string {
	if f.Message == "" {
		return fmt.Sprintf("engine fault %d", f.Code)
	}
	return fmt.Sprintf("engine fault %d: %s", f.Code, f.Message)
}

// CodeString is the decimal form of Code used on the wire.
func (f *Fault) CodeString() string {
	return strconv.FormatInt(int64(f.Code), 10)
}

// AsFault extracts a Fault from err. Errors that are not faults are reported
// as FaultFail carrying the error text.
func AsFault(err error) *Fault {
	if err == nil {
		return nil
	}
	var f *Fault
	if errors.As(err, &f) {
		return f
	}
	return &Fault{Code: FaultFail, Message: err.Error()}
}
