// Package device holds the transport-neutral errors shared by the BLE
// adapters and the command line.
//
// Adapters wrap radio failures into ConnectionError values so callers can
// test for a connection state with errors.Is regardless of the platform
// stack that produced them.
package device
