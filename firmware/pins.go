//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	// Interval between emitted frames in milliseconds. The host reads one frame
	// per 1000/rate ms, so this must be at least that long for the host rate in
	// use. 100ms pairs with the default rate of 10 Hz.
	SAMPLE_INTERVAL_MS = 100
	NUM_SAMPLES        = 8 // ADC reads averaged into one frame

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)

	// Serial configuration
	// Frame: up to 4 digits + '\n' = 5 bytes. 10 frames/sec = 50 bytes/sec,
	// 500 baud with 8N1. 9600 matches the host default and would still carry
	// 100 frames/sec for a host polling at 100 Hz.
	UART_BAUD_RATE = 9600
)

// CHANNEL_PINS maps channel selectors to analog inputs. Selectors past the end
// wrap around.
var CHANNEL_PINS = [...]machine.Pin{
	machine.A0,
	machine.A1,
	machine.A2,
	machine.A3,
}
