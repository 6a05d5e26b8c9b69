//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"

	"github.com/itohio/noisr/pkg/protocol"
)

type deviceState int

const (
	stateIdle deviceState = iota
	stateAwaitHandshakeChannel
	stateAwaitStreamChannel
	stateStreaming
	statePaused
)

var (
	adcs [len(CHANNEL_PINS)]machine.ADC
	uart = machine.UART0

	state   deviceState
	channel uint8

	// Timing
	lastFrame time.Time
)

func main() {
	adcConfig := machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	}
	for i, pin := range CHANNEL_PINS {
		pin.Configure(machine.PinConfig{Mode: machine.PinInput})
		adcs[i] = machine.ADC{Pin: pin}
		adcs[i].Configure(adcConfig)
	}

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	lastFrame = time.Now()

	for {
		now := time.Now()

		processSerial()

		if state == stateStreaming && now.Sub(lastFrame) >= time.Duration(SAMPLE_INTERVAL_MS)*time.Millisecond {
			uart.Write(protocol.EncodeSample(float64(readChannel())))
			lastFrame = now
		}

		time.Sleep(100 * time.Microsecond)
	}
}

// readChannel returns the average of NUM_SAMPLES reads of the selected input,
// scaled to ADC_RESOLUTION bits.
func readChannel() uint16 {
	adc := adcs[int(channel)%len(adcs)]

	var sum uint32
	for range NUM_SAMPLES {
		sum += uint32(adc.Get())
	}
	// Get returns 16-bit values regardless of resolution.
	return uint16(sum/NUM_SAMPLES) >> (16 - ADC_RESOLUTION)
}

func processSerial() {
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}
		receive(data)
	}
}

// receive advances the protocol state machine by one host byte.
func receive(b byte) {
	switch state {
	case stateIdle:
		switch protocol.Control(b) {
		case protocol.Enquire:
			reply(protocol.OK)
			state = stateAwaitHandshakeChannel
		case protocol.Start:
			reply(protocol.OK)
			state = stateAwaitStreamChannel
		}

	case stateAwaitHandshakeChannel:
		channel = b
		// The token echoes the selector.
		uart.WriteByte(channel)
		state = stateIdle

	case stateAwaitStreamChannel:
		channel = b
		state = stateStreaming
		lastFrame = time.Time{}

	case stateStreaming:
		switch protocol.Control(b) {
		case protocol.Stop:
			state = stateIdle
		case protocol.Pause:
			state = statePaused
		}

	case statePaused:
		switch protocol.Control(b) {
		case protocol.Stop:
			state = stateIdle
		case protocol.Start:
			reply(protocol.OK)
			state = stateStreaming
		}
	}
}

func reply(c protocol.Control) {
	uart.WriteByte(byte(c))
}
