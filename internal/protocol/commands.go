package protocol

import (
	"errors"
	"fmt"
)

// Firmware-enforced command ranges. The controller validates locally too so
// a bad value never reaches the wire.
const (
	GreenMinMM = 60
	GreenMaxMM = 200
	RedMinMM   = 80
	RedMaxMM   = 400
	TimeMinMS  = 5000
	TimeMaxMS  = 300000
)

var ErrCommandRange = errors.New("protocol: command value out of range")

// PauseMode selects the PAUSE command variant.
type PauseMode string

const (
	PauseOn     PauseMode = "ON"
	PauseOff    PauseMode = "OFF"
	PauseToggle PauseMode = "TOGGLE"
)

// Ping is the liveness probe; the peer answers PONG.
func Ping() string { return "PING" }

// SetGreen builds the green threshold command.
func SetGreen(mm int) (string, error) {
	if mm < GreenMinMM || mm > GreenMaxMM {
		return "", fmt.Errorf("%w: GREEN %d not in %d-%d", ErrCommandRange, mm, GreenMinMM, GreenMaxMM)
	}
	return fmt.Sprintf("SET GREEN %d", mm), nil
}

// SetRed builds the red threshold command.
func SetRed(mm int) (string, error) {
	if mm < RedMinMM || mm > RedMaxMM {
		return "", fmt.Errorf("%w: RED %d not in %d-%d", ErrCommandRange, mm, RedMinMM, RedMaxMM)
	}
	return fmt.Sprintf("SET RED %d", mm), nil
}

// SetTime builds the sustain delay command (milliseconds).
func SetTime(ms int) (string, error) {
	if ms < TimeMinMS || ms > TimeMaxMS {
		return "", fmt.Errorf("%w: TIME %d not in %d-%d", ErrCommandRange, ms, TimeMinMS, TimeMaxMS)
	}
	return fmt.Sprintf("SET TIME %d", ms), nil
}

// Alarm builds the audible alarm toggle command.
func Alarm(on bool) string {
	if on {
		return "ALARM ON"
	}
	return "ALARM OFF"
}

// Pause builds the pause command.
func Pause(mode PauseMode) string {
	return "PAUSE " + string(mode)
}
