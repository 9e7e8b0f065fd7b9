package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrParse marks a status line the grammar does not cover. Callers log and
// discard; a malformed line is never fatal.
var ErrParse = errors.New("protocol: unparseable status line")

// ControlKind distinguishes the recognized non-status lines.
type ControlKind int

const (
	ControlPong ControlKind = iota
	ControlOK
	ControlErr
)

// Control is a decoded liveness reply or command acknowledgement.
type Control struct {
	Kind   ControlKind
	Detail string
}

// ParseControl recognizes PONG, "OK ..." and "ERR ..." lines. The second
// return is false for anything else, including status lines.
func ParseControl(line string) (Control, bool) {
	line = strings.TrimSpace(line)
	switch {
	case line == "PONG":
		return Control{Kind: ControlPong}, true
	case line == "OK" || strings.HasPrefix(line, "OK "):
		return Control{Kind: ControlOK, Detail: strings.TrimPrefix(line, "OK ")}, true
	case line == "ERR" || strings.HasPrefix(line, "ERR "):
		return Control{Kind: ControlErr, Detail: strings.TrimPrefix(line, "ERR ")}, true
	}
	return Control{}, false
}

// ParseStatusLine decodes one trimmed key-value status line into a
// Reading. Tokens are comma-separated KEY:VALUE pairs, order-insensitive;
// unknown keys are ignored and missing keys keep their defaults.
func ParseStatusLine(line string) (Reading, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Reading{}, fmt.Errorf("%w: empty line", ErrParse)
	}

	r := Reading{
		GreenMM:    DefaultGreenMM,
		RedMM:      DefaultRedMM,
		CapturedAt: time.Now().UnixMilli(),
	}

	for _, token := range strings.Split(line, ",") {
		key, value, ok := strings.Cut(token, ":")
		if !ok {
			return Reading{}, fmt.Errorf("%w: token %q has no delimiter", ErrParse, token)
		}
		switch key {
		case "DIST":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return Reading{}, fmt.Errorf("%w: bad DIST value %q", ErrParse, value)
			}
			r.DistanceMM = n
		case "SENT":
			r.Seated = value == "1"
		case "BAD":
			r.BadPosture = value == "1"
		case "ALR":
			r.SustainedAlert = value == "1"
		case "PAUS":
			r.Paused = value == "1"
		case "GREEN":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return Reading{}, fmt.Errorf("%w: bad GREEN value %q", ErrParse, value)
			}
			r.GreenMM = n
		case "RED":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return Reading{}, fmt.Errorf("%w: bad RED value %q", ErrParse, value)
			}
			r.RedMM = n
		}
	}

	return r, nil
}
