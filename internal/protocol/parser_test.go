package protocol

import (
	"errors"
	"testing"
)

func TestParseStatusLineFull(t *testing.T) {
	r, err := ParseStatusLine("DIST:200,SENT:1,BAD:1,ALR:0,GREEN:80,RED:120,PAUS:0")
	if err != nil {
		t.Fatalf("ParseStatusLine: %v", err)
	}
	want := Reading{DistanceMM: 200, Seated: true, BadPosture: true, GreenMM: 80, RedMM: 120}
	want.CapturedAt = r.CapturedAt
	if r != want {
		t.Fatalf("got %+v, want %+v", r, want)
	}
	if r.CapturedAt == 0 {
		t.Fatal("CapturedAt not stamped")
	}
}

func TestParseStatusLineDefaults(t *testing.T) {
	r, err := ParseStatusLine("DIST:150,SENT:1")
	if err != nil {
		t.Fatalf("ParseStatusLine: %v", err)
	}
	if r.DistanceMM != 150 || !r.Seated {
		t.Fatalf("explicit keys lost: %+v", r)
	}
	if r.BadPosture || r.SustainedAlert || r.Paused {
		t.Fatalf("boolean defaults should be false: %+v", r)
	}
	if r.GreenMM != 80 || r.RedMM != 120 {
		t.Fatalf("threshold defaults should be 80/120: %+v", r)
	}
}

func TestParseStatusLineOrderInsensitive(t *testing.T) {
	a, err := ParseStatusLine("SENT:1,DIST:95,RED:130,GREEN:70")
	if err != nil {
		t.Fatalf("ParseStatusLine: %v", err)
	}
	if a.DistanceMM != 95 || a.GreenMM != 70 || a.RedMM != 130 || !a.Seated {
		t.Fatalf("order-insensitive parse failed: %+v", a)
	}
}

func TestParseStatusLineUnknownKeysIgnored(t *testing.T) {
	r, err := ParseStatusLine("DIST:100,SENT:1,BATT:87,FW:1.3")
	if err != nil {
		t.Fatalf("ParseStatusLine: %v", err)
	}
	if r.DistanceMM != 100 || !r.Seated {
		t.Fatalf("unknown keys disturbed parse: %+v", r)
	}
}

func TestParseStatusLineBooleanStrictness(t *testing.T) {
	// anything but exactly "1" is false
	r, err := ParseStatusLine("DIST:100,SENT:true,BAD:yes,ALR:01")
	if err != nil {
		t.Fatalf("ParseStatusLine: %v", err)
	}
	if r.Seated || r.BadPosture || r.SustainedAlert {
		t.Fatalf("non-\"1\" values must be false: %+v", r)
	}
}

func TestParseStatusLineErrors(t *testing.T) {
	lines := []string{
		"",
		"garbage",
		"DIST:100,SENT",
		"DIST:abc,SENT:1",
		"GREEN:-5,DIST:10",
	}
	for _, line := range lines {
		if _, err := ParseStatusLine(line); !errors.Is(err, ErrParse) {
			t.Fatalf("ParseStatusLine(%q): want ErrParse, got %v", line, err)
		}
	}
}

func TestParseControl(t *testing.T) {
	cases := []struct {
		line string
		ok   bool
		kind ControlKind
		detl string
	}{
		{"PONG", true, ControlPong, ""},
		{"OK SET GREEN 100", true, ControlOK, "SET GREEN 100"},
		{"ERR GREEN RANGE 60-200", true, ControlErr, "GREEN RANGE 60-200"},
		{"ERR CMD", true, ControlErr, "CMD"},
		{"DIST:100,SENT:1", false, 0, ""},
		{"PONGS", false, 0, ""},
	}
	for _, tc := range cases {
		c, ok := ParseControl(tc.line)
		if ok != tc.ok {
			t.Fatalf("ParseControl(%q) ok = %v, want %v", tc.line, ok, tc.ok)
		}
		if ok && (c.Kind != tc.kind || c.Detail != tc.detl) {
			t.Fatalf("ParseControl(%q) = %+v", tc.line, c)
		}
	}
}
