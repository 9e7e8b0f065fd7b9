package protocol

import "testing"

func TestPostureStatePrecedence(t *testing.T) {
	// paused wins over everything, including an absurd distance
	r := Reading{Paused: true, Seated: true, BadPosture: true, SustainedAlert: true, DistanceMM: 500, GreenMM: 80, RedMM: 120}
	if got := r.State(); got != PostureCorrect {
		t.Fatalf("paused reading = %v, want CORRECT", got)
	}

	// sustained alert wins even inside the green zone
	r = Reading{Seated: true, SustainedAlert: true, DistanceMM: 50, GreenMM: 80, RedMM: 120}
	if got := r.State(); got != PostureAlert {
		t.Fatalf("alert reading = %v, want ALERT", got)
	}

	r = Reading{Seated: true, BadPosture: true, DistanceMM: 50, GreenMM: 80, RedMM: 120}
	if got := r.State(); got != PostureBad {
		t.Fatalf("bad-flag reading = %v, want BAD", got)
	}

	// not seated or no echo is always correct
	for _, r := range []Reading{
		{Seated: false, DistanceMM: 100, GreenMM: 80, RedMM: 120},
		{Seated: true, DistanceMM: 0, GreenMM: 80, RedMM: 120},
	} {
		if got := r.State(); got != PostureCorrect {
			t.Fatalf("absent reading %+v = %v, want CORRECT", r, got)
		}
	}
}

func TestPostureStateZoneBoundaries(t *testing.T) {
	mk := func(dist int) Reading {
		return Reading{Seated: true, DistanceMM: dist, GreenMM: 80, RedMM: 120}
	}
	cases := []struct {
		dist int
		want PostureState
	}{
		{79, PostureCorrect},
		{80, PostureCorrect},  // exactly green
		{81, PostureWarning},  // green+1
		{120, PostureWarning}, // exactly red
		{121, PostureCorrect}, // beyond red without the device flag
	}
	for _, tc := range cases {
		if got := mk(tc.dist).State(); got != tc.want {
			t.Fatalf("dist %d = %v, want %v", tc.dist, got, tc.want)
		}
	}

	// beyond red the device flag decides
	r := mk(121)
	r.BadPosture = true
	if got := r.State(); got != PostureBad {
		t.Fatalf("dist 121 with flag = %v, want BAD", got)
	}
}

func TestPostureStateGood(t *testing.T) {
	if !PostureCorrect.Good() || !PostureWarning.Good() {
		t.Fatal("correct/warning should be good")
	}
	if PostureBad.Good() || PostureAlert.Good() {
		t.Fatal("bad/alert should not be good")
	}
}
