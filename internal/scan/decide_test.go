package scan

import (
	"testing"
	"time"
)

func decideAt(t *testing.T, sess *SessionContext, now time.Time, requested ScanType) Decision {
	t.Helper()
	return Decide(sess, ResolveWindows(sess, now), now, DefaultPolicy(), requested)
}

func TestDecideSessionStateChecksAreTerminal(t *testing.T) {
	tests := []struct {
		name   string
		sess   func() *SessionContext
		now    time.Time
		reason string
	}{
		{"nil session", func() *SessionContext { return nil }, at(9, 15), ReasonSessionNotFound},
		{"inactive", func() *SessionContext {
			s := testSession()
			s.IsActive = false
			return s
		}, at(9, 15), ReasonSessionNotActive},
		{"before session start", testSession, at(7, 59), ReasonSessionNotStarted},
		{"after session end", testSession, at(12, 1), ReasonSessionEnded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decideAt(t, tt.sess(), tt.now, "")
			if got.Accepted {
				t.Fatal("decision accepted, want rejected")
			}
			if got.Type != ScanRejected || got.Reason != tt.reason {
				t.Errorf("got (%s, %s), want (%s, %s)", got.Type, got.Reason, ScanRejected, tt.reason)
			}
		})
	}
}

func TestDecideTimeInWindow(t *testing.T) {
	// Time-in window is 09:00-09:30 with 15m early / 30m late grace.
	tests := []struct {
		name     string
		now      time.Time
		accepted bool
		reason   string
	}{
		{"window start", at(9, 0), true, ReasonWithinWindow},
		{"mid window", at(9, 15), true, ReasonWithinWindow},
		{"window end", at(9, 30), true, ReasonWithinWindow},
		{"14m59s early", at(9, 0).Add(-(14*time.Minute + 59*time.Second)), true, ReasonEarly},
		{"15m1s early", at(9, 0).Add(-(15*time.Minute + time.Second)), false, ReasonInvalidTime},
		{"29m59s late", at(9, 30).Add(29*time.Minute + 59*time.Second), true, ReasonLate},
		{"30m1s late", at(9, 30).Add(30*time.Minute + time.Second), false, ReasonInvalidTime},
	}
	sess := testSession()
	sess.TimeOut = nil // isolate the time-in window
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decideAt(t, sess, tt.now, "")
			if got.Accepted != tt.accepted {
				t.Fatalf("accepted = %v, want %v (reason %s)", got.Accepted, tt.accepted, got.Reason)
			}
			if got.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", got.Reason, tt.reason)
			}
			if tt.accepted && got.Type != ScanTimeIn {
				t.Errorf("type = %s, want %s", got.Type, ScanTimeIn)
			}
		})
	}
}

func TestDecideGraceDisabled(t *testing.T) {
	sess := testSession()
	sess.TimeOut = nil
	policy := Policy{AllowEarly: false, AllowLate: false, EarlyGrace: 15 * time.Minute, LateGrace: 30 * time.Minute}

	early := at(8, 50)
	if got := Decide(sess, ResolveWindows(sess, early), early, policy, ""); got.Accepted {
		t.Errorf("early scan accepted with AllowEarly=false: %+v", got)
	}
	late := at(9, 40)
	if got := Decide(sess, ResolveWindows(sess, late), late, policy, ""); got.Accepted {
		t.Errorf("late scan accepted with AllowLate=false: %+v", got)
	}
}

func TestDecideTimeOutWindow(t *testing.T) {
	sess := testSession() // time-out window 11:00-11:30
	now := at(11, 10)

	got := decideAt(t, sess, now, "")
	if !got.Accepted || got.Type != ScanTimeOut || got.Reason != ReasonWithinWindow {
		t.Errorf("got %+v, want accepted time_out within window", got)
	}
}

func TestDecideTimeInCheckedBeforeTimeOut(t *testing.T) {
	// Overlapping windows: with no requested type, time-in wins.
	sess := testSession()
	sess.TimeIn = &WindowConfig{Start: at(9, 0), End: at(10, 0)}
	sess.TimeOut = &WindowConfig{Start: at(9, 30), End: at(11, 0)}
	now := at(9, 45)

	if got := decideAt(t, sess, now, ""); got.Type != ScanTimeIn {
		t.Errorf("inferred type = %s, want %s", got.Type, ScanTimeIn)
	}
}

func TestDecideRequestedTypeRestrictsWindow(t *testing.T) {
	// 09:45 is within late grace of the time-in window and inside the
	// time-out window; an explicit time-out request must hit the latter.
	sess := testSession()
	sess.TimeOut = &WindowConfig{Start: at(9, 40), End: at(10, 0)}
	now := at(9, 45)

	got := decideAt(t, sess, now, ScanTimeOut)
	if !got.Accepted || got.Type != ScanTimeOut || got.Reason != ReasonWithinWindow {
		t.Fatalf("got %+v, want accepted time_out within window", got)
	}

	// And a time-in request never falls through to the time-out window.
	sess2 := testSession()
	now2 := at(11, 10)
	if got := decideAt(t, sess2, now2, ScanTimeIn); got.Accepted {
		t.Errorf("time-in request accepted inside time-out window: %+v", got)
	}
}

func TestDecideNoWindowsConfigured(t *testing.T) {
	sess := testSession()
	sess.TimeIn = nil
	sess.TimeOut = nil

	got := decideAt(t, sess, at(9, 15), "")
	if got.Accepted || got.Reason != ReasonInvalidTime {
		t.Errorf("got %+v, want invalid_time rejection", got)
	}
}
