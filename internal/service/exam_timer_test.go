package service

import (
	"testing"
	"time"
)

func TestRemainingSeconds(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		want    int
	}{
		{"just started", 0, 3600},
		{"half way", 30 * time.Minute, 1800},
		{"partial second rounds up", 10*time.Second + 200*time.Millisecond, 3590},
		{"exactly at deadline", 60 * time.Minute, 0},
		{"past deadline", 65 * time.Minute, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RemainingSeconds(60, t0, t0.Add(tt.elapsed)); got != tt.want {
				t.Errorf("RemainingSeconds() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDeadline(t *testing.T) {
	if got, want := Deadline(45, t0), t0.Add(45*time.Minute); !got.Equal(want) {
		t.Errorf("Deadline() = %v, want %v", got, want)
	}
}

func TestExamTimerFires(t *testing.T) {
	fired := make(chan string, 1)
	timer := NewExamTimer(time.Now, func(id string) { fired <- id })
	defer timer.Stop()

	timer.Arm("c1", time.Now().Add(20*time.Millisecond))
	if !timer.Armed("c1") {
		t.Fatal("timer not armed")
	}
	select {
	case id := <-fired:
		if id != "c1" {
			t.Errorf("fired for %s, want c1", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	if timer.Armed("c1") {
		t.Error("timer still armed after firing")
	}
}

func TestExamTimerDisarm(t *testing.T) {
	fired := make(chan string, 1)
	timer := NewExamTimer(time.Now, func(id string) { fired <- id })
	defer timer.Stop()

	timer.Arm("c1", time.Now().Add(30*time.Millisecond))
	timer.Disarm("c1")
	if timer.Armed("c1") {
		t.Fatal("timer still armed after Disarm")
	}
	select {
	case id := <-fired:
		t.Fatalf("disarmed timer fired for %s", id)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestExamTimerRearmKeepsLatest(t *testing.T) {
	fired := make(chan string, 4)
	timer := NewExamTimer(time.Now, func(id string) { fired <- id })
	defer timer.Stop()

	timer.Arm("c1", time.Now().Add(20*time.Millisecond))
	timer.Arm("c1", time.Now().Add(time.Hour))
	select {
	case <-fired:
		t.Fatal("replaced timer fired")
	case <-time.After(100 * time.Millisecond):
	}
	if !timer.Armed("c1") {
		t.Error("latest timer should still be armed")
	}
}

func TestExamTimerStop(t *testing.T) {
	timer := NewExamTimer(time.Now, func(string) {})
	timer.Arm("c1", time.Now().Add(time.Hour))
	timer.Stop()
	if timer.Armed("c1") {
		t.Error("Stop left a timer armed")
	}
	timer.Arm("c2", time.Now().Add(time.Hour))
	if timer.Armed("c2") {
		t.Error("Arm after Stop should be ignored")
	}
}
