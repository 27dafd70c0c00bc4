package engine

import (
	"testing"
	"time"
)

func TestSpawn_RunsToCompletion(t *testing.T) {
	h, err := Spawn([]string{"sh", "-c", "echo hello; exit 0"}, nil, "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("process did not exit in time")
	}

	if h.IsRunning() {
		t.Error("IsRunning() should be false after exit")
	}
	code, exited := h.ExitCode()
	if !exited {
		t.Fatal("ExitCode() should report exited=true")
	}
	if code != 0 {
		t.Errorf("exit code = %d, want 0", code)
	}
}

func TestSpawn_NonZeroExit(t *testing.T) {
	h, err := Spawn([]string{"sh", "-c", "exit 7"}, nil, "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	<-h.Done()

	code, exited := h.ExitCode()
	if !exited || code != 7 {
		t.Errorf("ExitCode() = (%d, %v), want (7, true)", code, exited)
	}
}

func TestSpawn_CapturesStderr(t *testing.T) {
	h, err := Spawn([]string{"sh", "-c", "echo oops 1>&2; exit 1"}, nil, "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}
	<-h.Done()

	if h.StderrTail() != "oops" {
		t.Errorf("StderrTail() = %q, want %q", h.StderrTail(), "oops")
	}
}

func TestProcessHandle_TerminateGraceful(t *testing.T) {
	h, err := Spawn([]string{"sh", "-c", "trap 'exit 0' TERM; sleep 30"}, nil, "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	if !h.IsRunning() {
		t.Fatal("process should be running right after spawn")
	}

	done := make(chan struct{})
	go func() {
		h.Terminate(2 * time.Second)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Terminate() did not return in time")
	}

	if h.IsRunning() {
		t.Error("IsRunning() should be false after Terminate()")
	}
}

func TestProcessHandle_TerminateEscalatesToKill(t *testing.T) {
	h, err := Spawn([]string{"sh", "-c", "trap '' TERM; sleep 30"}, nil, "")
	if err != nil {
		t.Fatalf("Spawn() error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		h.Terminate(200 * time.Millisecond)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Terminate() did not escalate to kill in time")
	}
	if h.IsRunning() {
		t.Error("IsRunning() should be false after kill escalation")
	}
}

func TestRingBuffer_WrapsAround(t *testing.T) {
	rb := newRingBuffer(3)
	rb.write("a")
	rb.write("b")
	rb.write("c")
	rb.write("d")

	got := rb.String()
	want := "b\nc\nd"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestRingBuffer_PartialFill(t *testing.T) {
	rb := newRingBuffer(5)
	rb.write("x")
	rb.write("y")

	got := rb.String()
	want := "x\ny"
	if got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
