//go:build !windows

package singleinstance

import (
	"fmt"
	"testing"
)

func TestAcquireThenSecondFails(t *testing.T) {
	name := fmt.Sprintf("lemonade-test-%d", testRunSeq())

	h, err := Acquire(name)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer h.release()

	if _, err := Acquire(name); err == nil {
		t.Fatal("expected second acquire to fail while first holds the lock")
	}
}

func TestIsAnotherInstanceRunning(t *testing.T) {
	name := fmt.Sprintf("lemonade-test-%d", testRunSeq())

	if IsAnotherInstanceRunning(name) {
		t.Fatal("expected no holder for a fresh lock name")
	}

	// The probe keeps the lock it took, so a real Acquire now fails.
	if _, err := Acquire(name); err == nil {
		t.Fatal("expected Acquire to fail while the probe holds the lock")
	}

	if !IsAnotherInstanceRunning(name) {
		t.Fatal("expected a holder once the probe took the lock")
	}
}

var seq int

func testRunSeq() int {
	seq++
	return seq
}
