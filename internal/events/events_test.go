package events

import "testing"

func TestNoURLYieldsNilBus(t *testing.T) {
	bus, err := Connect("")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if bus != nil {
		t.Fatalf("expected nil bus without a URL, got %+v", bus)
	}
}

func TestNilBusDropsEvents(t *testing.T) {
	var bus *Bus

	// All emitters and Close must be safe on the nil bus.
	bus.JobStarted("j_x")
	code := 0
	bus.JobExited("j_x", &code)
	bus.JobCanceled("j_x")
	bus.SessionStarted("s_x")
	bus.SessionClosed("s_x", nil)
	bus.Close()
}
