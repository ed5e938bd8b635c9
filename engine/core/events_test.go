package core_test

import (
	"testing"

	"github.com/spaghettifunk/lumen/engine/core"
)

func TestEventRegisterAndFire(t *testing.T) {
	core.EventInitialize()
	defer core.EventShutdown()

	var got []uint32
	listener := &struct{ name string }{"resize"}
	ok := core.EventRegister(core.EVENT_CODE_RESIZED, listener, func(code core.SystemEventCode, sender, l interface{}, data core.EventContext) bool {
		got = append(got, data.Data.U32[0], data.Data.U32[1])
		return true
	})
	if !ok {
		t.Fatal("expected registration to succeed")
	}
	if core.EventRegister(core.EVENT_CODE_RESIZED, listener, func(core.SystemEventCode, interface{}, interface{}, core.EventContext) bool { return false }) {
		t.Fatal("duplicate listener must be rejected")
	}

	ctx := core.EventContext{}
	ctx.Data.U32[0] = 800
	ctx.Data.U32[1] = 600
	if !core.EventFire(core.EVENT_CODE_RESIZED, nil, ctx) {
		t.Fatal("expected event to be handled")
	}
	if len(got) != 2 || got[0] != 800 || got[1] != 600 {
		t.Fatalf("unexpected payload %v", got)
	}

	if !core.EventUnregister(core.EVENT_CODE_RESIZED, listener) {
		t.Fatal("expected unregister to succeed")
	}
	if core.EventFire(core.EVENT_CODE_RESIZED, nil, ctx) {
		t.Fatal("no listener should handle the event after unregister")
	}
}

func TestEventFireStopsAtFirstHandler(t *testing.T) {
	core.EventInitialize()
	defer core.EventShutdown()

	calls := 0
	first, second := new(int), new(int)
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, first, func(core.SystemEventCode, interface{}, interface{}, core.EventContext) bool {
		calls++
		return true
	})
	core.EventRegister(core.EVENT_CODE_APPLICATION_QUIT, second, func(core.SystemEventCode, interface{}, interface{}, core.EventContext) bool {
		calls++
		return true
	})
	core.EventFire(core.EVENT_CODE_APPLICATION_QUIT, nil, core.EventContext{})
	if calls != 1 {
		t.Fatalf("expected 1 handler call, got %d", calls)
	}
}

func TestInputProcessKeyFiresOnChange(t *testing.T) {
	core.EventInitialize()
	defer core.EventShutdown()
	if err := core.InputInitialize(); err != nil {
		t.Fatal(err)
	}
	defer core.InputShutdown()

	pressed := 0
	core.EventRegister(core.EVENT_CODE_KEY_PRESSED, t, func(_ core.SystemEventCode, _, _ interface{}, data core.EventContext) bool {
		if core.KeyCode(data.Data.U16[0]) == core.KEY_ESCAPE {
			pressed++
		}
		return true
	})

	core.InputProcessKey(core.KEY_ESCAPE, true)
	core.InputProcessKey(core.KEY_ESCAPE, true)
	if pressed != 1 {
		t.Fatalf("expected a single pressed event, got %d", pressed)
	}
	if !core.InputIsKeyDown(core.KEY_ESCAPE) {
		t.Fatal("escape should be down")
	}
	core.InputUpdate()
	if !core.InputWasKeyDown(core.KEY_ESCAPE) {
		t.Fatal("escape should be recorded in the previous state")
	}
}

func TestMetricsAverage(t *testing.T) {
	m := core.NewMetrics()
	for i := 0; i < int(core.AVG_COUNT); i++ {
		m.Update(0.016)
	}
	if got := m.FrameTime(); got < 15.99 || got > 16.01 {
		t.Fatalf("expected 16ms average, got %f", got)
	}
	// Older frames fall out of the window.
	for i := 0; i < int(core.AVG_COUNT); i++ {
		m.Update(0.033)
	}
	if got := m.FrameTime(); got < 32.99 || got > 33.01 {
		t.Fatalf("expected 33ms average, got %f", got)
	}
	if core.NewMetrics().FrameTime() != 0 {
		t.Fatal("empty metrics report a frame time")
	}
}

func TestParseLogLevel(t *testing.T) {
	for in, want := range map[string]core.LogLevel{
		"debug":   core.DebugLevel,
		" INFO ":  core.InfoLevel,
		"warning": core.WarnLevel,
		"error":   core.ErrorLevel,
	} {
		got, err := core.ParseLogLevel(in)
		if err != nil || got != want {
			t.Errorf("ParseLogLevel(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := core.ParseLogLevel("verbose"); err == nil {
		t.Error("expected an error for an unknown level")
	}
}
