package core

// Key code definitions
type KeyCode uint16

const (
	KEY_ENTER  KeyCode = 0x0D
	KEY_ESCAPE KeyCode = 0x1B
	KEY_SPACE  KeyCode = 0x20
	KEY_P      KeyCode = 0x50
	KEY_R      KeyCode = 0x52

	KEY_MAX_KEYS KeyCode = 0xFF
)

type KeyboardState struct {
	Keys [256]bool
}

// InputState holds current and previous keyboard states.
type InputState struct {
	KeyboardCurrent  KeyboardState
	KeyboardPrevious KeyboardState
}

var inputState *InputState

func InputInitialize() error {
	inputState = &InputState{}
	LogInfo("Input subsystem initialized.")
	return nil
}

func InputShutdown() error {
	inputState = nil
	return nil
}

// InputUpdate copies the current states to the previous states. Call once per frame.
func InputUpdate() {
	if inputState == nil {
		return
	}
	inputState.KeyboardPrevious = inputState.KeyboardCurrent
}

func InputIsKeyDown(key KeyCode) bool {
	if inputState == nil || key >= KEY_MAX_KEYS {
		return false
	}
	return inputState.KeyboardCurrent.Keys[key]
}

func InputWasKeyDown(key KeyCode) bool {
	if inputState == nil || key >= KEY_MAX_KEYS {
		return false
	}
	return inputState.KeyboardPrevious.Keys[key]
}

// InputProcessKey updates the key state and fires a pressed or released event
// when the state changed.
func InputProcessKey(key KeyCode, pressed bool) {
	if inputState == nil || key >= KEY_MAX_KEYS {
		return
	}
	if inputState.KeyboardCurrent.Keys[key] == pressed {
		return
	}
	inputState.KeyboardCurrent.Keys[key] = pressed

	code := EVENT_CODE_KEY_RELEASED
	if pressed {
		code = EVENT_CODE_KEY_PRESSED
	}
	ctx := EventContext{}
	ctx.Data.U16[0] = uint16(key)
	EventFire(code, nil, ctx)
}
