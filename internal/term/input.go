package term

import (
	"time"

	"github.com/kapitanov/chip8core/internal/machine"
	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/nsf/termbox-go"
)

// Physical                Logical
// ================        =================
// | 1 | 2 | 3 | 4 |       | 1 | 2 | 3 | C |
// | q | w | e | r |       | 4 | 5 | 6 | D |
// | a | s | d | f |  <=>  | 7 | 8 | 9 | E |
// | z | x | c | v |       | A | 0 | B | F |
// ================        =================
var keyMap = map[rune]vm.Key{
	'1': vm.Key1, '2': vm.Key2, '3': vm.Key3, '4': vm.KeyC,
	'q': vm.Key4, 'w': vm.Key5, 'e': vm.Key6, 'r': vm.KeyD,
	'a': vm.Key7, 's': vm.Key8, 'd': vm.Key9, 'f': vm.KeyE,
	'z': vm.KeyA, 'x': vm.Key0, 'c': vm.KeyB, 'v': vm.KeyF,
}

// keyboard turns terminal key events into press/release pairs. Terminals
// only report presses (and auto-repeat), so a key counts as released once
// no event for it arrived within holdTime.
type keyboard struct {
	holdTime time.Duration
	held     map[vm.Key]time.Time
}

func newKeyboard(holdTime time.Duration) *keyboard {
	return &keyboard{
		holdTime: holdTime,
		held:     make(map[vm.Key]time.Time),
	}
}

func (kb *keyboard) handle(ev termbox.Event, now time.Time, keyDown func(vm.Key)) error {
	switch ev.Type {
	case termbox.EventError:
		return ev.Err
	case termbox.EventKey:
	default:
		return nil
	}

	switch ev.Key {
	case termbox.KeyEsc, termbox.KeyCtrlC:
		return machine.ErrQuit
	case termbox.KeyBackspace, termbox.KeyBackspace2:
		return machine.ErrReboot
	}

	key, ok := keyMap[toLower(ev.Ch)]
	if !ok {
		return nil
	}

	if _, down := kb.held[key]; !down {
		keyDown(key)
	}
	kb.held[key] = now
	return nil
}

func (kb *keyboard) expire(now time.Time, keyUp func(vm.Key)) {
	for key, at := range kb.held {
		if now.Sub(at) >= kb.holdTime {
			delete(kb.held, key)
			keyUp(key)
		}
	}
}

func toLower(ch rune) rune {
	if ch >= 'A' && ch <= 'Z' {
		return ch + ('a' - 'A')
	}
	return ch
}
