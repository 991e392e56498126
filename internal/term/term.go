// Package term is a front end for text terminals built on termbox. Every
// pixel is one character cell, so the terminal needs at least 64x33 cells.
package term

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/kapitanov/chip8core/internal/machine"
	"github.com/kapitanov/chip8core/internal/vm"
	"github.com/nsf/termbox-go"
)

const DefaultHoldTime = 150 * time.Millisecond

const (
	fgColor = termbox.ColorYellow
	bgColor = termbox.ColorDefault
)

type Terminal struct {
	events   chan termbox.Event
	stopped  chan struct{}
	keyboard *keyboard
	toneOn   bool
}

var _ machine.HAL = (*Terminal)(nil)

func New(holdTime time.Duration) (*Terminal, error) {
	if err := termbox.Init(); err != nil {
		return nil, fmt.Errorf("failed to init terminal: %w", err)
	}
	termbox.SetInputMode(termbox.InputEsc)

	t := &Terminal{
		events:   make(chan termbox.Event, 64),
		stopped:  make(chan struct{}),
		keyboard: newKeyboard(holdTime),
	}

	go t.poll(termbox.PollEvent)

	slog.Debug("term: initialized")
	return t, nil
}

// poll forwards events until interrupted. It only ever blocks in next, so
// termbox.Interrupt always finds a receiver; events arriving while the
// queue is full are dropped.
func (t *Terminal) poll(next func() termbox.Event) {
	defer close(t.stopped)

	for {
		ev := next()
		if ev.Type == termbox.EventInterrupt {
			return
		}

		select {
		case t.events <- ev:
		default:
		}
	}
}

func (t *Terminal) Shutdown() {
	termbox.Interrupt()
	<-t.stopped
	termbox.Close()
}

func (t *Terminal) ReadInput(keyDown func(vm.Key), keyUp func(vm.Key)) error {
	now := time.Now()

	for {
		select {
		case ev := <-t.events:
			if err := t.keyboard.handle(ev, now, keyDown); err != nil {
				return err
			}
		default:
			t.keyboard.expire(now, keyUp)
			return nil
		}
	}
}

func (t *Terminal) Draw(screen machine.Screen) error {
	if err := termbox.Clear(bgColor, bgColor); err != nil {
		return fmt.Errorf("failed to clear terminal: %w", err)
	}

	render(screen, func(x, y int) {
		termbox.SetCell(x, y, ' ', fgColor, fgColor)
	})
	t.drawStatus()

	if err := termbox.Flush(); err != nil {
		return fmt.Errorf("failed to flush terminal: %w", err)
	}
	return nil
}

func (t *Terminal) drawStatus() {
	status := "esc: quit  backspace: reboot"
	if t.toneOn {
		status += "  *beep*"
	}

	for i, ch := range status {
		termbox.SetCell(i, vm.ScreenHeight, ch, termbox.ColorDefault, bgColor)
	}
}

// Tone rings the terminal bell when the tone starts.
func (t *Terminal) Tone(on bool) error {
	if on && !t.toneOn {
		if _, err := os.Stdout.WriteString("\a"); err != nil {
			return err
		}
	}

	t.toneOn = on
	return nil
}

// render calls lit for every lit pixel.
func render(screen machine.Screen, lit func(x, y int)) {
	for y := 0; y < vm.ScreenHeight; y++ {
		for x := 0; x < vm.ScreenWidth; x++ {
			if screen.Pixel(x + y*vm.ScreenWidth) {
				lit(x, y)
			}
		}
	}
}
