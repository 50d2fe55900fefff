package main

import (
	"context"
	"log"

	"github.com/eiannone/keyboard"
)

// watchKeys calls cancel when q or Esc is pressed. The returned func
// restores the terminal.
func watchKeys(cancel context.CancelFunc) (func(), error) {
	events, err := keyboard.GetKeys(10)
	if err != nil {
		return nil, err
	}
	log.Printf("Press q or Esc to stop after the current file")

	go cancelOnKeys(events, cancel)

	return func() { keyboard.Close() }, nil
}

// cancelOnKeys reads events until a stop key arrives, the stream fails or
// it is closed. It reports whether cancel was called.
func cancelOnKeys(events <-chan keyboard.KeyEvent, cancel context.CancelFunc) bool {
	for ev := range events {
		if ev.Err != nil {
			return false
		}
		if isStopKey(ev) {
			log.Printf("Stopping after the current file...")
			cancel()
			return true
		}
	}
	return false
}

func isStopKey(ev keyboard.KeyEvent) bool {
	switch {
	case ev.Rune == 'q', ev.Rune == 'Q':
		return true
	case ev.Key == keyboard.KeyEsc, ev.Key == keyboard.KeyCtrlC:
		return true
	}
	return false
}
