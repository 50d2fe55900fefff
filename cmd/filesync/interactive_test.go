package main

import (
	"context"
	"testing"

	"github.com/eiannone/keyboard"
	"github.com/pkg/errors"
)

func TestCancelOnKeys(t *testing.T) {
	tests := []struct {
		name       string
		events     []keyboard.KeyEvent
		wantCancel bool
	}{
		{name: "q", events: []keyboard.KeyEvent{{Rune: 'q'}}, wantCancel: true},
		{name: "upper Q", events: []keyboard.KeyEvent{{Rune: 'Q'}}, wantCancel: true},
		{name: "esc", events: []keyboard.KeyEvent{{Key: keyboard.KeyEsc}}, wantCancel: true},
		{name: "ctrl-c", events: []keyboard.KeyEvent{{Key: keyboard.KeyCtrlC}}, wantCancel: true},
		{name: "other keys then q", events: []keyboard.KeyEvent{{Rune: 'a'}, {Key: keyboard.KeyEnter}, {Rune: 'q'}}, wantCancel: true},
		{name: "other keys only", events: []keyboard.KeyEvent{{Rune: 'x'}, {Key: keyboard.KeySpace}}},
		{name: "read error stops listening", events: []keyboard.KeyEvent{{Err: errors.New("tty gone")}, {Rune: 'q'}}},
		{name: "no events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events := make(chan keyboard.KeyEvent, len(tt.events))
			for _, ev := range tt.events {
				events <- ev
			}
			close(events)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			got := cancelOnKeys(events, cancel)
			if got != tt.wantCancel {
				t.Errorf("cancelOnKeys = %v; want %v", got, tt.wantCancel)
			}
			if canceled := ctx.Err() != nil; canceled != tt.wantCancel {
				t.Errorf("context canceled = %v; want %v", canceled, tt.wantCancel)
			}
		})
	}
}
