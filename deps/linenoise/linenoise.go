package linenoise

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/peterh/liner"
)

type LineNoise struct {
	*liner.State
}

// New puts the terminal into raw mode; Close restores it.
func New() *LineNoise {
	ln := &LineNoise{liner.NewLiner()}
	ln.SetCtrlCAborts(true)
	return ln
}

// HistoryLoad treats a missing file as empty history.
func (ln *LineNoise) HistoryLoad(filepath string) error {
	content, err := os.ReadFile(filepath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	_, err = ln.ReadHistory(bytes.NewReader(content))
	return err
}

func (ln *LineNoise) HistorySave(filepath string) error {
	var buf bytes.Buffer
	_, err := ln.WriteHistory(&buf)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath, buf.Bytes(), 0644)
}

func (ln *LineNoise) ClearScreen(w io.Writer) error {
	_, err := fmt.Fprint(w, "\x1b[H\x1b[2J")
	return err
}
