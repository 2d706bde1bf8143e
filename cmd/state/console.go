package state

import (
	"bytes"
	"io"
	"sync"
)

// ConsoleWriter syncs writes to stdout and stderr with a shared mutex and, if
// the output is a TTY, clears the rest of the line before every newline.
type ConsoleWriter struct {
	io.Writer
	IsTTY bool
	Mutex *sync.Mutex
}

func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	origLen := len(p)
	if w.IsTTY {
		// Add a TTY code to erase till the end of line with each new line
		p = bytes.ReplaceAll(p, []byte{'\n'}, []byte{'\x1b', '[', '0', 'K', '\n'})
	}

	w.Mutex.Lock()
	n, err = w.Writer.Write(p)
	w.Mutex.Unlock()

	if err != nil && n < origLen {
		return n, err
	}
	return origLen, err
}
