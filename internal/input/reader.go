package input

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
)

// OpenDevices opens the given event nodes read-only. On error it closes
// whatever it already opened.
func OpenDevices(paths []string) ([]*os.File, error) {
	files := make([]*os.File, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			CloseDevices(files)
			return nil, fmt.Errorf("open input device: %w", err)
		}
		files = append(files, f)
	}
	return files, nil
}

// CloseDevices closes all files, ignoring errors.
func CloseDevices(files []*os.File) {
	for _, f := range files {
		f.Close()
	}
}

// ReadEvents reads raw events from a single device and sends them to a
// channel. It runs in a dedicated goroutine and blocks on reads; closing
// the file unblocks it with an error.
func ReadEvents(f *os.File, events chan<- Event, readErr chan<- error) {
	evSize := binary.Size(Event{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf) // Reusable reader, reset on each iteration

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf)
		var ev Event
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- ev
	}
}
