package wrapper

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"
)

// ForwardingSink is an output log that can be rewired to point at
// whichever pipeline-provided log is currently installed, without
// racing the tailer goroutine that writes to it. Rewiring on Execute is
// race-free because the tailer re-reads Wrapped on every line, never
// caching it across iterations.
type ForwardingSink struct {
	mu      sync.Mutex
	Wrapped io.Writer
}

// Rewire installs a new destination writer.
func (s *ForwardingSink) Rewire(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Wrapped = w
}

func (s *ForwardingSink) current() io.Writer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Wrapped
}

func (s *ForwardingSink) write(line []byte) {
	if w := s.current(); w != nil {
		w.Write(line)
	}
}

// TailPollInterval governs how often Tailer checks a growing file for
// new bytes. A var, not a const, so tests can shrink it.
var TailPollInterval = 200 * time.Millisecond

// Tailer follows a file the wrapper appends to (cmd.out or cmd.err)
// and forwards newly-appended lines to a ForwardingSink by polling,
// since there is no local child process whose stdout pipe could be
// read directly: cmd.out/cmd.err are written by a remote wrapper.
type Tailer struct {
	path string
	sink *ForwardingSink
}

// NewTailer creates a Tailer for path, forwarding lines into sink.
func NewTailer(path string, sink *ForwardingSink) *Tailer {
	return &Tailer{path: path, sink: sink}
}

// Run tails the file until ctx is canceled. It tolerates the file not
// existing yet (the wrapper may not have created it), retrying at
// TailPollInterval.
func (t *Tailer) Run(ctx context.Context) {
	var f *os.File
	defer func() {
		if f != nil {
			f.Close()
		}
	}()

	reader := bufio.NewReader(nil)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if f == nil {
			opened, err := os.Open(t.path)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(TailPollInterval):
					continue
				}
			}
			f = opened
			reader.Reset(f)
		}

		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			t.sink.write(line)
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(TailPollInterval):
			}
		}
	}
}
