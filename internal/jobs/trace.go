package jobs

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Trace collects the human-readable progress lines of one invocation and
// mirrors them to the debug log.
type Trace struct {
	mu    sync.Mutex
	lines []string
	log   logrus.FieldLogger
}

func newTrace(log logrus.FieldLogger) *Trace {
	return &Trace{log: log}
}

func (t *Trace) Tracef(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	t.mu.Lock()
	t.lines = append(t.lines, line)
	t.mu.Unlock()
	if t.log != nil {
		t.log.Debug(line)
	}
}

// Lines returns a copy of the collected lines.
func (t *Trace) Lines() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.lines...)
}
