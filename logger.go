// Copyright 2015 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package governor

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Numeric log levels, 1 (Fatal) through 9 (Trace). The engine only
// ever emits at these levels; sink selection and timestamp formatting
// belong to the collaborator that builds a Logger.
const (
	LevelFatal  = 1
	LevelError  = 2
	LevelWarn   = 3
	LevelNotice = 4
	LevelInfo   = 5
	LevelVerb   = 6
	LevelDebug1 = 7
	LevelDebug  = 8
	LevelTrace  = 9
)

// Logger is the sink the engine emits structured events to. It never
// does more than printf-style interpolation before calling Logf; level
// gating, formatting, and destination selection are all up to the
// implementation.
type Logger interface {
	Logf(level int, format string, args ...interface{})
}

// LevelLogger is a small leveled logger that fans events out to any
// number of io.Writer destinations once they pass a minimum level,
// modeled on the fan-out multi-writer idiom this package's ancestor
// used for its own log sink.
type LevelLogger struct {
	mu        sync.Mutex
	level     int
	writers   []io.Writer
	tsFormat  string
	nameLevel map[int]string
}

var defaultLevelNames = map[int]string{
	LevelFatal:  "FATAL",
	LevelError:  "ERROR",
	LevelWarn:   "WARN",
	LevelNotice: "NOTICE",
	LevelInfo:   "INFO",
	LevelVerb:   "VERBOSE",
	LevelDebug1: "DEBUG1",
	LevelDebug:  "DEBUG",
	LevelTrace:  "TRACE",
}

// NewLevelLogger returns a Logger gated at the given level (inclusive)
// that writes formatted lines to w. Level 8 (debug) is what the engine
// requests for its own internal trace.
func NewLevelLogger(level int, w io.Writer) *LevelLogger {
	return &LevelLogger{
		level:     level,
		writers:   []io.Writer{w},
		tsFormat:  time.RFC3339,
		nameLevel: defaultLevelNames,
	}
}

// AddWriter fans future log lines out to an additional destination.
func (l *LevelLogger) AddWriter(w io.Writer) {
	l.mu.Lock()
	l.writers = append(l.writers, w)
	l.mu.Unlock()
}

// SetTimestampFormat overrides the time.Format layout used as a line
// prefix. An empty format disables the timestamp.
func (l *LevelLogger) SetTimestampFormat(format string) {
	l.mu.Lock()
	l.tsFormat = format
	l.mu.Unlock()
}

func (l *LevelLogger) Logf(level int, format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if level > l.level {
		return
	}
	name := l.nameLevel[level]
	if name == "" {
		name = fmt.Sprintf("L%d", level)
	}
	msg := fmt.Sprintf(format, args...)
	var line string
	if l.tsFormat != "" {
		line = fmt.Sprintf("%s [%s] %s\n", time.Now().Format(l.tsFormat), name, msg)
	} else {
		line = fmt.Sprintf("[%s] %s\n", name, msg)
	}
	for _, w := range l.writers {
		io.WriteString(w, line)
	}
}

// discardLogger is used whenever a Supervisor is constructed without an
// explicit Logger.
type discardLogger struct{}

func (discardLogger) Logf(int, string, ...interface{}) {}
