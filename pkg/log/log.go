// SPDX-License-Identifier: GPL-2.0-or-later

// Package log provides the recorder's structured logger: a feed of
// entries that any number of consumers can subscribe to, with a
// bbolt-backed store for queries.
package log

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Level defines log level.
type Level uint8

// Logging levels.
const (
	LevelError   Level = 16
	LevelWarning Level = 24
	LevelInfo    Level = 32
	LevelDebug   Level = 48
)

// UnixMillisecond .
type UnixMillisecond uint64

// Entry defines one log entry.
type Entry struct {
	Level  Level           `json:"level"`
	Time   UnixMillisecond `json:"time"`
	Msg    string          `json:"msg"`
	Src    string          `json:"src"`
	Stream string          `json:"stream"` // Source stream name, if any.
}

// Event is a log entry under construction.
type Event struct {
	level  Level
	time   UnixMillisecond
	src    string
	stream string

	logger *Logger
}

// Src sets event source.
func (e *Event) Src(source string) *Event {
	e.src = source
	return e
}

// Stream sets the stream the event relates to.
func (e *Event) Stream(name string) *Event {
	e.stream = name
	return e
}

// Time sets event time.
func (e *Event) Time(t time.Time) *Event {
	e.time = UnixMillisecond(t.UnixNano() / int64(time.Millisecond))
	return e
}

// Msg sends the event with msg added as the message field.
func (e *Event) Msg(msg string) {
	e.logger.feed <- Entry{
		Level:  e.level,
		Time:   e.time,
		Msg:    msg,
		Src:    e.src,
		Stream: e.stream,
	}
}

// Msgf sends the event with a formatted message field.
func (e *Event) Msgf(format string, v ...interface{}) {
	e.Msg(fmt.Sprintf(format, v...))
}

type feed chan Entry

// Logger fans log entries out to subscribers.
type Logger struct {
	feed  feed      // Feed of entries.
	sub   chan feed // Subscribe requests.
	unsub chan feed // Unsubscribe requests.

	wg *sync.WaitGroup
}

// NewLogger returns a logger. Start must be called before use.
func NewLogger(wg *sync.WaitGroup) *Logger {
	return &Logger{
		feed:  make(feed),
		sub:   make(chan feed),
		unsub: make(chan feed),
		wg:    wg,
	}
}

// NewMockLogger returns a logger that discards entries, for testing.
func NewMockLogger() *Logger {
	logger := NewLogger(&sync.WaitGroup{})
	go func() {
		for {
			select {
			case <-logger.feed:
			case <-logger.sub:
			case ch := <-logger.unsub:
				close(ch)
			}
		}
	}()
	return logger
}

// Start the logger.
func (l *Logger) Start(ctx context.Context) {
	l.wg.Add(1)
	go func() {
		subs := map[feed]struct{}{}
		for {
			select {
			case <-ctx.Done():
				l.wg.Done()
				return

			case ch := <-l.sub:
				subs[ch] = struct{}{}

			case ch := <-l.unsub:
				close(ch)
				delete(subs, ch)

			case entry := <-l.feed:
				for ch := range subs {
					ch <- entry
				}
			}
		}
	}()
}

// CancelFunc cancels a log feed subscription.
type CancelFunc func()

// Subscribe returns a new channel with the log feed and a CancelFunc.
func (l *Logger) Subscribe() (<-chan Entry, CancelFunc) {
	ch := make(feed)
	l.sub <- ch

	cancel := func() {
		l.unSubscribe(ch)
	}
	return ch, cancel
}

func (l *Logger) unSubscribe(ch feed) {
	// Read the feed until the unsubscribe request is accepted.
	for {
		select {
		case l.unsub <- ch:
			return
		case <-ch:
		}
	}
}

// LogToStdout prints the log feed to stdout until ctx is done.
func (l *Logger) LogToStdout(ctx context.Context) {
	feed, cancel := l.Subscribe()
	defer cancel()
	for {
		select {
		case entry := <-feed:
			printEntry(entry)
		case <-ctx.Done():
			return
		}
	}
}

func printEntry(entry Entry) {
	var b strings.Builder

	switch entry.Level {
	case LevelError:
		b.WriteString("[ERROR] ")
	case LevelWarning:
		b.WriteString("[WARNING] ")
	case LevelInfo:
		b.WriteString("[INFO] ")
	case LevelDebug:
		b.WriteString("[DEBUG] ")
	}

	if entry.Src != "" {
		b.WriteString(entry.Src + ": ")
	}
	if entry.Stream != "" {
		b.WriteString(entry.Stream + ": ")
	}
	b.WriteString(entry.Msg)
	fmt.Println(b.String())
}

func now() UnixMillisecond {
	return UnixMillisecond(time.Now().UnixNano() / int64(time.Millisecond))
}

// Error starts a new message with error level.
// You must call Msg on the returned event in order to send it.
func (l *Logger) Error() *Event {
	return &Event{level: LevelError, time: now(), logger: l}
}

// Warn starts a new message with warning level.
// You must call Msg on the returned event in order to send it.
func (l *Logger) Warn() *Event {
	return &Event{level: LevelWarning, time: now(), logger: l}
}

// Info starts a new message with info level.
// You must call Msg on the returned event in order to send it.
func (l *Logger) Info() *Event {
	return &Event{level: LevelInfo, time: now(), logger: l}
}

// Debug starts a new message with debug level.
// You must call Msg on the returned event in order to send it.
func (l *Logger) Debug() *Event {
	return &Event{level: LevelDebug, time: now(), logger: l}
}

// Level starts a new message with the given level.
func (l *Logger) Level(level Level) *Event {
	return &Event{level: level, time: now(), logger: l}
}

// LevelInLevels reports whether level is in levels.
// An empty filter matches everything.
func LevelInLevels(level Level, levels []Level) bool {
	if levels == nil {
		return true
	}
	for _, l := range levels {
		if l == level {
			return true
		}
	}
	return false
}

// StringInStrings reports whether source is in sources.
// An empty filter matches everything.
func StringInStrings(source string, sources []string) bool {
	if sources == nil {
		return true
	}
	for _, s := range sources {
		if s == source {
			return true
		}
	}
	return false
}
