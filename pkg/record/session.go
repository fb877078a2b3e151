// SPDX-License-Identifier: GPL-2.0-or-later

package record

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"srec/pkg/log"
	"srec/pkg/stream"
	"srec/pkg/xdf"
)

const (
	drainInterval    = 50 * time.Millisecond
	boundaryInterval = 10 * time.Second

	// How long Stop waits for each worker to flush and exit.
	workerStopTimeout = 5 * time.Second
)

// Session state errors, rejected synchronously.
var (
	ErrAlreadyRecording  = errors.New("already recording")
	ErrNotRecording      = errors.New("not recording")
	ErrNoSourcesSelected = errors.New("no sources selected")
	ErrUnknownSource     = errors.New("unknown source")
)

// sessionStream is one attached source during an active recording.
type sessionStream struct {
	source stream.Source
	inlet  stream.Inlet
	id     uint32
	buf    *buffer
	worker *worker
}

// Session manages source discovery, selection and the active
// recording. Safe for concurrent use.
type Session struct {
	transport stream.Transport
	logger    *log.Logger

	mu        sync.Mutex
	filename  string
	available []stream.Source
	selected  map[string]struct{}

	recording bool
	stopping  bool
	streams   []*sessionStream
	writer    *xdf.Writer
	cancelAcq context.CancelFunc
	finish    chan struct{}
	drainDone chan struct{}
	failure   error

	// Stubbed by tests to inject writer failures.
	newWriter func(filename string) (*xdf.Writer, error)
}

// NewSession returns an idle session recording to filename.
func NewSession(transport stream.Transport, logger *log.Logger, filename string) *Session {
	return &Session{
		transport: transport,
		logger:    logger,
		filename:  filename,
		selected:  map[string]struct{}{},
		newWriter: xdf.NewWriter,
	}
}

// Update refreshes the set of available sources and returns their
// count. Selections of sources that vanished are dropped.
func (s *Session) Update(timeout time.Duration) (int, error) {
	sources, err := s.transport.Discover(timeout)
	if err != nil {
		return 0, fmt.Errorf("discover: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.available = sources

	present := map[string]struct{}{}
	for _, src := range sources {
		present[src.UID] = struct{}{}
	}
	for uid := range s.selected {
		if _, exists := present[uid]; !exists {
			delete(s.selected, uid)
		}
	}
	return len(sources), nil
}

// Select marks one available source for recording.
func (s *Session) Select(uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, src := range s.available {
		if src.UID == uid {
			s.selected[uid] = struct{}{}
			return nil
		}
	}
	return fmt.Errorf("%w: %v", ErrUnknownSource, uid)
}

// Deselect unmarks one source.
func (s *Session) Deselect(uid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.selected, uid)
}

// SelectAll marks every available source.
func (s *Session) SelectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.available {
		s.selected[src.UID] = struct{}{}
	}
}

// DeselectAll clears the selection.
func (s *Session) DeselectAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = map[string]struct{}{}
}

// HasSelected reports whether any source is selected.
func (s *Session) HasSelected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.selected) > 0
}

// SetFilename sets the output path for the next recording.
func (s *Session) SetFilename(filename string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filename = filename
}

// Filename returns the output path.
func (s *Session) Filename() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filename
}

// IsRecording reports whether a recording is active.
func (s *Session) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Status is the session state summary.
type Status struct {
	Recording        bool   `json:"recording"`
	Filename         string `json:"filename"`
	SelectedStreams  int    `json:"selected_streams"`
	AvailableStreams int    `json:"available_streams"`
}

// Status returns the session state summary.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Recording:        s.recording,
		Filename:         s.filename,
		SelectedStreams:  len(s.selected),
		AvailableStreams: len(s.available),
	}
}

// StreamInfo describes one available source and its selection state.
type StreamInfo struct {
	UID          string  `json:"uid"`
	Name         string  `json:"name"`
	Type         string  `json:"type"`
	ChannelCount int     `json:"channels"`
	SampleRate   float64 `json:"rate"`
	Selected     bool    `json:"selected"`
}

// Streams lists the available sources.
func (s *Session) Streams() []StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]StreamInfo, 0, len(s.available))
	for _, src := range s.available {
		_, selected := s.selected[src.UID]
		infos = append(infos, StreamInfo{
			UID:          src.UID,
			Name:         src.Name,
			Type:         src.Type,
			ChannelCount: src.ChannelCount,
			SampleRate:   src.SampleRate,
			Selected:     selected,
		})
	}
	return infos
}

// Start begins recording the selected sources. A source whose
// connection fails is skipped, failing every source is an error.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.recording {
		return ErrAlreadyRecording
	}

	var sources []stream.Source
	for _, src := range s.available {
		if _, exists := s.selected[src.UID]; exists {
			sources = append(sources, src)
		}
	}
	if len(sources) == 0 {
		return ErrNoSourcesSelected
	}

	writer, err := s.newWriter(s.filename)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}

	wake := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())

	var streams []*sessionStream
	var connectErr error
	for _, src := range sources {
		inlet, err := s.transport.Connect(src)
		if err != nil {
			s.logger.Error().Src("record").Stream(src.Name).
				Msgf("could not connect: %v", err)
			connectErr = err
			continue
		}

		id, err := writer.AttachSource(src)
		if err != nil {
			cancel()
			inlet.Close()
			for _, st := range streams {
				st.inlet.Close()
			}
			writer.Close()
			return fmt.Errorf("attach source: %w", err)
		}

		buf := newBuffer(wake)
		st := &sessionStream{
			source: src,
			inlet:  inlet,
			id:     id,
			buf:    buf,
		}
		st.worker = newWorker(
			src, inlet, buf,
			s.transport.Now,
			s.streamLogf(src.Name),
			s.onWorkerErr,
		)
		streams = append(streams, st)
	}
	if len(streams) == 0 {
		cancel()
		writer.Close()
		return fmt.Errorf("connect sources: %w", connectErr)
	}

	s.recording = true
	s.streams = streams
	s.writer = writer
	s.cancelAcq = cancel
	s.finish = make(chan struct{})
	s.drainDone = make(chan struct{})
	s.failure = nil

	for _, st := range streams {
		st.worker.start(ctx)
	}
	go s.drainLoop(streams, writer, wake, s.finish, s.drainDone)

	s.logger.Info().Src("record").
		Msgf("recording %v streams to %v", len(streams), s.filename)
	return nil
}

// Stop ends the active recording. Workers are given a bounded time to
// flush, remaining buffered data is written, then footers. Returns
// the fatal error if the recording failed mid-flight. Only one caller
// owns the teardown, concurrent calls get ErrNotRecording.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		return ErrNotRecording
	}
	if !s.recording {
		// A recording that already failed mid-flight was torn down
		// but its error is still owed to the caller.
		failure := s.failure
		s.failure = nil
		s.mu.Unlock()
		if failure != nil {
			return failure
		}
		return ErrNotRecording
	}
	s.stopping = true
	teardown := s.teardownLocked()
	s.mu.Unlock()

	err := teardown()

	s.mu.Lock()
	failure := s.failure
	s.failure = nil
	s.mu.Unlock()

	if failure != nil {
		return failure
	}
	return err
}

// teardownLocked captures the active recording state and returns the
// function that shuts it down. Must be called with s.mu held and
// s.stopping set, the returned function without.
func (s *Session) teardownLocked() func() error {
	streams := s.streams
	writer := s.writer
	cancel := s.cancelAcq
	finish := s.finish
	drainDone := s.drainDone
	filename := s.filename

	return func() error {
		cancel()
		for _, st := range streams {
			if !st.worker.wait(workerStopTimeout) {
				s.logger.Warn().Src("record").Stream(st.source.Name).
					Msg("worker did not stop in time")
			}
		}

		// Workers are done, one final drain flushes everything queued.
		close(finish)
		<-drainDone

		closeErr := writer.Close()

		s.mu.Lock()
		for _, st := range streams {
			if st.inlet != nil {
				st.inlet.Close()
				st.inlet = nil
			}
		}
		s.recording = false
		s.stopping = false
		s.streams = nil
		s.writer = nil
		s.cancelAcq = nil
		s.mu.Unlock()

		s.logger.Info().Src("record").Msgf("recording stopped: %v", filename)

		if closeErr != nil {
			return fmt.Errorf("close file: %w", closeErr)
		}
		return nil
	}
}

func (s *Session) streamLogf(name string) logFunc {
	return func(level log.Level, format string, a ...interface{}) {
		s.logger.Level(level).Src("record").Stream(name).Msgf(format, a...)
	}
}

// onWorkerErr releases the inlet of a failed worker. The failure is
// isolated, remaining workers keep recording.
func (s *Session) onWorkerErr(uid string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streams {
		if st.source.UID == uid && st.inlet != nil {
			st.inlet.Close()
			st.inlet = nil
		}
	}
}

// drainLoop moves buffered data into the file until told to finish
// or a write fails. The single goroutine touching the writer.
func (s *Session) drainLoop(
	streams []*sessionStream,
	writer *xdf.Writer,
	wake chan struct{},
	finish chan struct{},
	drainDone chan struct{},
) {
	defer close(drainDone)

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	lastBoundary := time.Now()

	for {
		select {
		case <-finish:
			s.drainOnce(streams, writer)
			return
		case <-ticker.C:
		case <-wake:
		}

		if !s.drainOnce(streams, writer) {
			return
		}
		if time.Since(lastBoundary) >= boundaryInterval {
			if err := writer.WriteBoundary(); err != nil {
				s.fatal(err)
				return
			}
			lastBoundary = time.Now()
		}
	}
}

// drainOnce writes everything currently queued, clock offsets ahead
// of sample batches per source. Reports whether the file is still
// healthy.
func (s *Session) drainOnce(streams []*sessionStream, writer *xdf.Writer) bool {
	for _, st := range streams {
		offsets, batches := st.buf.drain()

		for _, off := range offsets {
			if err := writer.WriteClockOffset(st.id, off); err != nil {
				s.fatal(err)
				return false
			}
		}
		for _, batch := range batches {
			dropped, err := writer.WriteSamples(st.id, batch)
			if dropped > 0 {
				s.logger.Warn().Src("record").Stream(st.source.Name).
					Msgf("dropped %v malformed samples", dropped)
			}
			if errors.Is(err, xdf.ErrEncodeAborted) {
				// Only this chunk is lost.
				s.logger.Error().Src("record").Stream(st.source.Name).
					Msgf("%v", err)
				continue
			}
			if err != nil {
				s.fatal(err)
				return false
			}
		}
	}
	return true
}

// fatal records an unrecoverable write error and tears the recording
// down, closing whatever was already written. The stored failure is
// surfaced by the next Stop call. When a Stop is already in flight it
// owns the teardown and fatal only halts acquisition.
func (s *Session) fatal(err error) {
	s.logger.Error().Src("record").
		Msgf("write failed, aborting recording: %v", err)

	s.mu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	if s.stopping || !s.recording {
		cancel := s.cancelAcq
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		return
	}
	s.stopping = true
	teardown := s.teardownLocked()
	s.mu.Unlock()

	// Called from the drain loop, the teardown waits for it to exit.
	go teardown() //nolint:errcheck
}
