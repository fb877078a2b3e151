// SPDX-License-Identifier: GPL-2.0-or-later

package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"srec/pkg/record"
)

const discoverTimeout = 2 * time.Second

// handler executes commands against the session. Commands are
// serialized, concurrent clients cannot interleave state changes.
type handler struct {
	mu            sync.Mutex
	session       *record.Session
	recordingsDir string
}

func newHandler(session *record.Session, recordingsDir string) *handler {
	return &handler{
		session:       session,
		recordingsDir: recordingsDir,
	}
}

func (h *handler) handle(command string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return "ERROR: Empty command"
	}

	switch strings.ToLower(parts[0]) {
	case "select":
		return h.handleSelect(parts)
	case "deselect":
		return h.handleDeselect(parts)
	case "start":
		return h.handleStart()
	case "stop":
		return h.handleStop()
	case "update":
		return h.handleUpdate()
	case "filename":
		return h.handleFilename(command)
	case "status":
		return h.handleStatus()
	case "streams":
		return h.handleStreams()
	default:
		return fmt.Sprintf("ERROR: Unknown command: %v", parts[0])
	}
}

func (h *handler) handleSelect(parts []string) string {
	if len(parts) < 2 {
		return "ERROR: select requires argument (all/none/uid)"
	}

	switch strings.ToLower(parts[1]) {
	case "all":
		h.session.SelectAll()
		var count int
		for _, s := range h.session.Streams() {
			if s.Selected {
				count++
			}
		}
		return fmt.Sprintf("OK: Selected %d streams", count)
	case "none":
		h.session.DeselectAll()
		return "OK: Deselected all streams"
	default:
		if err := h.session.Select(parts[1]); err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		return fmt.Sprintf("OK: Selected %v", parts[1])
	}
}

func (h *handler) handleDeselect(parts []string) string {
	if len(parts) < 2 {
		return "ERROR: deselect requires a stream uid"
	}
	h.session.Deselect(parts[1])
	return fmt.Sprintf("OK: Deselected %v", parts[1])
}

func (h *handler) handleStart() string {
	err := h.session.Start()
	switch {
	case err == nil:
		return "OK: Recording started"
	case errors.Is(err, record.ErrAlreadyRecording):
		return "ERROR: Already recording"
	case errors.Is(err, record.ErrNoSourcesSelected):
		return "ERROR: No streams selected"
	default:
		return fmt.Sprintf("ERROR: Failed to start recording: %v", err)
	}
}

func (h *handler) handleStop() string {
	err := h.session.Stop()
	switch {
	case err == nil:
		return "OK: Recording stopped"
	case errors.Is(err, record.ErrNotRecording):
		return "ERROR: Not currently recording"
	default:
		return fmt.Sprintf("ERROR: Failed to stop recording: %v", err)
	}
}

func (h *handler) handleUpdate() string {
	count, err := h.session.Update(discoverTimeout)
	if err != nil {
		return fmt.Sprintf("ERROR: Failed to update streams: %v", err)
	}
	return fmt.Sprintf("OK: Found %d streams", count)
}

func (h *handler) handleFilename(command string) string {
	if h.session.IsRecording() {
		return "ERROR: Cannot change filename while recording"
	}

	var filename string
	if strings.Contains(command, "{") && strings.Contains(command, "}") {
		name, err := expandTemplate(command)
		if err != nil {
			return fmt.Sprintf("ERROR: %v", err)
		}
		filename = name
	} else {
		parts := strings.SplitN(command, " ", 2)
		if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
			return "ERROR: No filename specified"
		}
		filename = strings.TrimSpace(parts[1])
	}

	if !filepath.IsAbs(filename) {
		filename = filepath.Join(h.recordingsDir, filename)
	}

	h.session.SetFilename(filename)
	return fmt.Sprintf("OK: Filename set to %v", filename)
}

var templateParamRegexp = regexp.MustCompile(`\{(\w+):([^}]+)\}`)

// expandTemplate builds a filename from a command of the form
//
//	filename {template:sub-%p_task-%b.xdf} {participant:P01} {task:rest}
//
// Unset placeholders get defaults. A root parameter prefixes the
// resulting path.
func expandTemplate(command string) (string, error) {
	params := map[string]string{}
	for _, match := range templateParamRegexp.FindAllStringSubmatch(command, -1) {
		params[match[1]] = match[2]
	}

	template, exists := params["template"]
	if !exists {
		return "", errors.New("no template specified")
	}

	paramOrDefault := func(key, fallback string) string {
		if value, exists := params[key]; exists {
			return value
		}
		return fallback
	}
	replacements := [][2]string{
		{"%p", paramOrDefault("participant", "unknown")},
		{"%s", paramOrDefault("session", "default")},
		{"%b", paramOrDefault("task", "task")},
		{"%n", paramOrDefault("run", "1")},
		{"%a", paramOrDefault("acquisition", "acq")},
		{"%m", paramOrDefault("modality", "data")},
	}

	filename := template
	for _, r := range replacements {
		filename = strings.ReplaceAll(filename, r[0], r[1])
	}

	if root, exists := params["root"]; exists {
		filename = filepath.Join(root, filename)
	}
	return filename, nil
}

func (h *handler) handleStatus() string {
	status, err := json.Marshal(h.session.Status())
	if err != nil {
		return fmt.Sprintf("ERROR: Failed to get status: %v", err)
	}
	return fmt.Sprintf("OK: %s", status)
}

func (h *handler) handleStreams() string {
	streams := h.session.Streams()
	if len(streams) == 0 {
		return "ERROR: No streams found. Run 'update' first."
	}
	list, err := json.Marshal(streams)
	if err != nil {
		return fmt.Sprintf("ERROR: Failed to get streams: %v", err)
	}
	return fmt.Sprintf("OK: %s", list)
}
