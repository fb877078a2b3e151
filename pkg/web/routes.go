// SPDX-License-Identifier: GPL-2.0-or-later

package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"

	"srec/pkg/log"
	"srec/pkg/record"
	"srec/pkg/system"
)

const jsonContentType = "application/json"

// NewMux returns the API routes.
func NewMux(
	session *record.Session,
	sys *system.System,
	logDB *log.DB,
	logger *log.Logger,
) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/api/status", Status(session))
	mux.Handle("/api/streams", Streams(session))
	mux.Handle("/api/system", SystemStatus(sys))
	mux.Handle("/api/log/query", LogQuery(logDB))
	mux.Handle("/api/logs", LogFeed(logger))
	return mux
}

func serveJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", jsonContentType)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Status returns the session state.
func Status(session *record.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		serveJSON(w, session.Status())
	})
}

// Streams lists the available streams.
func Streams(session *record.Session) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		serveJSON(w, session.Streams())
	})
}

// SystemStatus returns host cpu, ram and disk usage.
func SystemStatus(sys *system.System) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		serveJSON(w, sys.Status())
	})
}

func parseLevels(levelsCSV string) ([]log.Level, error) {
	if levelsCSV == "" {
		return nil, nil
	}
	var levels []log.Level
	for _, levelStr := range strings.Split(levelsCSV, ",") {
		levelInt, err := strconv.Atoi(levelStr)
		if err != nil {
			return nil, err
		}
		levels = append(levels, log.Level(levelInt))
	}
	return levels, nil
}

func parseCSV(csv string) []string {
	if csv == "" {
		return nil
	}
	return strings.Split(csv, ",")
}

// LogQuery handles log queries.
func LogQuery(logDB *log.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		query := r.URL.Query()

		limit := query.Get("limit")
		if limit == "" {
			http.Error(w, "limit missing", http.StatusBadRequest)
			return
		}
		limitInt, err := strconv.Atoi(limit)
		if err != nil {
			http.Error(w, "could not convert limit to int", http.StatusBadRequest)
			return
		}

		levels, err := parseLevels(query.Get("levels"))
		if err != nil {
			http.Error(w, "invalid levels list", http.StatusBadRequest)
			return
		}

		var time log.UnixMillisecond
		if timeStr := query.Get("time"); timeStr != "" {
			timeInt, err := strconv.ParseUint(timeStr, 10, 64)
			if err != nil {
				http.Error(w, "could not convert time to uint", http.StatusBadRequest)
				return
			}
			time = log.UnixMillisecond(timeInt)
		}

		q := log.Query{
			Levels:  levels,
			Time:    time,
			Sources: parseCSV(query.Get("sources")),
			Streams: parseCSV(query.Get("streams")),
			Limit:   limitInt,
		}

		entries, err := logDB.Query(q)
		if err != nil {
			http.Error(w, "could not query logs", http.StatusInternalServerError)
			return
		}
		serveJSON(w, entries)
	})
}

// LogFeed opens a websocket with live logs.
func LogFeed(logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "invalid request method", http.StatusMethodNotAllowed)
			return
		}
		query := r.URL.Query()

		levels, err := parseLevels(query.Get("levels"))
		if err != nil {
			http.Error(w, "invalid levels list", http.StatusBadRequest)
			return
		}
		sources := parseCSV(query.Get("sources"))
		streams := parseCSV(query.Get("streams"))

		upgrader := websocket.Upgrader{}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		defer c.Close()

		feed, cancel := logger.Subscribe()
		defer cancel()

		for {
			var entry log.Entry
			select {
			case entry = <-feed:
			case <-r.Context().Done():
				return
			}

			if !log.LevelInLevels(entry.Level, levels) {
				continue
			}
			if !log.StringInStrings(entry.Src, sources) {
				continue
			}
			if !log.StringInStrings(entry.Stream, streams) {
				continue
			}

			if err := c.WriteJSON(entry); err != nil {
				return
			}
		}
	})
}
