// Package server exposes a timeline and its collector over HTTP. Browser
// agents push entries to it; operators inspect or harvest the buffer.
package server

import (
	"encoding/json"
	"net/http"

	"perf-collector/internal/core"
	"perf-collector/internal/host"

	"github.com/gorilla/mux"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
)

const maxIngestBytes = 1 << 20

// IngestPayload is the body of POST /entries.
type IngestPayload struct {
	PageURL string             `json:"page_url"`
	Entries []core.TimingEntry `json:"entries"`
}

type Server struct {
	timeline  *host.Timeline
	collector *core.Collector
	router    *mux.Router
}

func New(tl *host.Timeline, c *core.Collector) *Server {
	s := &Server{timeline: tl, collector: c, router: mux.NewRouter()}
	s.router.HandleFunc("/entries", s.ingest).Methods(http.MethodPost)
	s.router.HandleFunc("/entries", s.peek).Methods(http.MethodGet)
	s.router.HandleFunc("/entries/take", s.take).Methods(http.MethodPost)
	s.router.HandleFunc("/stats", s.stats).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func validatePayload(p IngestPayload) error {
	for i, e := range p.Entries {
		if e.EntryType == "" {
			return errors.Errorf("entry %d has no entry_type", i)
		}
		if e.Name == "" {
			return errors.Errorf("entry %d has no name", i)
		}
	}
	return nil
}

func (s *Server) ingest(w http.ResponseWriter, r *http.Request) {
	var payload IngestPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxIngestBytes)).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "decoding payload"))
		return
	}
	if err := validatePayload(payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.timeline.Record(payload.Entries...)
	grip.Debug(message.Fields{
		"message":  "ingested entries",
		"page_url": payload.PageURL,
		"entries":  len(payload.Entries),
	})
	writeJSON(w, http.StatusAccepted, map[string]int{"accepted": len(payload.Entries)})
}

func (s *Server) peek(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.PeekEntries())
}

func (s *Server) take(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.TakeEntries())
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		grip.Warning(message.WrapError(err, message.Fields{
			"message": "writing response",
		}))
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
