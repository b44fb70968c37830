// Package output renders published statuses for a status bar to consume.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/nikicat/unitbar/internal/status"
)

// Supported emitter formats.
const (
	FormatJSON  = "json"
	FormatPlain = "plain"
)

// Emitter writes one line per published status. JSON mode emits i3bar-style
// block objects; plain mode emits tab-separated state and text.
type Emitter struct {
	mu     sync.Mutex
	w      io.Writer
	format string
}

// NewEmitter creates an emitter writing to w in the given format.
func NewEmitter(w io.Writer, format string) *Emitter {
	return &Emitter{w: w, format: format}
}

type block struct {
	Name     string `json:"name"`
	State    string `json:"state"`
	FullText string `json:"full_text"`
}

// OnStatus implements status.Observer.
func (e *Emitter) OnStatus(ev status.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var err error
	switch e.format {
	case FormatPlain:
		_, err = fmt.Fprintf(e.w, "%s\t%s\n", ev.Status.State, ev.Status.FullText)
	default:
		err = json.NewEncoder(e.w).Encode(block{
			Name:     ev.Status.Service,
			State:    ev.Status.State,
			FullText: ev.Status.FullText,
		})
	}
	if err != nil {
		slog.Error("failed to emit status", "service", ev.Status.Service, "error", err)
	}
}
