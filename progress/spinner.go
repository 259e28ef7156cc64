package progress

import (
	"strings"
	"sync/atomic"
	"time"
)

// Spinner is an animated State with a fixed message, used while an
// operation of unknown duration runs.
type Spinner struct {
	message string
	parts   []string

	value atomic.Int64

	ticker  *time.Ticker
	stopped atomic.Bool
}

func NewSpinner(message string) *Spinner {
	s := &Spinner{
		message: message,
		parts: []string{
			"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏",
		},
	}
	go s.start()
	return s
}

func (s *Spinner) String() string {
	var sb strings.Builder
	if len(s.message) > 0 {
		sb.WriteString(strings.TrimSpace(s.message))
		sb.WriteString(" ")
	}

	if !s.stopped.Load() {
		sb.WriteString(s.parts[s.value.Load()%int64(len(s.parts))])
		sb.WriteString(" ")
	}

	return sb.String()
}

func (s *Spinner) start() {
	s.ticker = time.NewTicker(100 * time.Millisecond)
	defer s.ticker.Stop()
	for range s.ticker.C {
		if s.stopped.Load() {
			return
		}
		s.value.Add(1)
	}
}

func (s *Spinner) Stop() {
	s.stopped.Store(true)
}
