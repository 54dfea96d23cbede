package alert

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"causeway/internal/logger"
)

// JSONLSink appends one JSON record per line, consumable independently of
// the audit log.
type JSONLSink struct {
	mu sync.Mutex
	f  *os.File
}

func NewJSONLSink(path string) (*JSONLSink, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &JSONLSink{f: f}, nil
}

func (s *JSONLSink) Emit(rec Record) error {
	b, err := json.Marshal(rec.Rounded())
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.f.Write(append(b, '\n'))
	return err
}

func (s *JSONLSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// ConsoleSink logs alerts at info level.
type ConsoleSink struct{}

func (ConsoleSink) Emit(rec Record) error {
	r := rec.Rounded()
	logger.Infof("[ALERT] %s %s p=%.4f sigma=%.3f horizon=%dm: %s",
		r.Ticker, r.Direction, r.Probability, r.ExpectedSigma, r.HorizonMinutes, r.Rationale)
	return nil
}

// TextNotifier is the minimal notification dependency, so sinks don't import
// concrete transports.
type TextNotifier interface {
	SendText(text string) error
}

// NotifierSink pushes a short alert summary through a TextNotifier.
type NotifierSink struct {
	Notifier TextNotifier
}

func (s NotifierSink) Emit(rec Record) error {
	r := rec.Rounded()
	arrow := "📈"
	if r.Direction == "DOWN" {
		arrow = "📉"
	}
	text := fmt.Sprintf("%s *%s* %s\nprobability: %.4f\nexpected move: %.3fσ / %dm\n%s",
		arrow, r.Ticker, r.Direction, r.Probability, r.ExpectedSigma, r.HorizonMinutes, r.Rationale)
	return s.Notifier.SendText(text)
}
