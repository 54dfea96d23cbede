package alert

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() Record {
	return Record{
		ID:                "a1",
		Ticker:            "AAPL",
		TS:                time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC),
		HorizonMinutes:    90,
		Direction:         "UP",
		Probability:       0.876543,
		ExpectedSigma:     1.23456,
		Rationale:         "net support bullish",
		TriggeringEventID: "p1",
	}
}

func TestRoundedPrecision(t *testing.T) {
	r := sampleRecord().Rounded()
	assert.InDelta(t, 0.8765, r.Probability, 1e-9)
	assert.InDelta(t, 1.235, r.ExpectedSigma, 1e-9)
}

func TestJSONLSinkAppendsOneLinePerRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "alerts.jsonl")
	sink, err := NewJSONLSink(path)
	require.NoError(t, err)

	require.NoError(t, sink.Emit(sampleRecord()))
	second := sampleRecord()
	second.ID = "a2"
	second.Direction = "DOWN"
	require.NoError(t, sink.Emit(second))
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []Record
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		lines = append(lines, r)
	}
	require.NoError(t, scanner.Err())
	require.Len(t, lines, 2)
	assert.Equal(t, "a1", lines[0].ID)
	assert.Equal(t, "DOWN", lines[1].Direction)
	assert.InDelta(t, 0.8765, lines[0].Probability, 1e-9)
}

type fakeNotifier struct {
	texts []string
	err   error
}

func (f *fakeNotifier) SendText(text string) error {
	f.texts = append(f.texts, text)
	return f.err
}

func TestNotifierSinkFormatsDirection(t *testing.T) {
	n := &fakeNotifier{}
	sink := NotifierSink{Notifier: n}

	require.NoError(t, sink.Emit(sampleRecord()))
	down := sampleRecord()
	down.Direction = "DOWN"
	require.NoError(t, sink.Emit(down))

	require.Len(t, n.texts, 2)
	assert.Contains(t, n.texts[0], "📈")
	assert.Contains(t, n.texts[0], "AAPL")
	assert.Contains(t, n.texts[1], "📉")
}

type failSink struct{ err error }

func (f failSink) Emit(Record) error { return f.err }

func TestFanoutKeepsGoingPastFailures(t *testing.T) {
	n := &fakeNotifier{}
	fan := Fanout{failSink{err: fmt.Errorf("boom")}, NotifierSink{Notifier: n}}
	err := fan.Emit(sampleRecord())
	assert.EqualError(t, err, "boom")
	assert.Len(t, n.texts, 1, "later sinks still run")
}
