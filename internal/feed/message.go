package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
)

// Level is one [price, size] pair. Venues send either strings or bare JSON
// numbers; both decode to the exact text so no precision is lost.
type Level [2]string

// UnmarshalJSON accepts ["p","s"], [p,s] and mixed forms. Extra trailing
// elements (order counts on some venues) are ignored.
func (l *Level) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return fmt.Errorf("level: %w", err)
	}
	if len(parts) < 2 {
		return fmt.Errorf("level: want [price, size], got %d elements", len(parts))
	}
	for i := 0; i < 2; i++ {
		s, err := scalarText(parts[i])
		if err != nil {
			return fmt.Errorf("level element %d: %w", i, err)
		}
		l[i] = s
	}
	return nil
}

func scalarText(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", fmt.Errorf("empty element")
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return "", fmt.Errorf("not a string or number: %s", raw)
	}
	return n.String(), nil
}

// Message is one L2 book message as published by the feed.
type Message struct {
	Exchange  string  `json:"exchange"`
	Symbol    string  `json:"symbol"`
	Timestamp string  `json:"timestamp"`
	Asks      []Level `json:"asks"`
	Bids      []Level `json:"bids"`
}

// DecodeMessage parses a raw feed payload.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("feed: decode message: %w", err)
	}
	return m, nil
}

// ToRawSnapshot converts m into an unparsed snapshot. The level text is
// passed through untouched; validation happens in the order book. The
// message timestamp is used when it parses, otherwise received.
func (m Message) ToRawSnapshot(instrument string, seq uint64, received time.Time) domain.RawSnapshot {
	if m.Symbol != "" {
		instrument = m.Symbol
	}
	ts, ok := parseTimestamp(m.Timestamp)
	if !ok {
		ts = received
	}
	return domain.RawSnapshot{
		Instrument: instrument,
		Asks:       toRawLevels(m.Asks),
		Bids:       toRawLevels(m.Bids),
		Timestamp:  ts.UTC(),
		Sequence:   seq,
	}
}

func toRawLevels(levels []Level) []domain.RawLevel {
	out := make([]domain.RawLevel, len(levels))
	for i, l := range levels {
		out[i] = domain.RawLevel{Price: l[0], Size: l[1]}
	}
	return out
}

// parseTimestamp accepts RFC 3339 strings and unix epoch milliseconds.
func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms), true
	}
	return time.Time{}, false
}
