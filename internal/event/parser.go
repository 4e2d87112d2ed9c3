package event

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrMalformed is returned when a delivery body is not a JSON event.
var ErrMalformed = errors.New("malformed event payload")

const maxLineBytes = 4 << 20

// Decode parses a webhook body. The envelope is accepted either directly
// or wrapped one level under a "message" key.
func Decode(data []byte) (Event, error) {
	var wrapper struct {
		Message json.RawMessage `json:"message"`
	}
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	body := data
	if m := bytes.TrimSpace(wrapper.Message); len(m) > 0 && m[0] == '{' {
		body = m
	}

	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	evt.raw = append([]byte(nil), body...)
	return evt, nil
}

// Parser reads newline-delimited webhook bodies, as written by wiretap.
type Parser struct {
	scanner *bufio.Scanner
	skipped int
}

// NewParser creates a Parser that reads from the given reader.
func NewParser(r io.Reader) *Parser {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Parser{scanner: s}
}

// Next reads the next event from the stream.
// Returns the event and true if an event was read, or a zero Event and false at EOF.
// Lines that do not decode are skipped and counted.
func (p *Parser) Next() (Event, bool) {
	for p.scanner.Scan() {
		line := bytes.TrimSpace(p.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		evt, err := Decode(line)
		if err != nil {
			p.skipped++
			continue
		}
		return evt, true
	}
	return Event{}, false
}

// Skipped returns how many non-empty lines failed to decode so far.
func (p *Parser) Skipped() int {
	return p.skipped
}

// Err returns the first read error, if any.
func (p *Parser) Err() error {
	return p.scanner.Err()
}

// ParseAll reads all events from the stream and returns them.
func (p *Parser) ParseAll() []Event {
	var events []Event
	for {
		evt, ok := p.Next()
		if !ok {
			break
		}
		events = append(events, evt)
	}
	return events
}

// ParseBytes is a convenience function that parses all events from a byte slice.
func ParseBytes(data []byte) []Event {
	return NewParser(bytes.NewReader(data)).ParseAll()
}
