package cluster

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	json "github.com/goccy/go-json"
)

// Sender writes envelopes, one JSON document per line. It is safe for
// concurrent use.
type Sender struct {
	mu sync.Mutex
	w  io.Writer
}

func NewSender(w io.Writer) *Sender {
	return &Sender{w: w}
}

func (s *Sender) Send(m Message) error {
	line, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.w.Write(line)
	return err
}

// Receiver reads envelopes written by a Sender.
type Receiver struct {
	r *bufio.Reader
}

func NewReceiver(r io.Reader) *Receiver {
	return &Receiver{r: bufio.NewReader(r)}
}

// MalformedError wraps a line that is not a valid envelope. The stream stays
// usable; the next Receive reads the following line.
type MalformedError struct {
	Line []byte
	Err  error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed message %q: %v", e.Line, e.Err)
}

func (e *MalformedError) Unwrap() error { return e.Err }

// Receive returns the next envelope, io.EOF once the writer has closed,
// or *MalformedError for a bad line.
func (r *Receiver) Receive() (Message, error) {
	for {
		line, err := r.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return Message{}, err
			}
			continue
		}

		var m Message
		if uerr := json.Unmarshal(line, &m); uerr != nil || m.Type == "" {
			if uerr == nil {
				uerr = errors.New("missing type")
			}
			return Message{}, &MalformedError{Line: line, Err: uerr}
		}
		return m, nil
	}
}
