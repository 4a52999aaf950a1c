// Package sink provides destinations for events emitted by the std_output function.
package sink

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/nats-io/nats.go"
)

// Sink receives formatted event strings.
type Sink interface {
	Write(event string) error
}

// Func adapts a plain function to Sink.
type Func func(event string) error

// Write calls f.
func (f Func) Write(event string) error {
	return f(event)
}

// WriterSink writes each event followed by a newline. Writes are serialized
// so events from concurrent jobs never interleave.
type WriterSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriterSink returns a sink writing to w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Stdout returns a sink writing to the process standard output.
func Stdout() *WriterSink {
	return NewWriterSink(os.Stdout)
}

// Write implements Sink.
func (s *WriterSink) Write(event string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := io.WriteString(s.w, event+"\n"); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	if f, ok := s.w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
	return nil
}

// Publisher is the subset of *nats.Conn used by NATSSink.
type Publisher interface {
	Publish(subject string, data []byte) error
}

var _ Publisher = (*nats.Conn)(nil)

// NATSSink publishes each event as one NATS message.
type NATSSink struct {
	pub     Publisher
	subject string
}

// NewNATSSink returns a sink publishing to subject on conn.
func NewNATSSink(conn *nats.Conn, subject string) (*NATSSink, error) {
	if conn == nil {
		return nil, fmt.Errorf("nats connection is required")
	}
	return newNATSSink(conn, subject)
}

func newNATSSink(pub Publisher, subject string) (*NATSSink, error) {
	if subject == "" {
		return nil, fmt.Errorf("subject is required")
	}
	return &NATSSink{pub: pub, subject: subject}, nil
}

// Write implements Sink.
func (s *NATSSink) Write(event string) error {
	if err := s.pub.Publish(s.subject, []byte(event)); err != nil {
		return fmt.Errorf("publish event to %s: %w", s.subject, err)
	}
	return nil
}
