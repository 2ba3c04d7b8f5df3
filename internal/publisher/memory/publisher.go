// Package memory keeps published forecast events in process. It backs the
// service when no Pub/Sub topic is configured, and the tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Message is one accepted publish. Data holds the JSON body Pub/Sub would
// have carried.
type Message struct {
	ID      string
	Event   string
	Payload any
	Data    json.RawMessage
}

// Decode unmarshals the message body into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Publisher records events instead of sending them.
type Publisher struct {
	mu   sync.Mutex
	log  []Message
	fail error
}

// New returns an empty Publisher.
func New() *Publisher { return &Publisher{} }

// FailWith makes every later Publish return err; nil clears it.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	p.fail = err
	p.mu.Unlock()
}

// Publish encodes payload like the Pub/Sub publisher would and records it.
func (p *Publisher) Publish(_ context.Context, event string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return "", p.fail
	}
	id := fmt.Sprintf("memory-%d", len(p.log)+1)
	p.log = append(p.log, Message{ID: id, Event: event, Payload: payload, Data: data})
	return id, nil
}

// Messages returns a snapshot of the recorded events.
func (p *Publisher) Messages() []Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Message(nil), p.log...)
}

// Close is a no-op.
func (p *Publisher) Close() error { return nil }
