package speech

import (
	"errors"
	"sync"
)

// MockEngine is an in-memory Engine for tests and dry runs. It records
// every Speak call; completion and progress callbacks are driven
// manually through the owning Driver.
type MockEngine struct {
	mu        sync.Mutex
	spoken    []MockUtterance
	stopCalls int
	closed    bool
	failSpeak error
	currentID string
}

// MockUtterance is one recorded Speak call.
type MockUtterance struct {
	Text        string
	UtteranceID string
}

// NewMockEngine creates an idle mock engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{}
}

// FailNextSpeak makes the next Speak call return err.
func (m *MockEngine) FailNextSpeak(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSpeak = err
}

// Speak implements Engine.
func (m *MockEngine) Speak(text, utteranceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return errors.New("mock engine closed")
	}
	if m.failSpeak != nil {
		err := m.failSpeak
		m.failSpeak = nil
		return err
	}
	m.spoken = append(m.spoken, MockUtterance{Text: text, UtteranceID: utteranceID})
	m.currentID = utteranceID
	return nil
}

// Stop implements Engine.
func (m *MockEngine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	m.currentID = ""
	return nil
}

// Close implements Engine.
func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Spoken returns a copy of all recorded utterances.
func (m *MockEngine) Spoken() []MockUtterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockUtterance, len(m.spoken))
	copy(out, m.spoken)
	return out
}

// LastUtteranceID returns the id of the most recent Speak call, or "".
func (m *MockEngine) LastUtteranceID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.spoken) == 0 {
		return ""
	}
	return m.spoken[len(m.spoken)-1].UtteranceID
}

// StopCalls returns how many times Stop was called.
func (m *MockEngine) StopCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopCalls
}
