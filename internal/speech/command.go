package speech

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// CallbackTarget receives engine completion callbacks. *Driver satisfies
// it.
type CallbackTarget interface {
	OnDone(utteranceID string)
	OnError(utteranceID string, err error)
}

// CommandEngine speaks by piping utterance text to an external
// command's stdin (espeak-ng, say, piper, ...), one process per
// utterance. It reports completion when the process exits. It cannot
// report range progress; position advances chunk by chunk.
type CommandEngine struct {
	argv   []string
	logger *log.Logger

	mu        sync.Mutex
	target    CallbackTarget
	current   *exec.Cmd
	currentID string
	closed    bool
}

// NewCommandEngine creates an engine around the given command line, e.g.
// "espeak-ng --stdin".
func NewCommandEngine(command string, logger *log.Logger) (*CommandEngine, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("speech: empty engine command")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &CommandEngine{argv: argv, logger: logger}, nil
}

// SetCallbackTarget wires the engine's completion callbacks, normally to
// a Driver.
func (e *CommandEngine) SetCallbackTarget(target CallbackTarget) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.target = target
}

// Speak implements Engine.
func (e *CommandEngine) Speak(text, utteranceID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("speech: engine closed")
	}
	e.stopLocked()

	cmd := exec.Command(e.argv[0], e.argv[1:]...) //nolint:gosec
	cmd.Stdin = strings.NewReader(text)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", e.argv[0], err)
	}
	e.current = cmd
	e.currentID = utteranceID

	go e.wait(cmd, utteranceID)
	return nil
}

// wait blocks on process exit and reports the outcome, unless the
// utterance was replaced or stopped in the meantime.
func (e *CommandEngine) wait(cmd *exec.Cmd, utteranceID string) {
	err := cmd.Wait()

	e.mu.Lock()
	stillCurrent := e.current == cmd
	if stillCurrent {
		e.current = nil
		e.currentID = ""
	}
	target := e.target
	e.mu.Unlock()

	if !stillCurrent || target == nil {
		return
	}
	if err != nil {
		target.OnError(utteranceID, fmt.Errorf("%s exited: %w", e.argv[0], err))
		return
	}
	target.OnDone(utteranceID)
}

// Stop implements Engine. Killing the process makes wait report a
// failure, but by then the utterance is no longer current, so nothing is
// emitted.
func (e *CommandEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	return nil
}

func (e *CommandEngine) stopLocked() {
	if e.current == nil {
		return
	}
	if e.current.Process != nil {
		if err := e.current.Process.Kill(); err != nil {
			e.logger.Debug("kill engine process", "err", err)
		}
	}
	e.current = nil
	e.currentID = ""
}

// Close implements Engine.
func (e *CommandEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopLocked()
	e.closed = true
	return nil
}
