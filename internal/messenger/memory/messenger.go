// Package memory provides a Messenger that records every call. It backs tests
// and the "log" transport used for local runs.
package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/lms-courier/internal/messenger"
)

// Call operations.
const (
	OpSend = "send"
	OpEdit = "edit"
	OpFile = "file"
)

// Call captures one successful or failed messenger call.
type Call struct {
	Op        string
	Owner     string
	MessageID string
	Text      string
	Buttons   []messenger.Button
	Path      string
	Err       error
}

// Messenger records calls in memory.
type Messenger struct {
	logger *zap.Logger

	mu       sync.Mutex
	seq      int
	calls    []Call
	texts    map[string]string
	sendErr  error
	editErr  error
	fileFail map[string]fileFailure
}

type fileFailure struct {
	remaining int
	err       error
}

// New returns an empty Messenger. A nil logger disables logging.
func New(logger *zap.Logger) *Messenger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Messenger{
		logger:   logger.Named("messenger"),
		texts:    make(map[string]string),
		fileFail: make(map[string]fileFailure),
	}
}

// FailSends makes every Send return err until cleared with nil.
func (m *Messenger) FailSends(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// FailEdits makes every Edit return err until cleared with nil.
func (m *Messenger) FailEdits(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.editErr = err
}

// FailFile makes the next times SendFile calls for files named name fail.
func (m *Messenger) FailFile(name string, times int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fileFail[name] = fileFailure{remaining: times, err: err}
}

// Send records a new message and returns its id.
func (m *Messenger) Send(ctx context.Context, owner, text string, buttons []messenger.Button) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		m.calls = append(m.calls, Call{Op: OpSend, Owner: owner, Text: text, Buttons: buttons, Err: m.sendErr})
		return "", m.sendErr
	}
	m.seq++
	id := fmt.Sprintf("msg-%d", m.seq)
	m.texts[id] = text
	m.calls = append(m.calls, Call{Op: OpSend, Owner: owner, MessageID: id, Text: text, Buttons: buttons})
	m.logger.Info("send", zap.String("owner", owner), zap.String("message_id", id), zap.String("text", text))
	return id, nil
}

// Edit records a replacement text for id.
func (m *Messenger) Edit(ctx context.Context, owner, id, text string, buttons []messenger.Button) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	call := Call{Op: OpEdit, Owner: owner, MessageID: id, Text: text, Buttons: buttons}
	if m.editErr != nil {
		call.Err = m.editErr
		m.calls = append(m.calls, call)
		return m.editErr
	}
	if _, ok := m.texts[id]; !ok {
		call.Err = fmt.Errorf("unknown message %q", id)
		m.calls = append(m.calls, call)
		return call.Err
	}
	m.texts[id] = text
	m.calls = append(m.calls, call)
	m.logger.Info("edit", zap.String("owner", owner), zap.String("message_id", id), zap.String("text", text))
	return nil
}

// SendFile records a file delivery.
func (m *Messenger) SendFile(ctx context.Context, owner, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	call := Call{Op: OpFile, Owner: owner, Path: path}
	name := filepath.Base(path)
	if f, ok := m.fileFail[name]; ok && f.remaining > 0 {
		f.remaining--
		m.fileFail[name] = f
		call.Err = f.err
		m.calls = append(m.calls, call)
		return f.err
	}
	m.calls = append(m.calls, call)
	m.logger.Info("file", zap.String("owner", owner), zap.String("path", path))
	return nil
}

// Calls returns every recorded call in order.
func (m *Messenger) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Call, len(m.calls))
	copy(out, m.calls)
	return out
}

// Text returns the current text of message id.
func (m *Messenger) Text(id string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.texts[id]
	return t, ok
}

// Sent returns the successful sends for owner.
func (m *Messenger) Sent(owner string) []Call {
	return m.filter(func(c Call) bool { return c.Op == OpSend && c.Owner == owner && c.Err == nil })
}

// Files returns the base names of files delivered successfully, in order.
func (m *Messenger) Files() []string {
	var names []string
	for _, c := range m.filter(func(c Call) bool { return c.Op == OpFile && c.Err == nil }) {
		names = append(names, filepath.Base(c.Path))
	}
	return names
}

func (m *Messenger) filter(keep func(Call) bool) []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Call
	for _, c := range m.calls {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
