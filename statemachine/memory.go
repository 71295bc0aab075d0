package statemachine

import (
	"sync"

	"github.com/vmihailenco/msgpack/v4"

	"github.com/rabia-go/rabia/model"
)

// Memory is a reference StateMachine: it appends every command it
// processes to an in-memory log and echoes the command bytes back as the
// result. It exists so the core's engine/tests have a concrete, trivial
// collaborator to commit against; production deployments supply their
// own.
type Memory struct {
	mu  sync.Mutex
	log [][]byte
}

// NewMemory creates an empty in-memory state machine.
func NewMemory() *Memory {
	return &Memory{}
}

// Process appends each command to the log and echoes it back.
func (m *Memory) Process(commands []model.Command) ([]Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make([]Result, 0, len(commands))
	for _, c := range commands {
		m.log = append(m.log, append([]byte(nil), c...))
		results = append(results, Result{Output: c})
	}
	return results, nil
}

// Log returns a copy of the commands applied so far, in commit order.
func (m *Memory) Log() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.log))
	copy(out, m.log)
	return out
}

// MakeSnapshot msgpack-encodes the command log.
func (m *Memory) MakeSnapshot() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return msgpack.Marshal(m.log)
}

// RestoreSnapshot replaces the command log with the one encoded in
// snapshot.
func (m *Memory) RestoreSnapshot(snapshot []byte) error {
	var log [][]byte
	if len(snapshot) > 0 {
		if err := msgpack.Unmarshal(snapshot, &log); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = log
	return nil
}

// Reset empties the command log.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.log = nil
}
