package radio

import (
	"context"
	"sync"
)

// Command is one recorded wheel or indicator command.
type Command struct {
	ID        int
	Left      int
	Right     int
	Indicator *Color
}

// IsStop reports whether the command is a zero-speed wheel command.
func (c Command) IsStop() bool {
	return c.Indicator == nil && c.Left == 0 && c.Right == 0
}

// Recorder is an in-memory Link. It backs dry runs and tests.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
	fail     map[int]error // returned by every command to that cube
	failNext map[int][]error
	connects map[int]int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		fail:     make(map[int]error),
		failNext: make(map[int][]error),
		connects: make(map[int]int),
	}
}

// Fail makes every later command to id return err. A nil err clears it.
func (r *Recorder) Fail(id int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.fail, id)
		return
	}
	r.fail[id] = err
}

// FailNext queues errs to be returned by the next commands to id.
func (r *Recorder) FailNext(id int, errs ...error) {
	r.mu.Lock()
	r.failNext[id] = append(r.failNext[id], errs...)
	r.mu.Unlock()
}

func (r *Recorder) check(id int) error {
	if q := r.failNext[id]; len(q) > 0 {
		r.failNext[id] = q[1:]
		return q[0]
	}
	return r.fail[id]
}

// SetWheelSpeeds records a motor command.
func (r *Recorder) SetWheelSpeeds(ctx context.Context, id, left, right int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(id); err != nil {
		return &LinkError{ActuatorID: id, Op: "motor", Err: err}
	}
	r.commands = append(r.commands, Command{ID: id, Left: ClampSpeed(left), Right: ClampSpeed(right)})
	return nil
}

// SetIndicator records an indicator command.
func (r *Recorder) SetIndicator(ctx context.Context, id int, c Color) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.check(id); err != nil {
		return &LinkError{ActuatorID: id, Op: "indicator", Err: err}
	}
	col := c
	r.commands = append(r.commands, Command{ID: id, Indicator: &col})
	return nil
}

// Connect records a connection attempt.
func (r *Recorder) Connect(ctx context.Context, id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connects[id]++
	if err := r.check(id); err != nil {
		return &LinkError{ActuatorID: id, Op: "connect", Err: err}
	}
	return nil
}

// Commands returns the commands sent to id, in order.
func (r *Recorder) Commands(id int) []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Command
	for _, c := range r.commands {
		if c.ID == id {
			out = append(out, c)
		}
	}
	return out
}

// Wheels returns only the wheel commands sent to id.
func (r *Recorder) Wheels(id int) []Command {
	var out []Command
	for _, c := range r.Commands(id) {
		if c.Indicator == nil {
			out = append(out, c)
		}
	}
	return out
}

// Connects returns how many times Connect was called for id.
func (r *Recorder) Connects(id int) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connects[id]
}

// Reset forgets recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.commands = nil
	r.mu.Unlock()
}

var (
	_ Link      = (*Recorder)(nil)
	_ Connector = (*Recorder)(nil)
)
