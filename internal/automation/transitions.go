package automation

import (
	"sync"

	"github.com/guidoenr/partivision/internal/params"
)

// Transition is a visual switch due at a wall-clock time in milliseconds.
type Transition struct {
	Model string  `json:"model"`
	Due   float64 `json:"dueMs"`
}

// TransitionQueue is a FIFO of pending switches. Only the head is ever examined, so
// an entry behind a later-due head waits even if its own time has passed.
type TransitionQueue struct {
	mu    sync.Mutex
	items []Transition
}

// Push appends a transition to the tail.
func (q *TransitionQueue) Push(t Transition) {
	q.mu.Lock()
	q.items = append(q.items, t)
	q.mu.Unlock()
}

// Schedule appends model due delaySeconds after nowMillis and returns the entry.
func (q *TransitionQueue) Schedule(model string, delaySeconds, nowMillis float64) Transition {
	t := Transition{Model: model, Due: nowMillis + delaySeconds*1000}
	q.Push(t)
	return t
}

// PopDue removes and returns the head if it is due at nowMillis.
func (q *TransitionQueue) PopDue(nowMillis float64) (Transition, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || nowMillis < q.items[0].Due {
		return Transition{}, false
	}
	head := q.items[0]
	q.items[0] = Transition{}
	q.items = q.items[1:]
	return head, true
}

// Len returns the number of queued transitions.
func (q *TransitionQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Pending returns a copy of the queue, head first.
func (q *TransitionQueue) Pending() []Transition {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Transition(nil), q.items...)
}

// Switcher applies a visual change.
type Switcher interface {
	SwitchVisual(name string) error
}

// Engine bundles the macros and the transition queue behind the single per-tick entry point.
type Engine struct {
	Macros *Macros
	Queue  *TransitionQueue
}

// NewEngine returns an engine with all macros off and an empty queue.
func NewEngine() *Engine {
	return &Engine{Macros: NewMacros(), Queue: &TransitionQueue{}}
}

// Tick applies active macros, then at most one due transition.
func (e *Engine) Tick(nowMillis float64, p *params.Parameters, c *params.Camera, sw Switcher) error {
	e.Macros.Apply(nowMillis, Target{Params: p, Camera: c})
	return e.Advance(nowMillis, sw)
}

// Advance applies the queue head if it is due. It is what the one-shot delay timer calls.
func (e *Engine) Advance(nowMillis float64, sw Switcher) error {
	t, ok := e.Queue.PopDue(nowMillis)
	if !ok {
		return nil
	}
	return sw.SwitchVisual(t.Model)
}
