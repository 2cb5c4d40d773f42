package lifecycle

import "fmt"

// Builder collects transitions and builds machines over them
type Builder interface {
	// Permit allows trigger to move from one state to another
	Permit(from State, trigger Trigger, to State) Builder

	// Build creates a machine starting in initial
	Build(initial State) (StateMachine, error)
}

type builder struct {
	transitions map[State]map[Trigger]State
}

type stateMachine struct {
	current     State
	transitions map[State]map[Trigger]State
}

// NewBuilder creates a new state machine builder
func NewBuilder() Builder {
	return &builder{transitions: make(map[State]map[Trigger]State)}
}

// Permit implements Builder. It panics on unknown states, which are programming errors.
func (b *builder) Permit(from State, trigger Trigger, to State) Builder {
	if !from.IsValid() || !to.IsValid() {
		panic(fmt.Sprintf("invalid transition %s -%s-> %s", from, trigger, to))
	}
	if b.transitions[from] == nil {
		b.transitions[from] = make(map[Trigger]State)
	}
	b.transitions[from][trigger] = to
	return b
}

// Build implements Builder; the machine shares the builder's table read-only
func (b *builder) Build(initial State) (StateMachine, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, initial)
	}
	return &stateMachine{current: initial, transitions: b.transitions}, nil
}

func (m *stateMachine) State() State {
	return m.current
}

func (m *stateMachine) Fire(trigger Trigger) error {
	to, ok := m.transitions[m.current][trigger]
	if !ok {
		return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.current)
	}
	m.current = to
	return nil
}
