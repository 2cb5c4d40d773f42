package lifecycle

// StateMachine tracks the current state of one record and validates transitions
type StateMachine interface {
	// State returns the current state
	State() State

	// Fire executes the trigger, moving to the target state if allowed
	Fire(trigger Trigger) error
}
