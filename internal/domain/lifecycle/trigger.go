package lifecycle

// Trigger represents an event that can cause a state transition
type Trigger string

const (
	TriggerStart   Trigger = "start"
	TriggerSucceed Trigger = "succeed"
	TriggerFail    Trigger = "fail"
	TriggerExpire  Trigger = "expire"
	TriggerAbandon Trigger = "abandon" // in-flight past the stale deadline
)

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}
