// Package lifecycle defines the status transitions of a download record.
//
//	pending --start--> downloading --succeed--> success
//	                               --fail-----> failed_permanent
//	                               --expire---> expired
//	pending|downloading --abandon--> failed_permanent
//
// Terminal states have no outgoing transitions; a retry is a new generation.
package lifecycle

var downloadTransitions = NewBuilder().
	Permit(StatePending, TriggerStart, StateDownloading).
	Permit(StatePending, TriggerAbandon, StateFailedPermanent).
	Permit(StateDownloading, TriggerSucceed, StateSuccess).
	Permit(StateDownloading, TriggerFail, StateFailedPermanent).
	Permit(StateDownloading, TriggerExpire, StateExpired).
	Permit(StateDownloading, TriggerAbandon, StateFailedPermanent)

// NewDownloadMachine returns a machine positioned at the given record status
func NewDownloadMachine(status string) (StateMachine, error) {
	return downloadTransitions.Build(State(status))
}

// Next returns the status a record moves to when trigger fires
func Next(status string, trigger Trigger) (string, error) {
	m, err := NewDownloadMachine(status)
	if err != nil {
		return "", err
	}
	if err := m.Fire(trigger); err != nil {
		return "", err
	}
	return m.State().String(), nil
}
