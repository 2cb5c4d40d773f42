package lifecycle

import "github.com/batilieri/multichat-system-sub001/internal/domain/entity"

// State is a download record status
type State string

const (
	StatePending         State = entity.DownloadStatusPending
	StateDownloading     State = entity.DownloadStatusDownloading
	StateSuccess         State = entity.DownloadStatusSuccess
	StateFailedPermanent State = entity.DownloadStatusFailedPermanent
	StateExpired         State = entity.DownloadStatusExpired
)

// IsTerminal returns true if no further transitions are allowed
func (s State) IsTerminal() bool {
	switch s {
	case StateSuccess, StateFailedPermanent, StateExpired:
		return true
	}
	return false
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a known download status.
// Kept free of package-level tables so it is safe during package init.
func (s State) IsValid() bool {
	switch s {
	case StatePending, StateDownloading, StateSuccess, StateFailedPermanent, StateExpired:
		return true
	}
	return false
}
