package event

// Type identifies a published event by name and schema version
type Type string

const (
	TypeMediaStored Type = "media.stored.v1"
	TypeMediaFailed Type = "media.failed.v1"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeMediaStored, TypeMediaFailed:
		return true
	default:
		return false
	}
}
