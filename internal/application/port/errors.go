package port

import "errors"

// ErrDuplicateRecord is returned by repositories when a unique key is already taken
var ErrDuplicateRecord = errors.New("duplicate record")

// ErrLinkRejected is returned by MediaProvider.Fetch when the link answers 403, 404 or 410.
// Whether that means expiry is decided against the link's ExpiresAt by the caller.
var ErrLinkRejected = errors.New("fetch link rejected")
