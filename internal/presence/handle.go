package presence

import (
	"errors"
	"strings"
)

var ErrInvalidHandle = errors.New("presence: invalid handle")

// Handle addresses one live connection: the instance that owns the socket and
// the connection id on that instance.
type Handle struct {
	Instance string
	ConnID   string
}

func (h Handle) IsZero() bool { return h.Instance == "" && h.ConnID == "" }

func (h Handle) String() string {
	if h.IsZero() {
		return ""
	}
	return h.Instance + "/" + h.ConnID
}

// ParseHandle is the inverse of Handle.String. Instance ids may not contain "/".
func ParseHandle(s string) (Handle, error) {
	i := strings.IndexByte(s, '/')
	if i <= 0 || i == len(s)-1 {
		return Handle{}, ErrInvalidHandle
	}
	return Handle{Instance: s[:i], ConnID: s[i+1:]}, nil
}
