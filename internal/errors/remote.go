package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// RemoteKind names the kind of remote endpoint that produced a RemoteError.
type RemoteKind string

const (
	KindDaemon RemoteKind = "daemon"
	KindAgent  RemoteKind = "shard"
	KindProxy  RemoteKind = "proxy"
	KindAdmin  RemoteKind = "admin"
)

// RemoteError is returned when a remote endpoint answers with a non-2xx
// status. Callers pattern match on StatusCode, e.g. a 404 while deleting a
// backup means it is already gone.
type RemoteError struct {
	Kind       RemoteKind
	StatusCode int
	URL        string
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s error: (%d) %s", e.Kind, e.StatusCode, e.Body)
}

// StatusCode returns the HTTP status carried by the first RemoteError in
// err's chain, or 0 if there is none.
func StatusCode(err error) int {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.StatusCode
	}
	return 0
}

// IsStatus reports whether err carries a RemoteError with the given status.
func IsStatus(err error, status int) bool {
	return err != nil && StatusCode(err) == status
}
