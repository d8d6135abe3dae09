// Package npipe implements the OS-specific named pipe primitives used by ipipe.
//
// On POSIX systems a channel is a FIFO special file opened read-write.
// On Windows it is a named pipe where readers act as servers and writers
// connect to them as clients.
package npipe

import (
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// FIFOMode is the permission mode used when creating a FIFO.
const FIFOMode = 0o660

// ErrNotFIFO is returned when something other than a named pipe exists at a path.
var ErrNotFIFO = errors.New("not a named pipe")

// RandomName returns n random alphanumeric characters.
func RandomName(n int) string {
	var b strings.Builder
	for b.Len() < n {
		id := uuid.New()
		b.WriteString(strings.ReplaceAll(id.String(), "-", ""))
	}
	return b.String()[:n]
}
