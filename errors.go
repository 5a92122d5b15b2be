package gridcache

import (
	"errors"
	"fmt"

	"github.com/DeltaLaboratory/gridcache/codec"
)

var (
	// ErrRoutingUnavailable reports that no known node can serve the key:
	// the partition table is empty or stale, or the contacted node no
	// longer owns the key's partition. Callers may retry after
	// RefreshAffinityMapping.
	ErrRoutingUnavailable = errors.New("gridcache: no node available to serve the request")

	// ErrTransport reports a failed send or receive (disconnect, timeout).
	// Never retried automatically.
	ErrTransport = errors.New("gridcache: transport failure")

	// ErrDecoding reports a response payload that did not match the shape
	// expected for its opcode. Fatal to the call; there is no best-effort
	// decode. It matches the codec package's corrupt-envelope errors.
	ErrDecoding = codec.ErrCorrupt
)

// ServerError carries a domain-level failure the server reported after
// executing the request, verbatim. It is never downgraded to a boolean
// result.
type ServerError struct {
	Op      string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("gridcache: server error on %s: %s", e.Op, e.Message)
}
