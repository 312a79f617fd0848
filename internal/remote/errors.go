package remote

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

// Trailer keys the server sets on an Aborted status to report a conflict.
const (
	ConflictTypeKey     = "x-conflict-type"
	ConflictSnapshotKey = "x-conflict-snapshot-bin"
)

// mapError sorts a call failure into the classes the drain understands:
// conflict, retryable or terminal.
func mapError(method string, err error, trailer metadata.MD) error {
	if err == nil {
		return nil
	}

	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Aborted:
		if t := trailer.Get(ConflictTypeKey); len(t) > 0 {
			ce := &common.ConflictError{Type: t[0]}
			if snap := trailer.Get(ConflictSnapshotKey); len(snap) > 0 {
				ce.Server = []byte(snap[0])
			}
			return ce
		}
		return common.NewRetryableError(fmt.Errorf("%s: %w", method, err))
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted,
		codes.Canceled, codes.Internal, codes.Unauthenticated:
		return common.NewRetryableError(fmt.Errorf("%s: %w", method, err))
	default:
		return fmt.Errorf("%s: %w", method, err)
	}
}
