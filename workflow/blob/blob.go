// Package blob abstracts the off-chain evidence storage network WorkSubmission
// uploads raw evidence bytes to before submitting on-chain.
package blob

import "context"

// Status is the three-valued status an uploaded object can report.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusNotFound  Status = "not_found"
)

// Adapter abstracts the storage network. Upload is expected to be cheap to
// retry: a crash between a successful upload and local persistence of its id
// produces, on retry, a fresh id rather than a duplicate-detection error --
// storage objects are fungible, unlike on-chain submissions.
type Adapter interface {
	Upload(ctx context.Context, data []byte, tags map[string]string) (id string, err error)
	Status(ctx context.Context, id string) (Status, error)
}
