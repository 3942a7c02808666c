package submission

import "context"

// ListFilter narrows and pages admin listings. Search matches cognome,
// nome, codice fiscale and email, case-insensitively.
type ListFilter struct {
	Search string
	Status Status
	Limit  int
	Offset int
}

// Store persists submissions. Insert must fail with a conflict error when
// a submission with the same codice fiscale already exists, so the
// uniqueness guarantee holds even when two requests race past the
// pipeline's advisory check.
type Store interface {
	Insert(ctx context.Context, sub *Submission) (int64, error)
	Get(ctx context.Context, id int64) (*Submission, error)
	List(ctx context.Context, filter ListFilter) ([]*Submission, int, error)
	ExistsCodiceFiscale(ctx context.Context, cf string) (bool, error)
	UpdateStatus(ctx context.Context, id int64, status Status) error
	UpdateNotes(ctx context.Context, id int64, notes string) error
	Delete(ctx context.Context, id int64) error
}
