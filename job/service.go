package job

import "context"

// DirectoryReader abstracts repository operations for the service.
type DirectoryReader interface {
	GetByID(ctx context.Context, id string) (Job, error)
	Parties(ctx context.Context, id string) (Parties, error)
	Contact(ctx context.Context, userID string) (Contact, error)
}

// Service exposes the job directory to the escrow core.
type Service struct {
	repo DirectoryReader
}

// NewService builds a Service using the provided repository.
func NewService(repo DirectoryReader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the job for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Job, error) {
	return s.repo.GetByID(ctx, id)
}

// Parties returns the client and freelancer bound to the job.
func (s *Service) Parties(ctx context.Context, id string) (Parties, error) {
	return s.repo.Parties(ctx, id)
}

// Contact returns display data for notification rendering.
func (s *Service) Contact(ctx context.Context, userID string) (Contact, error) {
	return s.repo.Contact(ctx, userID)
}
