package job

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested job does not exist.
	ErrNotFound = errors.New("job: not found")
	// ErrNoFreelancer signals the job has no accepted freelancer yet.
	ErrNoFreelancer = errors.New("job: no freelancer bound")
)

// Repository provides read access to the job directory.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByID fetches a job by its primary key.
func (r *Repository) GetByID(ctx context.Context, id string) (Job, error) {
	const query = `
		SELECT id, title, client_id, freelancer_id, created_at
		FROM jobs
		WHERE id = $1
	`

	var j Job
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&j.ID,
		&j.Title,
		&j.ClientID,
		&j.FreelancerID,
		&j.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrNotFound
		}
		return Job{}, fmt.Errorf("job: query by id: %w", err)
	}

	return j, nil
}

// Parties resolves the client and freelancer bound to a job.
func (r *Repository) Parties(ctx context.Context, id string) (Parties, error) {
	j, err := r.GetByID(ctx, id)
	if err != nil {
		return Parties{}, err
	}
	if j.FreelancerID == nil || *j.FreelancerID == "" {
		return Parties{}, ErrNoFreelancer
	}
	return Parties{ClientID: j.ClientID, FreelancerID: *j.FreelancerID}, nil
}

// Contact fetches display data for a user, used when rendering notifications.
func (r *Repository) Contact(ctx context.Context, userID string) (Contact, error) {
	const query = `
		SELECT id, full_name, email
		FROM users
		WHERE id = $1
	`

	var c Contact
	err := r.pool.QueryRow(ctx, query, userID).Scan(&c.UserID, &c.FullName, &c.Email)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrNotFound
		}
		return Contact{}, fmt.Errorf("job: query contact: %w", err)
	}

	return c, nil
}
