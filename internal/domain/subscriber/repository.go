package subscriber

import "context"

// Repository provides the point lookups and writes the core needs.
// Signup/renewal flows own row creation; the core mutates accounting and
// entitlement state.
type Repository interface {
	GetByID(ctx context.Context, id uint) (*Subscriber, error)
	GetByToken(ctx context.Context, token string) (*Subscriber, error)
	ListActive(ctx context.Context) ([]*Subscriber, error)
	Create(ctx context.Context, sub *Subscriber) error
	Update(ctx context.Context, sub *Subscriber) error
}
