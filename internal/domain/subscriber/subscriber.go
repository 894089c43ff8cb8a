package subscriber

import (
	"errors"
	"time"
)

var (
	ErrTokenAlreadyIssued = errors.New("subscriber already has a token")
	ErrUnknownPool        = errors.New("unknown traffic pool")
)

// Subscriber is the aggregate root for one paying identity. It owns the
// long-lived access token and the per-pool billing-period accounting; key
// existence on nodes is observed fleet state, never stored here.
type Subscriber struct {
	id        uint
	token     string
	active    bool
	expiresAt *time.Time
	primary   TrafficPool
	bypass    TrafficPool
	createdAt time.Time
	updatedAt time.Time
}

// NewSubscriber creates a fresh subscriber. Rows normally come from the signup
// flow; this constructor exists for that flow and for tests.
func NewSubscriber(id uint) (*Subscriber, error) {
	if id == 0 {
		return nil, errors.New("subscriber ID cannot be zero")
	}
	now := time.Now().UTC()
	return &Subscriber{
		id:        id,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// ReconstructSubscriber restores a subscriber from persistence.
func ReconstructSubscriber(
	id uint,
	token string,
	active bool,
	expiresAt *time.Time,
	primary TrafficPool,
	bypass TrafficPool,
	createdAt time.Time,
	updatedAt time.Time,
) (*Subscriber, error) {
	if id == 0 {
		return nil, errors.New("subscriber ID cannot be zero")
	}
	return &Subscriber{
		id:        id,
		token:     token,
		active:    active,
		expiresAt: expiresAt,
		primary:   primary,
		bypass:    bypass,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}, nil
}

func (s *Subscriber) ID() uint {
	return s.id
}

func (s *Subscriber) Token() string {
	return s.token
}

func (s *Subscriber) HasToken() bool {
	return s.token != ""
}

// AssignToken stores the issued token. Tokens are issued once; assigning over
// an existing token is rejected so re-activation stays idempotent.
func (s *Subscriber) AssignToken(token string) error {
	if token == "" {
		return errors.New("token cannot be empty")
	}
	if s.token != "" {
		return ErrTokenAlreadyIssued
	}
	s.token = token
	s.touch()
	return nil
}

func (s *Subscriber) IsActive() bool {
	return s.active
}

func (s *Subscriber) ExpiresAt() *time.Time {
	return s.expiresAt
}

// IsEntitled reports whether the subscriber may be served configuration.
func (s *Subscriber) IsEntitled(now time.Time) bool {
	if !s.active {
		return false
	}
	if s.expiresAt != nil && now.After(*s.expiresAt) {
		return false
	}
	return true
}

// Activate marks the subscription entitled, optionally until expiry.
func (s *Subscriber) Activate(expiresAt *time.Time) {
	s.active = true
	if expiresAt != nil {
		t := expiresAt.UTC()
		s.expiresAt = &t
	}
	s.touch()
}

// Deactivate marks the subscription no longer entitled. Billing intent wins
// over best-effort node cleanup, so this never fails.
func (s *Subscriber) Deactivate() {
	s.active = false
	s.touch()
}

// PoolState returns a pointer to the accounting state of the given pool.
func (s *Subscriber) PoolState(pool Pool) (*TrafficPool, error) {
	switch pool {
	case PoolPrimary:
		return &s.primary, nil
	case PoolBypass:
		return &s.bypass, nil
	default:
		return nil, ErrUnknownPool
	}
}

func (s *Subscriber) Primary() *TrafficPool {
	return &s.primary
}

func (s *Subscriber) Bypass() *TrafficPool {
	return &s.bypass
}

func (s *Subscriber) CreatedAt() time.Time {
	return s.createdAt
}

func (s *Subscriber) UpdatedAt() time.Time {
	return s.updatedAt
}

func (s *Subscriber) touch() {
	s.updatedAt = time.Now().UTC()
}
