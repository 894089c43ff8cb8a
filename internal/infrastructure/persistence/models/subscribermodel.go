package models

import (
	"time"

	"github.com/veilnet-io/veilnet/internal/domain/subscriber"
)

// SubscriberModel is the persistence shape of the subscriber aggregate.
// Pool accounting is flattened into columns; the anti-corruption mapping to
// the domain entity lives here, never in the repository callers.
type SubscriberModel struct {
	ID        uint    `gorm:"primarykey"`
	Token     *string `gorm:"uniqueIndex;size:512"`
	Active    bool    `gorm:"default:false;index:idx_subscriber_active"`
	ExpiresAt *time.Time

	PrimaryCumulative uint64 `gorm:"default:0"`
	PrimaryOffset     uint64 `gorm:"default:0"`
	PrimaryResetAt    *time.Time
	PrimaryWarn50     bool `gorm:"default:false"`
	PrimaryWarn70     bool `gorm:"default:false"`
	PrimaryWarn90     bool `gorm:"default:false"`

	BypassCumulative uint64 `gorm:"default:0"`
	BypassOffset     uint64 `gorm:"default:0"`
	BypassResetAt    *time.Time
	BypassWarn50     bool `gorm:"default:false"`
	BypassWarn70     bool `gorm:"default:false"`
	BypassWarn90     bool `gorm:"default:false"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (SubscriberModel) TableName() string {
	return "subscribers"
}

// FromSubscriber converts a domain subscriber to its persistence model.
func FromSubscriber(sub *subscriber.Subscriber) *SubscriberModel {
	m := &SubscriberModel{
		ID:        sub.ID(),
		Active:    sub.IsActive(),
		ExpiresAt: sub.ExpiresAt(),
		CreatedAt: sub.CreatedAt(),
		UpdatedAt: sub.UpdatedAt(),
	}
	if sub.HasToken() {
		token := sub.Token()
		m.Token = &token
	}

	p := sub.Primary()
	m.PrimaryCumulative = p.Cumulative()
	m.PrimaryOffset = p.Offset()
	m.PrimaryResetAt = p.ResetAt()
	m.PrimaryWarn50 = p.WarnSent(0)
	m.PrimaryWarn70 = p.WarnSent(1)
	m.PrimaryWarn90 = p.WarnSent(2)

	b := sub.Bypass()
	m.BypassCumulative = b.Cumulative()
	m.BypassOffset = b.Offset()
	m.BypassResetAt = b.ResetAt()
	m.BypassWarn50 = b.WarnSent(0)
	m.BypassWarn70 = b.WarnSent(1)
	m.BypassWarn90 = b.WarnSent(2)

	return m
}

// ToSubscriber reconstructs the domain subscriber from this model.
func (m *SubscriberModel) ToSubscriber() (*subscriber.Subscriber, error) {
	token := ""
	if m.Token != nil {
		token = *m.Token
	}
	primary := subscriber.ReconstructTrafficPool(
		m.PrimaryCumulative, m.PrimaryOffset, m.PrimaryResetAt,
		m.PrimaryWarn50, m.PrimaryWarn70, m.PrimaryWarn90,
	)
	bypass := subscriber.ReconstructTrafficPool(
		m.BypassCumulative, m.BypassOffset, m.BypassResetAt,
		m.BypassWarn50, m.BypassWarn70, m.BypassWarn90,
	)
	return subscriber.ReconstructSubscriber(
		m.ID, token, m.Active, m.ExpiresAt, primary, bypass, m.CreatedAt, m.UpdatedAt,
	)
}
