// Package subscription serves the public config endpoint: token in,
// newline-joined per-node client configuration out.
package subscription

import (
	"context"
	"strings"
	"time"

	"github.com/veilnet-io/veilnet/internal/application/fleet"
	"github.com/veilnet-io/veilnet/internal/domain/node"
	"github.com/veilnet-io/veilnet/internal/domain/subscriber"
	"github.com/veilnet-io/veilnet/internal/infrastructure/cache"
	"github.com/veilnet-io/veilnet/internal/infrastructure/security"
	"github.com/veilnet-io/veilnet/internal/shared/config"
	"github.com/veilnet-io/veilnet/internal/shared/errors"
	"github.com/veilnet-io/veilnet/internal/shared/goroutine"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

// TokenVerifier validates a presented token and returns the embedded
// subscriber ID.
type TokenVerifier interface {
	Verify(token string) (uint, error)
}

// Prober is the fleet read path: which nodes currently serve the subscriber.
type Prober interface {
	ProbeForServing(ctx context.Context, subscriberID uint) []fleet.ServingNode
}

// Guard is the request-level security surface the endpoint consults.
type Guard interface {
	Check(addr string) security.Decision
	RecordFailure(addr string)
	Suspicious(addr string) bool
}

// Result is a served configuration response.
type Result struct {
	Body        string
	NodesServed int
}

// Service composes the endpoint flow: guard, verify, cache, entitlement,
// fleet probe, audit.
type Service struct {
	verifier    TokenVerifier
	guard       Guard
	subscribers subscriber.Repository
	prober      Prober
	responses   cache.SubscriptionConfigCache
	accessLog   node.AccessLogRepository
	cfg         config.SubscriptionConfig
	log         logger.Interface
	now         func() time.Time
}

func NewService(
	verifier TokenVerifier,
	guard Guard,
	subscribers subscriber.Repository,
	prober Prober,
	responses cache.SubscriptionConfigCache,
	accessLog node.AccessLogRepository,
	cfg config.SubscriptionConfig,
	log logger.Interface,
) *Service {
	return NewServiceWithClock(verifier, guard, subscribers, prober, responses, accessLog, cfg, log, time.Now)
}

func NewServiceWithClock(
	verifier TokenVerifier,
	guard Guard,
	subscribers subscriber.Repository,
	prober Prober,
	responses cache.SubscriptionConfigCache,
	accessLog node.AccessLogRepository,
	cfg config.SubscriptionConfig,
	log logger.Interface,
	now func() time.Time,
) *Service {
	return &Service{
		verifier:    verifier,
		guard:       guard,
		subscribers: subscribers,
		prober:      prober,
		responses:   responses,
		accessLog:   accessLog,
		cfg:         cfg,
		log:         log.Named("subscription-service"),
		now:         now,
	}
}

// Fetch serves one config request. An empty body is a valid outcome: no node
// holds a key, and the caller must not fabricate configuration.
func (s *Service) Fetch(ctx context.Context, token, sourceIP, clientSig string) (*Result, error) {
	decision := s.guard.Check(sourceIP)
	if decision.Banned {
		return nil, errors.NewForbiddenError("address temporarily banned").WithRetryAfter(decision.RetryAfter)
	}
	if !decision.Allowed {
		return nil, errors.NewTooManyRequestsError("rate limit exceeded").WithRetryAfter(decision.RetryAfter)
	}

	subscriberID, err := s.verifier.Verify(token)
	if err != nil {
		s.guard.RecordFailure(sourceIP)
		return nil, errors.NewUnauthorizedError("invalid token")
	}

	if s.guard.Suspicious(sourceIP) {
		s.log.Warnw("suspicious request volume", "source_ip", sourceIP, "subscriber_id", subscriberID)
	}

	if body, hit, err := s.responses.Get(ctx, subscriberID); err == nil && hit {
		return &Result{Body: body, NodesServed: countConfigs(body)}, nil
	} else if err != nil {
		s.log.Warnw("config cache read failed", "error", err, "subscriber_id", subscriberID)
	}

	sub, err := s.subscribers.GetByID(ctx, subscriberID)
	if err != nil {
		return nil, errors.NewUnauthorizedError("invalid token")
	}
	if !sub.IsEntitled(s.now()) {
		return nil, errors.NewForbiddenError("subscription not active")
	}

	serving := s.prober.ProbeForServing(ctx, subscriberID)
	configs := make([]string, 0, len(serving))
	for _, sv := range serving {
		configs = append(configs, sv.Config)
	}
	body := strings.Join(configs, "\n")

	entry, err := node.NewAccessLogEntry(subscriberID, sourceIP, clientSig, len(serving))
	if err == nil {
		goroutine.SafeGo(s.log, "access-log-append", func() {
			logCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := s.accessLog.Append(logCtx, entry); err != nil {
				s.log.Warnw("failed to append access log", "error", err, "subscriber_id", subscriberID)
			}
		})
	}

	if err := s.responses.Set(ctx, subscriberID, body); err != nil {
		s.log.Warnw("config cache write failed", "error", err, "subscriber_id", subscriberID)
	}

	s.log.Infow("subscription config served",
		"subscriber_id", subscriberID, "nodes_served", len(serving), "source_ip", sourceIP)
	return &Result{Body: body, NodesServed: len(serving)}, nil
}

// InvalidateCache drops the subscriber's cached response so the next fetch
// re-probes the fleet. Called from the admin surface after fleet mutations.
func (s *Service) InvalidateCache(ctx context.Context, subscriberID uint) error {
	return s.responses.Invalidate(ctx, subscriberID)
}

// ProfileTitle is the display name conveyed in response headers.
func (s *Service) ProfileTitle() string {
	return s.cfg.ProfileTitle
}

// UpdateIntervalHours hints how often clients should re-poll.
func (s *Service) UpdateIntervalHours() int {
	return s.cfg.UpdateIntervalHours
}

func countConfigs(body string) int {
	if body == "" {
		return 0
	}
	return strings.Count(body, "\n") + 1
}
