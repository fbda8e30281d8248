package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"labelstock/backend/internal/cache"
	"labelstock/backend/internal/domain"
	"labelstock/backend/internal/events"
	"labelstock/backend/internal/store"
	"labelstock/backend/internal/xid"
)

var ErrForbidden = errors.New("insufficient role")

// ValidationError reports a missing or malformed identifier. It is raised
// before any store access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return store.ErrInvalidInput
}

func invalid(field string, message string) error {
	return &ValidationError{Field: field, Message: message}
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Cache           cache.BarcodeCache
	CacheTTL        time.Duration
	Publisher       events.Publisher
	Logger          *zap.Logger
	DefaultStoreID  string
	FinalizeTimeout time.Duration
}

type Service struct {
	repo            store.Repository
	barcodes        *cache.ReadThrough
	publisher       events.Publisher
	logger          *zap.Logger
	defaultStoreID  string
	finalizeTimeout time.Duration
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NewLogPublisher(opts.Logger)
	}
	if opts.DefaultStoreID == "" {
		opts.DefaultStoreID = "main-store"
	}
	if opts.FinalizeTimeout <= 0 {
		opts.FinalizeTimeout = 5 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 5 * time.Minute
	}

	return &Service{
		repo:            repo,
		barcodes:        cache.NewReadThrough(opts.Cache, opts.CacheTTL, opts.Logger),
		publisher:       opts.Publisher,
		logger:          opts.Logger,
		defaultStoreID:  opts.DefaultStoreID,
		finalizeTimeout: opts.FinalizeTimeout,
	}
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("admin role required: %w", ErrForbidden)
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, storeID string, action string, entityType string, entityID string, detail string) {
	if storeID == "" {
		storeID = s.defaultStoreID
	}

	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		StoreID:       storeID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, event events.Event) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("failed to publish event",
			zap.String("event_type", event.EventType()),
			zap.String("partition_key", event.PartitionKey()),
			zap.Error(err),
		)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, receiptID string, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListAuditLogs(ctx, "", strings.TrimSpace(receiptID), limit)
}

func serialDetail(serial *string) string {
	if serial == nil {
		return "serial=<none>"
	}
	return "serial=" + *serial
}
