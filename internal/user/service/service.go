// Package service is the entry point for user commands and read-model queries.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"accounts/internal/platform/metrics"
	"accounts/internal/user/models"
	dErrors "accounts/pkg/domain-errors"
	"accounts/pkg/platform/sentinel"
	"accounts/pkg/requestcontext"
)

// Dispatcher delivers a command to the single live instance of a user and
// waits for its reply.
type Dispatcher interface {
	Ask(ctx context.Context, entityID string, cmd models.Command) (models.Event, error)
}

// ReadStore is the query side of the user read model.
type ReadStore interface {
	Lookup(ctx context.Context, username models.Username) (models.Record, error)
	ListAll(ctx context.Context) ([]models.Record, error)
}

// Service routes user commands to their aggregate and serves queries from
// the eventually consistent read model.
type Service struct {
	dispatcher Dispatcher
	reads      ReadStore
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// New constructs a Service.
func New(dispatcher Dispatcher, reads ReadStore, opts ...Option) *Service {
	s := &Service{dispatcher: dispatcher, reads: reads, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates the user named by cmd.Username.
func (s *Service) Register(ctx context.Context, cmd models.Register) (models.UserRegistered, error) {
	if err := requireUsername(cmd.Username); err != nil {
		return models.UserRegistered{}, err
	}
	ctx, _ = requestcontext.EnsureRequestID(ctx)
	evt, err := s.dispatcher.Ask(ctx, cmd.Username.String(), cmd)
	if err != nil {
		return models.UserRegistered{}, s.failed(ctx, cmd, err)
	}
	registered, ok := evt.(models.UserRegistered)
	if !ok {
		return models.UserRegistered{}, s.failed(ctx, cmd, unexpectedReply(evt))
	}
	s.metrics.IncrementUsersRegistered()
	s.logger.InfoContext(ctx, "user registered",
		"request_id", requestcontext.RequestID(ctx),
		"username", registered.Username.String(),
	)
	return registered, nil
}

// Update replaces the profile of an existing user.
func (s *Service) Update(ctx context.Context, cmd models.Update) (models.UserUpdated, error) {
	if err := requireUsername(cmd.Username); err != nil {
		return models.UserUpdated{}, err
	}
	ctx, _ = requestcontext.EnsureRequestID(ctx)
	evt, err := s.dispatcher.Ask(ctx, cmd.Username.String(), cmd)
	if err != nil {
		return models.UserUpdated{}, s.failed(ctx, cmd, err)
	}
	updated, ok := evt.(models.UserUpdated)
	if !ok {
		return models.UserUpdated{}, s.failed(ctx, cmd, unexpectedReply(evt))
	}
	s.metrics.IncrementUsersUpdated()
	s.logger.InfoContext(ctx, "user updated",
		"request_id", requestcontext.RequestID(ctx),
		"username", updated.Username.String(),
	)
	return updated, nil
}

// Lookup reads one user from the read model. A user registered moments ago
// may not be visible yet.
func (s *Service) Lookup(ctx context.Context, username models.Username) (models.Record, error) {
	rec, err := s.reads.Lookup(ctx, username)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Record{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("user %s not found", username))
		}
		return models.Record{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read user")
	}
	return rec, nil
}

// ListAll returns every user in the read model.
func (s *Service) ListAll(ctx context.Context) ([]models.Record, error) {
	recs, err := s.reads.ListAll(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list users")
	}
	return recs, nil
}

func (s *Service) failed(ctx context.Context, cmd models.Command, err error) error {
	code := dErrors.CodeOf(err)
	s.metrics.IncrementCommandsFailed(cmd.CommandName(), string(code))
	switch code {
	case dErrors.CodeDuplicateEntity, dErrors.CodeEntityNotFound:
		s.logger.InfoContext(ctx, "user command rejected",
			"request_id", requestcontext.RequestID(ctx),
			"command", cmd.CommandName(),
			"code", code,
		)
	default:
		s.logger.ErrorContext(ctx, "user command failed",
			"request_id", requestcontext.RequestID(ctx),
			"command", cmd.CommandName(),
			"code", code,
			"error", err,
		)
	}
	if code == dErrors.CodeInternal && !dErrors.HasCode(err, dErrors.CodeInternal) {
		return dErrors.Wrap(err, dErrors.CodeInternal, "user command failed")
	}
	return err
}

func requireUsername(u models.Username) error {
	if strings.TrimSpace(u.String()) == "" {
		return dErrors.New(dErrors.CodeValidation, "username is required")
	}
	return nil
}

func unexpectedReply(evt models.Event) error {
	return dErrors.New(dErrors.CodeInternal, fmt.Sprintf("unexpected reply %T", evt))
}
