// Package aggregate holds the user aggregate's command and event logic.
package aggregate

import (
	"context"
	"fmt"
	"log/slog"

	"accounts/internal/eventsourcing/entity"
	"accounts/internal/user/models"
	dErrors "accounts/pkg/domain-errors"
)

const (
	// EntityType scopes user persistence ids.
	EntityType = "UserAggregate"
	// Tag labels every user event for the read-side projections.
	Tag = "UserAggregateTag"
)

var (
	ErrUserNotFound  = dErrors.New(dErrors.CodeEntityNotFound, "user does not exist")
	ErrDuplicateUser = dErrors.New(dErrors.CodeDuplicateEntity, "duplicate user")
)

// Behavior implements entity.Behavior for users.
type Behavior struct {
	logger *slog.Logger
}

var _ entity.Behavior[models.State, models.Command, models.Event] = (*Behavior)(nil)

func New(logger *slog.Logger) *Behavior {
	if logger == nil {
		logger = slog.Default()
	}
	return &Behavior{logger: logger}
}

func (b *Behavior) EntityType() string       { return EntityType }
func (b *Behavior) EmptyState() models.State { return models.Unregistered() }
func (b *Behavior) Tags(models.Event) []string {
	return []string{Tag}
}

// Decide handles Register on an unregistered user and Update on an active one.
// The opposite combinations are business rejections. A command addressed to an
// entity other than its own username is a validation error. Anything else is
// logged and left without a reply.
func (b *Behavior) Decide(ctx context.Context, entityID string, state models.State, cmd models.Command) entity.Effect[models.Event] {
	switch c := cmd.(type) {
	case models.Register:
		if err := addressedTo(entityID, c.Username); err != nil {
			return entity.Reject[models.Event](err)
		}
		if state.IsActive() {
			return entity.Reject[models.Event](ErrDuplicateUser)
		}
		return entity.Persist[models.Event](models.UserRegistered{
			Username:  c.Username,
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Email:     c.Email,
		})
	case models.Update:
		if err := addressedTo(entityID, c.Username); err != nil {
			return entity.Reject[models.Event](err)
		}
		if !state.IsActive() {
			return entity.Reject[models.Event](ErrUserNotFound)
		}
		return entity.Persist[models.Event](models.UserUpdated{
			Username:  state.Username,
			FirstName: c.FirstName,
			LastName:  c.LastName,
			Email:     c.Email,
		})
	}

	b.logger.WarnContext(ctx, "command not processed in current state",
		"entity_id", entityID,
		"command", commandName(cmd),
		"status", state.Status.String(),
	)
	return entity.Unhandled[models.Event]()
}

// addressedTo requires the command to name the entity it was dispatched to.
func addressedTo(entityID string, username models.Username) error {
	if username.String() != entityID {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("username %q does not match entity %q", username, entityID))
	}
	return nil
}

// Evolve folds one event. The username set by UserRegistered survives every update.
func (b *Behavior) Evolve(state models.State, evt models.Event) models.State {
	switch e := evt.(type) {
	case models.UserRegistered:
		if !state.IsActive() {
			return models.State{
				Status:    models.StatusActive,
				Username:  e.Username,
				FirstName: e.FirstName,
				LastName:  e.LastName,
				Email:     e.Email,
			}
		}
	case models.UserUpdated:
		if state.IsActive() {
			state.FirstName = e.FirstName
			state.LastName = e.LastName
			state.Email = e.Email
			return state
		}
	}

	b.logger.Warn("event not applied in current state",
		"event", fmt.Sprintf("%T", evt),
		"username", state.Username.String(),
		"status", state.Status.String(),
	)
	return state
}

func commandName(cmd models.Command) string {
	if cmd == nil {
		return "<nil>"
	}
	return cmd.CommandName()
}
