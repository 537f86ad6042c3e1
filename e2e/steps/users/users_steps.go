package users

import (
	"context"
	"fmt"
	"slices"

	"github.com/cucumber/godog"

	"accounts/internal/user/models"
	dErrors "accounts/pkg/domain-errors"
)

// TestContext interface defines the methods needed from the main test context
type TestContext interface {
	Register(ctx context.Context, cmd models.Register) error
	Update(ctx context.Context, cmd models.Update) error
	LastError() error
	EventuallyLookup(ctx context.Context, username models.Username, check func(models.Record) error) error
	ListAll(ctx context.Context) ([]models.Record, error)
}

// RegisterSteps registers user command and read-model step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &userSteps{tc: tc}

	ctx.Step(`^I register "([^"]*)" as "([^"]*)" "([^"]*)" with email "([^"]*)"$`, steps.register)
	ctx.Step(`^I update "([^"]*)" to "([^"]*)" "([^"]*)" with email "([^"]*)"$`, steps.update)

	ctx.Step(`^the command succeeds$`, steps.commandSucceeds)
	ctx.Step(`^the command fails with "([^"]*)"$`, steps.commandFailsWith)
	ctx.Step(`^user "([^"]*)" eventually reads "([^"]*)" "([^"]*)" with email "([^"]*)"$`, steps.eventuallyReads)
	ctx.Step(`^the user list eventually contains "([^"]*)"$`, steps.listContains)
}

type userSteps struct {
	tc TestContext
}

func (s *userSteps) register(ctx context.Context, username, first, last, email string) error {
	return s.tc.Register(ctx, models.Register{
		Username:  models.Username(username),
		FirstName: first,
		LastName:  last,
		Email:     models.Email(email),
	})
}

func (s *userSteps) update(ctx context.Context, username, first, last, email string) error {
	return s.tc.Update(ctx, models.Update{
		Username:  models.Username(username),
		FirstName: first,
		LastName:  last,
		Email:     models.Email(email),
	})
}

func (s *userSteps) commandSucceeds(ctx context.Context) error {
	if err := s.tc.LastError(); err != nil {
		return fmt.Errorf("expected success, got %w", err)
	}
	return nil
}

func (s *userSteps) commandFailsWith(ctx context.Context, code string) error {
	err := s.tc.LastError()
	if err == nil {
		return fmt.Errorf("expected %s, command succeeded", code)
	}
	if !dErrors.HasCode(err, dErrors.Code(code)) {
		return fmt.Errorf("expected %s, got %s: %w", code, dErrors.CodeOf(err), err)
	}
	return nil
}

func (s *userSteps) eventuallyReads(ctx context.Context, username, first, last, email string) error {
	want := models.Record{
		Username:  models.Username(username),
		FirstName: first,
		LastName:  last,
		Email:     models.Email(email),
	}
	return s.tc.EventuallyLookup(ctx, want.Username, func(got models.Record) error {
		if got != want {
			return fmt.Errorf("got %+v", got)
		}
		return nil
	})
}

func (s *userSteps) listContains(ctx context.Context, username string) error {
	return s.tc.EventuallyLookup(ctx, models.Username(username), func(models.Record) error {
		all, err := s.tc.ListAll(ctx)
		if err != nil {
			return err
		}
		if !slices.ContainsFunc(all, func(r models.Record) bool { return r.Username == models.Username(username) }) {
			return fmt.Errorf("%s missing from %d users", username, len(all))
		}
		return nil
	})
}
