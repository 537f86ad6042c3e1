package e2e

import (
	"github.com/cucumber/godog"

	"accounts/e2e/steps/users"
)

// RegisterSteps registers all step definitions from modular packages
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	users.RegisterSteps(ctx, tc)
}
