//go:build integration

package readmodel_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"accounts/internal/user/models"
	"accounts/internal/user/store/readmodel"
	"accounts/pkg/platform/sentinel"
	"accounts/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *readmodel.PostgresStore
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = readmodel.NewPostgresStore(s.postgres.Pool)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "users"))
}

func (s *PostgresStoreSuite) TestUpsertIsIdempotent() {
	ctx := context.Background()
	rec := models.Record{Username: "ana1", FirstName: "Ana", LastName: "Diaz", Email: "ana@example.com"}

	s.Require().NoError(s.store.Upsert(ctx, rec))
	s.Require().NoError(s.store.Upsert(ctx, rec))

	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Equal([]models.Record{rec}, all)
}

func (s *PostgresStoreSuite) TestUpsertReplacesProfile() {
	ctx := context.Background()
	s.Require().NoError(s.store.Upsert(ctx, models.Record{Username: "ana1", FirstName: "Ana", LastName: "Diaz", Email: "a@x.io"}))
	s.Require().NoError(s.store.Upsert(ctx, models.Record{Username: "ana1", FirstName: "Ana", LastName: "Lopez", Email: "b@x.io"}))

	got, err := s.store.Lookup(ctx, "ana1")
	s.Require().NoError(err)
	s.Equal("Lopez", got.LastName)
	s.Equal(models.Email("b@x.io"), got.Email)
}

func (s *PostgresStoreSuite) TestLookupMissing() {
	_, err := s.store.Lookup(context.Background(), "ghost")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListAllOrdered() {
	ctx := context.Background()
	for _, name := range []models.Username{"zed", "ana1"} {
		s.Require().NoError(s.store.Upsert(ctx, models.Record{Username: name, FirstName: "x", LastName: "y", Email: "z"}))
	}
	all, err := s.store.ListAll(ctx)
	s.Require().NoError(err)
	s.Require().Len(all, 2)
	s.Equal(models.Username("ana1"), all[0].Username)
}
