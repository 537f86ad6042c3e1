package aggregate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"accounts/internal/eventsourcing/entity"
	"accounts/internal/eventsourcing/journal"
	"accounts/internal/eventsourcing/snapshot"
	"accounts/internal/user/models"
	dErrors "accounts/pkg/domain-errors"
)

var ana = models.State{
	Status:    models.StatusActive,
	Username:  "ana1",
	FirstName: "Ana",
	LastName:  "Diaz",
	Email:     "ana@example.com",
}

func TestDecide(t *testing.T) {
	b := New(nil)
	ctx := context.Background()

	tests := []struct {
		name      string
		state     models.State
		cmd       models.Command
		wantEvent models.Event
		wantCode  dErrors.Code
		unhandled bool
	}{
		{
			name:  "register on unregistered persists UserRegistered",
			state: models.Unregistered(),
			cmd:   models.Register{Username: "ana1", FirstName: "Ana", LastName: "Diaz", Email: "ana@example.com"},
			wantEvent: models.UserRegistered{
				Username: "ana1", FirstName: "Ana", LastName: "Diaz", Email: "ana@example.com",
			},
		},
		{
			name:     "update on unregistered is rejected",
			state:    models.Unregistered(),
			cmd:      models.Update{Username: "ana1", FirstName: "Ana"},
			wantCode: dErrors.CodeEntityNotFound,
		},
		{
			name:     "register on active is rejected",
			state:    ana,
			cmd:      models.Register{Username: "ana1", FirstName: "Other"},
			wantCode: dErrors.CodeDuplicateEntity,
		},
		{
			name:  "update on active keeps the registered username",
			state: ana,
			cmd:   models.Update{Username: "ana1", FirstName: "Ana", LastName: "Lopez", Email: "ana@lopez.dev"},
			wantEvent: models.UserUpdated{
				Username: "ana1", FirstName: "Ana", LastName: "Lopez", Email: "ana@lopez.dev",
			},
		},
		{
			name:     "register for another entity is rejected",
			state:    models.Unregistered(),
			cmd:      models.Register{Username: "bob", FirstName: "Bob"},
			wantCode: dErrors.CodeValidation,
		},
		{
			name:     "update for another entity is rejected",
			state:    ana,
			cmd:      models.Update{Username: "bob", FirstName: "Bob"},
			wantCode: dErrors.CodeValidation,
		},
		{
			name:      "nil command is unhandled",
			state:     ana,
			cmd:       nil,
			unhandled: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			effect := b.Decide(ctx, "ana1", tt.state, tt.cmd)
			if tt.unhandled {
				assert.True(t, effect.IsUnhandled())
				assert.Empty(t, effect.Events())
				return
			}
			if tt.wantCode != "" {
				require.Error(t, effect.Err())
				assert.True(t, dErrors.HasCode(effect.Err(), tt.wantCode))
				assert.Empty(t, effect.Events())
				return
			}
			require.NoError(t, effect.Err())
			assert.Equal(t, []models.Event{tt.wantEvent}, effect.Events())
		})
	}
}

func TestRejectionMessages(t *testing.T) {
	b := New(nil)
	ctx := context.Background()

	effect := b.Decide(ctx, "ana1", models.Unregistered(), models.Update{Username: "ana1"})
	assert.Equal(t, "user does not exist", dErrors.Message(effect.Err()))

	effect = b.Decide(ctx, "ana1", ana, models.Register{Username: "ana1"})
	assert.Equal(t, "duplicate user", dErrors.Message(effect.Err()))
}

func TestEvolve(t *testing.T) {
	b := New(nil)

	t.Run("registration activates the user", func(t *testing.T) {
		got := b.Evolve(models.Unregistered(), models.UserRegistered{
			Username: "ana1", FirstName: "Ana", LastName: "Diaz", Email: "ana@example.com",
		})
		assert.Equal(t, ana, got)
	})

	t.Run("update replaces the profile but never the username", func(t *testing.T) {
		got := b.Evolve(ana, models.UserUpdated{Username: "bob", FirstName: "Ana", LastName: "Lopez", Email: "ana@lopez.dev"})
		assert.Equal(t, models.Username("ana1"), got.Username)
		assert.Equal(t, "Lopez", got.LastName)
		assert.Equal(t, models.Email("ana@lopez.dev"), got.Email)
	})

	t.Run("update before registration is ignored", func(t *testing.T) {
		got := b.Evolve(models.Unregistered(), models.UserUpdated{Username: "ana1", FirstName: "Ana"})
		assert.Equal(t, models.Unregistered(), got)
	})

	t.Run("second registration is ignored", func(t *testing.T) {
		got := b.Evolve(ana, models.UserRegistered{Username: "ana1", FirstName: "Other"})
		assert.Equal(t, ana, got)
	})

	t.Run("fold is deterministic", func(t *testing.T) {
		events := []models.Event{
			models.UserRegistered{Username: "ana1", FirstName: "Ana", LastName: "Diaz", Email: "a@x.io"},
			models.UserUpdated{Username: "ana1", FirstName: "Ana", LastName: "Ruiz", Email: "b@x.io"},
			models.UserUpdated{Username: "ana1", FirstName: "Anita", LastName: "Ruiz", Email: "c@x.io"},
		}
		fold := func() models.State {
			state := b.EmptyState()
			for _, evt := range events {
				state = b.Evolve(state, evt)
			}
			return state
		}
		first := fold()
		assert.Equal(t, first, fold())
		assert.Equal(t, "Anita", first.FirstName)
	})
}

func TestTags(t *testing.T) {
	b := New(nil)
	assert.Equal(t, []string{Tag}, b.Tags(models.UserRegistered{}))
	assert.Equal(t, []string{Tag}, b.Tags(models.UserUpdated{}))
	assert.Equal(t, "UserAggregate", b.EntityType())
}

func TestCodec(t *testing.T) {
	codec, err := NewCodec()
	require.NoError(t, err)

	t.Run("events round trip by manifest", func(t *testing.T) {
		for _, evt := range []models.Event{
			models.UserRegistered{Username: "ana1", FirstName: "Ana", LastName: "Diaz", Email: "ana@example.com"},
			models.UserUpdated{Username: "ana1", FirstName: "Ana", LastName: "Lopez", Email: "ana@lopez.dev"},
		} {
			manifest, payload, err := codec.MarshalEvent(evt)
			require.NoError(t, err)
			assert.Equal(t, evt.Manifest(), manifest)

			got, err := codec.UnmarshalEvent(manifest, payload)
			require.NoError(t, err)
			assert.Equal(t, evt, got)
		}
	})

	t.Run("unknown manifest fails", func(t *testing.T) {
		_, err := codec.UnmarshalEvent("UserDeleted", []byte(`{}`))
		require.Error(t, err)
	})

	t.Run("state survives a snapshot", func(t *testing.T) {
		payload, err := codec.MarshalState(ana)
		require.NoError(t, err)
		got, err := codec.UnmarshalState(payload)
		require.NoError(t, err)
		assert.Equal(t, ana, got)
	})

	t.Run("garbage state fails", func(t *testing.T) {
		_, err := codec.UnmarshalState([]byte{0xff, 0x00})
		require.Error(t, err)
	})
}

// Exercises the behavior inside the real runtime so snapshots use the CBOR codec.
type RuntimeSuite struct {
	suite.Suite
	ctx       context.Context
	journal   *journal.Memory
	snapshots *snapshot.Memory
	runtime   *entity.Runtime[models.State, models.Command, models.Event]
}

func TestRuntimeSuite(t *testing.T) {
	suite.Run(t, new(RuntimeSuite))
}

func (s *RuntimeSuite) SetupTest() {
	s.ctx = context.Background()
	s.journal = journal.NewMemory()
	s.snapshots = snapshot.NewMemory()
	codec, err := NewCodec()
	s.Require().NoError(err)
	s.runtime = entity.NewRuntime[models.State, models.Command, models.Event](
		New(nil), codec, codec, s.journal, s.snapshots,
		entity.WithConfig(entity.Config{SnapshotEvery: 2, KeepSnapshots: 2}),
	)
}

func (s *RuntimeSuite) TestRegisterThenUpdateSurvivesRecovery() {
	e, err := s.runtime.Recover(s.ctx, "ana1")
	s.Require().NoError(err)

	reply, replied, err := e.Handle(s.ctx, models.Register{Username: "ana1", FirstName: "Ana", LastName: "Diaz", Email: "ana@example.com"})
	s.Require().NoError(err)
	s.True(replied)
	s.NoError(reply.Err)

	reply, _, err = e.Handle(s.ctx, models.Update{Username: "ana1", FirstName: "Ana", LastName: "Lopez", Email: "ana@lopez.dev"})
	s.Require().NoError(err)
	s.Equal(models.UserUpdated{Username: "ana1", FirstName: "Ana", LastName: "Lopez", Email: "ana@lopez.dev"}, reply.Event)

	snap, err := s.snapshots.Latest(s.ctx, e.PersistenceID())
	s.Require().NoError(err)
	s.Equal(int64(2), snap.SequenceNr)

	recovered, err := s.runtime.Recover(s.ctx, "ana1")
	s.Require().NoError(err)
	s.Equal(e.State(), recovered.State())
	s.Equal(int64(2), recovered.SequenceNr())

	reply, _, err = recovered.Handle(s.ctx, models.Register{Username: "ana1"})
	s.Require().NoError(err)
	s.True(errors.Is(reply.Err, ErrDuplicateUser))
}

func (s *RuntimeSuite) TestRejectionPersistsNothing() {
	e, err := s.runtime.Recover(s.ctx, "ghost")
	s.Require().NoError(err)

	reply, replied, err := e.Handle(s.ctx, models.Update{Username: "ghost", FirstName: "G"})
	s.Require().NoError(err)
	s.True(replied)
	s.True(dErrors.HasCode(reply.Err, dErrors.CodeEntityNotFound))
	s.Zero(s.journal.Len(e.PersistenceID()))
}
