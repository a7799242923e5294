package engine_test

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"checkline/internal/domain"
	"checkline/internal/engine"
)

func TestConcurrentUpsertsKeepOneRow(t *testing.T) {
	env := newTestEnv(t)
	cl := env.create(t, "P1")

	const writers = 16
	var g errgroup.Group
	for i := 0; i < writers; i++ {
		v := i%2 == 0
		g.Go(func() error {
			_, err := env.Engine.UpsertResponse(env.Ctx, engine.ResponseInput{
				ChecklistID: cl.ID, CategoryID: "optics", ItemID: "lens-clean", Value: domain.BoolValue(v),
			})
			return err
		})
	}
	require.NoError(t, g.Wait())

	list, err := env.Engine.ListResponses(env.Ctx, cl.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, int64(writers), list[0].Version)
}

func TestConcurrentVerifyHasOneWinner(t *testing.T) {
	env := newTestEnv(t)
	cl := env.create(t, "P1")
	env.answer(t, cl.ID, "optics", "lens-clean", domain.BoolValue(true))
	env.answer(t, cl.ID, "body", "serial", domain.TextValue("SN"))

	var wins, conflicts atomic.Int32
	var g errgroup.Group
	for _, verifier := range []string{"U2", "U3"} {
		g.Go(func() error {
			_, err := env.Engine.Verify(env.Ctx, cl.ID, verifier)
			var ce engine.ConflictError
			switch {
			case err == nil:
				wins.Add(1)
			case errors.As(err, &ce):
				conflicts.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), conflicts.Load())

	got, err := env.Engine.GetChecklist(env.Ctx, engine.Selector{ID: cl.ID})
	require.NoError(t, err)
	require.NotNil(t, got.VerifiedBy)
	assert.Contains(t, []string{"U2", "U3"}, *got.VerifiedBy)
}
