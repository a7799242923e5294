package engine_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/config"
	"checkline/internal/engine"
	"checkline/internal/repo"
)

func TestCreateAndRevokeAPIKey(t *testing.T) {
	env := newTestEnv(t)
	key, secret, err := env.Engine.CreateAPIKey(env.Ctx, "U9", "ci", []string{"checklist.verify"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(secret, "cl_"))
	assert.NotContains(t, key.KeyHash, secret)

	stored, err := env.Engine.Repo.GetAPIKeyByHash(env.Ctx, repo.HashAPIKey(secret))
	require.NoError(t, err)
	assert.Equal(t, "U9", stored.ActorID)
	assert.Equal(t, []string{"checklist.verify"}, stored.Permissions)

	keys, err := env.Engine.ListAPIKeys(env.Ctx, "U9")
	require.NoError(t, err)
	require.Len(t, keys, 1)

	require.NoError(t, env.Engine.RevokeAPIKey(env.Ctx, key.ID))
	err = env.Engine.RevokeAPIKey(env.Ctx, key.ID)
	var nf engine.NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)
}

func TestRegisteredTargetsAcceptChecklists(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.Engine.CreateChecklist(env.Ctx, engine.CreateChecklistOptions{ActorID: "U1", ProductID: "P7"})
	var nf engine.NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)

	require.NoError(t, env.Engine.RegisterProduct(env.Ctx, "P7", "Camera body"))
	require.NoError(t, env.Engine.RegisterDeliveryPlanProduct(env.Ctx, "D7", "P7", ""))
	_, err = env.Engine.CreateChecklist(env.Ctx, engine.CreateChecklistOptions{ActorID: "U1", ProductID: "P7"})
	require.NoError(t, err)
	_, err = env.Engine.CreateChecklist(env.Ctx, engine.CreateChecklistOptions{ActorID: "U1", DeliveryPlanProductID: "D7"})
	require.NoError(t, err)

	var ve engine.ValidationError
	require.True(t, errors.As(env.Engine.RegisterProduct(env.Ctx, " ", ""), &ve))
}

func TestCreateAPIKeyRequiresKnownActorUnderPolicy(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Policy.RequireKnownActors = true })
	_, _, err := env.Engine.CreateAPIKey(env.Ctx, "ghost", "", nil)
	var nf engine.NotFoundError
	require.True(t, errors.As(err, &nf), "got %v", err)
}
