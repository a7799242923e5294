package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"checkline/internal/domain"
	"checkline/internal/repo"
)

const apiKeyPrefix = "cl_"

// CreateAPIKey issues a key for actorID. The plaintext secret is returned once and only its
// hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string, permissions []string) (domain.APIKey, string, error) {
	if err := e.requireActor(ctx, "actor_id", strings.TrimSpace(actorID)); err != nil {
		return domain.APIKey{}, "", classify("create_api_key", err)
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", err
	}
	secret := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:          uuid.NewString(),
		ActorID:     strings.TrimSpace(actorID),
		Name:        name,
		KeyHash:     repo.HashAPIKey(secret),
		Permissions: permissions,
		CreatedAt:   e.now(),
	}
	err := e.run(ctx, "create_api_key", func(tx *sql.Tx) error {
		if err := e.Repo.EnsureActor(ctx, tx, key.ActorID, key.CreatedAt); err != nil {
			return err
		}
		return e.Repo.InsertAPIKey(ctx, tx, key)
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	e.log().Info("api key created", zap.String("key_id", key.ID), zap.String("actor_id", key.ActorID))
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	keys, err := e.Repo.ListAPIKeys(ctx, actorID)
	return keys, classify("list_api_keys", err)
}

func (e Engine) RevokeAPIKey(ctx context.Context, id string) error {
	err := e.Repo.DeleteAPIKey(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return NotFoundError{Kind: "api_key", ID: id}
	}
	if err == nil {
		e.log().Info("api key revoked", zap.String("key_id", id))
	}
	return classify("revoke_api_key", err)
}
