package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"checkline/internal/domain"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPolicy(), cfg.Policy)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	assert.Equal(t, "2024-06", reg.Version())
	def, err := reg.Resolve("body", "serial-number")
	require.NoError(t, err)
	assert.Equal(t, domain.ValueText, def.Type)
	assert.Len(t, reg.RequiredItems(), 5)
}

func TestOmittedPolicyKeysKeepDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`schema:
  version: v1
  categories:
    - id: a
      items:
        - {id: x, type: boolean, required: true}
policy:
  allow_unattached: true
`))
	require.NoError(t, err)
	assert.True(t, cfg.Policy.AllowUnattached)
	assert.True(t, cfg.Policy.LockVerified)
	assert.True(t, cfg.Policy.RequireKnownTargets)
	assert.False(t, cfg.Policy.RequireKnownActors)
}

func TestValidateRejectsBadSchema(t *testing.T) {
	cases := map[string]string{
		"missing version": "schema:\n  categories:\n    - id: a\n",
		"no categories":   "schema:\n  version: v1\n",
		"bad type":        "schema:\n  version: v1\n  categories:\n    - id: a\n      items:\n        - {id: x, type: number}\n",
		"duplicate item":  "schema:\n  version: v1\n  categories:\n    - id: a\n      items:\n        - {id: x, type: text}\n        - {id: x, type: text}\n",
		"not yaml":        "schema: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadOptional(t *testing.T) {
	ws := t.TempDir()
	cfg, err := LoadOptional(ws)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(ws, "checkline.yml"), []byte(GenerateDefault()), 0o644))
	cfg, err = LoadOptional(ws)
	require.NoError(t, err)
	require.NotNil(t, cfg)
	assert.Equal(t, "2024-06", cfg.Schema.Version)

	_, err = Load(t.TempDir())
	assert.Error(t, err)
}

func TestWebhooks(t *testing.T) {
	cfg, err := FromYAML([]byte(`schema:
  version: v1
  categories:
    - id: a
      items:
        - {id: x, type: boolean, required: true}
webhooks:
  - url: http://example.invalid/hook
    events: [checklist.verified]
  - url: http://example.invalid/off
    enabled: false
`))
	require.NoError(t, err)
	require.Len(t, cfg.Webhooks, 2)
	assert.True(t, cfg.Webhooks[0].Active())
	assert.Equal(t, []string{"checklist.verified"}, cfg.Webhooks[0].Events)
	assert.False(t, cfg.Webhooks[1].Active())

	_, err = FromYAML([]byte("schema:\n  version: v1\n  categories:\n    - id: a\n      items:\n        - {id: x, type: text}\nwebhooks:\n  - secret: s\n"))
	assert.Error(t, err)
}
