package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/warden/pkg/config"
)

var testProviders = []config.ProviderConfig{
	{Name: "openai", URL: "https://api.openai.com", APIKey: "sk-1"},
	{Name: "backup", URL: "https://llm.internal", APIKey: "sk-2"},
}

func TestResolveDefaultsToFirstProvider(t *testing.T) {
	routes, err := New(testProviders, nil).Resolve("gpt-4o-mini")
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "openai", routes[0].Provider.Name)
	assert.Equal(t, "gpt-4o-mini", routes[0].Model)
}

func TestResolveAlias(t *testing.T) {
	r := New(testProviders, []config.RouteConfig{{
		Model: "assistant",
		Targets: []config.RouteTarget{
			{Provider: "openai", Model: "gpt-4o-mini"},
			{Provider: "backup"},
		},
	}})
	routes, err := r.Resolve("assistant")
	require.NoError(t, err)
	require.Len(t, routes, 2)
	assert.Equal(t, "openai", routes[0].Provider.Name)
	assert.Equal(t, "gpt-4o-mini", routes[0].Model)
	assert.Equal(t, "backup", routes[1].Provider.Name)
	assert.Equal(t, "assistant", routes[1].Model, "empty target model keeps the alias")
}

func TestResolveSkipsUnknownProviders(t *testing.T) {
	r := New(testProviders, []config.RouteConfig{{
		Model:   "x",
		Targets: []config.RouteTarget{{Provider: "nope"}, {Provider: "backup", Model: "m"}},
	}})
	routes, err := r.Resolve("x")
	require.NoError(t, err)
	require.Len(t, routes, 1)
	assert.Equal(t, "backup", routes[0].Provider.Name)
}

func TestResolveAllUnknown(t *testing.T) {
	r := New(testProviders, []config.RouteConfig{{
		Model:   "x",
		Targets: []config.RouteTarget{{Provider: "nope"}},
	}})
	_, err := r.Resolve("x")
	assert.Error(t, err)
}

func TestResolveNoProviders(t *testing.T) {
	_, err := FromConfig(&config.Config{}).Resolve("gpt-4o-mini")
	assert.ErrorIs(t, err, ErrNoProviders)
}
