package app

import (
	"context"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/menusync/internal/config"
	"github.com/vladislavdragonenkov/menusync/internal/domain"
)

func TestNewDependencies_Memory(t *testing.T) {
	deps, err := NewDependencies(context.Background(), testConfig(), log.WithField("test", "dependencies"))
	require.NoError(t, err)
	defer func() { require.NoError(t, deps.Close()) }()

	assert.NotNil(t, deps.Statuses)
	assert.NotNil(t, deps.Errors)
	assert.NotNil(t, deps.Operations)
	assert.NotNil(t, deps.Source)
	assert.NotNil(t, deps.Metrics)
	assert.NotNil(t, deps.Orchestrator)
	assert.NotNil(t, deps.Dispatcher)
	assert.NotNil(t, deps.Admin)
	assert.NotNil(t, deps.Health)
	assert.Nil(t, deps.Producer, "kafka is not configured")
	assert.Nil(t, deps.Resolver)
	assert.Len(t, deps.Adapters, 2)
	assert.ElementsMatch(t, []domain.Platform{domain.PlatformDoorDash, domain.PlatformGrubhub}, deps.Orchestrator.Platforms())
}

func TestNewDependencies_WithNilLogger(t *testing.T) {
	deps, err := NewDependencies(context.Background(), testConfig(), nil)
	require.NoError(t, err)
	defer func() { _ = deps.Close() }()

	assert.NotNil(t, deps.Logger, "logger should be initialized even when nil is passed")
}

func TestNewDependencies_KafkaUnavailableKeepsServiceUp(t *testing.T) {
	cfg := testConfig()
	cfg.Kafka.Brokers = []string{"invalid-broker:9999"}

	deps, err := NewDependencies(context.Background(), cfg, log.WithField("test", "kafka-down"))
	require.NoError(t, err)
	defer func() { _ = deps.Close() }()

	assert.Nil(t, deps.Producer)
	assert.Contains(t, deps.Health.Names(), "kafka")
}

func TestNewDependencies_Errors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *config.Config)
	}{
		{name: "invalid menu source", mutate: func(cfg *config.Config) { cfg.MenuSource.BaseURL = "::not-a-url" }},
		{name: "no platforms", mutate: func(cfg *config.Config) { cfg.Platforms = config.Default().Platforms }},
		{name: "doordash without secret", mutate: func(cfg *config.Config) { cfg.Platforms.DoorDash.ClientSecret = "" }},
		{name: "unknown resolver platform", mutate: func(cfg *config.Config) { cfg.Sync.DefaultPlatforms = []string{"deliveroo"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			deps, err := NewDependencies(context.Background(), cfg, log.WithField("test", tt.name))
			require.Error(t, err)
			assert.Nil(t, deps)
		})
	}
}

func TestDependencies_CloseNil(t *testing.T) {
	var deps *Dependencies
	assert.NoError(t, deps.Close())
}
