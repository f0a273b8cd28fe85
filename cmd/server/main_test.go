package main

import (
	"testing"

	"bazaar/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRun_ReturnsStartupErrors(t *testing.T) {
	cfg := &config.Config{
		Port: "0",
		Database: config.DatabaseConfig{
			Host:     "127.0.0.1",
			Port:     "1",
			User:     "bazaar",
			Password: "bazaar",
			Name:     "bazaar",
		},
	}

	err := run(cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database init")
}
