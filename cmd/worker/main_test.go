package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/avocado-data/avocado/internal/app"
	_ "github.com/avocado-data/avocado/internal/testing/guard"
)

func TestWorkerSkipsStartupInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	require.NotPanics(t, main)
}
