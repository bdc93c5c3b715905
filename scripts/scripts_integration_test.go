//go:build integration
// +build integration

package scripts

import (
	"os"
	"testing"
)

func TestScriptsIntegration(t *testing.T) {
	if os.Getenv("RUN_SCRIPTS_TESTS") == "" {
		t.Skip("skipping integration test; set RUN_SCRIPTS_TESTS=1 to run")
	}

	t.Run("SmokeLibSQL", func(t *testing.T) {
		RunSmokeLibSQL()
	})

	t.Run("SmokeBackends", func(t *testing.T) {
		RunSmokeBackends()
	})

	t.Run("SmokeProvider", func(t *testing.T) {
		RunSmokeProvider()
	})
}
