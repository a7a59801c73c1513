package app

import (
	"os"
	"testing"
)

func TestMain(m *testing.M) {
	_ = os.Setenv(testModeEnv, "1")
	RefreshTestMode()
	os.Exit(m.Run())
}
