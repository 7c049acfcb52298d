// Package testing switches the process into test mode. Import it for side
// effects from a _test.go file; tests then default to the memory store.
package testing

import (
	"os"
	stdtesting "testing"
)

var defaults = map[string]string{
	"STOCKENGINE_TEST_MODE": "1",
	"STORE_DRIVER":          "memory",
}

func init() {
	for key, value := range defaults {
		if _, set := os.LookupEnv(key); !set || key == "STOCKENGINE_TEST_MODE" {
			_ = os.Setenv(key, value)
		}
	}
}

// TestMain runs m in test mode. Packages may call it from their own TestMain.
func TestMain(m *stdtesting.M) {
	os.Exit(m.Run())
}
