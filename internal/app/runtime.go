package app

import (
	"os"
	"strconv"
	"sync"
)

// TestModeEnv, when truthy, makes the binaries return before dialing
// Postgres, Redis or the network.
const TestModeEnv = "STOCKENGINE_TEST_MODE"

var testMode = sync.OnceValue(func() bool {
	on, _ := strconv.ParseBool(os.Getenv(TestModeEnv))
	return on
})

// InTestMode reports the test mode flag as read on first use.
func InTestMode() bool {
	return testMode()
}
