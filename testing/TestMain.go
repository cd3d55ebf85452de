// Package testing switches binaries into test mode when imported by a test
// package, so no test dials Postgres, Redis or AMQP by accident.
package testing

import (
	"os"
	"sync"
	stdtesting "testing"
)

var once sync.Once

func ensureTestMode() {
	once.Do(func() {
		_ = os.Setenv("REVREPORT_TEST_MODE", "1")
		if os.Getenv("LOG_LEVEL") == "" {
			_ = os.Setenv("LOG_LEVEL", "warn")
		}
	})
}

func init() {
	ensureTestMode()
}

func TestMain(m *stdtesting.M) {
	ensureTestMode()
	os.Exit(m.Run())
}
