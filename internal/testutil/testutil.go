// Package testutil gates heavy property runs behind -long.
package testutil

import (
	"flag"
	"testing"
)

var runLong = flag.Bool("long", false, "run long property tests")

// RequireLong skips t unless the test binary was started with -long.
func RequireLong(t *testing.T) {
	t.Helper()
	if !*runLong {
		t.Skip("long property test, enable with -long")
	}
}
