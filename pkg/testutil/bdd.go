package testutil

import "testing"

// Given, When, and Then name the stages of a lifecycle test — the fixture
// state, the operation under test, and the observable outcome — without
// pulling in a BDD framework. Subtests run in order, so later stages see the
// state earlier ones left behind.
func Given(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Given "+desc, fn)
}

func When(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("When "+desc, fn)
}

func Then(t *testing.T, desc string, fn func(t *testing.T)) {
	t.Helper()
	t.Run("Then "+desc, fn)
}
