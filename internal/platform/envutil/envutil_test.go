package envutil

import "testing"

func TestInt_ReturnsConfiguredValue(t *testing.T) {
	t.Setenv("JOBMESH_ENVUTIL_TEST", "9")
	if got := Int("JOBMESH_ENVUTIL_TEST", 1); got != 9 {
		t.Fatalf("expected 9, got %d", got)
	}
}

func TestInt_FallsBackWhenUnsetOrUnparsable(t *testing.T) {
	if got := Int("JOBMESH_ENVUTIL_TEST_UNSET", 5); got != 5 {
		t.Fatalf("expected fallback 5 for an unset var, got %d", got)
	}
	t.Setenv("JOBMESH_ENVUTIL_TEST", "not-an-int")
	if got := Int("JOBMESH_ENVUTIL_TEST", 5); got != 5 {
		t.Fatalf("expected fallback 5 for an unparsable var, got %d", got)
	}
}
