package operations

import "testing"

func TestGet_KnownOperationsCompute(t *testing.T) {
	cases := []struct {
		name string
		a, b int
		want int
	}{
		{"sum", 2, 3, 5},
		{"subtract", 5, 3, 2},
		{"multiply", 4, 3, 12},
		{"divide", 9, 3, 3},
	}
	for _, c := range cases {
		fn, ok := Get(c.name)
		if !ok {
			t.Fatalf("expected %q to be registered", c.name)
		}
		got, err := fn(c.a, c.b)
		if err != nil {
			t.Fatalf("%s(%d, %d): %v", c.name, c.a, c.b, err)
		}
		if got != c.want {
			t.Fatalf("%s(%d, %d) = %d, want %d", c.name, c.a, c.b, got, c.want)
		}
	}
}

func TestGet_UnknownOperationNotFound(t *testing.T) {
	if _, ok := Get("modulo"); ok {
		t.Fatal("expected an unregistered operation to be absent")
	}
}

func TestDivide_ByZeroReturnsErrDivideByZero(t *testing.T) {
	fn, ok := Get("divide")
	if !ok {
		t.Fatal("expected divide to be registered")
	}
	_, err := fn(4, 0)
	if err != ErrDivideByZero {
		t.Fatalf("expected ErrDivideByZero, got %v", err)
	}
}

func TestNames_IsSortedAndClosed(t *testing.T) {
	names := Names()
	want := []string{"divide", "multiply", "subtract", "sum"}
	if len(names) != len(want) {
		t.Fatalf("expected %d operations, got %d: %v", len(want), len(names), names)
	}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("expected Names()[%d] = %q, got %q", i, n, names[i])
		}
	}
}

func TestValid(t *testing.T) {
	if !Valid("sum") {
		t.Fatal("expected sum to be valid")
	}
	if Valid("bogus") {
		t.Fatal("expected an unregistered name to be invalid")
	}
}
