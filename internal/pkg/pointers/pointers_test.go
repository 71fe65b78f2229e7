package pointers

import "testing"

func TestPtr(t *testing.T) {
	p := Ptr(42)
	if p == nil || *p != 42 {
		t.Fatalf("expected pointer to 42, got %v", p)
	}
}

func TestString(t *testing.T) {
	p := String("hello")
	if p == nil || *p != "hello" {
		t.Fatalf("expected pointer to \"hello\", got %v", p)
	}
}

func TestInt(t *testing.T) {
	p := Int(7)
	if p == nil || *p != 7 {
		t.Fatalf("expected pointer to 7, got %v", p)
	}
}

func TestFloat64(t *testing.T) {
	p := Float64(3.14)
	if p == nil || *p != 3.14 {
		t.Fatalf("expected pointer to 3.14, got %v", p)
	}
}
