package app

import (
	"testing"
	"time"
)

func TestEnvString(t *testing.T) {
	t.Setenv("PARLEY_TEST_STR", "")
	if got := EnvString("PARLEY_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("unset = %q", got)
	}
	t.Setenv("PARLEY_TEST_STR", "  value  ")
	if got := EnvString("PARLEY_TEST_STR", "fallback"); got != "value" {
		t.Fatalf("trimmed = %q", got)
	}
	t.Setenv("PARLEY_TEST_STR", "   ")
	if got := EnvString("PARLEY_TEST_STR", "fallback"); got != "fallback" {
		t.Fatalf("whitespace only = %q", got)
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("PARLEY_TEST_BOOL", "1")
	if !EnvBool("PARLEY_TEST_BOOL", false) {
		t.Fatal("\"1\" should parse true")
	}
	t.Setenv("PARLEY_TEST_BOOL", "false")
	if EnvBool("PARLEY_TEST_BOOL", true) {
		t.Fatal("\"false\" should parse false")
	}
	t.Setenv("PARLEY_TEST_BOOL", "yep")
	if !EnvBool("PARLEY_TEST_BOOL", true) {
		t.Fatal("garbage should keep the default")
	}
}

func TestEnvInt(t *testing.T) {
	t.Setenv("PARLEY_TEST_INT", "42")
	if got := EnvInt("PARLEY_TEST_INT", 7); got != 42 {
		t.Fatalf("42 parsed as %d", got)
	}
	// Zero and negatives fall back; every EnvInt call site wants a positive.
	t.Setenv("PARLEY_TEST_INT", "-3")
	if got := EnvInt("PARLEY_TEST_INT", 7); got != 7 {
		t.Fatalf("negative kept: %d", got)
	}
	t.Setenv("PARLEY_TEST_INT", "0")
	if got := EnvInt("PARLEY_TEST_INT", 7); got != 7 {
		t.Fatalf("zero kept: %d", got)
	}
	t.Setenv("PARLEY_TEST_INT", "abc")
	if got := EnvInt("PARLEY_TEST_INT", 7); got != 7 {
		t.Fatalf("garbage kept: %d", got)
	}
}

func TestEnvInt32(t *testing.T) {
	t.Setenv("PARLEY_TEST_INT32", "25")
	if got := EnvInt32("PARLEY_TEST_INT32", 10); got != 25 {
		t.Fatalf("25 parsed as %d", got)
	}
	t.Setenv("PARLEY_TEST_INT32", "2147483648")
	if got := EnvInt32("PARLEY_TEST_INT32", 10); got != 10 {
		t.Fatalf("overflow kept: %d", got)
	}
	t.Setenv("PARLEY_TEST_INT32", "-1")
	if got := EnvInt32("PARLEY_TEST_INT32", 10); got != 10 {
		t.Fatalf("negative kept: %d", got)
	}
}

func TestEnvDuration(t *testing.T) {
	t.Setenv("PARLEY_TEST_DUR", "750ms")
	if got := EnvDuration("PARLEY_TEST_DUR", time.Second); got != 750*time.Millisecond {
		t.Fatalf("750ms parsed as %v", got)
	}
	t.Setenv("PARLEY_TEST_DUR", "0s")
	if got := EnvDuration("PARLEY_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("zero kept: %v", got)
	}
	t.Setenv("PARLEY_TEST_DUR", "soon")
	if got := EnvDuration("PARLEY_TEST_DUR", time.Second); got != time.Second {
		t.Fatalf("garbage kept: %v", got)
	}
}

func TestEnvCSV(t *testing.T) {
	t.Setenv("PARLEY_TEST_CSV", " a, b,,c ")
	got := EnvCSV("PARLEY_TEST_CSV", "x,y")
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("parsed = %v", got)
	}

	t.Setenv("PARLEY_TEST_CSV", "")
	got = EnvCSV("PARLEY_TEST_CSV", "x,y")
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Fatalf("default = %v", got)
	}

	t.Setenv("PARLEY_TEST_CSV", ",")
	if got = EnvCSV("PARLEY_TEST_CSV", "x,y"); len(got) != 0 {
		t.Fatalf("blank items kept: %v", got)
	}
}
