package env

import (
	"reflect"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	if got := String("RETRY_TEST_UNSET", "fallback"); got != "fallback" {
		t.Fatalf("String()=%q", got)
	}
	if got, err := Int("RETRY_TEST_UNSET", 7); err != nil || got != 7 {
		t.Fatalf("Int()=%d, %v", got, err)
	}
	if got, err := Duration("RETRY_TEST_UNSET", time.Second); err != nil || got != time.Second {
		t.Fatalf("Duration()=%v, %v", got, err)
	}
}

func TestParse(t *testing.T) {
	t.Setenv("RETRY_TEST_INT", " 42 ")
	t.Setenv("RETRY_TEST_BOOL", "true")
	t.Setenv("RETRY_TEST_DURATION", "720h")
	t.Setenv("RETRY_TEST_CSV", "a, b,,a")

	if got, err := Int("RETRY_TEST_INT", 0); err != nil || got != 42 {
		t.Fatalf("Int()=%d, %v", got, err)
	}
	if got, err := Bool("RETRY_TEST_BOOL", false); err != nil || !got {
		t.Fatalf("Bool()=%v, %v", got, err)
	}
	if got, err := Duration("RETRY_TEST_DURATION", 0); err != nil || got != 30*24*time.Hour {
		t.Fatalf("Duration()=%v, %v", got, err)
	}
	if got := CSV("RETRY_TEST_CSV", nil); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("CSV()=%v", got)
	}
}

func TestParseErrors(t *testing.T) {
	t.Setenv("RETRY_TEST_BAD", "nope")
	if _, err := Int("RETRY_TEST_BAD", 0); err == nil {
		t.Fatalf("expected int parse error")
	}
	if _, err := Bool("RETRY_TEST_BAD", false); err == nil {
		t.Fatalf("expected bool parse error")
	}
	if _, err := Duration("RETRY_TEST_BAD", 0); err == nil {
		t.Fatalf("expected duration parse error")
	}
}
