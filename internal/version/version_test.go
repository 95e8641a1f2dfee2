package version

import (
	"os"
	"strings"
	"testing"
)

func TestStringMatchesRecord(t *testing.T) {
	raw, err := os.ReadFile("VERSION")
	if err != nil {
		t.Fatalf("read VERSION: %v", err)
	}
	want := strings.TrimRight(string(raw), "\r\n")
	if got := String(); got != want {
		t.Fatalf("String() = %q, want %q", got, want)
	}
	if strings.ContainsAny(String(), "\r\n") {
		t.Fatalf("version %q spans lines", String())
	}
	if String() == "" {
		t.Fatal("version record is empty")
	}
}
