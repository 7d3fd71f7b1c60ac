package random

import (
	"strings"
	"testing"
	"time"
)

func TestGetNowAndLenRandomString(t *testing.T) {
	s := GetNowAndLenRandomString(11)
	if len(s) != 17 {
		t.Fatalf("unexpected length %d (%q)", len(s), s)
	}
	if !strings.HasPrefix(s, time.Now().Format("060102")) {
		t.Fatalf("missing date prefix: %q", s)
	}
	for _, r := range s[6:] {
		if !strings.ContainsRune(charset, r) {
			t.Fatalf("unexpected rune %q", r)
		}
	}
}

func TestGetLenRandomStringDiffers(t *testing.T) {
	if GetLenRandomString(16) == GetLenRandomString(16) {
		t.Fatal("two random strings collided")
	}
}
