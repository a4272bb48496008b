package version

import (
	"strings"
	"testing"
)

func TestGettersMatchInfo(t *testing.T) {
	v, c, d := Info()
	if v == "" || c == "" || d == "" {
		t.Fatalf("build info must not be empty: %q %q %q", v, c, d)
	}
	if GetVersion() != v || GetCommit() != c || GetDate() != d {
		t.Fatal("getters disagree with Info")
	}
}

func TestString(t *testing.T) {
	s := String()
	for _, part := range []string{"version=" + GetVersion(), "commit=" + GetCommit(), "date=" + GetDate()} {
		if !strings.Contains(s, part) {
			t.Fatalf("expected %q in %q", part, s)
		}
	}
}
