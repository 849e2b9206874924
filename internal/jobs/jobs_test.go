package jobs

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	if a == b {
		t.Error("IDs should be unique")
	}
	if !strings.HasPrefix(a, "run-") || len(a) != len("run-")+32 {
		t.Errorf("id = %s", a)
	}
	if got, ok := NormalizeRunID(a); !ok || got != a {
		t.Errorf("NormalizeRunID(%s) = %s, %v", a, got, ok)
	}
}

func TestNormalizeRunID(t *testing.T) {
	const hexID = "0123456789abcdef0123456789abcdef"
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: hexID, want: "run-" + hexID, ok: true},
		{in: "run-" + hexID, want: "run-" + hexID, ok: true},
		{in: "run-xyz", ok: false},
		{in: "run-" + strings.ToUpper(hexID), ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := NormalizeRunID(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("NormalizeRunID(%q) = %q, %v", tt.in, got, ok)
		}
	}
}

func TestCheckOwnership(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/analyze/run-1?streamId=ABC", nil)
	if !CheckOwnership(r, "abc") {
		t.Error("matching stream should pass")
	}
	if CheckOwnership(r, "def") {
		t.Error("other stream should fail")
	}
	if CheckOwnership(httptest.NewRequest("GET", "/api/analyze/run-1", nil), "abc") {
		t.Error("missing stream should fail")
	}
}
