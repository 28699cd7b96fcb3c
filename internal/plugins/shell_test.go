package plugins

import (
	"strings"
	"testing"
)

func TestShellRunEcho(t *testing.T) {
	out, err := shellRun(nil, [][]byte{[]byte("echo"), []byte("hello")})
	if err != nil {
		t.Fatalf("shellRun: %v", err)
	}
	if len(out) != 1 || strings.TrimSpace(string(out[0])) != "hello" {
		t.Fatalf("shellRun(echo, hello) = %q, want hello", out)
	}
}

func TestShellRunRejectsUnlistedCommand(t *testing.T) {
	if _, err := shellRun(nil, [][]byte{[]byte("rm"), []byte("-rf"), []byte("/")}); err == nil {
		t.Fatal("expected shellRun to reject a command outside the whitelist")
	}
}

func TestShellRunRequiresCommand(t *testing.T) {
	if _, err := shellRun(nil, nil); err == nil {
		t.Fatal("expected shellRun to reject an empty argument list")
	}
}

func TestShellRunSurfacesCommandFailure(t *testing.T) {
	if _, err := shellRun(nil, [][]byte{[]byte("cat"), []byte("/does/not/exist")}); err == nil {
		t.Fatal("expected shellRun to surface a nonzero exit from cat")
	}
}
