package token_test

import (
	"strings"
	"testing"

	"github.com/rhopfer/cosignd/internal/testutil"
	"github.com/rhopfer/cosignd/internal/token"
)

func TestCreate(t *testing.T) {
	ta := token.NewAuthenticator(testutil.MustDecodeBase64(t, "FjcKOUT10xuBXjijEMv/UvegOFPtu55WvvS3ChkcyL0="))
	a := ta.Create([]byte("hello"))
	if !strings.HasPrefix(a, "v0!") {
		t.Errorf("Create(%q) = %q, want v0! prefix", "hello", a)
	}
	if b := ta.Create([]byte("hello")); a != b {
		t.Errorf("Create(%q) is not deterministic: %q != %q", "hello", a, b)
	}
	if c := ta.Create([]byte("goodbye")); a == c {
		t.Errorf("Create returned the same token for different payloads: %q", a)
	}
}

func TestGenerate(t *testing.T) {
	ta := token.NewAuthenticator(testutil.MustDecodeBase64(t, "FjcKOUT10xuBXjijEMv/UvegOFPtu55WvvS3ChkcyL0="))
	a, err := ta.Generate(16)
	if err != nil {
		t.Fatalf("Generate(16) returned unexpected error: %v", err)
	}
	b, err := ta.Generate(16)
	if err != nil {
		t.Fatalf("Generate(16) returned unexpected error: %v", err)
	}
	if a == b {
		t.Errorf("Generate(16) returned the same token twice: %q", a)
	}
}
