package password

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"testing"
)

var lowerHex = regexp.MustCompile(`^[0-9a-f]+$`)

func TestSHA256Hasher_MatchesConcatenation(t *testing.T) {
	h := SHA256Hasher{}

	sum := sha256.Sum256([]byte("pw1" + "salt-1"))
	want := hex.EncodeToString(sum[:])

	if got := h.Hash("pw1", "salt-1"); got != want {
		t.Fatalf("Hash=%q want=%q", got, want)
	}
}

func TestSHA256Hasher_DeterministicAndOrderSensitive(t *testing.T) {
	h := SHA256Hasher{}

	a := h.Hash("ab", "c")
	if a != h.Hash("ab", "c") {
		t.Fatalf("expected deterministic output")
	}
	if len(a) != 64 || !lowerHex.MatchString(a) {
		t.Fatalf("expected 64 lowercase hex chars, got %q", a)
	}
	if h.Hash("c", "ab") == a {
		t.Fatalf("expected order-sensitive output")
	}
}

func TestSHA256Hasher_EmptyPassword(t *testing.T) {
	h := SHA256Hasher{}
	got := h.Hash("", "salt")
	if len(got) != 64 {
		t.Fatalf("expected digest for empty password, got %q", got)
	}
}

func TestArgon2idHasher_FixedLengthHex(t *testing.T) {
	h := Argon2idHasher{Params: Argon2idParams{MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, KeyLength: 32}}

	a := h.Hash("pw1", "salt-1")
	if a != h.Hash("pw1", "salt-1") {
		t.Fatalf("expected deterministic output")
	}
	if len(a) != 64 || !lowerHex.MatchString(a) {
		t.Fatalf("expected 64 lowercase hex chars, got %q", a)
	}
	if a == h.Hash("pw2", "salt-1") {
		t.Fatalf("different passwords must differ")
	}
	if a == (SHA256Hasher{}).Hash("pw1", "salt-1") {
		t.Fatalf("schemes must not collide")
	}
}

func TestNewSalt_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 64)
	for i := 0; i < 64; i++ {
		s := NewSalt()
		if s == "" {
			t.Fatalf("empty salt")
		}
		if _, dup := seen[s]; dup {
			t.Fatalf("duplicate salt %q", s)
		}
		seen[s] = struct{}{}
	}
}

func TestEqual(t *testing.T) {
	if !Equal("abc", "abc") {
		t.Fatalf("expected equal")
	}
	if Equal("abc", "abd") || Equal("abc", "ab") {
		t.Fatalf("expected mismatch")
	}
}

func TestValidate_MinMax(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Policy.MinLength = 12
	cfg.Policy.MaxLength = 16

	if err := cfg.Validate("short"); err != ErrPasswordTooShort {
		t.Fatalf("expected ErrPasswordTooShort, got %v", err)
	}

	if err := cfg.Validate("this password is definitely too long"); err != ErrPasswordTooLong {
		t.Fatalf("expected ErrPasswordTooLong, got %v", err)
	}

	if err := cfg.Validate("goodpassw0rd!"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestPolicy_RejectVeryWeak(t *testing.T) {
	p := Policy{MinLength: 8, MaxLength: 64, RejectVeryWeak: true}

	if err := p.Check("password"); err != ErrWeakPassword {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := p.Check("11111111"); err != ErrWeakPassword {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}
	if err := p.Check("a-very-ok-pass"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestConfig_NewHasher(t *testing.T) {
	cfg := DefaultConfig()
	if _, ok := cfg.NewHasher().(SHA256Hasher); !ok {
		t.Fatalf("default scheme must be sha256")
	}
	cfg.Scheme = SchemeArgon2id
	if _, ok := cfg.NewHasher().(Argon2idHasher); !ok {
		t.Fatalf("expected argon2id hasher")
	}
}
