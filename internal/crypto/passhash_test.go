package crypto

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/and161185/credgate/internal/errs"
	"github.com/and161185/credgate/internal/model"
	"golang.org/x/crypto/bcrypt"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal", n)
	}
}

func TestPreDigest(t *testing.T) {
	t.Parallel()

	// sha256("abc")
	const want = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"
	if got := PreDigest("abc"); got != want {
		t.Fatalf("PreDigest=%s want %s", got, want)
	}
	if !IsDigest(want) || !IsDigest(strings.ToUpper(want)) {
		t.Fatalf("IsDigest rejected a digest")
	}
	for _, s := range []string{"", "abc", want[:63], want + "0", strings.Repeat("g", 64)} {
		if IsDigest(s) {
			t.Fatalf("IsDigest(%q) = true", s)
		}
	}
}

func TestVerify_V1(t *testing.T) {
	t.Parallel()

	rec, err := HashWithCost(model.PasswordV1, "Secret123!", bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if rec.Version != model.PasswordV1 {
		t.Fatalf("version=%d", rec.Version)
	}
	ok, err := Verify("Secret123!", rec)
	if err != nil || !ok {
		t.Fatalf("Verify correct: ok=%v err=%v", ok, err)
	}
	ok, err = Verify("secret123!", rec)
	if err != nil || ok {
		t.Fatalf("Verify wrong: ok=%v err=%v", ok, err)
	}
}

func TestVerify_V2RequiresDigest(t *testing.T) {
	t.Parallel()

	digest := PreDigest("Secret123!")
	rec, err := HashWithCost(model.PasswordV2, digest, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	ok, err := Verify(digest, rec)
	if err != nil || !ok {
		t.Fatalf("Verify digest: ok=%v err=%v", ok, err)
	}
	if ok, _ := Verify(strings.ToUpper(digest), rec); ok {
		t.Fatalf("upper-case digest is a different bcrypt input and must not match")
	}

	ok, err = Verify("Secret123!", rec)
	if ok || !errors.Is(err, errs.ErrMalformedPassword) {
		t.Fatalf("Verify plaintext against V2: ok=%v err=%v", ok, err)
	}

	ok, err = Verify(PreDigest("other"), rec)
	if ok || err != nil {
		t.Fatalf("Verify wrong digest: ok=%v err=%v", ok, err)
	}
}

func TestHash_V2RejectsPlaintext(t *testing.T) {
	t.Parallel()

	if _, err := HashWithCost(model.PasswordV2, "plain", bcrypt.MinCost); !errors.Is(err, errs.ErrMalformedPassword) {
		t.Fatalf("want ErrMalformedPassword, got %v", err)
	}
	if _, err := HashWithCost(model.PasswordVersion(9), "plain", bcrypt.MinCost); err == nil {
		t.Fatalf("unknown version must fail")
	}
}

func TestVerify_BadStoredHash(t *testing.T) {
	t.Parallel()

	ok, err := Verify("x", model.PasswordRecord{Hash: "not-bcrypt", Version: model.PasswordV1})
	if ok || err == nil {
		t.Fatalf("want error for unparsable hash, got ok=%v err=%v", ok, err)
	}
	if _, err := Verify("x", model.PasswordRecord{Hash: "h", Version: 0}); err == nil {
		t.Fatalf("unknown version must fail")
	}
}
