package utils

import (
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	valid := []string{"user@wiremi.com", "first.last@sub.domain.io", "x@y.zz"}
	for _, email := range valid {
		if res := ValidateEmail(email); !res.IsValid {
			t.Fatalf("expected %q valid, got %v", email, res.Errors)
		}
	}
	invalid := []string{"", "no-at-sign", "two@@ats.com", "trailing@dot", "spaces in@mail.com",
		strings.Repeat("a", 250) + "@x.com"}
	for _, email := range invalid {
		if res := ValidateEmail(email); res.IsValid {
			t.Fatalf("expected %q invalid", email)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	if res := ValidatePassword("Abcdef12"); !res.IsValid {
		t.Fatalf("expected valid, got %v", res.Errors)
	}
	cases := []struct{ pw, why string }{
		{"Ab1", "too short"},
		{"abcdefg1", "no upper case"},
		{"ABCDEFG1", "no lower case"},
		{"Abcdefgh", "no digit"},
		{strings.Repeat("Ab1", 50), "too long"},
	}
	for _, c := range cases {
		if res := ValidatePassword(c.pw); res.IsValid {
			t.Fatalf("expected %q invalid (%s)", c.pw, c.why)
		}
	}
}

func TestValidateCredentialsMergesFields(t *testing.T) {
	res := ValidateCredentials("bad", "bad")
	if res.IsValid {
		t.Fatal("expected invalid")
	}
	if _, ok := res.Errors["email"]; !ok {
		t.Fatal("expected email error")
	}
	if _, ok := res.Errors["password"]; !ok {
		t.Fatal("expected password error")
	}
}

func TestValidateName(t *testing.T) {
	if res := ValidateName("first_name", "Ada"); !res.IsValid {
		t.Fatalf("expected valid, got %v", res.Errors)
	}
	if res := ValidateName("first_name", "   "); res.IsValid {
		t.Fatal("expected blank name invalid")
	}
	if res := ValidateName("first_name", strings.Repeat("x", 101)); res.IsValid {
		t.Fatal("expected oversized name invalid")
	}
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("Sup3rSecret", 4) // below minimum, clamped up
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "Sup3rSecret" {
		t.Fatal("hash must not equal plaintext")
	}
	if !VerifyPassword(hash, "Sup3rSecret") {
		t.Fatal("correct password must verify")
	}
	if VerifyPassword(hash, "sup3rsecret") {
		t.Fatal("wrong password must not verify")
	}
}
