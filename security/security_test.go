package security

import (
	"errors"
	"testing"
)

func TestProtectAuthenticateRoundTrip(t *testing.T) {
	s, err := Protect("open", "admin", PermPrint|PermCopy)
	if err != nil {
		t.Fatalf("Protect() error = %v", err)
	}
	if s.Mode() != ModeUserPassword {
		t.Fatalf("Mode() = %v, want %v", s.Mode(), ModeUserPassword)
	}
	role, err := s.Authenticate("open")
	if err != nil || role != RoleUser {
		t.Fatalf("Authenticate(user) = %v, %v", role, err)
	}
	role, err = s.Authenticate("admin")
	if err != nil || role != RoleOwner {
		t.Fatalf("Authenticate(owner) = %v, %v", role, err)
	}
	if _, err := s.Authenticate("wrong"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Authenticate(wrong) error = %v, want ErrAuthentication", err)
	}
}

func TestProtectWeakPassword(t *testing.T) {
	if _, err := Protect("", "admin", PermPrint); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("error = %v, want ErrWeakPassword", err)
	}
	if _, err := Protect("open", "", PermPrint); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("error = %v, want ErrWeakPassword", err)
	}
	// No restrictions: empty passwords are accepted.
	if _, err := Protect("", "admin", PermAll); err != nil {
		t.Fatalf("Protect() error = %v", err)
	}
}

func TestOwnerOnlyProtection(t *testing.T) {
	s, err := Protect("", "admin", PermAll)
	if err != nil {
		t.Fatalf("Protect() error = %v", err)
	}
	if s.Mode() != ModeOwnerPassword {
		t.Fatalf("Mode() = %v, want %v", s.Mode(), ModeOwnerPassword)
	}
	role, err := s.Authenticate("admin")
	if err != nil || role != RoleOwner {
		t.Fatalf("Authenticate(owner) = %v, %v", role, err)
	}
}

func TestOwnerFallsBackToUserCredential(t *testing.T) {
	s, err := Protect("shared", "", PermAll)
	if err != nil {
		t.Fatalf("Protect() error = %v", err)
	}
	role, err := s.Authenticate("shared")
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if role != RoleOwner {
		t.Fatalf("role = %v, want RoleOwner for shared credential", role)
	}
}

func TestBlankUnrestrictedProtectionStaysUnlockable(t *testing.T) {
	s, err := Protect("", "", PermAll)
	if err != nil {
		t.Fatalf("Protect() error = %v", err)
	}
	if s.Mode() != ModeOwnerPassword {
		t.Fatalf("Mode() = %v, want %v", s.Mode(), ModeOwnerPassword)
	}
	role, err := s.Authenticate("")
	if err != nil {
		t.Fatalf("Authenticate(\"\") error = %v", err)
	}
	if role != RoleOwner {
		t.Fatalf("role = %v, want RoleOwner", role)
	}
	if _, err := s.Authenticate("guess"); !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Authenticate(wrong) error = %v, want ErrAuthentication", err)
	}
}

func TestSetPermissionsRequiresEncryption(t *testing.T) {
	var s *State
	if err := s.SetPermissions(PermPrint); !errors.Is(err, ErrNotEncrypted) {
		t.Fatalf("error = %v, want ErrNotEncrypted", err)
	}
	if s.Permissions() != 0 {
		t.Fatalf("Permissions() on nil state = %v, want 0", s.Permissions())
	}

	enc, err := Protect("u", "o", PermAll)
	if err != nil {
		t.Fatalf("Protect() error = %v", err)
	}
	if err := enc.SetPermissions(PermPrint | PermExtract); err != nil {
		t.Fatalf("SetPermissions() error = %v", err)
	}
	if !enc.Permissions().Has(PermPrint) || enc.Permissions().Has(PermModify) {
		t.Fatalf("Permissions() = %v", enc.Permissions())
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s, err := Protect("u", "o", PermAll)
	if err != nil {
		t.Fatalf("Protect() error = %v", err)
	}
	c := s.Clone()
	if err := c.SetPermissions(PermPrint); err != nil {
		t.Fatalf("SetPermissions() error = %v", err)
	}
	if s.Permissions() == c.Permissions() {
		t.Fatal("clone shares permission state with original")
	}
	if _, err := c.Authenticate("o"); err != nil {
		t.Fatalf("clone Authenticate() error = %v", err)
	}
}

func TestPermissionsString(t *testing.T) {
	if got := (PermPrint | PermCopy).String(); got != "print,copy" {
		t.Fatalf("String() = %q", got)
	}
	if got := Permissions(0).String(); got != "none" {
		t.Fatalf("String() = %q", got)
	}
}
