// Package security implements password protection and permission flags for
// documents. Key material is derived with PBKDF2; raw passwords are never
// retained.
package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

var (
	// ErrWeakPassword is returned when encryption with permission
	// restrictions is requested but a required password is empty.
	ErrWeakPassword = errors.New("security: weak password")

	// ErrAuthentication is returned when a password matches neither the
	// user nor the owner credential.
	ErrAuthentication = errors.New("security: authentication failed")

	// ErrNotEncrypted is returned when a permission change is requested on
	// a document without password protection.
	ErrNotEncrypted = errors.New("security: document is not encrypted")
)

// Permissions is a bitset of actions allowed on a protected document.
type Permissions uint16

const (
	PermPrint Permissions = 1 << iota
	PermModify
	PermCopy
	PermAnnotate
	PermFillForms
	PermExtract
	PermAssemble
	PermPrintHighRes
)

// PermAll grants every permission.
const PermAll = PermPrint | PermModify | PermCopy | PermAnnotate |
	PermFillForms | PermExtract | PermAssemble | PermPrintHighRes

// Has reports whether all bits in p are set.
func (perms Permissions) Has(p Permissions) bool { return perms&p == p }

func (perms Permissions) String() string {
	names := []struct {
		bit  Permissions
		name string
	}{
		{PermPrint, "print"},
		{PermModify, "modify"},
		{PermCopy, "copy"},
		{PermAnnotate, "annotate"},
		{PermFillForms, "fill-forms"},
		{PermExtract, "extract"},
		{PermAssemble, "assemble"},
		{PermPrintHighRes, "print-high-res"},
	}
	var set []string
	for _, n := range names {
		if perms.Has(n.bit) {
			set = append(set, n.name)
		}
	}
	if len(set) == 0 {
		return "none"
	}
	return strings.Join(set, ",")
}

// Mode describes the protection level of a document.
type Mode int

const (
	ModeNone Mode = iota
	ModeUserPassword
	ModeOwnerPassword
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeUserPassword:
		return "user-password"
	case ModeOwnerPassword:
		return "owner-password"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Role identifies which credential a password matched.
type Role int

const (
	RoleUser Role = iota
	RoleOwner
)

const (
	keyIterations = 4096
	keyLength     = 32
	saltLength    = 16
)

// State holds the encryption state of one document. A nil State and a State
// with ModeNone are equivalent: no protection, no permissions.
type State struct {
	mode     Mode
	perms    Permissions
	salt     []byte
	userKey  []byte
	ownerKey []byte
}

// Protect derives a new State from the given passwords. An empty user
// password with a non-empty owner password yields owner-only protection
// (the document opens freely but permission changes require the owner
// credential). Requesting restrictions (any permission withheld) with an
// empty password fails with ErrWeakPassword.
func Protect(userPassword, ownerPassword string, perms Permissions) (*State, error) {
	if perms != PermAll && (userPassword == "" || ownerPassword == "") {
		return nil, fmt.Errorf("%w: non-empty passwords required to restrict permissions", ErrWeakPassword)
	}
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	s := &State{perms: perms, salt: salt}
	if userPassword != "" {
		s.mode = ModeUserPassword
		s.userKey = deriveKey(userPassword, salt)
	} else {
		s.mode = ModeOwnerPassword
	}
	switch {
	case ownerPassword != "":
		s.ownerKey = deriveKey(ownerPassword, salt)
	case len(s.userKey) > 0:
		// Owner falls back to the user credential when unset.
		s.ownerKey = append([]byte(nil), s.userKey...)
	default:
		// Both passwords blank: store the empty-password credential so
		// the document can still be unlocked.
		s.ownerKey = deriveKey("", salt)
	}
	return s, nil
}

func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, keyIterations, keyLength, sha256.New)
}

// RestoreState rebuilds protection metadata without key material, for
// codecs that persist mode and permissions but never credentials. A
// restored state rejects every Authenticate call until re-protected.
func RestoreState(mode Mode, perms Permissions) *State {
	if mode == ModeNone {
		return nil
	}
	return &State{mode: mode, perms: perms}
}

// Mode returns the protection level. A nil State reports ModeNone.
func (s *State) Mode() Mode {
	if s == nil {
		return ModeNone
	}
	return s.mode
}

// Permissions returns the permission bitset. Unprotected documents have no
// meaningful permissions and report zero.
func (s *State) Permissions() Permissions {
	if s == nil || s.mode == ModeNone {
		return 0
	}
	return s.perms
}

// SetPermissions replaces the permission bitset. It fails with
// ErrNotEncrypted when no protection is in place.
func (s *State) SetPermissions(perms Permissions) error {
	if s.Mode() == ModeNone {
		return ErrNotEncrypted
	}
	s.perms = perms
	return nil
}

// Authenticate checks the password against both credentials. The owner
// credential is tried first so that a shared password reports the stronger
// role.
func (s *State) Authenticate(password string) (Role, error) {
	if s.Mode() == ModeNone {
		return 0, ErrNotEncrypted
	}
	key := deriveKey(password, s.salt)
	if len(s.ownerKey) > 0 && subtle.ConstantTimeCompare(key, s.ownerKey) == 1 {
		return RoleOwner, nil
	}
	if len(s.userKey) > 0 && subtle.ConstantTimeCompare(key, s.userKey) == 1 {
		return RoleUser, nil
	}
	return 0, ErrAuthentication
}

// Clone returns a deep copy. Cloning nil returns nil.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	return &State{
		mode:     s.mode,
		perms:    s.perms,
		salt:     append([]byte(nil), s.salt...),
		userKey:  append([]byte(nil), s.userKey...),
		ownerKey: append([]byte(nil), s.ownerKey...),
	}
}
