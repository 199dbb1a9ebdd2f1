// Package fixture provides an identity provider backed by a fixed table of
// demo identities, for development and demos without an identity service.
package fixture

import (
	"errors"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/enteecaay/BloodDonation-prototype/internal/domain/auth"
)

// DefaultSecret is the secret shared by the built-in identities.
const DefaultSecret = "password"

// ErrIdentityNotFound is returned by Lookup for unknown fixture ids.
var ErrIdentityNotFound = errors.New("fixture identity not found")

// Entry is one identity in a fixture file.
type Entry struct {
	ID            string `yaml:"id"`
	Email         string `yaml:"email"`
	DisplayName   string `yaml:"display_name"`
	Role          string `yaml:"role"`
	PhotoURL      string `yaml:"photo_url"`
	AccountStatus string `yaml:"account_status"`
	// Secret or SecretHash override the shared secret for this identity.
	Secret     string `yaml:"secret"`
	SecretHash string `yaml:"secret_hash"`
}

// File is the YAML layout of a fixture identity file.
type File struct {
	SharedSecret     string  `yaml:"shared_secret"`
	SharedSecretHash string  `yaml:"shared_secret_hash"`
	Identities       []Entry `yaml:"identities"`
}

// DefaultFile returns the built-in identities of the BloodConnect demo.
func DefaultFile() File {
	return File{
		SharedSecret: DefaultSecret,
		Identities: []Entry{
			{ID: "member-001", Email: "member@example.com", DisplayName: "John Member", Role: "member", PhotoURL: "https://placehold.co/100x100.png?text=JM"},
			{ID: "staff-001", Email: "staff@example.com", DisplayName: "Sarah Staff", Role: "staff", PhotoURL: "https://placehold.co/100x100.png?text=SS"},
			{ID: "admin-001", Email: "admin@example.com", DisplayName: "Alex Admin", Role: "admin", PhotoURL: "https://placehold.co/100x100.png?text=AA"},
			{ID: "member-002", Email: "jane.donor@example.com", DisplayName: "Jane Donor", Role: "member", PhotoURL: "https://placehold.co/100x100.png?text=JD"},
			{ID: "member-003", Email: "peter.lee@example.com", DisplayName: "Peter Lee", Role: "member", PhotoURL: "https://placehold.co/100x100.png?text=PL", AccountStatus: "suspended"},
			{ID: "staff-002", Email: "hospital.contact@example.com", DisplayName: "City General Hospital", Role: "staff", PhotoURL: "https://placehold.co/100x100.png?text=CGH"},
		},
	}
}

type record struct {
	identity   auth.Identity
	secretHash string
}

// Directory is an immutable table of fixture identities, safe to share
// between providers.
type Directory struct {
	byEmail map[string]*record
	byID    map[string]*record
	// dummyHash is verified for unknown emails so lookups take similar time.
	dummyHash string
}

// LoadFile reads a fixture identity file.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("failed to read fixture file: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("failed to parse fixture file %s: %w", path, err)
	}
	return f, nil
}

// NewDirectory validates the file and hashes any plaintext secrets.
func NewDirectory(f File) (*Directory, error) {
	shared, err := resolveHash(f.SharedSecret, f.SharedSecretHash)
	if err != nil {
		return nil, fmt.Errorf("shared secret: %w", err)
	}

	d := &Directory{
		byEmail:   make(map[string]*record, len(f.Identities)),
		byID:      make(map[string]*record, len(f.Identities)),
		dummyHash: shared,
	}

	for i, e := range f.Identities {
		if e.ID == "" {
			return nil, fmt.Errorf("identity %d: id is required", i)
		}
		email := auth.NormalizeEmail(e.Email)
		if email == "" {
			return nil, fmt.Errorf("identity %s: email is required", e.ID)
		}
		role, err := auth.ParseRole(e.Role)
		if err != nil || !role.IsAssignable() {
			return nil, fmt.Errorf("identity %s: invalid role %q", e.ID, e.Role)
		}
		status := auth.StatusActive
		if e.AccountStatus != "" {
			if status, err = auth.ParseAccountStatus(e.AccountStatus); err != nil {
				return nil, fmt.Errorf("identity %s: %w", e.ID, err)
			}
		}
		if _, dup := d.byID[e.ID]; dup {
			return nil, fmt.Errorf("identity %s: duplicate id", e.ID)
		}
		if _, dup := d.byEmail[email]; dup {
			return nil, fmt.Errorf("identity %s: duplicate email %s", e.ID, email)
		}

		hash := shared
		if e.Secret != "" || e.SecretHash != "" {
			if hash, err = resolveHash(e.Secret, e.SecretHash); err != nil {
				return nil, fmt.Errorf("identity %s: %w", e.ID, err)
			}
		}
		if hash == "" {
			return nil, fmt.Errorf("identity %s: no secret configured", e.ID)
		}
		if d.dummyHash == "" {
			d.dummyHash = hash
		}

		r := &record{
			identity: auth.Identity{
				ID:            e.ID,
				Email:         email,
				DisplayName:   e.DisplayName,
				Role:          role,
				PhotoURL:      e.PhotoURL,
				AccountStatus: status,
			},
			secretHash: hash,
		}
		d.byEmail[email] = r
		d.byID[e.ID] = r
	}
	return d, nil
}

// NewDefaultDirectory builds the directory of built-in identities.
func NewDefaultDirectory() (*Directory, error) {
	return NewDirectory(DefaultFile())
}

// resolveHash returns an argon2id hash, hashing plaintext when needed.
func resolveHash(plain, hash string) (string, error) {
	switch {
	case hash != "":
		if !auth.IsSecretHash(hash) {
			return "", auth.ErrUnknownHashType
		}
		return hash, nil
	case plain != "":
		h, err := auth.HashSecret(plain)
		if err != nil {
			return "", fmt.Errorf("failed to hash secret: %w", err)
		}
		return h, nil
	default:
		return "", nil
	}
}

// Identities returns every fixture identity ordered by id.
func (d *Directory) Identities() []auth.Identity {
	out := make([]auth.Identity, 0, len(d.byID))
	for _, r := range d.byID {
		out = append(out, r.identity)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Lookup returns the fixture identity with the given id.
func (d *Directory) Lookup(id string) (auth.Identity, error) {
	r, ok := d.byID[id]
	if !ok {
		return auth.Identity{}, ErrIdentityNotFound
	}
	return r.identity, nil
}

// verify checks an email and secret against the table.
func (d *Directory) verify(email, secret string) (*auth.Identity, error) {
	r, ok := d.byEmail[auth.NormalizeEmail(email)]
	if !ok {
		if d.dummyHash != "" {
			_, _ = auth.VerifySecret(secret, d.dummyHash)
		}
		return nil, fmt.Errorf("%w: unknown email", auth.ErrInvalidCredentials)
	}
	match, err := auth.VerifySecret(secret, r.secretHash)
	if err != nil || !match {
		return nil, fmt.Errorf("%w: secret mismatch", auth.ErrInvalidCredentials)
	}
	if r.identity.IsSuspended() {
		return nil, fmt.Errorf("%w: %s", auth.ErrAccountSuspended, r.identity.Email)
	}
	identity := r.identity
	return &identity, nil
}
