// Package bundle packs named bytecode scripts into a single content-hashed
// file. Each entry carries the SHA-256 of its code; the hash is checked
// when a bundle is decoded, so a corrupted file never reaches the VM.
package bundle

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/chazu/cleo/vm"
	"github.com/tliron/commonlog"
)

// FormatVersion is written into every bundle.
const FormatVersion = 1

var (
	ErrHashMismatch   = errors.New("bundle: script hash mismatch")
	ErrDuplicateName  = errors.New("bundle: duplicate script name")
	ErrEmptyName      = errors.New("bundle: empty script name")
	ErrVersion        = errors.New("bundle: unsupported format version")
	ErrScriptNotFound = errors.New("bundle: script not found")
)

// logger is looked up on use so that a backend configured after package
// initialization still applies.
func logger() commonlog.Logger {
	return commonlog.GetLogger("cleo.bundle")
}

// Entry is one script in a bundle.
type Entry struct {
	Name string   `cbor:"1,keyasint"`
	Code []byte   `cbor:"2,keyasint"`
	Hash [32]byte `cbor:"3,keyasint"` // SHA-256 of Code
}

// Verify checks the entry's hash against its code.
func (e *Entry) Verify() error {
	if sha256.Sum256(e.Code) != e.Hash {
		return fmt.Errorf("%w: %q", ErrHashMismatch, e.Name)
	}
	return nil
}

// Bundle is an ordered set of uniquely named scripts.
type Bundle struct {
	Version uint8     `cbor:"1,keyasint"`
	Name    string    `cbor:"2,keyasint"`
	Created time.Time `cbor:"3,keyasint"`
	Scripts []Entry   `cbor:"4,keyasint"`
}

// New creates an empty bundle.
func New(name string) *Bundle {
	return &Bundle{
		Version: FormatVersion,
		Name:    name,
		Created: time.Now().UTC().Truncate(time.Second),
	}
}

// Add appends a script, hashing its code. Names must be unique.
func (b *Bundle) Add(name string, code []byte) error {
	if name == "" {
		return ErrEmptyName
	}
	if _, ok := b.Lookup(name); ok {
		return fmt.Errorf("%w: %q", ErrDuplicateName, name)
	}
	buf := make([]byte, len(code))
	copy(buf, code)
	b.Scripts = append(b.Scripts, Entry{Name: name, Code: buf, Hash: sha256.Sum256(buf)})
	return nil
}

// Lookup returns the entry named name.
func (b *Bundle) Lookup(name string) (*Entry, bool) {
	for i := range b.Scripts {
		if b.Scripts[i].Name == name {
			return &b.Scripts[i], true
		}
	}
	return nil, false
}

// Names returns script names in bundle order.
func (b *Bundle) Names() []string {
	names := make([]string, len(b.Scripts))
	for i, e := range b.Scripts {
		names[i] = e.Name
	}
	return names
}

// Validate checks the format version, every hash and name uniqueness.
func (b *Bundle) Validate() error {
	if b.Version != FormatVersion {
		return fmt.Errorf("%w: %d", ErrVersion, b.Version)
	}
	seen := make(map[string]bool, len(b.Scripts))
	for i := range b.Scripts {
		e := &b.Scripts[i]
		if e.Name == "" {
			return ErrEmptyName
		}
		if seen[e.Name] {
			return fmt.Errorf("%w: %q", ErrDuplicateName, e.Name)
		}
		seen[e.Name] = true
		if err := e.Verify(); err != nil {
			return err
		}
	}
	return nil
}

// Digest returns a hash over every entry hash, in name order. Two bundles
// holding the same scripts have the same digest regardless of order,
// name or creation time.
func (b *Bundle) Digest() [32]byte {
	entries := make([]Entry, len(b.Scripts))
	copy(entries, b.Scripts)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	h := sha256.New()
	for _, e := range entries {
		h.Write([]byte(e.Name))
		h.Write([]byte{0})
		h.Write(e.Hash[:])
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum
}

// Install appends every script to v in bundle order. The named scripts
// only, if names is non-empty.
func (b *Bundle) Install(v *vm.VM, names ...string) error {
	entries := b.Scripts
	if len(names) > 0 {
		entries = make([]Entry, 0, len(names))
		for _, name := range names {
			e, ok := b.Lookup(name)
			if !ok {
				return fmt.Errorf("%w: %q", ErrScriptNotFound, name)
			}
			entries = append(entries, *e)
		}
	}
	for _, e := range entries {
		v.AppendScript(e.Name, e.Code)
	}
	logger().Infof("installed %d scripts from bundle %q", len(entries), b.Name)
	return nil
}
