package store

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/cleo/bundle"
	"github.com/chazu/cleo/vm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "scripts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func printCode(text string) []byte {
	b := vm.NewBuilder()
	b.Emit(vm.OpPrint)
	b.Str(text)
	return b.Bytes()
}

func TestPutGet(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	code := printCode("hi")
	if err := s.Put(ctx, "greet", code); err != nil {
		t.Fatalf("Put: %v", err)
	}
	r, err := s.Get(ctx, "greet")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if r.Name != "greet" || !bytes.Equal(r.Code, code) {
		t.Errorf("got %q %x, want greet %x", r.Name, r.Code, code)
	}
	if len(r.Hash) != 64 {
		t.Errorf("hash = %q, want 64 hex digits", r.Hash)
	}
	if r.Updated.IsZero() {
		t.Error("Updated should be set")
	}
}

func TestPutReplaces(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	s.Put(ctx, "a", printCode("one"))
	if err := s.Put(ctx, "a", printCode("two")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	r, err := s.Get(ctx, "a")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(r.Code, printCode("two")) {
		t.Error("second Put should replace the script")
	}
}

func TestPutEmptyName(t *testing.T) {
	if err := openTestStore(t).Put(context.Background(), "", nil); err == nil {
		t.Error("expected an error for an empty name")
	}
}

func TestGetNotFound(t *testing.T) {
	_, err := openTestStore(t).Get(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.Put(ctx, "a", printCode("x"))

	if _, err := s.db.ExecContext(ctx, "UPDATE scripts SET code = ? WHERE name = ?", []byte{0, 0}, "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrCorrupt) {
		t.Errorf("err = %v, want ErrCorrupt", err)
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for _, name := range []string{"c", "a", "b"} {
		s.Put(ctx, name, printCode(name))
	}

	names, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 3 || names[0] != "a" || names[2] != "c" {
		t.Errorf("List() = %v, want [a b c]", names)
	}

	if err := s.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: err = %v, want ErrNotFound", err)
	}
	names, _ = s.List(ctx)
	if len(names) != 2 {
		t.Errorf("List() after delete = %v", names)
	}
}

func TestReopenKeepsScripts(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "scripts.db")

	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	s.Put(ctx, "persist", printCode("p"))
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if _, err := s.Get(ctx, "persist"); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}

func TestOpenInMemory(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()
	if err := s.Put(ctx, "m", printCode("m")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.Get(ctx, "m"); err != nil {
		t.Errorf("Get: %v", err)
	}
}

func TestLoadInto(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	s.Put(ctx, "b", printCode("bee"))
	s.Put(ctx, "a", printCode("ay"))

	var out bytes.Buffer
	v := vm.New(vm.WithGlobals(4), vm.WithOutput(&out))
	vm.RegisterDefaultOpcodes(v)

	if err := s.LoadInto(ctx, v); err != nil {
		t.Fatalf("LoadInto: %v", err)
	}
	v.Tick()
	if out.String() != "ay\nbee\n" {
		t.Errorf("output = %q, want scripts in name order", out.String())
	}

	if err := s.LoadInto(ctx, v, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestImportExport(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	b := bundle.New("pack")
	b.Add("one", printCode("1"))
	b.Add("two", printCode("2"))
	if err := s.Import(ctx, b); err != nil {
		t.Fatalf("Import: %v", err)
	}

	out, err := s.Export(ctx, "copy")
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if out.Digest() != b.Digest() {
		t.Error("exported bundle should hold the imported scripts")
	}

	sel, err := s.Export(ctx, "one-only", "one")
	if err != nil {
		t.Fatalf("Export selected: %v", err)
	}
	if names := sel.Names(); len(names) != 1 || names[0] != "one" {
		t.Errorf("selected names = %v", names)
	}
}
