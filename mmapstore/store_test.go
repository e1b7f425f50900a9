package mmapstore

import (
	"path/filepath"
	"testing"
)

func TestCreateAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.db")

	r, err := Create(path, 4096)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !r.Persisted() {
		t.Error("Persisted() = false for a named file, want true")
	}
	buf := r.Bytes()
	if len(buf) != 4096 {
		t.Fatalf("Bytes() length = %d, want 4096", len(buf))
	}
	buf[0] = 0xAB
	buf[4095] = 0xCD
	if err := r.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	got := reopened.Bytes()
	if len(got) != 4096 {
		t.Fatalf("reopened Bytes() length = %d, want 4096", len(got))
	}
	if got[0] != 0xAB || got[4095] != 0xCD {
		t.Errorf("reopened contents = [%x ... %x], want [ab ... cd]", got[0], got[4095])
	}
}

func TestCreateTruncatesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.db")

	r1, err := Create(path, 8192)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}
	r1.Bytes()[0] = 0xFF
	if err := r1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r2, err := Create(path, 4096)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	defer r2.Close()
	if len(r2.Bytes()) != 4096 {
		t.Errorf("Bytes() length = %d, want 4096 (truncated and resized)", len(r2.Bytes()))
	}
	if r2.Bytes()[0] != 0 {
		t.Error("reused path was not truncated before remapping")
	}
}

func TestCreateAnonymousIsNotPersisted(t *testing.T) {
	r, err := CreateAnonymous(4096)
	if err != nil {
		t.Fatalf("CreateAnonymous: %v", err)
	}
	defer r.Close()
	if r.Persisted() {
		t.Error("Persisted() = true for an anonymous region, want false")
	}
	if len(r.Bytes()) != 4096 {
		t.Errorf("Bytes() length = %d, want 4096", len(r.Bytes()))
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	r, err := CreateAnonymous(4096)
	if err != nil {
		t.Fatalf("CreateAnonymous: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v, want nil (idempotent)", err)
	}
}

func TestFlushAfterCloseReturnsErrClosed(t *testing.T) {
	r, err := CreateAnonymous(4096)
	if err != nil {
		t.Fatalf("CreateAnonymous: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Flush(); err != ErrClosed {
		t.Errorf("Flush after Close = %v, want ErrClosed", err)
	}
}

func TestPrefaultDoesNotPanicOnEmptyOrPopulatedRegion(t *testing.T) {
	r, err := CreateAnonymous(4096)
	if err != nil {
		t.Fatalf("CreateAnonymous: %v", err)
	}
	defer r.Close()
	r.Prefault()
}

func TestOpenDoesNotResizeExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "region.db")
	r, err := Create(path, 16384)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer reopened.Close()
	if len(reopened.Bytes()) != 16384 {
		t.Errorf("Bytes() length = %d, want 16384 (size preserved by Open)", len(reopened.Bytes()))
	}
}
