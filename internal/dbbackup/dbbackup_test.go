package dbbackup

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wbh-go/internal/catalog"
	"wbh-go/internal/crypto"
	"wbh-go/internal/testutil"
	"wbh-go/internal/transfer"
	"wbh-go/internal/transport"
	"wbh-go/internal/wbh"
)

// fileSnapshot hands out fixed bytes as the catalog snapshot.
type fileSnapshot struct {
	data []byte
}

func (f fileSnapshot) BackupTo(ctx context.Context, dest string) error {
	return os.WriteFile(dest, f.data, 0644)
}

func newTestCodec(t *testing.T, chunkSize int64, limit int) (*Codec, *transport.MemoryTransport) {
	t.Helper()
	tr := transport.NewMemoryTransport(limit)
	engine, err := transfer.NewEngine(tr, transfer.Options{ChunkSize: chunkSize, TempDir: t.TempDir(), MaxRetry: 2}, testutil.FixedClock(), nil)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return NewCodec(engine, t.TempDir(), testutil.FixedClock(), nil), tr
}

func sampleRefs() []transfer.ChunkRef {
	return []transfer.ChunkRef{
		{Index: 0, Encryption: wbh.EncryptionChaCha20Poly1305, Material: "aaOb", ChecksumType: wbh.ChecksumSHA256, Checksum: "c0", BlobID: "blob-0"},
		{Index: 1, Encryption: wbh.EncryptionChaCha20Poly1305, Material: "ccOd", ChecksumType: wbh.ChecksumSHA256, Checksum: "c1", BlobID: "blob-1"},
	}
}

func TestFormatDescriptor(t *testing.T) {
	got := FormatDescriptor(sampleRefs()[0])
	want := "ChaCha20Poly1305;aaOb;SHA256;c0;blob-0"
	if got != want {
		t.Errorf("FormatDescriptor() = %q, want %q", got, want)
	}
}

func TestParseDescriptor_Rejects(t *testing.T) {
	tests := []string{
		"ChaCha20Poly1305;aaOb;SHA256;c0",
		"AES;aaOb;SHA256;c0;blob",
		"ChaCha20Poly1305;aaOb;MD5;c0;blob",
		"ChaCha20Poly1305;aaOb;SHA256;c0;",
	}
	for _, d := range tests {
		if _, err := ParseDescriptor(d, 0); !errors.Is(err, wbh.ErrSerialization) {
			t.Errorf("ParseDescriptor(%q) error = %v, want ErrSerialization", d, err)
		}
	}
}

func TestCode_RoundTrip(t *testing.T) {
	code, err := EncodeCode(sampleRefs(), "backup-secret")
	if err != nil {
		t.Fatalf("EncodeCode() error = %v", err)
	}
	refs, err := DecodeCode(code, "backup-secret")
	if err != nil {
		t.Fatalf("DecodeCode() error = %v", err)
	}
	want := sampleRefs()
	if len(refs) != len(want) {
		t.Fatalf("DecodeCode() returned %d refs, want %d", len(refs), len(want))
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("ref %d = %+v, want %+v", i, refs[i], want[i])
		}
	}
}

func TestDecodeCode_Errors(t *testing.T) {
	code, err := EncodeCode(sampleRefs(), "right")
	if err != nil {
		t.Fatalf("EncodeCode() error = %v", err)
	}
	short, _ := crypto.EncodeBlob([]byte("tiny"))

	tests := []struct {
		name   string
		code   string
		secret string
		want   error
	}{
		{"wrong secret", code, "wrong", wbh.ErrAuthentication},
		{"not base64", "!!!not a code!!!", "right", wbh.ErrSerialization},
		{"too short", short, "right", wbh.ErrSerialization},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeCode(tt.code, tt.secret); !errors.Is(err, tt.want) {
				t.Errorf("DecodeCode() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSplitJoin(t *testing.T) {
	code := strings.Repeat("abcdefghij", 1000)
	segments := Split(code, 4096)
	if len(segments) != 3 {
		t.Fatalf("Split() returned %d segments, want 3", len(segments))
	}
	for i, s := range segments {
		if len(s) > 4096 {
			t.Errorf("segment %d is %d characters", i, len(s))
		}
	}
	if len(segments[2]) != 10000-2*4096 {
		t.Errorf("last segment is %d characters", len(segments[2]))
	}
	if Join(segments) != code {
		t.Error("Join(Split()) changed the code")
	}
	if Join([]string{"ab\n", " cd\r\n", "e f"}) != "abcdef" {
		t.Error("Join() kept whitespace")
	}
	if got := Split("short", 4096); len(got) != 1 || got[0] != "short" {
		t.Errorf("Split(short) = %v", got)
	}
}

func TestBackupRestore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	codec, tr := newTestCodec(t, 1000, 64)
	snapshot := testutil.Pattern(4321)

	segments, err := codec.Backup(ctx, fileSnapshot{snapshot}, "wbh.db", "backup-secret", "backups")
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if tr.Blobs() != 5 {
		t.Errorf("Blobs() = %d, want 5", tr.Blobs())
	}
	posted := tr.Messages("backups")
	if len(posted) != len(segments) || len(segments) < 2 {
		t.Fatalf("posted %d messages for %d segments", len(posted), len(segments))
	}
	for i, seg := range posted {
		if len(seg) > 64 {
			t.Errorf("segment %d exceeds the message limit", i)
		}
	}

	dbPath := filepath.Join(t.TempDir(), "wbh.db")
	if err := os.WriteFile(dbPath, []byte("current"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dbPath+".backup-1", []byte("previous"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := codec.Restore(ctx, Join(posted), "backup-secret", dbPath, 2); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	got, _ := os.ReadFile(dbPath)
	if !bytes.Equal(got, snapshot) {
		t.Error("restored catalog differs from the snapshot")
	}
	for name, want := range map[string]string{".backup-1": "current", ".backup-2": "previous"} {
		b, err := os.ReadFile(dbPath + name)
		if err != nil || string(b) != want {
			t.Errorf("%s = %q, %v, want %q", name, b, err, want)
		}
	}
}

func TestRestore_WrongSecretKeepsCatalog(t *testing.T) {
	ctx := context.Background()
	codec, tr := newTestCodec(t, 1000, 4096)
	if _, err := codec.Backup(ctx, fileSnapshot{[]byte("snapshot bytes")}, "wbh.db", "right", "backups"); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "wbh.db")
	if err := os.WriteFile(dbPath, []byte("current"), 0644); err != nil {
		t.Fatal(err)
	}
	err := codec.Restore(ctx, Join(tr.Messages("backups")), "wrong", dbPath, 4)
	if !errors.Is(err, wbh.ErrAuthentication) {
		t.Fatalf("Restore() error = %v, want ErrAuthentication", err)
	}
	got, _ := os.ReadFile(dbPath)
	if string(got) != "current" {
		t.Errorf("catalog changed to %q", got)
	}
	if _, err := os.Stat(dbPath + ".backup-1"); !os.IsNotExist(err) {
		t.Error("failed restore rotated the catalog")
	}
}

func TestBackup_RequiresSecret(t *testing.T) {
	codec, _ := newTestCodec(t, 1000, 4096)
	if _, err := codec.Backup(context.Background(), fileSnapshot{[]byte("x")}, "wbh.db", "", "backups"); err == nil {
		t.Error("Backup() without a secret should fail")
	}
}

func TestBackupRestore_SQLiteCatalog(t *testing.T) {
	ctx := context.Background()
	codec, tr := newTestCodec(t, 4096, 4096)

	live, err := catalog.NewSQLiteCatalog(filepath.Join(t.TempDir(), "live.db"), testutil.FixedClock())
	if err != nil {
		t.Fatalf("NewSQLiteCatalog() error = %v", err)
	}
	defer live.Close()
	if _, err := live.GetOrCreateBlackHole(ctx, "photos", "chat"); err != nil {
		t.Fatalf("GetOrCreateBlackHole() error = %v", err)
	}

	if _, err := codec.Backup(ctx, live, "wbh.db", "secret", "backups"); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "restored.db")
	if err := codec.Restore(ctx, Join(tr.Messages("backups")), "secret", dbPath, 4); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	restored, err := catalog.NewSQLiteCatalog(dbPath, testutil.FixedClock())
	if err != nil {
		t.Fatalf("opening restored catalog: %v", err)
	}
	defer restored.Close()
	bhs, err := restored.GetBlackHoles(ctx)
	if err != nil || len(bhs) != 1 || bhs[0].Name != "photos" {
		t.Errorf("restored blackholes = %v, %v", bhs, err)
	}
}
