package ingest_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"colabsfm/internal/config"
	"colabsfm/internal/ingest"
	"colabsfm/internal/ledger"
	"colabsfm/internal/logging"
	"colabsfm/internal/region"
	"colabsfm/internal/services"
	"colabsfm/internal/testsupport"
)

type fixture struct {
	cfg    *config.Config
	layout *region.Layout
	ledger *ledger.Store
	engine *ingest.Engine
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	layout := region.NewLayout(cfg)
	store := testsupport.MustOpenLedger(t, cfg)
	engine := ingest.NewEngine(layout, store, ingest.OptionsFromConfig(cfg), logging.NewNop())
	return &fixture{cfg: cfg, layout: layout, ledger: store, engine: engine}
}

func (f *fixture) createRegion(t *testing.T, name string) region.Paths {
	t.Helper()
	paths, err := f.layout.Create(name)
	if err != nil {
		t.Fatalf("create region: %v", err)
	}
	return paths
}

func (f *fixture) rows(t *testing.T, name string) []ledger.Record {
	t.Helper()
	records, err := f.ledger.ListByRegion(context.Background(), name)
	if err != nil {
		t.Fatalf("ListByRegion: %v", err)
	}
	return records
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir %s: %v", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names
}

func payloads(names ...string) []ingest.Payload {
	out := make([]ingest.Payload, 0, len(names))
	for _, name := range names {
		out = append(out, ingest.Payload{Name: name, Reader: strings.NewReader("data:" + name)})
	}
	return out
}

func TestIngestFilesStoresAndRecordsEveryPayload(t *testing.T) {
	f := newFixture(t)
	paths := f.createRegion(t, "north")

	result, err := f.engine.IngestFiles(context.Background(), "north", "alice", payloads("a.jpg", "b.png", "a.jpg"))
	if err != nil {
		t.Fatalf("IngestFiles failed: %v", err)
	}
	if len(result.Files) != 3 {
		t.Fatalf("expected 3 stored files, got %d", len(result.Files))
	}

	rows := f.rows(t, "north")
	if len(rows) != 3 {
		t.Fatalf("expected 3 ledger rows, got %d", len(rows))
	}
	seen := map[string]bool{}
	for i, file := range result.Files {
		if seen[file.Stored] {
			t.Fatalf("duplicate stored name %q", file.Stored)
		}
		seen[file.Stored] = true
		if file.Stored == file.Original || !strings.HasSuffix(file.Stored, "_"+file.Original) {
			t.Fatalf("stored name %q lacks token prefix for %q", file.Stored, file.Original)
		}
		content, err := os.ReadFile(filepath.Join(paths.Images, file.Stored))
		if err != nil {
			t.Fatalf("stored file missing: %v", err)
		}
		if string(content) != "data:"+file.Original {
			t.Fatalf("unexpected content %q", content)
		}
		if rows[i].Filename != file.Stored || rows[i].UserID != "alice" || rows[i].Region != "north" {
			t.Fatalf("row %d does not match stored file: %+v vs %+v", i, rows[i], file)
		}
	}
	if got := len(listDir(t, paths.Images)); got != 3 {
		t.Fatalf("expected 3 files on disk, got %d", got)
	}
}

func TestIngestFolderMatchesIngestFiles(t *testing.T) {
	f := newFixture(t)
	f.createRegion(t, "north")

	result, err := f.engine.IngestFolder(context.Background(), "north", "", payloads("x.jpeg", "y.jpeg"))
	if err != nil {
		t.Fatalf("IngestFolder failed: %v", err)
	}
	if len(result.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(result.Files))
	}
	for _, row := range f.rows(t, "north") {
		if row.UserID != ledger.DefaultUploader {
			t.Fatalf("expected default uploader, got %q", row.UserID)
		}
	}
}

func TestConfiguredDefaultUploader(t *testing.T) {
	f := newFixture(t, testsupport.WithDefaultUploader("anonymous"))
	f.createRegion(t, "north")

	if _, err := f.engine.IngestFiles(context.Background(), "north", "  ", payloads("a.jpg")); err != nil {
		t.Fatalf("IngestFiles failed: %v", err)
	}
	if _, err := f.engine.IngestFiles(context.Background(), "north", "carol", payloads("b.jpg")); err != nil {
		t.Fatalf("IngestFiles failed: %v", err)
	}
	rows := f.rows(t, "north")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].UserID != "anonymous" || rows[1].UserID != "carol" {
		t.Fatalf("unexpected uploaders %q, %q", rows[0].UserID, rows[1].UserID)
	}
}

func TestRepeatedIngestionOfSameNameNeverCollides(t *testing.T) {
	f := newFixture(t)
	paths := f.createRegion(t, "north")
	for i := 0; i < 5; i++ {
		if _, err := f.engine.IngestFiles(context.Background(), "north", "bob", payloads("IMG_0001.JPG")); err != nil {
			t.Fatalf("ingestion %d failed: %v", i, err)
		}
	}
	if got := len(listDir(t, paths.Images)); got != 5 {
		t.Fatalf("expected 5 distinct files, got %d", got)
	}
	if got := len(f.rows(t, "north")); got != 5 {
		t.Fatalf("expected 5 rows, got %d", got)
	}
}

func TestIngestIntoMissingRegionIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	zipData := testsupport.ZipBytes(t, map[string][]byte{"a.jpg": []byte("a")})

	calls := map[string]func() error{
		"files": func() error {
			_, err := f.engine.IngestFiles(ctx, "ghost", "u", payloads("a.jpg"))
			return err
		},
		"folder": func() error {
			_, err := f.engine.IngestFolder(ctx, "ghost", "u", payloads("a.jpg"))
			return err
		},
		"archive": func() error {
			_, err := f.engine.IngestArchive(ctx, "ghost", "u", ingest.Payload{Name: "a.zip", Reader: bytes.NewReader(zipData)})
			return err
		},
	}
	for name, call := range calls {
		if err := call(); !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("%s: expected not found, got %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(f.cfg.Paths.RootDir, "ghost")); !os.IsNotExist(err) {
		t.Fatalf("expected no region directory to be created, got %v", err)
	}
	if got := len(f.rows(t, "ghost")); got != 0 {
		t.Fatalf("expected zero rows, got %d", got)
	}
}

func TestIngestArchiveFlattensImagesAndPrunesEmptyDirs(t *testing.T) {
	f := newFixture(t)
	paths := f.createRegion(t, "north")
	zipData := testsupport.ZipBytes(t, map[string][]byte{
		"a.jpg":     []byte("jpg-a"),
		"b.txt":     []byte("notes"),
		"sub/c.png": []byte("png-c"),
	})

	result, err := f.engine.IngestArchive(context.Background(), "north", "carol", ingest.Payload{Name: "batch.zip", Reader: bytes.NewReader(zipData)})
	if err != nil {
		t.Fatalf("IngestArchive failed: %v", err)
	}

	rows := f.rows(t, "north")
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	originals := []string{result.Files[0].Original, result.Files[1].Original}
	sort.Strings(originals)
	if strings.Join(originals, ",") != "a.jpg,c.png" {
		t.Fatalf("unexpected ingested originals %v", originals)
	}
	for _, file := range result.Files {
		if _, err := os.Stat(filepath.Join(paths.Images, file.Stored)); err != nil {
			t.Fatalf("expected %s flat in images root: %v", file.Stored, err)
		}
	}
	if len(result.Skipped) != 1 || result.Skipped[0] != "b.txt" {
		t.Fatalf("expected b.txt to be skipped, got %v", result.Skipped)
	}

	var leftovers []string
	_ = filepath.WalkDir(paths.Images, func(path string, d os.DirEntry, err error) error {
		if err == nil && path != paths.Images {
			rel, _ := filepath.Rel(paths.Images, path)
			leftovers = append(leftovers, filepath.ToSlash(rel))
		}
		return nil
	})
	var sawText bool
	for _, rel := range leftovers {
		if strings.HasSuffix(rel, "/sub") || rel == "sub" {
			t.Fatalf("expected emptied sub/ to be removed, found %s", rel)
		}
		if strings.HasSuffix(rel, "b.txt") {
			sawText = true
		}
	}
	if !sawText {
		t.Fatalf("expected b.txt to remain on disk, tree: %v", leftovers)
	}

	for _, name := range listDir(t, paths.Dir) {
		if strings.HasPrefix(name, ingest.ArchivePrefix) {
			t.Fatalf("temporary archive %s was not removed", name)
		}
	}
}

func TestIngestArchiveRemovesExtractionRootWhenEmpty(t *testing.T) {
	f := newFixture(t)
	paths := f.createRegion(t, "north")
	data := testsupport.TarGzBytes(t, map[string][]byte{
		"day1/IMG_1.JPG":         []byte("1"),
		"day1/deeper/IMG_2.jpeg": []byte("2"),
	})

	result, err := f.engine.IngestArchive(context.Background(), "north", "dave", ingest.Payload{Name: "Survey.TAR.GZ", Reader: bytes.NewReader(data)})
	if err != nil {
		t.Fatalf("IngestArchive failed: %v", err)
	}
	if len(result.Files) != 2 {
		t.Fatalf("expected 2 files, got %d", len(result.Files))
	}
	for _, name := range listDir(t, paths.Images) {
		if strings.HasPrefix(name, ingest.ExtractionPrefix) {
			t.Fatalf("expected extraction tree to be pruned, found %s", name)
		}
	}
}

func TestIngestArchiveRejectsUnknownFormat(t *testing.T) {
	f := newFixture(t)
	paths := f.createRegion(t, "north")

	_, err := f.engine.IngestArchive(context.Background(), "north", "u", ingest.Payload{Name: "photos.rar", Reader: strings.NewReader("rar")})
	if !errors.Is(err, services.ErrExtraction) {
		t.Fatalf("expected extraction error, got %v", err)
	}
	if names := listDir(t, paths.Dir); strings.Join(names, ",") != "images,sparse" {
		t.Fatalf("expected region dir untouched, got %v", names)
	}
}

func TestIngestArchiveCorruptIsExtractionErrorAndCleansArchive(t *testing.T) {
	f := newFixture(t)
	paths := f.createRegion(t, "north")

	_, err := f.engine.IngestArchive(context.Background(), "north", "u", ingest.Payload{Name: "broken.zip", Reader: strings.NewReader("definitely not a zip")})
	if !errors.Is(err, services.ErrExtraction) {
		t.Fatalf("expected extraction error, got %v", err)
	}
	for _, name := range listDir(t, paths.Dir) {
		if strings.HasPrefix(name, ingest.ArchivePrefix) {
			t.Fatalf("temporary archive %s left behind", name)
		}
	}
	if got := len(f.rows(t, "north")); got != 0 {
		t.Fatalf("expected zero rows, got %d", got)
	}
}

func TestUploadLimitRejectsOversizedCall(t *testing.T) {
	f := newFixture(t, testsupport.WithMaxUploadBytes(8))
	f.createRegion(t, "north")

	_, err := f.engine.IngestFiles(context.Background(), "north", "u", []ingest.Payload{
		{Name: "a.jpg", Reader: strings.NewReader("12345")},
		{Name: "b.jpg", Reader: strings.NewReader("67890")},
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if got := len(f.rows(t, "north")); got != 0 {
		t.Fatalf("expected whole batch to roll back, got %d rows", got)
	}
}

func TestClientDirectoriesAreStripped(t *testing.T) {
	f := newFixture(t)
	paths := f.createRegion(t, "north")

	result, err := f.engine.IngestFiles(context.Background(), "north", "u", payloads("../../../etc/evil.jpg"))
	if err != nil {
		t.Fatalf("IngestFiles failed: %v", err)
	}
	if filepath.Dir(result.Files[0].Path) != paths.Images {
		t.Fatalf("file escaped images dir: %s", result.Files[0].Path)
	}
	if !strings.HasSuffix(result.Files[0].Stored, "_evil.jpg") {
		t.Fatalf("unexpected stored name %q", result.Files[0].Stored)
	}
}

func TestStoredNameUsesTokenSourceAndBoundsLength(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	n := 0
	engine := ingest.NewEngine(region.NewLayout(cfg), testsupport.MustOpenLedger(t, cfg), ingest.OptionsFromConfig(cfg), nil,
		ingest.WithTokenSource(func() string {
			n++
			return fmt.Sprintf("tok%d", n)
		}))

	if got := engine.StoredName("a.jpg"); got != "tok1_a.jpg" {
		t.Fatalf("unexpected stored name %q", got)
	}
	long := engine.StoredName(strings.Repeat("é", 200) + ".png")
	if len(long) > 255 {
		t.Fatalf("stored name exceeds 255 bytes: %d", len(long))
	}
	if !strings.HasPrefix(long, "tok2_") || !strings.HasSuffix(long, ".png") {
		t.Fatalf("unexpected truncated name %q", long)
	}
}

func TestCameraCapturedFromEXIF(t *testing.T) {
	f := newFixture(t)
	f.createRegion(t, "north")
	jpeg := testsupport.JPEGWithCamera("Canon", "Canon EOS R5")

	result, err := f.engine.IngestFiles(context.Background(), "north", "u", []ingest.Payload{
		{Name: "exif.jpg", Reader: bytes.NewReader(jpeg)},
		{Name: "plain.png", Reader: strings.NewReader("no exif here")},
	})
	if err != nil {
		t.Fatalf("IngestFiles failed: %v", err)
	}
	if result.Files[0].Camera != "Canon EOS R5" {
		t.Fatalf("expected camera from EXIF, got %q", result.Files[0].Camera)
	}
	if result.Files[1].Camera != "" {
		t.Fatalf("expected no camera for plain file, got %q", result.Files[1].Camera)
	}
	if rows := f.rows(t, "north"); rows[0].Camera != "Canon EOS R5" {
		t.Fatalf("expected camera persisted, got %q", rows[0].Camera)
	}
}

func TestLedgerFailureLeavesWrittenFilesButNoRows(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Ingest.CaptureEXIF = false
	layout := region.NewLayout(cfg)
	paths, err := layout.Create("north")
	if err != nil {
		t.Fatalf("create region: %v", err)
	}

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO uploads")).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO uploads")).WillReturnError(errors.New("database or disk is full"))
	mock.ExpectRollback()

	engine := ingest.NewEngine(layout, ledger.New(db), ingest.OptionsFromConfig(cfg), nil)
	_, err = engine.IngestFiles(context.Background(), "north", "u", payloads("a.jpg", "b.jpg", "c.jpg"))
	if !errors.Is(err, services.ErrLedger) {
		t.Fatalf("expected ledger error, got %v", err)
	}
	// Files written before the failure stay on disk; the third is never written.
	if got := len(listDir(t, paths.Images)); got != 2 {
		t.Fatalf("expected 2 orphaned files, got %d", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
