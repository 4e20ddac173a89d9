package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rnleach/bufkit-data/internal/blob"
	"github.com/rnleach/bufkit-data/internal/models"
)

var t0 = time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC)

func setupTestArchive(t *testing.T) *Archive {
	t.Helper()
	ar, err := Create(filepath.Join(t.TempDir(), "archive"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	t.Cleanup(func() { ar.Close() })
	return ar
}

// soundingText builds a minimal two-hour payload for one model run.
func soundingText(id string, num models.StationNumber, initTime time.Time) string {
	var b strings.Builder
	for h := 0; h <= 6; h += 6 {
		valid := initTime.Add(time.Duration(h) * time.Hour)
		fmt.Fprintf(&b, "STID = %s STNM = %d TIME = %s\n", id, num, valid.Format("060102/1504"))
		fmt.Fprintf(&b, "SLAT = 46.92 SLON = -114.08 SELV = 972.0\n")
		fmt.Fprintf(&b, "PRES TMPC DWPC\n925.0 10.2 6.5\n850.0 5.6 2.2\n\n")
	}
	return b.String()
}

func TestAddRetrieveRoundTrip(t *testing.T) {
	ar := setupTestArchive(t)

	text := soundingText("KMSO", 727730, t0)
	f, err := ar.Add(models.GFS, "", text)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if f.FileName != "2023040100Z_gfs_KMSO.buf.gz" {
		t.Errorf("FileName = %q", f.FileName)
	}
	if !f.InitTime.Equal(t0) || !f.EndTime.Equal(t0.Add(6*time.Hour)) {
		t.Errorf("times = %v .. %v", f.InitTime, f.EndTime)
	}

	got, err := ar.Retrieve(727730, models.GFS, t0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got != text {
		t.Error("retrieved text differs from ingested text")
	}
}

func TestAddCreatesSiteImplicitly(t *testing.T) {
	ar := setupTestArchive(t)

	if _, err := ar.Add(models.GFS, "", soundingText("KMSO", 727730, t0)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	site, err := ar.SiteInfo(727730)
	if err != nil {
		t.Fatalf("SiteInfo: %v", err)
	}
	if site.StationNum != 727730 {
		t.Errorf("StationNum = %d", site.StationNum)
	}

	// the embedded id is bound on ingest
	num, err := ar.StationNumForID("KMSO", models.GFS)
	if err != nil {
		t.Fatalf("StationNumForID: %v", err)
	}
	if num != 727730 {
		t.Errorf("KMSO -> %d", num)
	}
}

func TestAddIdempotentReplace(t *testing.T) {
	ar := setupTestArchive(t)

	first := soundingText("KMSO", 727730, t0)
	second := first + "\n"

	if _, err := ar.Add(models.GFS, "", first); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := ar.Add(models.GFS, "", second); err != nil {
		t.Fatalf("Add again: %v", err)
	}

	got, err := ar.Retrieve(727730, models.GFS, t0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if got != second {
		t.Error("Retrieve did not return the replacement text")
	}

	names, err := ar.index.ListAllFileNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 {
		t.Errorf("index rows = %d, want 1", len(names))
	}
	onDisk, err := ar.blobs.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	if len(onDisk) != 1 {
		t.Errorf("blobs = %d, want 1", len(onDisk))
	}
}

func TestAddIdentityMismatch(t *testing.T) {
	ar := setupTestArchive(t)

	_, err := ar.Add(models.GFS, "KGPI", soundingText("KMSO", 727730, t0))
	var mismatch *IdentityMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("err = %v, want *IdentityMismatchError", err)
	}
	if mismatch.Hint != "KGPI" || mismatch.Embedded != "KMSO" {
		t.Errorf("mismatch = %+v", mismatch)
	}
}

func TestAddHintForPayloadWithoutID(t *testing.T) {
	ar := setupTestArchive(t)

	f, err := ar.Add(models.NAM, "kmso", soundingText("", 727730, t0))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if f.FileName != "2023040100Z_nam_KMSO.buf.gz" {
		t.Errorf("FileName = %q", f.FileName)
	}
	if !f.ID.Valid || f.ID.String != "KMSO" {
		t.Errorf("ID snapshot = %+v", f.ID)
	}
}

func TestRetrieveNotFound(t *testing.T) {
	ar := setupTestArchive(t)

	_, err := ar.Retrieve(727730, models.GFS, t0)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	_, err = ar.RetrieveMostRecent(727730, models.GFS)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRetrieveMostRecent(t *testing.T) {
	ar := setupTestArchive(t)

	latest := soundingText("KMSO", 727730, t0.Add(12*time.Hour))
	for _, init := range []time.Time{t0, t0.Add(6 * time.Hour), t0.Add(12 * time.Hour)} {
		if _, err := ar.Add(models.GFS, "", soundingText("KMSO", 727730, init)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	got, err := ar.RetrieveMostRecent(727730, models.GFS)
	if err != nil {
		t.Fatalf("RetrieveMostRecent: %v", err)
	}
	if got != latest {
		t.Error("RetrieveMostRecent did not return the latest run")
	}
}

func TestRemove(t *testing.T) {
	ar := setupTestArchive(t)

	f, err := ar.Add(models.GFS, "", soundingText("KMSO", 727730, t0))
	if err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := ar.Remove(727730, models.GFS, t0); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	if _, err := ar.Retrieve(727730, models.GFS, t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("row still present: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ar.blobs.Dir(), f.FileName)); !os.IsNotExist(err) {
		t.Errorf("blob still present: %v", err)
	}
}

func TestRemoveSite(t *testing.T) {
	ar := setupTestArchive(t)

	for _, init := range []time.Time{t0, t0.Add(6 * time.Hour)} {
		if _, err := ar.Add(models.GFS, "", soundingText("KMSO", 727730, init)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if _, err := ar.Add(models.GFS, "", soundingText("KGPI", 720541, t0)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := ar.RemoveSite(727730); err != nil {
		t.Fatalf("RemoveSite: %v", err)
	}

	onDisk, err := ar.blobs.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	if len(onDisk) != 1 {
		t.Errorf("blobs = %d, want only the other site's file", len(onDisk))
	}
	if _, err := ar.SiteInfo(727730); !errors.Is(err, ErrNotFound) {
		t.Errorf("site still present: %v", err)
	}
}

func TestInventory(t *testing.T) {
	ar := setupTestArchive(t)

	for _, h := range []int{0, 6, 18, 24} {
		init := t0.Add(time.Duration(h) * time.Hour)
		if _, err := ar.Add(models.GFS, "", soundingText("KMSO", 727730, init)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}

	site, err := ar.SiteInfo(727730)
	if err != nil {
		t.Fatal(err)
	}
	site.AutoDownload = true
	if err := ar.UpdateSite(site); err != nil {
		t.Fatalf("UpdateSite: %v", err)
	}

	inv, err := ar.Inventory(727730, models.GFS)
	if err != nil {
		t.Fatalf("Inventory: %v", err)
	}
	if !inv.First.Equal(t0) || !inv.Last.Equal(t0.Add(24*time.Hour)) {
		t.Errorf("coverage = %v .. %v", inv.First, inv.Last)
	}
	if len(inv.Missing) != 1 {
		t.Fatalf("Missing = %v, want one block", inv.Missing)
	}
	gap := inv.Missing[0]
	if !gap.Start.Equal(t0.Add(12*time.Hour)) || !gap.End.Equal(t0.Add(12*time.Hour)) {
		t.Errorf("gap = %v", gap)
	}
	if !inv.AutoDownload {
		t.Error("AutoDownload flag not copied from site")
	}

	if _, err := ar.Inventory(727730, models.NAM); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("empty series err = %v, want ErrInsufficientData", err)
	}
}

func TestCleanConvergence(t *testing.T) {
	ar := setupTestArchive(t)

	// three healthy files
	var kept []models.SoundingFile
	for _, h := range []int{0, 6, 12} {
		f, err := ar.Add(models.GFS, "", soundingText("KMSO", 727730, t0.Add(time.Duration(h)*time.Hour)))
		if err != nil {
			t.Fatalf("Add: %v", err)
		}
		kept = append(kept, f)
	}

	// orphan row: blob deleted behind the archive's back
	if err := os.Remove(filepath.Join(ar.blobs.Dir(), kept[2].FileName)); err != nil {
		t.Fatal(err)
	}

	// orphan blob with recoverable content for an unseen station
	orphanName := blob.FileNameFor("KGPI", models.GFS, t0)
	if err := ar.blobs.Store(orphanName, soundingText("KGPI", 720541, t0)); err != nil {
		t.Fatal(err)
	}

	// foreign file and a corrupt blob with a grammar-matching name
	if err := os.WriteFile(filepath.Join(ar.blobs.Dir(), "notes.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(ar.blobs.Dir(), "2023040918Z_nam_KSEA.buf.gz"), []byte("junk"), 0o644); err != nil {
		t.Fatal(err)
	}

	report, err := ar.Clean()
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}

	if report.OrphanRowsRemoved != 1 {
		t.Errorf("OrphanRowsRemoved = %d, want 1", report.OrphanRowsRemoved)
	}
	if report.BlobsIndexed != 1 {
		t.Errorf("BlobsIndexed = %d, want 1", report.BlobsIndexed)
	}
	if report.SitesCreated != 1 {
		t.Errorf("SitesCreated = %d, want 1", report.SitesCreated)
	}
	if report.ForeignRemoved != 1 {
		t.Errorf("ForeignRemoved = %d, want 1", report.ForeignRemoved)
	}
	if report.UnreadableRemoved != 1 {
		t.Errorf("UnreadableRemoved = %d, want 1", report.UnreadableRemoved)
	}

	// index and disk agree afterwards
	names, err := ar.index.ListAllFileNames()
	if err != nil {
		t.Fatal(err)
	}
	onDisk, err := ar.blobs.Enumerate()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != len(onDisk) {
		t.Fatalf("index has %d rows, disk has %d blobs", len(names), len(onDisk))
	}
	for _, name := range names {
		if _, ok := onDisk[name]; !ok {
			t.Errorf("indexed %s missing on disk", name)
		}
	}

	// the recovered file is fully usable
	text, err := ar.Retrieve(720541, models.GFS, t0)
	if err != nil {
		t.Fatalf("Retrieve recovered: %v", err)
	}
	if !strings.Contains(text, "KGPI") {
		t.Error("recovered text wrong")
	}
}

func TestCleanPrefersFirstRegisteredCopy(t *testing.T) {
	ar := setupTestArchive(t)

	if _, err := ar.Add(models.GFS, "", soundingText("KMSO", 727730, t0)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	// same (station, model, init) under a different name: a stale copy filed
	// under an old id
	dupName := blob.FileNameFor("MSO", models.GFS, t0)
	if err := ar.blobs.Store(dupName, soundingText("MSO", 727730, t0)); err != nil {
		t.Fatal(err)
	}

	report, err := ar.Clean()
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if report.DuplicatesRemoved != 1 {
		t.Errorf("DuplicatesRemoved = %d, want 1", report.DuplicatesRemoved)
	}

	text, err := ar.Retrieve(727730, models.GFS, t0)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if !strings.Contains(text, "KMSO") {
		t.Error("first-registered copy was not preserved")
	}
}

func TestExport(t *testing.T) {
	ar := setupTestArchive(t)

	for _, h := range []int{0, 6, 12, 18} {
		init := t0.Add(time.Duration(h) * time.Hour)
		if _, err := ar.Add(models.GFS, "", soundingText("KMSO", 727730, init)); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if _, err := ar.Add(models.NAM, "", soundingText("KMSO", 727730, t0)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := ar.Add(models.GFS, "", soundingText("KGPI", 720541, t0)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	site, err := ar.SiteInfo(727730)
	if err != nil {
		t.Fatal(err)
	}
	site.Name = sql.NullString{String: "Missoula", Valid: true}
	site.State = "MT"
	if err := ar.UpdateSite(site); err != nil {
		t.Fatalf("UpdateSite: %v", err)
	}

	destRoot := filepath.Join(t.TempDir(), "export")
	err = ar.Export([]models.StationNumber{727730}, []models.Model{models.GFS},
		t0, t0.Add(12*time.Hour), destRoot)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	dest, err := Connect(destRoot)
	if err != nil {
		t.Fatalf("Connect dest: %v", err)
	}
	defer dest.Close()

	sites, err := dest.Sites()
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != 1 || sites[0].StationNum != 727730 {
		t.Fatalf("dest sites = %+v", sites)
	}
	if sites[0].Name.String != "Missoula" || sites[0].State != "MT" {
		t.Errorf("site metadata not carried: %+v", sites[0])
	}

	times, err := dest.InitTimes(727730, models.GFS)
	if err != nil {
		t.Fatal(err)
	}
	if len(times) != 3 {
		t.Fatalf("dest init times = %v, want 3 inside inclusive range", times)
	}
	namTimes, err := dest.InitTimes(727730, models.NAM)
	if err != nil {
		t.Fatal(err)
	}
	if len(namTimes) != 0 {
		t.Errorf("nam files exported despite model filter: %v", namTimes)
	}

	want := soundingText("KMSO", 727730, t0)
	got, err := dest.Retrieve(727730, models.GFS, t0)
	if err != nil {
		t.Fatalf("Retrieve from dest: %v", err)
	}
	if got != want {
		t.Error("exported blob differs from source")
	}

	// source untouched
	srcNames, err := ar.index.ListAllFileNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(srcNames) != 6 {
		t.Errorf("source rows = %d, want 6", len(srcNames))
	}
}

func TestConnectMissing(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "nothing-here"))
	if err == nil {
		t.Fatal("Connect to empty dir succeeded")
	}
}

func TestCreateTwice(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive")
	ar, err := Create(root)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ar.Close()

	if _, err := Create(root); err == nil {
		t.Fatal("second Create succeeded")
	}
}
