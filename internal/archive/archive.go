// Package archive composes the index store and blob store into the archive
// facade: add, retrieve, remove, query, reconcile and export. All operations
// are synchronous and run over one shared connection per archive handle;
// callers needing concurrent access serialize externally.
package archive

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rnleach/bufkit-data/internal/blob"
	"github.com/rnleach/bufkit-data/internal/bufkit"
	"github.com/rnleach/bufkit-data/internal/index"
	"github.com/rnleach/bufkit-data/internal/inventory"
	"github.com/rnleach/bufkit-data/internal/metrics"
	"github.com/rnleach/bufkit-data/internal/models"
)

const (
	indexFileName = "archive.db"
	blobDirName   = "data"
)

// Archive is a handle on one archive root: the relational index file plus the
// blob sub-directory.
type Archive struct {
	root  string
	db    *sql.DB
	index *index.Store
	blobs *blob.Store
}

// Create initializes a fresh archive at root, failing if an index file is
// already present there.
func Create(root string) (*Archive, error) {
	indexPath := filepath.Join(root, indexFileName)
	if _, err := os.Stat(indexPath); err == nil {
		return nil, fmt.Errorf("archive already exists at %s", root)
	}
	if err := os.MkdirAll(filepath.Join(root, blobDirName), 0o755); err != nil {
		return nil, fmt.Errorf("create archive layout: %w", err)
	}
	return open(root)
}

// Connect opens an existing archive at root.
func Connect(root string) (*Archive, error) {
	if _, err := os.Stat(filepath.Join(root, indexFileName)); err != nil {
		return nil, fmt.Errorf("no archive at %s: %w", root, err)
	}
	return open(root)
}

func open(root string) (*Archive, error) {
	db, err := sql.Open("sqlite", filepath.Join(root, indexFileName))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	db.Exec("PRAGMA journal_mode=WAL")
	db.Exec("PRAGMA busy_timeout=5000")

	idx := index.New(db)
	if err := idx.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index: %w", err)
	}

	return &Archive{
		root:  root,
		db:    db,
		index: idx,
		blobs: blob.NewStore(filepath.Join(root, blobDirName)),
	}, nil
}

func (a *Archive) Close() error {
	return a.db.Close()
}

// Root returns the archive root directory.
func (a *Archive) Root() string { return a.root }

// Add ingests one sounding payload: parse it to recover station identity and
// timing, compress and write the blob, then upsert the index row and rebind
// the site id. A repeated (station, model, init time) key replaces the
// earlier text; exactly one row and blob remain for the key.
func (a *Archive) Add(model models.Model, idHint string, text string) (models.SoundingFile, error) {
	recs, err := bufkit.Parse(text)
	if err != nil {
		return models.SoundingFile{}, err
	}

	first := recs[0]
	initTime, endTime := first.ValidTime, first.ValidTime
	for _, r := range recs[1:] {
		if r.ValidTime.Before(initTime) {
			initTime = r.ValidTime
		}
		if r.ValidTime.After(endTime) {
			endTime = r.ValidTime
		}
	}

	hint := strings.ToUpper(strings.TrimSpace(idHint))
	if hint != "" && first.ID != "" && hint != first.ID {
		return models.SoundingFile{}, &IdentityMismatchError{Hint: hint, Embedded: first.ID}
	}
	id := first.ID
	if id == "" {
		id = hint
	}

	station := first.StationNum
	if _, err := a.index.Site(station); errors.Is(err, ErrNotFound) {
		if err := a.index.AddSite(models.Site{StationNum: station}); err != nil {
			return models.SoundingFile{}, fmt.Errorf("create site %d: %w", station, err)
		}
	} else if err != nil {
		return models.SoundingFile{}, err
	}

	nameID := id
	if nameID == "" {
		nameID = station.String()
	}
	name := blob.FileNameFor(nameID, model, initTime)

	if err := a.index.CheckFileName(name, station, model, initTime); err != nil {
		return models.SoundingFile{}, err
	}

	// The same key may already be registered under a different name, for
	// example when the id it was filed under has since changed.
	oldName, err := a.index.QueryFile(station, model, initTime)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return models.SoundingFile{}, err
	}

	if err := a.blobs.Store(name, text); err != nil {
		return models.SoundingFile{}, err
	}

	file := models.SoundingFile{
		StationNum: station,
		Model:      model,
		InitTime:   initTime.UTC(),
		EndTime:    endTime.UTC(),
		FileName:   name,
	}
	if id != "" {
		file.ID = sql.NullString{String: id, Valid: true}
	}
	if first.Lat != nil && first.Lon != nil {
		file.Lat = sql.NullFloat64{Float64: *first.Lat, Valid: true}
		file.Lon = sql.NullFloat64{Float64: *first.Lon, Valid: true}
	}
	if first.ElevationM != nil {
		file.ElevationM = sql.NullFloat64{Float64: *first.ElevationM, Valid: true}
	}

	if err := a.index.UpsertFile(file); err != nil {
		return models.SoundingFile{}, err
	}

	if oldName != "" && oldName != name {
		if err := a.blobs.Remove(oldName); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return models.SoundingFile{}, err
		}
	}

	if id != "" {
		if err := a.index.BindID(id, station); err != nil {
			return models.SoundingFile{}, err
		}
	}

	metrics.FilesAdded.WithLabelValues(model.String()).Inc()
	return file, nil
}

// Retrieve returns the original sounding text for a composite key. An absent
// key surfaces as ErrNotFound, never as an I/O error.
func (a *Archive) Retrieve(num models.StationNumber, model models.Model, initTime time.Time) (string, error) {
	name, err := a.index.QueryFile(num, model, initTime.UTC())
	if err != nil {
		return "", err
	}
	text, err := a.blobs.Load(name)
	if err != nil {
		return "", err
	}
	metrics.FilesRetrieved.WithLabelValues(model.String()).Inc()
	return text, nil
}

// RetrieveMostRecent returns the text of the latest run for a station and
// model.
func (a *Archive) RetrieveMostRecent(num models.StationNumber, model models.Model) (string, error) {
	name, err := a.index.QueryMostRecent(num, model)
	if err != nil {
		return "", err
	}
	text, err := a.blobs.Load(name)
	if err != nil {
		return "", err
	}
	metrics.FilesRetrieved.WithLabelValues(model.String()).Inc()
	return text, nil
}

// Remove deletes the row and blob for one composite key together.
func (a *Archive) Remove(num models.StationNumber, model models.Model, initTime time.Time) error {
	name, err := a.index.QueryFile(num, model, initTime.UTC())
	if err != nil {
		return err
	}
	if err := a.index.DeleteFile(num, model, initTime.UTC()); err != nil {
		return err
	}
	if err := a.blobs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveSite deletes a site, all of its file rows, and their blobs.
func (a *Archive) RemoveSite(num models.StationNumber) error {
	names, err := a.index.FileNamesForStation(num)
	if err != nil {
		return err
	}
	if err := a.index.DeleteSite(num); err != nil {
		return err
	}
	for _, name := range names {
		if err := a.blobs.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// AddSite registers site metadata explicitly, failing with ErrDuplicateSite
// when the station number is already known.
func (a *Archive) AddSite(site models.Site) error {
	if err := site.Validate(); err != nil {
		return err
	}
	return a.index.AddSite(site)
}

// UpdateSite rewrites existing site metadata, failing with ErrNotFound when
// the station number is unknown.
func (a *Archive) UpdateSite(site models.Site) error {
	if err := site.Validate(); err != nil {
		return err
	}
	return a.index.UpdateSite(site)
}

func (a *Archive) Sites() ([]models.Site, error) {
	return a.index.Sites()
}

func (a *Archive) SiteInfo(num models.StationNumber) (models.Site, error) {
	return a.index.Site(num)
}

// Models returns the models with files archived for a station.
func (a *Archive) Models(num models.StationNumber) ([]models.Model, error) {
	return a.index.QueryModels(num)
}

// InitTimes returns the archived init times for a station and model in
// ascending order.
func (a *Archive) InitTimes(num models.StationNumber, model models.Model) ([]time.Time, error) {
	return a.index.QueryInitTimes(num, model)
}

// StationNumForID resolves a site id to its station number.
func (a *Archive) StationNumForID(id string, model models.Model) (models.StationNumber, error) {
	return a.index.QueryStationForID(id, model)
}

// BindID points a site id at a station, unbinding any previous owner.
func (a *Archive) BindID(id string, num models.StationNumber) error {
	return a.index.BindID(id, num)
}

// Inventory summarizes run coverage for a station and model: first and last
// archived runs plus the blocks of missing runs between them.
func (a *Archive) Inventory(num models.StationNumber, model models.Model) (inventory.Inventory, error) {
	site, err := a.index.Site(num)
	if err != nil {
		return inventory.Inventory{}, err
	}
	times, err := a.index.QueryInitTimes(num, model)
	if err != nil {
		return inventory.Inventory{}, err
	}
	return inventory.Analyze(times, model.Cadence(), site.AutoDownload)
}
