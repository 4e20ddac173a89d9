// Package index keeps the relational metadata for an archive: site rows,
// file rows, and the current id bindings. All access goes through one shared
// connection; multi-row mutations each run in a single transaction.
package index

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rnleach/bufkit-data/internal/models"
)

var (
	// ErrNotFound distinguishes "no such row" from a broken query, so
	// callers can branch on existence.
	ErrNotFound = errors.New("not found in index")

	// ErrDuplicateSite is returned by AddSite when the station number
	// already has a row.
	ErrDuplicateSite = errors.New("site already exists")

	// ErrDuplicateFile is returned when a file name would collide with a
	// row holding a different composite key.
	ErrDuplicateFile = errors.New("file name already registered under a different key")
)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// AddSite inserts a new site row, failing with ErrDuplicateSite if the
// station number is already present.
func (s *Store) AddSite(site models.Site) error {
	res, err := s.db.Exec(`
		INSERT INTO sites (station_num, name, state, notes, auto_download, tz_offset_seconds)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_num) DO NOTHING
	`, site.StationNum, site.Name, stateArg(site.State), site.Notes, site.AutoDownload, site.TzOffsetSecs)
	if err != nil {
		return fmt.Errorf("insert site %d: %w", site.StationNum, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("site %d: %w", site.StationNum, ErrDuplicateSite)
	}
	return nil
}

// UpdateSite rewrites the row for site.StationNum, failing with ErrNotFound
// when no such site exists.
func (s *Store) UpdateSite(site models.Site) error {
	res, err := s.db.Exec(`
		UPDATE sites
		SET name = ?, state = ?, notes = ?, auto_download = ?, tz_offset_seconds = ?
		WHERE station_num = ?
	`, site.Name, stateArg(site.State), site.Notes, site.AutoDownload, site.TzOffsetSecs, site.StationNum)
	if err != nil {
		return fmt.Errorf("update site %d: %w", site.StationNum, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("site %d: %w", site.StationNum, ErrNotFound)
	}
	return nil
}

func (s *Store) Site(num models.StationNumber) (models.Site, error) {
	row := s.db.QueryRow(`
		SELECT station_num, name, state, notes, auto_download, tz_offset_seconds
		FROM sites WHERE station_num = ?
	`, num)
	site, err := scanSite(row)
	if err == sql.ErrNoRows {
		return models.Site{}, fmt.Errorf("site %d: %w", num, ErrNotFound)
	}
	return site, err
}

func (s *Store) Sites() ([]models.Site, error) {
	rows, err := s.db.Query(`
		SELECT station_num, name, state, notes, auto_download, tz_offset_seconds
		FROM sites ORDER BY station_num ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sites []models.Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		sites = append(sites, site)
	}
	return sites, rows.Err()
}

// BindID makes id resolve to num. If id currently resolves to a different
// station the old binding row is deleted and the new one inserted, both in
// one transaction; a binding already pointing at num is left alone.
func (s *Store) BindID(id string, num models.StationNumber) error {
	id = strings.ToUpper(id)

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin bind tx: %w", err)
	}

	var owner models.StationNumber
	err = tx.QueryRow(`SELECT station_num FROM site_ids WHERE id = ?`, id).Scan(&owner)
	switch {
	case err == sql.ErrNoRows:
		// no current owner, fall through to insert
	case err != nil:
		tx.Rollback()
		return fmt.Errorf("look up binding for %s: %w", id, err)
	case owner == num:
		tx.Rollback()
		return nil
	default:
		if _, err := tx.Exec(`DELETE FROM site_ids WHERE id = ?`, id); err != nil {
			tx.Rollback()
			return fmt.Errorf("unbind %s from %d: %w", id, owner, err)
		}
	}

	if _, err := tx.Exec(`INSERT INTO site_ids (station_num, id) VALUES (?, ?)`, num, id); err != nil {
		tx.Rollback()
		return fmt.Errorf("bind %s to %d: %w", id, num, err)
	}
	return tx.Commit()
}

// CurrentID returns the id currently bound to num, or ErrNotFound.
func (s *Store) CurrentID(num models.StationNumber) (string, error) {
	var id string
	err := s.db.QueryRow(`SELECT id FROM site_ids WHERE station_num = ?`, num).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("binding for %d: %w", num, ErrNotFound)
	}
	return id, err
}

// UpsertFile inserts or replaces the row keyed by (station_num, model,
// init_time). A file name already registered under a different key is
// rejected with ErrDuplicateFile.
func (s *Store) UpsertFile(f models.SoundingFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert tx: %w", err)
	}

	var num models.StationNumber
	var model string
	var initTime time.Time
	err = tx.QueryRow(`SELECT station_num, model, init_time FROM files WHERE file_name = ?`, f.FileName).
		Scan(&num, &model, &initTime)
	switch {
	case err == sql.ErrNoRows:
		// name unused
	case err != nil:
		tx.Rollback()
		return fmt.Errorf("look up file name %s: %w", f.FileName, err)
	case num != f.StationNum || model != f.Model.String() || !initTime.Equal(f.InitTime):
		tx.Rollback()
		return fmt.Errorf("%s: %w", f.FileName, ErrDuplicateFile)
	}

	if _, err := tx.Exec(`
		INSERT INTO files (station_num, model, init_time, end_time, file_name, id, lat, lon, elevation_m)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(station_num, model, init_time) DO UPDATE SET
			end_time = excluded.end_time,
			file_name = excluded.file_name,
			id = excluded.id,
			lat = excluded.lat,
			lon = excluded.lon,
			elevation_m = excluded.elevation_m
	`, f.StationNum, f.Model.String(), f.InitTime.UTC(), f.EndTime.UTC(), f.FileName,
		f.ID, f.Lat, f.Lon, f.ElevationM); err != nil {
		tx.Rollback()
		return fmt.Errorf("upsert file %s: %w", f.FileName, err)
	}
	return tx.Commit()
}

// CheckFileName fails with ErrDuplicateFile if name is registered under a
// key other than (num, model, initTime). Ingestion calls this before writing
// a blob, so a colliding name never clobbers another key's data.
func (s *Store) CheckFileName(name string, num models.StationNumber, model models.Model, initTime time.Time) error {
	var owner models.StationNumber
	var ownerModel string
	var ownerInit time.Time
	err := s.db.QueryRow(`SELECT station_num, model, init_time FROM files WHERE file_name = ?`, name).
		Scan(&owner, &ownerModel, &ownerInit)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("look up file name %s: %w", name, err)
	}
	if owner != num || ownerModel != model.String() || !ownerInit.Equal(initTime) {
		return fmt.Errorf("%s: %w", name, ErrDuplicateFile)
	}
	return nil
}

// QueryFile returns the blob name for a composite key.
func (s *Store) QueryFile(num models.StationNumber, model models.Model, initTime time.Time) (string, error) {
	var name string
	err := s.db.QueryRow(`
		SELECT file_name FROM files
		WHERE station_num = ? AND model = ? AND init_time = ?
	`, num, model.String(), initTime.UTC()).Scan(&name)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("file %d/%s/%s: %w", num, model, initTime.UTC().Format(time.RFC3339), ErrNotFound)
	}
	return name, err
}

// QueryMostRecent returns the blob name with the latest init time for a
// station and model.
func (s *Store) QueryMostRecent(num models.StationNumber, model models.Model) (string, error) {
	var name string
	err := s.db.QueryRow(`
		SELECT file_name FROM files
		WHERE station_num = ? AND model = ?
		ORDER BY init_time DESC LIMIT 1
	`, num, model.String()).Scan(&name)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("files for %d/%s: %w", num, model, ErrNotFound)
	}
	return name, err
}

// QueryInitTimes returns all init times for a station and model in ascending
// order.
func (s *Store) QueryInitTimes(num models.StationNumber, model models.Model) ([]time.Time, error) {
	rows, err := s.db.Query(`
		SELECT init_time FROM files
		WHERE station_num = ? AND model = ?
		ORDER BY init_time ASC
	`, num, model.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var times []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		times = append(times, t.UTC())
	}
	return times, rows.Err()
}

// QueryModels returns the set of models with at least one file for a station.
func (s *Store) QueryModels(num models.StationNumber) ([]models.Model, error) {
	rows, err := s.db.Query(`
		SELECT DISTINCT model FROM files WHERE station_num = ? ORDER BY model ASC
	`, num)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Model
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		m, err := models.ParseModel(raw)
		if err != nil {
			return nil, fmt.Errorf("index holds %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// QueryStationForID resolves a textual id to a station number, preferring the
// current binding and falling back to the newest file snapshot carrying that
// id for the given model.
func (s *Store) QueryStationForID(id string, model models.Model) (models.StationNumber, error) {
	id = strings.ToUpper(id)

	var num models.StationNumber
	err := s.db.QueryRow(`SELECT station_num FROM site_ids WHERE id = ?`, id).Scan(&num)
	if err == nil {
		return num, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}

	err = s.db.QueryRow(`
		SELECT station_num FROM files
		WHERE id = ? AND model = ?
		ORDER BY init_time DESC LIMIT 1
	`, id, model.String()).Scan(&num)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("id %s: %w", id, ErrNotFound)
	}
	return num, err
}

// DeleteFile removes one file row by composite key.
func (s *Store) DeleteFile(num models.StationNumber, model models.Model, initTime time.Time) error {
	res, err := s.db.Exec(`
		DELETE FROM files WHERE station_num = ? AND model = ? AND init_time = ?
	`, num, model.String(), initTime.UTC())
	if err != nil {
		return fmt.Errorf("delete file row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("file %d/%s: %w", num, model, ErrNotFound)
	}
	return nil
}

// DeleteSite removes a site row, its id bindings, and all of its file rows in
// one transaction.
func (s *Store) DeleteSite(num models.StationNumber) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM files WHERE station_num = ?`, num); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete files for %d: %w", num, err)
	}
	if _, err := tx.Exec(`DELETE FROM site_ids WHERE station_num = ?`, num); err != nil {
		tx.Rollback()
		return fmt.Errorf("delete bindings for %d: %w", num, err)
	}
	res, err := tx.Exec(`DELETE FROM sites WHERE station_num = ?`, num)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("delete site %d: %w", num, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return err
	}
	if n == 0 {
		tx.Rollback()
		return fmt.Errorf("site %d: %w", num, ErrNotFound)
	}
	return tx.Commit()
}

// FileNamesForStation returns the blob names of every file row for a station.
func (s *Store) FileNamesForStation(num models.StationNumber) ([]string, error) {
	return s.queryNames(`SELECT file_name FROM files WHERE station_num = ?`, num)
}

// ListAllFileNames returns every blob name the index knows about.
func (s *Store) ListAllFileNames() ([]string, error) {
	return s.queryNames(`SELECT file_name FROM files`)
}

func (s *Store) queryNames(query string, args ...any) ([]string, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DeleteFilesByName removes the given file rows in one transaction. Names
// with no row are ignored.
func (s *Store) DeleteFilesByName(names []string) error {
	if len(names) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	for _, name := range names {
		if _, err := tx.Exec(`DELETE FROM files WHERE file_name = ?`, name); err != nil {
			tx.Rollback()
			return fmt.Errorf("delete row for %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// FilesMatching returns the file rows for the given stations and models with
// init_time inside the inclusive [start, end] range, ordered by station,
// model, init time.
func (s *Store) FilesMatching(stations []models.StationNumber, mods []models.Model, start, end time.Time) ([]models.SoundingFile, error) {
	if len(stations) == 0 || len(mods) == 0 {
		return nil, nil
	}

	args := make([]any, 0, len(stations)+len(mods)+2)
	for _, st := range stations {
		args = append(args, st)
	}
	for _, m := range mods {
		args = append(args, m.String())
	}
	args = append(args, start.UTC(), end.UTC())

	query := fmt.Sprintf(`
		SELECT station_num, model, init_time, end_time, file_name, id, lat, lon, elevation_m
		FROM files
		WHERE station_num IN (%s) AND model IN (%s) AND init_time >= ? AND init_time <= ?
		ORDER BY station_num, model, init_time ASC
	`, placeholders(len(stations)), placeholders(len(mods)))

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SoundingFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// IDBinding is one current id -> station binding row.
type IDBinding struct {
	StationNum models.StationNumber
	ID         string
}

// BindingsFor returns the current bindings held by any of the given stations.
func (s *Store) BindingsFor(stations []models.StationNumber) ([]IDBinding, error) {
	if len(stations) == 0 {
		return nil, nil
	}
	args := make([]any, len(stations))
	for i, st := range stations {
		args[i] = st
	}
	rows, err := s.db.Query(fmt.Sprintf(
		`SELECT station_num, id FROM site_ids WHERE station_num IN (%s)`,
		placeholders(len(stations))), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []IDBinding
	for rows.Next() {
		var b IDBinding
		if err := rows.Scan(&b.StationNum, &b.ID); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// BulkInsert writes site rows, bindings and file rows in one transaction.
// Used to populate a freshly created export destination.
func (s *Store) BulkInsert(sites []models.Site, bindings []IDBinding, files []models.SoundingFile) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin bulk insert tx: %w", err)
	}
	for _, site := range sites {
		if _, err := tx.Exec(`
			INSERT INTO sites (station_num, name, state, notes, auto_download, tz_offset_seconds)
			VALUES (?, ?, ?, ?, ?, ?)
		`, site.StationNum, site.Name, stateArg(site.State), site.Notes, site.AutoDownload, site.TzOffsetSecs); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert site %d: %w", site.StationNum, err)
		}
	}
	for _, b := range bindings {
		if _, err := tx.Exec(`INSERT INTO site_ids (station_num, id) VALUES (?, ?)`, b.StationNum, b.ID); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert binding %s: %w", b.ID, err)
		}
	}
	for _, f := range files {
		if _, err := tx.Exec(`
			INSERT INTO files (station_num, model, init_time, end_time, file_name, id, lat, lon, elevation_m)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, f.StationNum, f.Model.String(), f.InitTime.UTC(), f.EndTime.UTC(), f.FileName,
			f.ID, f.Lat, f.Lon, f.ElevationM); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert file %s: %w", f.FileName, err)
		}
	}
	return tx.Commit()
}

// RecoveredFile is metadata recovered from an orphan blob during
// reconciliation.
type RecoveredFile struct {
	Site models.Site
	File models.SoundingFile
}

// RecoveryResult summarizes the index side of reconciliation phase three.
type RecoveryResult struct {
	Inserted     int
	SitesCreated int
	// DuplicateBlobs are blob names whose composite key or file name was
	// already registered; the first-registered copy is preferred and these
	// blobs should be deleted.
	DuplicateBlobs []string
}

// ApplyRecovered registers recovered files in one transaction, creating
// minimal site rows as needed. Key collisions do not abort the pass; the
// colliding blob is reported for deletion instead.
func (s *Store) ApplyRecovered(recs []RecoveredFile) (RecoveryResult, error) {
	var result RecoveryResult
	if len(recs) == 0 {
		return result, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return result, fmt.Errorf("begin recovery tx: %w", err)
	}

	for _, rec := range recs {
		f := rec.File

		var exists int
		err := tx.QueryRow(`
			SELECT COUNT(*) FROM files
			WHERE (station_num = ? AND model = ? AND init_time = ?) OR file_name = ?
		`, f.StationNum, f.Model.String(), f.InitTime.UTC(), f.FileName).Scan(&exists)
		if err != nil {
			tx.Rollback()
			return RecoveryResult{}, fmt.Errorf("check key for %s: %w", f.FileName, err)
		}
		if exists > 0 {
			result.DuplicateBlobs = append(result.DuplicateBlobs, f.FileName)
			continue
		}

		res, err := tx.Exec(`
			INSERT INTO sites (station_num, name, state, notes, auto_download, tz_offset_seconds)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(station_num) DO NOTHING
		`, rec.Site.StationNum, rec.Site.Name, stateArg(rec.Site.State), rec.Site.Notes,
			rec.Site.AutoDownload, rec.Site.TzOffsetSecs)
		if err != nil {
			tx.Rollback()
			return RecoveryResult{}, fmt.Errorf("ensure site %d: %w", rec.Site.StationNum, err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			result.SitesCreated++
		}

		if f.ID.Valid && f.ID.String != "" {
			// Re-establish the binding unless the id already belongs to
			// another station.
			if _, err := tx.Exec(`
				INSERT INTO site_ids (station_num, id) VALUES (?, ?)
				ON CONFLICT(id) DO NOTHING
			`, f.StationNum, strings.ToUpper(f.ID.String)); err != nil {
				tx.Rollback()
				return RecoveryResult{}, fmt.Errorf("rebind %s: %w", f.ID.String, err)
			}
		}

		if _, err := tx.Exec(`
			INSERT INTO files (station_num, model, init_time, end_time, file_name, id, lat, lon, elevation_m)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, f.StationNum, f.Model.String(), f.InitTime.UTC(), f.EndTime.UTC(), f.FileName,
			f.ID, f.Lat, f.Lon, f.ElevationM); err != nil {
			tx.Rollback()
			return RecoveryResult{}, fmt.Errorf("insert recovered file %s: %w", f.FileName, err)
		}
		result.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return RecoveryResult{}, err
	}
	return result, nil
}

// Vacuum compacts the index database file.
func (s *Store) Vacuum() error {
	_, err := s.db.Exec(`VACUUM`)
	return err
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stateArg(sp models.StateProv) any {
	if sp == models.StateProvNone {
		return nil
	}
	return string(sp)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSite(row rowScanner) (models.Site, error) {
	var site models.Site
	var state sql.NullString
	err := row.Scan(&site.StationNum, &site.Name, &state, &site.Notes,
		&site.AutoDownload, &site.TzOffsetSecs)
	if err != nil {
		return models.Site{}, err
	}
	if state.Valid {
		sp, err := models.ParseStateProv(state.String)
		if err != nil {
			return models.Site{}, fmt.Errorf("site %d: %w", site.StationNum, err)
		}
		site.State = sp
	}
	return site, nil
}

func scanFile(row rowScanner) (models.SoundingFile, error) {
	var f models.SoundingFile
	var model string
	err := row.Scan(&f.StationNum, &model, &f.InitTime, &f.EndTime, &f.FileName,
		&f.ID, &f.Lat, &f.Lon, &f.ElevationM)
	if err != nil {
		return models.SoundingFile{}, err
	}
	m, err := models.ParseModel(model)
	if err != nil {
		return models.SoundingFile{}, fmt.Errorf("file %s: %w", f.FileName, err)
	}
	f.Model = m
	f.InitTime = f.InitTime.UTC()
	f.EndTime = f.EndTime.UTC()
	return f, nil
}
