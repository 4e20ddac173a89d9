package archive

import (
	"database/sql"
	"errors"
	"log"

	"github.com/rnleach/bufkit-data/internal/blob"
	"github.com/rnleach/bufkit-data/internal/bufkit"
	"github.com/rnleach/bufkit-data/internal/index"
	"github.com/rnleach/bufkit-data/internal/metrics"
	"github.com/rnleach/bufkit-data/internal/models"
)

// CleanReport summarizes one reconciliation pass. The pass is a best-effort
// fold: a single bad blob becomes a corrective deletion and a count here, not
// an abort.
type CleanReport struct {
	OrphanRowsRemoved int // indexed but no blob on disk
	BlobsIndexed      int // recovered and registered
	SitesCreated      int // minimal site rows created for recovered blobs
	ForeignRemoved    int // names outside the archive grammar
	UnreadableRemoved int // corrupt gzip or unparseable sounding text
	DuplicatesRemoved int // key already registered, first copy preferred
}

// Clean reconverges the index and the blob store. Rows without blobs are
// dropped; blobs without rows are either re-indexed from their parsed content
// or deleted. Each repair phase runs in its own transaction; filesystem-level
// I/O failures abort the pass and propagate.
func (a *Archive) Clean() (CleanReport, error) {
	var report CleanReport

	indexed, err := a.index.ListAllFileNames()
	if err != nil {
		return report, err
	}
	indexedSet := make(map[string]struct{}, len(indexed))
	for _, name := range indexed {
		indexedSet[name] = struct{}{}
	}

	onDisk, err := a.blobs.Enumerate()
	if err != nil {
		return report, err
	}

	// Indexed rows whose blob is gone are unrecoverable.
	var orphanRows []string
	for _, name := range indexed {
		if _, ok := onDisk[name]; !ok {
			orphanRows = append(orphanRows, name)
		}
	}
	if err := a.index.DeleteFilesByName(orphanRows); err != nil {
		return report, err
	}
	report.OrphanRowsRemoved = len(orphanRows)

	// Blobs the index has never heard of: recover what parses, delete
	// the rest.
	var recovered []index.RecoveredFile
	var removeBlobs []string
	for name := range onDisk {
		if _, ok := indexedSet[name]; ok {
			continue
		}
		parts, err := blob.ParseFileName(name)
		if err != nil {
			removeBlobs = append(removeBlobs, name)
			report.ForeignRemoved++
			continue
		}

		text, err := a.blobs.Load(name)
		if errors.Is(err, blob.ErrCorrupt) {
			removeBlobs = append(removeBlobs, name)
			report.UnreadableRemoved++
			continue
		}
		if err != nil {
			return report, err
		}

		recs, err := bufkit.Parse(text)
		if err != nil {
			removeBlobs = append(removeBlobs, name)
			report.UnreadableRemoved++
			continue
		}
		recovered = append(recovered, recoverFile(name, parts, recs))
	}

	result, err := a.index.ApplyRecovered(recovered)
	if err != nil {
		return report, err
	}
	report.BlobsIndexed = result.Inserted
	report.SitesCreated = result.SitesCreated
	report.DuplicatesRemoved = len(result.DuplicateBlobs)
	removeBlobs = append(removeBlobs, result.DuplicateBlobs...)

	for _, name := range removeBlobs {
		if err := a.blobs.Remove(name); err != nil {
			return report, err
		}
	}

	if err := a.index.Vacuum(); err != nil {
		return report, err
	}

	metrics.CleanActions.WithLabelValues("orphan_row_removed").Add(float64(report.OrphanRowsRemoved))
	metrics.CleanActions.WithLabelValues("blob_indexed").Add(float64(report.BlobsIndexed))
	metrics.CleanActions.WithLabelValues("blob_removed").Add(float64(report.ForeignRemoved + report.UnreadableRemoved + report.DuplicatesRemoved))

	log.Printf("clean: %d orphan rows removed, %d blobs indexed, %d sites created, %d foreign, %d unreadable, %d duplicates removed",
		report.OrphanRowsRemoved, report.BlobsIndexed, report.SitesCreated,
		report.ForeignRemoved, report.UnreadableRemoved, report.DuplicatesRemoved)
	return report, nil
}

// recoverFile rebuilds index metadata for an orphan blob. The parsed content
// is ground truth; the file name only supplies the model and an id hint for
// payloads without an embedded id.
func recoverFile(name string, parts blob.FileNameParts, recs []bufkit.Record) index.RecoveredFile {
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

	id := first.ID
	if id == "" && parts.ID != first.StationNum.String() {
		id = parts.ID
	}

	file := models.SoundingFile{
		StationNum: first.StationNum,
		Model:      parts.Model,
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

	return index.RecoveredFile{
		Site: models.Site{StationNum: first.StationNum},
		File: file,
	}
}
