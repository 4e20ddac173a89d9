package archive

import (
	"fmt"
	"time"

	"github.com/rnleach/bufkit-data/internal/models"
)

// Export copies the site rows, file rows and blobs matching the given
// stations, models and inclusive init-time range into a freshly created
// archive at destRoot. Blobs are copied byte-for-byte with no recompression;
// the source archive is never modified. Destination index writes happen in
// one transaction.
func (a *Archive) Export(stations []models.StationNumber, mods []models.Model, start, end time.Time, destRoot string) error {
	dest, err := Create(destRoot)
	if err != nil {
		return fmt.Errorf("create export destination: %w", err)
	}
	defer dest.Close()

	var sites []models.Site
	for _, num := range stations {
		site, err := a.index.Site(num)
		if err != nil {
			return err
		}
		sites = append(sites, site)
	}

	bindings, err := a.index.BindingsFor(stations)
	if err != nil {
		return err
	}

	files, err := a.index.FilesMatching(stations, mods, start, end)
	if err != nil {
		return err
	}

	if err := dest.index.BulkInsert(sites, bindings, files); err != nil {
		return fmt.Errorf("populate export index: %w", err)
	}

	for _, f := range files {
		if err := a.blobs.CopyTo(f.FileName, dest.blobs); err != nil {
			return err
		}
	}
	return nil
}
