package blob

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rnleach/bufkit-data/internal/models"
)

// ErrBadFileName marks a name that does not match the archive grammar. Such
// files are foreign to the archive.
var ErrBadFileName = errors.New("file name does not match archive grammar")

const initTimeLayout = "2006010215"

// FileNameFor builds the canonical blob name for a file:
// YYYYMMDDHHZ_<model>_<ID>.buf.gz with the model lowercase and the site id
// uppercase. Ingestion and reconciliation both go through this function and
// ParseFileName so the naming never drifts between them.
func FileNameFor(id string, model models.Model, initTime time.Time) string {
	return fmt.Sprintf("%sZ_%s_%s.buf.gz",
		initTime.UTC().Format(initTimeLayout), model, strings.ToUpper(id))
}

// FileNameParts is the result of parsing a blob name.
type FileNameParts struct {
	InitTime time.Time
	Model    models.Model
	ID       string // uppercase
}

// ParseFileName is the inverse of FileNameFor. A valid name splits into
// exactly five tokens on '_' and '.': date, model, id, "buf", "gz". Token
// case is not significant. Anything else fails with ErrBadFileName.
func ParseFileName(name string) (FileNameParts, error) {
	underscore := strings.Split(name, "_")
	if len(underscore) != 3 {
		return FileNameParts{}, fmt.Errorf("%q: %w", name, ErrBadFileName)
	}
	dot := strings.Split(underscore[2], ".")
	if len(dot) != 3 {
		return FileNameParts{}, fmt.Errorf("%q: %w", name, ErrBadFileName)
	}
	date, modelTok, id := underscore[0], underscore[1], dot[0]
	if !strings.EqualFold(dot[1], "buf") || !strings.EqualFold(dot[2], "gz") {
		return FileNameParts{}, fmt.Errorf("%q: %w", name, ErrBadFileName)
	}

	if len(date) != len(initTimeLayout)+1 || !strings.EqualFold(date[len(date)-1:], "Z") {
		return FileNameParts{}, fmt.Errorf("%q: %w", name, ErrBadFileName)
	}
	initTime, err := time.ParseInLocation(initTimeLayout, date[:len(date)-1], time.UTC)
	if err != nil {
		return FileNameParts{}, fmt.Errorf("%q: %w", name, ErrBadFileName)
	}

	model, err := models.ParseModel(modelTok)
	if err != nil {
		return FileNameParts{}, fmt.Errorf("%q: %w", name, ErrBadFileName)
	}

	if id == "" {
		return FileNameParts{}, fmt.Errorf("%q: %w", name, ErrBadFileName)
	}

	return FileNameParts{
		InitTime: initTime,
		Model:    model,
		ID:       strings.ToUpper(id),
	}, nil
}
