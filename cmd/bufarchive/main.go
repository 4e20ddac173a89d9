package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"

	"github.com/rnleach/bufkit-data/internal/archive"
	"github.com/rnleach/bufkit-data/internal/models"
)

const initTimeLayout = "2006010215"

type CLI struct {
	Root string `help:"Archive root directory." env:"BUFKIT_ARCHIVE" default:"./archive" type:"path"`

	Create     CreateCmd     `cmd:"" help:"Create a new empty archive."`
	Add        AddCmd        `cmd:"" help:"Add sounding files to the archive."`
	Retrieve   RetrieveCmd   `cmd:"" help:"Print the stored sounding text for one run."`
	Remove     RemoveCmd     `cmd:"" help:"Remove one run from the archive."`
	RemoveSite RemoveSiteCmd `cmd:"" name:"remove-site" help:"Remove a site and all of its files."`
	Sites      SitesCmd      `cmd:"" help:"List archived sites."`
	Bind       BindCmd       `cmd:"" help:"Bind a site id to a station number."`
	Inventory  InventoryCmd  `cmd:"" help:"Show run coverage and gaps for a site and model."`
	Clean      CleanCmd      `cmd:"" help:"Reconcile the index with the blobs on disk."`
	Export     ExportCmd     `cmd:"" help:"Copy part of the archive into a new one."`
}

type CreateCmd struct{}

func (c *CreateCmd) Run(cli *CLI) error {
	ar, err := archive.Create(cli.Root)
	if err != nil {
		return err
	}
	defer ar.Close()
	fmt.Printf("created archive at %s\n", cli.Root)
	return nil
}

type AddCmd struct {
	Model string   `arg:"" help:"Model the files belong to (gfs, nam, nam4km)."`
	Files []string `arg:"" type:"existingfile" help:"Sounding text files to ingest."`
	ID    string   `help:"Site id hint for payloads without an embedded id."`
}

func (c *AddCmd) Run(cli *CLI) error {
	model, err := models.ParseModel(c.Model)
	if err != nil {
		return err
	}
	ar, err := archive.Connect(cli.Root)
	if err != nil {
		return err
	}
	defer ar.Close()

	for _, path := range c.Files {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		f, err := ar.Add(model, c.ID, string(data))
		if err != nil {
			return fmt.Errorf("add %s: %w", path, err)
		}
		fmt.Printf("added %s\n", f.FileName)
	}
	return nil
}

type RetrieveCmd struct {
	Station uint32 `arg:"" help:"Station number."`
	Model   string `arg:"" help:"Model name."`
	Init    string `arg:"" optional:"" help:"Init time (YYYYMMDDHH); latest run when omitted."`
}

func (c *RetrieveCmd) Run(cli *CLI) error {
	model, err := models.ParseModel(c.Model)
	if err != nil {
		return err
	}
	ar, err := archive.Connect(cli.Root)
	if err != nil {
		return err
	}
	defer ar.Close()

	var text string
	if c.Init == "" {
		text, err = ar.RetrieveMostRecent(models.StationNumber(c.Station), model)
	} else {
		var initTime time.Time
		initTime, err = time.ParseInLocation(initTimeLayout, c.Init, time.UTC)
		if err != nil {
			return fmt.Errorf("bad init time %q: %w", c.Init, err)
		}
		text, err = ar.Retrieve(models.StationNumber(c.Station), model, initTime)
	}
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}

type RemoveCmd struct {
	Station uint32 `arg:"" help:"Station number."`
	Model   string `arg:"" help:"Model name."`
	Init    string `arg:"" help:"Init time (YYYYMMDDHH)."`
}

func (c *RemoveCmd) Run(cli *CLI) error {
	model, err := models.ParseModel(c.Model)
	if err != nil {
		return err
	}
	initTime, err := time.ParseInLocation(initTimeLayout, c.Init, time.UTC)
	if err != nil {
		return fmt.Errorf("bad init time %q: %w", c.Init, err)
	}
	ar, err := archive.Connect(cli.Root)
	if err != nil {
		return err
	}
	defer ar.Close()
	return ar.Remove(models.StationNumber(c.Station), model, initTime)
}

type RemoveSiteCmd struct {
	Station uint32 `arg:"" help:"Station number."`
}

func (c *RemoveSiteCmd) Run(cli *CLI) error {
	ar, err := archive.Connect(cli.Root)
	if err != nil {
		return err
	}
	defer ar.Close()
	return ar.RemoveSite(models.StationNumber(c.Station))
}

type SitesCmd struct{}

func (c *SitesCmd) Run(cli *CLI) error {
	ar, err := archive.Connect(cli.Root)
	if err != nil {
		return err
	}
	defer ar.Close()

	sites, err := ar.Sites()
	if err != nil {
		return err
	}
	for _, s := range sites {
		name := s.Name.String
		if !s.Name.Valid {
			name = "-"
		}
		fmt.Printf("%8d  %-5s  %s\n", s.StationNum, s.State, name)
	}
	return nil
}

type BindCmd struct {
	ID      string `arg:"" help:"Site id."`
	Station uint32 `arg:"" help:"Station number."`
}

func (c *BindCmd) Run(cli *CLI) error {
	ar, err := archive.Connect(cli.Root)
	if err != nil {
		return err
	}
	defer ar.Close()
	return ar.BindID(c.ID, models.StationNumber(c.Station))
}

type InventoryCmd struct {
	Station uint32 `arg:"" help:"Station number."`
	Model   string `arg:"" help:"Model name."`
}

func (c *InventoryCmd) Run(cli *CLI) error {
	model, err := models.ParseModel(c.Model)
	if err != nil {
		return err
	}
	ar, err := archive.Connect(cli.Root)
	if err != nil {
		return err
	}
	defer ar.Close()

	inv, err := ar.Inventory(models.StationNumber(c.Station), model)
	if err != nil {
		return err
	}
	fmt.Printf("first: %s\nlast:  %s\nauto download: %v\n",
		inv.First.Format(time.RFC3339), inv.Last.Format(time.RFC3339), inv.AutoDownload)
	if len(inv.Missing) == 0 {
		fmt.Println("no gaps")
		return nil
	}
	for _, gap := range inv.Missing {
		fmt.Printf("missing: %s - %s\n",
			gap.Start.Format(time.RFC3339), gap.End.Format(time.RFC3339))
	}
	return nil
}

type CleanCmd struct{}

func (c *CleanCmd) Run(cli *CLI) error {
	ar, err := archive.Connect(cli.Root)
	if err != nil {
		return err
	}
	defer ar.Close()

	report, err := ar.Clean()
	if err != nil {
		return err
	}
	fmt.Printf("removed %d orphan rows, indexed %d blobs, removed %d blobs\n",
		report.OrphanRowsRemoved, report.BlobsIndexed,
		report.ForeignRemoved+report.UnreadableRemoved+report.DuplicatesRemoved)
	return nil
}

type ExportCmd struct {
	Dest     string   `arg:"" type:"path" help:"Destination archive root (must not exist)."`
	Stations []uint32 `help:"Station numbers to export." required:""`
	Models   []string `help:"Models to export; all models when omitted."`
	Start    string   `help:"Range start (YYYYMMDDHH)." required:""`
	End      string   `help:"Range end (YYYYMMDDHH)." required:""`
}

func (c *ExportCmd) Run(cli *CLI) error {
	start, err := time.ParseInLocation(initTimeLayout, c.Start, time.UTC)
	if err != nil {
		return fmt.Errorf("bad start time %q: %w", c.Start, err)
	}
	end, err := time.ParseInLocation(initTimeLayout, c.End, time.UTC)
	if err != nil {
		return fmt.Errorf("bad end time %q: %w", c.End, err)
	}

	mods := models.AllModels
	if len(c.Models) > 0 {
		mods = nil
		for _, raw := range c.Models {
			m, err := models.ParseModel(raw)
			if err != nil {
				return err
			}
			mods = append(mods, m)
		}
	}

	stations := make([]models.StationNumber, len(c.Stations))
	for i, s := range c.Stations {
		stations[i] = models.StationNumber(s)
	}

	ar, err := archive.Connect(cli.Root)
	if err != nil {
		return err
	}
	defer ar.Close()

	return ar.Export(stations, mods, start, end, c.Dest)
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("bufarchive"),
		kong.Description("Archive of model sounding files indexed by station, model and init time."),
		kong.Configuration(kongdotenv.ENVFileReader, ".env"),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli))
}
