// Command docmodelctl inspects and migrates document libraries from the
// command line.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/docopt/docopt-go"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/lumeno/docmodel/model"
	"github.com/lumeno/docmodel/storage"
)

const docmodelctlVersion = "0.1.0"

var out *log.Logger
var errLog *log.Logger

func init() {
	out = log.New(os.Stdout, "", 0)
	errLog = log.New(os.Stderr, "", log.Ldate|log.Ltime)
}

// Profile names the storage locations of one library.
type Profile struct {
	LibraryURL string   `yaml:"libraryURL"`
	DataURLs   []string `yaml:"dataURLs"`
}

func main() {
	usage := `Document model control.

Usage:
    docmodelctl stats --profile=<profile>
    docmodelctl migrate --profile=<profile> [--dry-run]
    docmodelctl list --profile=<profile>

Options:
    -h --help            Show this screen.
    --version            Show version.
    --profile=<profile>  Path to a yaml profile naming the library and data locations.
    --dry-run            Report what migration would change without writing.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], docmodelctlVersion)
	if err != nil {
		panic(err)
	}

	profilePath, _ := opts.String("--profile")
	profile, err := loadProfile(profilePath)
	if err != nil {
		errLog.Fatalf("profile: %v", err)
	}

	if stats_, _ := opts.Bool("stats"); stats_ {
		stats(profile)
	} else if migrate_, _ := opts.Bool("migrate"); migrate_ {
		dryRun, _ := opts.Bool("--dry-run")
		migrate(profile, dryRun)
	} else if list_, _ := opts.Bool("list"); list_ {
		list(profile)
	}
}

func loadProfile(path string) (*Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	profile := &Profile{}
	if err := yaml.Unmarshal(raw, profile); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(profile.DataURLs) == 0 {
		return nil, fmt.Errorf("%s names no data locations", path)
	}
	return profile, nil
}

func dataSystems(profile *Profile) []storage.System {
	systems := make([]storage.System, 0, len(profile.DataURLs))
	for _, dataURL := range profile.DataURLs {
		systems = append(systems, storage.NewFileSystem(dataURL))
	}
	return systems
}

func stats(profile *Profile) {
	versionStats := model.ReadVersionStats(dataSystems(profile))
	out.Printf("current version: %d records", versionStats.Matches)
	out.Printf("newer version:   %d records", versionStats.Higher)
	out.Printf("older version:   %d records", versionStats.Lower)
}

func migrate(profile *Profile, dryRun bool) {
	changed, err := model.MigrateStorage(dataSystems(profile), dryRun)
	if err != nil {
		errLog.Fatalf("migrate: %v", err)
	}
	if dryRun {
		out.Printf("would migrate %d records", changed)
	} else {
		out.Printf("migrated %d records", changed)
	}
}

func list(profile *Profile) {
	ctx := context.Background()
	libraryStorage, err := storage.NewLibraryStorage(ctx, afs.New(), profile.LibraryURL)
	if err != nil {
		errLog.Fatalf("library: %v", err)
	}
	documentModel, err := model.NewDocumentModel(model.Config{
		LibraryStorage: libraryStorage,
		Systems:        dataSystems(profile),
	})
	if err != nil {
		errLog.Fatalf("open: %v", err)
	}
	defer documentModel.Close()
	for _, item := range documentModel.DataItems() {
		title := item.Title()
		if title == "" {
			title = "(untitled)"
		}
		out.Printf("%s  %s  %s", item.UUID(), item.Created().Format("2006-01-02 15:04:05"), title)
	}
}
