// tfs2git reads a TFS 2010 version-control database directly from its
// relational schema and replays its history as a git fast-import stream.
// Translated from original_source/main.py's argparse command tree onto
// kingpin, matching cmd/gitp4transfer's CLI conventions.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/emicklei/dot"
	_ "github.com/go-sql-driver/mysql"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"

	"github.com/kunom/tfs2git/config"
	"github.com/kunom/tfs2git/delta"
	"github.com/kunom/tfs2git/export"
	"github.com/kunom/tfs2git/interchange"
	"github.com/kunom/tfs2git/marks"
	"github.com/kunom/tfs2git/scratch"
	"github.com/kunom/tfs2git/schemacheck"
	"github.com/kunom/tfs2git/tfsdb"
	"github.com/kunom/tfs2git/version"
	"github.com/kunom/tfs2git/warnings"
)

func openRepo(ctx context.Context, logger *logrus.Logger, cfg *config.Config) (*tfsdb.Repository, warnings.Sink, func(), error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening database: %w", err)
	}
	if err := schemacheck.Verify(ctx, db); err != nil {
		db.Close()
		return nil, nil, nil, err
	}

	var store *scratch.Store
	if cfg.ScratchDir != "" {
		store, err = scratch.New(cfg.ScratchDir, cfg.ClearScratchDir)
		if err != nil {
			db.Close()
			return nil, nil, nil, fmt.Errorf("preparing scratch dir: %w", err)
		}
	}

	warn := warnings.Sink(&warnings.LogrusSink{Logger: logger})
	var fileWarn *warnings.FileTeeSink
	if cfg.WarningsFile != "" {
		fileWarn = warnings.NewFileTeeSink(warn, cfg.WarningsFile)
		warn = fileWarn
	}

	repo := tfsdb.New(db, cfg.Compile(), warn, delta.ReferenceApplier{}, store, cfg.DiskModeThreshold)
	cleanup := func() {
		if fileWarn != nil {
			fileWarn.Close()
		}
		db.Close()
	}
	return repo, warn, cleanup, nil
}

func loadConfig(logger *logrus.Logger, path string, driver, dsn, warningsFile, scratchDir string) *config.Config {
	cfg, err := config.LoadConfigFile(path)
	if err != nil {
		logger.Errorf("error loading config file: %v", err)
		os.Exit(1)
	}
	if driver != "" {
		cfg.Driver = driver
	}
	if dsn != "" {
		cfg.DSN = dsn
	}
	if warningsFile != "" {
		cfg.WarningsFile = warningsFile
	}
	if scratchDir != "" {
		cfg.ScratchDir = scratchDir
	}
	return cfg
}

// oversizeOrDefault lets --oversize-threshold fall back to the config file's
// oversize_threshold when the flag is left unset on the command line.
func oversizeOrDefault(flagValue int64, cfg *config.Config) int64 {
	if flagValue != 0 {
		return flagValue
	}
	return cfg.OversizeThreshold
}

func cmdBranchesInfo(ctx context.Context, repo *tfsdb.Repository, oversizeThreshold int64) error {
	info, err := repo.BranchesInfo(ctx, oversizeThreshold)
	if err != nil {
		return err
	}

	fmt.Println("assigned files:")
	for branch, paths := range info.Assigned {
		for _, p := range paths {
			fmt.Printf("   %s - %s\n", branch, p)
		}
	}

	fmt.Println("ignored paths:")
	for _, p := range info.Ignored {
		fmt.Printf("   %s\n", p)
	}

	fmt.Println("oversized files:")
	for _, f := range info.Oversized {
		fmt.Printf("   %s - %s (%d bytes)\n", f.Branch, f.RelPath, f.Length)
	}
	return nil
}

// cmdCommits lists every changeset as a would-be commit. When graphFile is
// non-empty it additionally allocates marks exactly as fast-export would
// and renders a Graphviz dot file of the parent/merge edges between them,
// ported from createGraphEdges in cmd/gitp4transfer.
func cmdCommits(ctx context.Context, repo *tfsdb.Repository, noFiles bool, graphFile string) error {
	cursor, err := repo.Changesets(ctx)
	if err != nil {
		return err
	}

	var graph *dot.Graph
	nodes := make(map[int]dot.Node)
	allocator := marks.New()
	if graphFile != "" {
		graph = dot.NewGraph(dot.Directed)
	}

	for {
		cs, err := cursor.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		fmt.Printf("%d / %s (TFS) / %s / %s / %s: %s\n",
			cs.ID, cs.CreatedAt.Format(time.RFC3339), cs.Owner.QualifiedLogin(), cs.Committer.QualifiedLogin(), cs.Branch, cs.Comment)
		for _, m := range cs.MergesFrom {
			fmt.Printf("   merged from %s\n", m.Branch)
		}
		if !noFiles {
			for _, c := range cs.Changes {
				fmt.Printf("   change %s: %d\n", c.RelPath, c.Length)
			}
			for _, d := range cs.Deletes {
				fmt.Printf("   del %s\n", d.RelPath)
			}
		}

		if graph == nil {
			continue
		}
		prevMark, hadPrev := allocator.LastForBranch(cs.Branch)
		mark := allocator.Allocate(cs.Branch, cs.ID)
		node := graph.Node(fmt.Sprintf("Changeset %d %s", cs.ID, cs.Branch))
		nodes[mark] = node
		if hadPrev {
			graph.Edge(nodes[prevMark], node, "p")
		}
		for _, m := range cs.MergesFrom {
			var srcMark int
			var ok bool
			if m.SourceChangesetID != nil {
				srcMark, ok = allocator.Lookup(*m.SourceChangesetID, m.Branch)
			}
			if !ok {
				srcMark, ok = allocator.LastForBranch(m.Branch)
			}
			if ok {
				graph.Edge(nodes[srcMark], node, "m")
			}
		}
	}

	if graph == nil {
		return nil
	}
	f, err := os.OpenFile(graphFile, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("writing graph file: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(graph.String())
	return err
}

func cmdLabels(ctx context.Context, repo *tfsdb.Repository) error {
	cursor, err := repo.Labels(ctx)
	if err != nil {
		return err
	}
	for {
		l, err := cursor.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("%d / %s (TFS) / %s: %s\n", l.ChangesetID, l.CreatedAt.Format(time.RFC3339), l.User.QualifiedLogin(), l.Name)
	}
}

func cmdUsers(ctx context.Context, repo *tfsdb.Repository, cfg *config.Config, showIDs bool) error {
	users, err := repo.ActiveUsers(ctx)
	if err != nil {
		return err
	}
	h := cfg.Compile()
	for _, u := range users {
		resolved, err := h.Lookup(u)
		if err != nil {
			return err
		}
		tz := "<undef>"
		if resolved.Timezone != nil {
			tz = resolved.Timezone.String()
		}
		line := fmt.Sprintf("%s / %s / tz=%s", resolved.DisplayName, resolved.Email, tz)
		if showIDs {
			line += fmt.Sprintf(" / %d", u.InternalID)
		}
		fmt.Println(line)
	}
	return nil
}

func cmdFastExport(ctx context.Context, repo *tfsdb.Repository, cfg *config.Config, warn warnings.Sink, opts export.Options, dryRun bool) error {
	changesets, err := repo.Changesets(ctx)
	if err != nil {
		return err
	}
	labels, err := repo.Labels(ctx)
	if err != nil {
		return err
	}

	var out *os.File = os.Stdout
	if dryRun {
		f, err := os.OpenFile(os.DevNull, os.O_WRONLY, 0)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	w := interchange.NewWriter(out)

	return export.Run(changesets, labels, w, cfg.Compile(), warn, opts)
}

func main() {
	app := kingpin.New("tfs2git", "Reads a TFS 2010 version-control database and writes a git fast-import stream.\n")
	app.UsageTemplate(kingpin.CompactUsageTemplate).Version(version.Print("tfs2git")).Author("kunom")
	app.HelpFlag.Short('h')

	configFile := app.Flag("config", "Config file for tfs2git.").Default("tfs2git.yaml").Short('c').String()
	driver := app.Flag("driver", "database/sql driver name (overrides config).").String()
	dsn := app.Flag("dsn", "Data source name (overrides config).").String()
	warningsFile := app.Flag("warnings", "Append-only file to tee warnings to (overrides config).").String()
	scratchDirFlag := app.Flag("scratch-dir", "Directory for disk-mode delta reconstruction (overrides config).").String()
	debug := app.Flag("debug", "Enable debug logging.").Bool()
	cpuProfile := app.Flag("profile", "Write a CPU profile into a new temporary directory.").Bool()

	branchesInfoCmd := app.Command("branches-info", "Reports how source paths resolve to branches.")
	oversizeFlag := branchesInfoCmd.Flag("oversize-threshold", "Report files at or above this many bytes (defaults to the config value).").Int64()

	commitsCmd := app.Command("commits", "Lists every changeset as a would-be commit.")
	noFiles := commitsCmd.Flag("no-files", "Does not list individual file changes.").Bool()
	graphFile := commitsCmd.Flag("graph", "Write a Graphviz dot file of commit/merge edges.").String()

	labelsCmd := app.Command("labels", "Lists every label resolved to a single branch and changeset.")

	usersCmd := app.Command("users", "Lists every active user and its resolved identity.")
	showIDs := usersCmd.Flag("ids", "Also prints the source internal user ID.").Bool()

	exportCmd := app.Command("fast-export", "Writes the full history as a git fast-import stream.")
	dryRun := exportCmd.Flag("dry-run", "Run the export but discard the stream instead of writing it to stdout.").Bool()
	stopAfter := exportCmd.Flag("stop-after", "Stop export after changeset N.").Int()
	skipTags := exportCmd.Flag("skip-tags", "Do not export any tags.").Bool()
	noContent := exportCmd.Flag("no-content", "Writes every file as zero-length content.").Bool()
	exportOversize := exportCmd.Flag("oversize-threshold", "Warn (not skip) for file content at or above this many bytes (defaults to the config value).").Int64()

	cmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *cpuProfile {
		defer profile.Start(profile.CPUProfile).Stop()
	}

	logger := logrus.New()
	logger.Level = logrus.InfoLevel
	if *debug {
		logger.Level = logrus.DebugLevel
	}

	cfg := loadConfig(logger, *configFile, *driver, *dsn, *warningsFile, *scratchDirFlag)

	ctx := context.Background()
	repo, warn, cleanup, err := openRepo(ctx, logger, cfg)
	if err != nil {
		logger.Errorf("error opening repository: %v", err)
		os.Exit(1)
	}
	defer cleanup()

	switch cmd {
	case branchesInfoCmd.FullCommand():
		err = cmdBranchesInfo(ctx, repo, oversizeOrDefault(*oversizeFlag, cfg))
	case commitsCmd.FullCommand():
		err = cmdCommits(ctx, repo, *noFiles, *graphFile)
	case labelsCmd.FullCommand():
		err = cmdLabels(ctx, repo)
	case usersCmd.FullCommand():
		err = cmdUsers(ctx, repo, cfg, *showIDs)
	case exportCmd.FullCommand():
		err = cmdFastExport(ctx, repo, cfg, warn, export.Options{
			StopAfter:         *stopAfter,
			SkipTags:          *skipTags,
			NoContent:         *noContent,
			OversizeThreshold: oversizeOrDefault(*exportOversize, cfg),
		}, *dryRun)
	}
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
