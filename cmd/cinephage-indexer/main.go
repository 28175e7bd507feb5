package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/keonramses/cinephage/internal/config"
	"github.com/keonramses/cinephage/internal/indexer"
	"github.com/keonramses/cinephage/internal/indexer/cardigann"
	"github.com/keonramses/cinephage/internal/indexer/cookiestore"
	"github.com/keonramses/cinephage/internal/indexer/httpclient"
	"github.com/keonramses/cinephage/internal/logger"
)

const usage = `Usage: cinephage-indexer [flags] <command> [args]

Commands:
  list                          list available indexer definitions
  test <definition-id>          verify connectivity and login for a definition
  search <definition-id> <query...>
                                run a search and print the results
  download <definition-id> <url>
                                fetch a release payload to a file or stdout

Flags:
`

// settingsFlag collects repeated -set key=value pairs.
type settingsFlag map[string]string

func (s settingsFlag) String() string {
	pairs := make([]string, 0, len(s))
	for k, v := range s {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (s settingsFlag) Set(value string) error {
	k, v, ok := strings.Cut(value, "=")
	if !ok {
		return fmt.Errorf("expected key=value, got %q", value)
	}
	s[k] = v
	return nil
}

type cliOptions struct {
	configPath string
	baseURL    string
	searchType string
	limit      int
	season     int
	episode    int
	year       int
	imdbID     string
	asJSON     bool
	output     string
	settings   settingsFlag
}

func main() {
	// .env is optional; real config comes from viper below.
	_ = godotenv.Load()

	opts := cliOptions{settings: settingsFlag{}}
	flag.StringVar(&opts.configPath, "config", "", "Path to config file")
	flag.StringVar(&opts.baseURL, "base-url", "", "Override the definition's site URL")
	flag.StringVar(&opts.searchType, "type", indexer.SearchTypeBasic, "Search type: search, movie, tvsearch, music, book")
	flag.IntVar(&opts.limit, "limit", 0, "Maximum number of results to print (0 = all)")
	flag.IntVar(&opts.season, "season", 0, "Season number for tvsearch")
	flag.IntVar(&opts.episode, "episode", 0, "Episode number for tvsearch")
	flag.IntVar(&opts.year, "year", 0, "Release year for movie search")
	flag.StringVar(&opts.imdbID, "imdb", "", "IMDb ID for movie search (tt0133093)")
	flag.BoolVar(&opts.asJSON, "json", false, "Print results as JSON")
	flag.StringVar(&opts.output, "o", "", "Output file for download (default: stdout)")
	flag.Var(opts.settings, "set", "Definition setting as key=value (repeatable)")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Startup failed")
		os.Exit(1)
	}
	defer app.Close()

	if err := app.run(ctx, args[0], args[1:], opts); err != nil {
		log.Error().Err(err).Str("command", args[0]).Msg("Command failed")
		os.Exit(1)
	}
}

// app holds the shared runtime every command needs.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	defs    *cardigann.DefinitionStore
	cookies *cookiestore.Store
	limiter *httpclient.RateLimiter
	jars    *httpclient.JarRegistry
	browser httpclient.BrowserFetcher
}

func newApp(cfg *config.Config, log *logger.Logger) (*app, error) {
	defs, err := cardigann.NewDefinitionStore(cardigann.StoreConfig{
		DefinitionsDir: cfg.Definitions.Dir,
		CustomDir:      cfg.Definitions.CustomDir,
	}, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open definition store: %w", err)
	}

	cookies, err := cookiestore.Open(cfg.Database.Path, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cookie store: %w", err)
	}

	var browser httpclient.BrowserFetcher
	if cfg.HTTP.FlareSolverrURL != "" {
		browser = httpclient.NewFlareSolverrClient(cfg.HTTP.FlareSolverrURL, cfg.HTTP.Timeout(), log.Logger)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		defs:    defs,
		cookies: cookies,
		limiter: httpclient.NewRateLimiter(),
		jars:    httpclient.NewJarRegistry(),
		browser: browser,
	}, nil
}

func (a *app) Close() {
	if a.cookies != nil {
		a.cookies.Close()
	}
}

func (a *app) run(ctx context.Context, command string, args []string, opts cliOptions) error {
	switch command {
	case "list":
		return a.runList(opts)
	case "test":
		if len(args) != 1 {
			return fmt.Errorf("usage: test <definition-id>")
		}
		return a.runTest(ctx, args[0], opts)
	case "search":
		if len(args) < 1 {
			return fmt.Errorf("usage: search <definition-id> <query...>")
		}
		return a.runSearch(ctx, args[0], strings.Join(args[1:], " "), opts)
	case "download":
		if len(args) != 2 {
			return fmt.Errorf("usage: download <definition-id> <url>")
		}
		return a.runDownload(ctx, args[0], args[1], opts)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func (a *app) runList(opts cliOptions) error {
	metas := a.defs.List()
	if opts.asJSON {
		return json.NewEncoder(os.Stdout).Encode(metas)
	}
	for _, m := range metas {
		fmt.Printf("%-24s %-12s %-8s %s\n", m.ID, m.Type, m.Protocol, m.Name)
	}
	fmt.Printf("%d definitions\n", len(metas))
	return nil
}

// openIndexer builds a YamlIndexer for one definition with CLI overrides
// applied. The instance ID is fixed; the CLI runs one indexer at a time.
func (a *app) openIndexer(definitionID string, opts cliOptions) (*cardigann.YamlIndexer, error) {
	def, err := a.defs.Get(definitionID)
	if err != nil {
		return nil, err
	}

	return cardigann.NewYamlIndexer(cardigann.Options{
		Definition: def,
		Config: &indexer.IndexerConfig{
			ID:           1,
			Name:         def.Name,
			DefinitionID: def.ID,
			BaseURL:      opts.baseURL,
			Enabled:      true,
			Settings:     opts.settings,
		},
		CookieStore: a.cookies,
		RateLimiter: a.limiter,
		Jars:        a.jars,
		Browser:     a.browser,
		Logger:      a.log.Logger,
	})
}

func (a *app) runTest(ctx context.Context, definitionID string, opts cliOptions) error {
	idx, err := a.openIndexer(definitionID, opts)
	if err != nil {
		return err
	}
	defer idx.Destroy()

	start := time.Now()
	if err := idx.Test(ctx); err != nil {
		return fmt.Errorf("test failed: %w", err)
	}
	fmt.Printf("%s: OK (%s)\n", idx.Name(), time.Since(start).Round(time.Millisecond))
	return nil
}

func (a *app) runSearch(ctx context.Context, definitionID, query string, opts cliOptions) error {
	idx, err := a.openIndexer(definitionID, opts)
	if err != nil {
		return err
	}
	defer idx.Destroy()

	criteria := &indexer.SearchCriteria{
		Query:   query,
		Type:    opts.searchType,
		Season:  opts.season,
		Episode: opts.episode,
		Year:    opts.year,
		ImdbID:  opts.imdbID,
	}
	if !idx.CanSearch(criteria) {
		return fmt.Errorf("%s does not support %s searches with these criteria", idx.Name(), criteria.Type)
	}

	results, err := idx.Search(ctx, criteria)
	if err != nil {
		return err
	}

	releases := results.Releases
	if opts.limit > 0 && len(releases) > opts.limit {
		releases = releases[:opts.limit]
	}

	if opts.asJSON {
		return json.NewEncoder(os.Stdout).Encode(&indexer.SearchResults{
			Releases: releases,
			Errors:   results.Errors,
		})
	}

	for _, r := range releases {
		fmt.Printf("%-10s %5d seeds  %s\n", formatSize(r.Size), r.Seeders, r.Title)
	}
	fmt.Printf("%d results\n", len(releases))
	for _, e := range results.Errors {
		fmt.Fprintf(os.Stderr, "warning: %s request failed: %s\n", e.Phase, e.Message)
	}
	return nil
}

func (a *app) runDownload(ctx context.Context, definitionID, rawURL string, opts cliOptions) error {
	idx, err := a.openIndexer(definitionID, opts)
	if err != nil {
		return err
	}
	defer idx.Destroy()

	result, err := idx.DownloadTorrent(ctx, rawURL)
	if err != nil {
		return err
	}
	if !result.Success {
		return fmt.Errorf("download failed: %s", result.Error)
	}

	if result.MagnetURL != "" {
		fmt.Println(result.MagnetURL)
		return nil
	}

	if opts.output != "" {
		if err := os.WriteFile(opts.output, result.Data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", opts.output, err)
		}
		fmt.Printf("wrote %s (%s, infohash %s)\n", opts.output, formatSize(int64(len(result.Data))), result.InfoHash)
		return nil
	}

	_, err = os.Stdout.Write(result.Data)
	return err
}

func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
