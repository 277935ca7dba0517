// Command docsearch queries, validates and builds shard sets on disk.
//
// Usage:
//
//	docsearch convert --doxygen site/search --out site/shards
//	docsearch query --dir site/shards forward kin
//	docsearch validate --dir site/shards
//	docsearch repl --dir site/shards
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/builder"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/index"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/registry"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/reload"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/resolver"
	"github.com/Adithya-Monish-Kumar-K/docsearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/keyspace"
	"github.com/Adithya-Monish-Kumar-K/docsearch/pkg/logger"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	dirFlag := &cli.StringFlag{
		Name:     "dir",
		Aliases:  []string{"d"},
		Usage:    "Directory holding manifest.json and shard files",
		Required: true,
	}
	bucketFlags := []cli.Flag{
		&cli.IntFlag{
			Name:  "prefix-len",
			Usage: "Key prefix length used for bucketing (default: read from the manifest)",
		},
		&cli.IntFlag{
			Name:  "buckets",
			Usage: "Hash bucket count, 0 for literal prefixes (default: read from the manifest)",
		},
	}

	return &cli.App{
		Name:  "docsearch",
		Usage: "Sharded prefix search for generated documentation",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "warn",
			},
			&cli.StringFlag{
				Name:  "config",
				Usage: "Config file; only kafka settings are used, by convert --announce",
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:      "query",
				Usage:     "Resolve one query and print matching rows",
				ArgsUsage: "<text>",
				Action:    queryCommand,
				Flags: append([]cli.Flag{
					dirFlag,
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum rows to print, 0 for all",
					},
				}, bucketFlags...),
			},
			{
				Name:   "validate",
				Usage:  "Load the manifest and every shard it lists",
				Action: validateCommand,
				Flags:  []cli.Flag{dirFlag},
			},
			{
				Name:   "convert",
				Usage:  "Convert Doxygen search data into a shard set",
				Action: convertCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "doxygen",
						Usage:    "Doxygen search directory holding the *.js search data files",
						Required: true,
					},
					&cli.StringFlag{
						Name:     "out",
						Aliases:  []string{"o"},
						Usage:    "Output directory for the shard set",
						Required: true,
					},
					&cli.IntFlag{
						Name:  "prefix-len",
						Usage: "Key prefix length used for bucketing",
						Value: keyspace.DefaultBucketer.PrefixLen,
					},
					&cli.IntFlag{
						Name:  "buckets",
						Usage: "Hash bucket count, 0 for literal prefixes",
					},
					&cli.BoolFlag{
						Name:  "announce",
						Usage: "Announce the published index on the index-published Kafka topic",
					},
				},
			},
			{
				Name:   "repl",
				Usage:  "Treat each stdin line as a keystroke; stale responses are dropped",
				Action: replCommand,
				Flags:  append([]cli.Flag{dirFlag}, bucketFlags...),
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	slog.SetDefault(logger.New(os.Stderr, c.String("log-level"), "text"))
	return nil
}

// openIndex builds a registry over the shard set in --dir. The bucketer comes
// from the manifest unless overridden by flags.
func openIndex(c *cli.Context) (*registry.Registry, *index.Manifest, error) {
	st := store.NewDirStore(c.String("dir"))
	data, err := st.Get(c.Context, index.ManifestName)
	if err != nil {
		return nil, nil, fmt.Errorf("reading manifest: %w", err)
	}
	manifest, err := index.DecodeManifest(data)
	if err != nil {
		return nil, nil, err
	}
	bucketer := keyspace.Bucketer{PrefixLen: manifest.PrefixLen, Buckets: manifest.Buckets}
	if c.IsSet("prefix-len") {
		bucketer.PrefixLen = c.Int("prefix-len")
	}
	if c.IsSet("buckets") {
		bucketer.Buckets = c.Int("buckets")
	}
	reg, err := registry.New(st, bucketer, registry.Options{})
	if err != nil {
		return nil, nil, err
	}
	return reg, manifest, nil
}

func queryCommand(c *cli.Context) error {
	reg, _, err := openIndex(c)
	if err != nil {
		return err
	}
	res := resolver.New(reg, resolver.Options{MaxResults: c.Int("limit")})
	resp, err := res.Search(c.Context, strings.Join(c.Args().Slice(), " "))
	if err != nil {
		return err
	}
	printResponse(c, resp)
	return nil
}

func printResponse(c *cli.Context, resp *resolver.Response) {
	for _, w := range resp.Warnings {
		fmt.Fprintf(c.App.ErrWriter, "warning: bucket %s: %s\n", w.BucketID, w.Message)
	}
	for _, r := range resp.Results {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\n", r.DisplayLabel, r.Title, r.Anchor)
	}
}

func validateCommand(c *cli.Context) error {
	reg, manifest, err := openIndex(c)
	if err != nil {
		return err
	}
	if _, err := reg.Manifest(c.Context); err != nil {
		return err
	}
	failed := 0
	for _, id := range manifest.BucketIDs {
		shard, err := reg.EnsureLoaded(c.Context, id)
		if err != nil {
			failed++
			fmt.Fprintf(c.App.Writer, "FAIL %s: %v\n", id, err)
			continue
		}
		fmt.Fprintf(c.App.Writer, "ok   %s: %d entries\n", id, shard.Len())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d shards failed to load", failed, len(manifest.BucketIDs))
	}
	fmt.Fprintf(c.App.Writer, "%d shards, %d entries, scheme %s\n", len(manifest.BucketIDs), manifest.EntryCount, manifest.Scheme)
	return nil
}

func convertCommand(c *cli.Context) error {
	files, err := filepath.Glob(filepath.Join(c.String("doxygen"), "*.js"))
	if err != nil {
		return err
	}
	var entries []index.Entry
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		decoded, err := index.DecodeDoxygen(data)
		if err != nil {
			// searchdata.js and search.js live beside the data files.
			slog.Debug("skipping non search data file", "path", path, "error", err)
			continue
		}
		entries = append(entries, decoded...)
	}
	if len(entries) == 0 {
		return fmt.Errorf("no doxygen search data found in %s", c.String("doxygen"))
	}

	bucketer := keyspace.Bucketer{PrefixLen: c.Int("prefix-len"), Buckets: c.Int("buckets")}
	shards, err := builder.Partition(entries, bucketer)
	if err != nil {
		return err
	}
	out := store.NewDirStore(c.String("out"))
	manifest, err := builder.Publish(c.Context, out, shards, bucketer)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "wrote %d shards, %d entries to %s (scheme %s)\n",
		len(manifest.BucketIDs), manifest.EntryCount, c.String("out"), manifest.Scheme)

	if !c.Bool("announce") {
		return nil
	}
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.IndexPublished)
	defer producer.Close()
	if err := reload.Announce(c.Context, producer, reload.EventFor(manifest)); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "announced on %s\n", cfg.Kafka.Topics.IndexPublished)
	return nil
}

// replCommand runs each input line as a new query without waiting for the
// previous one, the way a search box issues one query per keystroke. Only the
// newest query's response is printed.
func replCommand(c *cli.Context) error {
	reg, _, err := openIndex(c)
	if err != nil {
		return err
	}
	session := resolver.NewSession(resolver.New(reg, resolver.Options{}))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	scanner := bufio.NewScanner(c.App.Reader)
	for scanner.Scan() {
		line := scanner.Text()
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := session.Search(c.Context, line)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, apperrors.ErrSuperseded), errors.Is(err, context.Canceled):
			case err != nil:
				fmt.Fprintf(c.App.ErrWriter, "error: %v\n", err)
			default:
				fmt.Fprintf(c.App.Writer, "[%d] %q: %d results\n", resp.Seq, line, len(resp.Results))
				printResponse(c, resp)
			}
		}()
	}
	wg.Wait()
	return scanner.Err()
}
