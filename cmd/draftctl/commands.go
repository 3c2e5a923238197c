package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/catalog-drafts/constants"
	"github.com/joseph-ayodele/catalog-drafts/internal/client"
	"github.com/joseph-ayodele/catalog-drafts/internal/entity"
	"github.com/joseph-ayodele/catalog-drafts/internal/ingest"
	"github.com/joseph-ayodele/catalog-drafts/internal/services/drafts"
)

func newFlags(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ContinueOnError)
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	return nil
}

// draftArg reads the draft id from --id or the first positional argument.
func draftArg(fs *flag.FlagSet, id string) (uuid.UUID, error) {
	if id == "" && fs.NArg() > 0 {
		id = fs.Arg(0)
	}
	if id == "" {
		return uuid.Nil, fmt.Errorf("%w: draft id is required", errUsage)
	}
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: draft id must be a UUID", errUsage)
	}
	return u, nil
}

func (c *cli) ingest(ctx context.Context, args []string) error {
	fs := newFlags("ingest")
	url := fs.String("url", "", "product page URL")
	text := fs.String("text", "", "product description text")
	file := fs.String("file", "", "product file to upload")
	wait := fs.Bool("wait", false, "wait for extraction to finish")
	if err := parse(fs, args); err != nil {
		return err
	}

	var (
		res client.IngestResponse
		err error
	)
	if *file != "" {
		f, ferr := os.Open(*file)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		res, err = c.api.IngestFile(ctx, filepath.Base(*file), f)
	} else {
		res, err = c.api.Ingest(ctx, client.IngestRequest{URL: *url, Text: *text})
	}
	if err != nil {
		return err
	}
	if !*wait {
		return c.printJSON(res)
	}
	d, err := c.api.WaitReady(ctx, res.DraftID, time.Second)
	if err != nil {
		return err
	}
	return c.printJSON(d)
}

func (c *cli) get(ctx context.Context, args []string) error {
	fs := newFlags("get")
	id := fs.String("id", "", "draft id")
	if err := parse(fs, args); err != nil {
		return err
	}
	draftID, err := draftArg(fs, *id)
	if err != nil {
		return err
	}
	d, err := c.api.GetDraft(ctx, draftID)
	if err != nil {
		return err
	}
	return c.printJSON(d)
}

func (c *cli) list(ctx context.Context, args []string) error {
	fs := newFlags("list")
	status := fs.String("status", "", "comma-separated statuses")
	limit := fs.Int("limit", 50, "page size")
	offset := fs.Int("offset", 0, "page offset")
	if err := parse(fs, args); err != nil {
		return err
	}
	statuses, err := parseStatuses(*status)
	if err != nil {
		return err
	}
	page, err := c.api.ListDrafts(ctx, client.ListOptions{Statuses: statuses, Limit: *limit, Offset: *offset})
	if err != nil {
		return err
	}
	return c.printJSON(page)
}

func (c *cli) wait(ctx context.Context, args []string) error {
	fs := newFlags("wait")
	id := fs.String("id", "", "draft id")
	interval := fs.Duration("interval", time.Second, "poll interval")
	if err := parse(fs, args); err != nil {
		return err
	}
	draftID, err := draftArg(fs, *id)
	if err != nil {
		return err
	}
	d, err := c.api.WaitReady(ctx, draftID, *interval)
	if err != nil {
		return err
	}
	return c.printJSON(d)
}

// specFlags collects repeated --spec key=value pairs.
type specFlags map[string]any

func (s specFlags) String() string { return fmt.Sprint(map[string]any(s)) }

func (s specFlags) Set(v string) error {
	k, val, ok := strings.Cut(v, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("spec must be key=value")
	}
	s[strings.TrimSpace(k)] = strings.TrimSpace(val)
	return nil
}

// imageFlags collects repeated --image URLs.
type imageFlags []entity.Image

func (i *imageFlags) String() string { return fmt.Sprint(len(*i)) }

func (i *imageFlags) Set(v string) error {
	*i = append(*i, entity.Image{Src: v})
	return nil
}

func (c *cli) update(ctx context.Context, args []string) error {
	fs := newFlags("update")
	id := fs.String("id", "", "draft id")
	patchFile := fs.String("patch", "", `JSON file with {"final_data": {...}}`)
	specs := specFlags{}
	var images imageFlags
	fs.Var(specs, "spec", "spec key=value (repeatable)")
	fs.Var(&images, "image", "image URL (repeatable; replaces the image list)")
	fields := map[string]*string{}
	for _, name := range []string{"kind", "type", "brand", "article", "description", "generated-name"} {
		fields[name] = fs.String(name, "", name)
	}
	if err := parse(fs, args); err != nil {
		return err
	}
	draftID, err := draftArg(fs, *id)
	if err != nil {
		return err
	}

	var patch entity.FinalData
	if *patchFile != "" {
		raw, err := os.ReadFile(*patchFile)
		if err != nil {
			return err
		}
		if patch, err = drafts.DecodePatch(raw); err != nil {
			return err
		}
	}
	set := func(dst **string, name string) {
		if v := *fields[name]; v != "" {
			*dst = &v
		}
	}
	set(&patch.Kind, "kind")
	set(&patch.Type, "type")
	set(&patch.Brand, "brand")
	set(&patch.Article, "article")
	set(&patch.Description, "description")
	set(&patch.GeneratedName, "generated-name")
	if len(specs) > 0 {
		if patch.Specs == nil {
			patch.Specs = map[string]any{}
		}
		for k, v := range specs {
			patch.Specs[k] = v
		}
	}
	if len(images) > 0 {
		patch.Images = images
	}

	d, err := c.api.UpdateDraft(ctx, draftID, patch)
	if err != nil {
		return err
	}
	return c.printJSON(d)
}

func (c *cli) generateName(ctx context.Context, args []string) error {
	fs := newFlags("generate-name")
	id := fs.String("id", "", "draft id")
	if err := parse(fs, args); err != nil {
		return err
	}
	draftID, err := draftArg(fs, *id)
	if err != nil {
		return err
	}
	name, err := c.api.GenerateName(ctx, draftID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, name)
	return err
}

func (c *cli) commit(ctx context.Context, args []string) error {
	fs := newFlags("commit")
	id := fs.String("id", "", "draft id")
	if err := parse(fs, args); err != nil {
		return err
	}
	draftID, err := draftArg(fs, *id)
	if err != nil {
		return err
	}
	res, err := c.api.Commit(ctx, draftID)
	if err != nil {
		return err
	}
	return c.printJSON(res)
}

func (c *cli) search(ctx context.Context, args []string) error {
	fs := newFlags("search")
	query := fs.String("query", "", "free-text query")
	draft := fs.String("draft", "", "draft id to find analogs for")
	limit := fs.Int("limit", 0, "max results")
	if err := parse(fs, args); err != nil {
		return err
	}
	req := client.SearchRequest{Query: *query, Limit: *limit}
	if *draft != "" {
		id, err := uuid.Parse(*draft)
		if err != nil {
			return fmt.Errorf("%w: --draft must be a UUID", errUsage)
		}
		req.DraftID = &id
	}
	results, err := c.api.SearchAnalogs(ctx, req)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(c.out, renderMatches(results))
	return err
}

func (c *cli) export(ctx context.Context, args []string) error {
	fs := newFlags("export")
	out := fs.String("out", "drafts.xlsx", "output XLSX path")
	status := fs.String("status", "", "comma-separated statuses")
	fromStr := fs.String("from", "", "from date YYYY-MM-DD")
	toStr := fs.String("to", "", "to date YYYY-MM-DD")
	if err := parse(fs, args); err != nil {
		return err
	}
	statuses, err := parseStatuses(*status)
	if err != nil {
		return err
	}
	opts := client.ExportOptions{Statuses: statuses}
	if opts.From, err = parseDate(*fromStr); err != nil {
		return err
	}
	if opts.To, err = parseDate(*toStr); err != nil {
		return err
	}

	xlsx, err := c.api.ExportXLSX(ctx, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
		return err
	}
	c.logger.Info("export.done", "path", *out, "bytes", len(xlsx))
	_, err = fmt.Fprintf(c.out, "wrote %s\n", *out)
	return err
}

// apiIngester uploads inbox files through the API.
type apiIngester struct {
	api *client.Client
}

func (a apiIngester) Ingest(ctx context.Context, req drafts.IngestRequest) (*entity.Draft, error) {
	if req.File == nil {
		return nil, fmt.Errorf("only file sources are uploaded from a directory")
	}
	res, err := a.api.IngestFile(ctx, req.File.Name, req.File.Reader)
	if err != nil {
		return nil, err
	}
	return &entity.Draft{ID: res.DraftID, Status: res.Status, SourceType: res.SourceType, SourcePayload: res.SourcePayload}, nil
}

func (c *cli) ingestDir(ctx context.Context, args []string) error {
	fs := newFlags("ingest-dir")
	dir := fs.String("dir", "", "directory to ingest (required)")
	hidden := fs.Bool("hidden", false, "include hidden files and directories")
	if err := parse(fs, args); err != nil {
		return err
	}
	if *dir == "" {
		return fmt.Errorf("%w: --dir is required", errUsage)
	}

	inbox := ingest.NewInbox(apiIngester{api: c.api}, c.logger)
	results, stats, err := inbox.IngestDirectory(ctx, *dir, !*hidden)
	if err != nil {
		return err
	}
	for _, r := range results {
		switch {
		case r.Err != "":
			fmt.Fprintf(c.out, "FAIL  %s: %s\n", r.Path, r.Err)
		case r.Deduplicated:
			fmt.Fprintf(c.out, "SAME  %s -> %s\n", r.Path, r.DraftID)
		default:
			fmt.Fprintf(c.out, "OK    %s -> %s\n", r.Path, r.DraftID)
		}
	}
	return c.printJSON(stats)
}

func parseStatuses(raw string) ([]constants.DraftStatus, error) {
	var out []constants.DraftStatus
	for _, s := range strings.Split(raw, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		st, ok := constants.ParseDraftStatus(s)
		if !ok {
			return nil, fmt.Errorf("%w: unknown status %q", errUsage, s)
		}
		out = append(out, st)
	}
	return out, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %q, use YYYY-MM-DD", errUsage, s)
	}
	return &t, nil
}
