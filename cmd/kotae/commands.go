package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/hyperjump/kotae/internal/cli"
	"github.com/hyperjump/kotae/internal/docid"
	"github.com/hyperjump/kotae/internal/models"
	"github.com/hyperjump/kotae/internal/pipeline"
)

func newFlagSet(name string) *flag.FlagSet {
	return flag.NewFlagSet(name, flag.ExitOnError)
}

// commonFlags are shared by every command that can run against a server or
// in-process.
type commonFlags struct {
	config *string
	server *string
	token  *string
	output *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config: fs.String("config", defaultConfigPath, "config file path (in-process mode)"),
		server: fs.String("server", defaultServerURL, `server URL ("" runs the pipeline in-process)`),
		token:  fs.String("token", os.Getenv(defaultTokenEnv), "bearer token for the server"),
		output: fs.String("output", "text", "output format: text, compact or json"),
	}
}

func (c commonFlags) remote() bool { return *c.server != "" }

func (c commonFlags) client() *apiClient { return newAPIClient(*c.server, *c.token) }

func (c commonFlags) format() cli.OutputFormat {
	switch *c.output {
	case "text", "compact", "json":
		return cli.ParseOutputFormat(*c.output)
	}
	fatalf("Unknown output format %q; use text, compact, or json", *c.output)
	return cli.OutputText
}

// questionFlags collects repeated -q values.
type questionFlags []string

func (q *questionFlags) String() string { return strings.Join(*q, " | ") }

func (q *questionFlags) Set(v string) error {
	v = strings.TrimSpace(v)
	if v == "" {
		return fmt.Errorf("empty question")
	}
	*q = append(*q, v)
	return nil
}

// reorderArgs moves flags that follow positional arguments to the front so
// flag.Parse sees them: "ask what is covered -doc x" parses -doc.
func reorderArgs(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

// joinArgs joins positional args so a question works with or without quoting.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// isRemoteRef reports whether ref names a URL rather than a local path.
func isRemoteRef(ref string) bool {
	u, err := url.Parse(ref)
	return err == nil && len(u.Scheme) > 1 && u.Scheme != "file"
}

// absRef makes local paths absolute so a server on the same host resolves
// them the same way.
func absRef(ref string) string {
	if ref == "" || isRemoteRef(ref) {
		return ref
	}
	if abs, err := filepath.Abs(strings.TrimPrefix(ref, "file://")); err == nil {
		return abs
	}
	return ref
}

// documentID resolves a document id or source reference to an id.
func documentID(idOrRef string) string {
	if docid.IsID(idOrRef) {
		return idOrRef
	}
	return docid.FromSource(absRef(idOrRef))
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runAsk(args []string) {
	fs := newFlagSet("ask")
	c := addCommonFlags(fs)
	doc := fs.String("doc", "", "document reference: URL, s3://bucket/key or local path")
	id := fs.String("id", "", "id of an already ingested document")
	format := fs.String("format", "", "format hint")
	reingest := fs.Bool("reingest", false, "fetch and index the document again")
	var questions questionFlags
	fs.Var(&questions, "q", "question (repeatable)")
	_ = fs.Parse(reorderArgs(args))

	if q := joinArgs(fs.Args()); q != "" {
		questions = append(questions, q)
	}
	if len(questions) == 0 || (*doc == "" && *id == "") {
		fmt.Fprintln(os.Stderr, "Usage: kotae ask [flags] (-doc <ref> | -id <id>) [-q <question>]... [question]")
		fs.PrintDefaults()
		os.Exit(1)
	}
	outFmt := c.format()
	req := &models.QueryRequest{
		Documents:  absRef(*doc),
		DocumentID: *id,
		Questions:  questions,
		Format:     *format,
		Reingest:   *reingest,
	}

	ctx, stop := signalContext()
	defer stop()
	var resp *models.QueryResponse
	if c.remote() {
		resp = &models.QueryResponse{}
		if err := c.client().do(ctx, http.MethodPost, "/api/v1/run", req, resp, http.StatusOK); err != nil {
			fatalf("Ask failed: %v", err)
		}
	} else {
		orch, _, closeFn := openPipeline(ctx, *c.config)
		defer closeFn()
		var err error
		if resp, err = orch.Run(ctx, req); err != nil {
			closeFn()
			fatalf("Ask failed: %v", err)
		}
	}
	if err := cli.WriteAnswers(os.Stdout, resp, outFmt); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runIngest(args []string) {
	fs := newFlagSet("ingest")
	c := addCommonFlags(fs)
	format := fs.String("format", "", "format hint for every reference")
	force := fs.Bool("force", false, "re-ingest even if already indexed")
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		fatalf("Usage: kotae ingest [flags] <ref|file|dir>...")
	}
	hint, ok := models.Format(""), true
	if *format != "" {
		if hint, ok = models.ParseFormat(strings.ToLower(*format)); !ok {
			fatalf("Unknown format %q", *format)
		}
	}

	ctx, stop := signalContext()
	defer stop()
	cfg, _, err := loadConfig(*c.config)
	if err != nil {
		fatalf("Failed to load config: %v", err)
	}
	exts := cfg.Watch.Extensions

	var orch *pipeline.Orchestrator
	if !c.remote() {
		var closeFn func()
		orch, _, closeFn = openPipeline(ctx, *c.config)
		defer closeFn()
	}
	failed := 0
	for _, ref := range fs.Args() {
		ref = absRef(ref)
		info, statErr := os.Stat(ref)
		isDir := !isRemoteRef(ref) && statErr == nil && info.IsDir()
		switch {
		case isDir && orch != nil:
			n, err := orch.IndexDirectory(ctx, ref, exts)
			fmt.Printf("Indexed %d file(s) from %s\n", n, ref)
			if err != nil {
				fmt.Fprintf(os.Stderr, "  %v\n", err)
				failed++
			}
		case isDir:
			failed += ingestDirectoryRemote(ctx, c.client(), ref, exts, *force)
		case orch != nil:
			var doc *models.Document
			if isRemoteRef(ref) {
				doc, err = orch.AddDocument(ctx, ref, hint, *force)
			} else {
				doc, err = orch.IndexFile(ctx, ref, nil)
			}
			failed += reportIngest(ref, doc, err)
		default:
			doc := &models.Document{}
			err := c.client().do(ctx, http.MethodPost, "/api/v1/documents",
				map[string]any{"source": ref, "format": string(hint), "force": *force}, doc, http.StatusCreated)
			failed += reportIngest(ref, doc, err)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

func ingestDirectoryRemote(ctx context.Context, client *apiClient, dir string, exts []string, force bool) (failed int) {
	n := 0
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !hasExtension(path, exts) {
			return nil
		}
		doc := &models.Document{}
		err = client.do(ctx, http.MethodPost, "/api/v1/documents",
			map[string]any{"source": path, "force": force}, doc, http.StatusCreated)
		if reportIngest(path, doc, err) == 0 {
			n++
		} else {
			failed++
		}
		return ctx.Err()
	})
	fmt.Printf("Indexed %d file(s) from %s\n", n, dir)
	return failed
}

func hasExtension(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range exts {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

func reportIngest(ref string, doc *models.Document, err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest %s failed: %v\n", ref, err)
		return 1
	}
	fmt.Printf("Ingested %s: %s (%s, %d chunks)\n", ref, doc.ID, doc.Status, doc.ChunkCount)
	return 0
}

func runRemove(args []string) {
	fs := newFlagSet("remove")
	c := addCommonFlags(fs)
	_ = fs.Parse(reorderArgs(args))
	if fs.NArg() < 1 {
		fatalf("Usage: kotae remove [flags] <document-id|ref>")
	}
	id := documentID(fs.Arg(0))

	ctx, stop := signalContext()
	defer stop()
	if c.remote() {
		if err := c.client().do(ctx, http.MethodDelete, "/api/v1/documents/"+url.PathEscape(id), nil, nil, http.StatusOK); err != nil {
			fatalf("Remove failed: %v", err)
		}
	} else {
		orch, _, closeFn := openPipeline(ctx, *c.config)
		defer closeFn()
		if err := orch.RemoveDocument(ctx, id); err != nil {
			closeFn()
			fatalf("Remove failed: %v", err)
		}
	}
	fmt.Printf("Document removed: %s\n", id)
}

func runList(args []string) {
	fs := newFlagSet("list")
	c := addCommonFlags(fs)
	offset := fs.Int("offset", 0, "skip this many documents")
	limit := fs.Int("limit", 50, "maximum documents to list")
	_ = fs.Parse(args)
	outFmt := c.format()

	ctx, stop := signalContext()
	defer stop()
	var docs []*models.Document
	if c.remote() {
		var out struct {
			Documents []*models.Document `json:"documents"`
		}
		path := "/api/v1/documents?offset=" + strconv.Itoa(*offset) + "&limit=" + strconv.Itoa(*limit)
		if err := c.client().do(ctx, http.MethodGet, path, nil, &out, http.StatusOK); err != nil {
			fatalf("List failed: %v", err)
		}
		docs = out.Documents
	} else {
		orch, _, closeFn := openPipeline(ctx, *c.config)
		defer closeFn()
		var err error
		if docs, err = orch.ListDocuments(ctx, *offset, *limit); err != nil {
			closeFn()
			fatalf("List failed: %v", err)
		}
	}
	if err := cli.WriteDocuments(os.Stdout, docs, outFmt); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runStatus(args []string) {
	fs := newFlagSet("status")
	c := addCommonFlags(fs)
	_ = fs.Parse(args)
	outFmt := c.format()

	ctx, stop := signalContext()
	defer stop()
	var stats *pipeline.Stats
	if c.remote() {
		stats = &pipeline.Stats{}
		if err := c.client().do(ctx, http.MethodGet, "/api/v1/status", nil, stats, http.StatusOK); err != nil {
			fatalf("Status failed: %v", err)
		}
	} else {
		orch, _, closeFn := openPipeline(ctx, *c.config)
		defer closeFn()
		var err error
		if stats, err = orch.Stats(ctx); err != nil {
			closeFn()
			fatalf("Status failed: %v", err)
		}
	}
	if err := cli.WriteStats(os.Stdout, stats, outFmt); err != nil {
		fatalf("Output failed: %v", err)
	}
}

func runHealth(args []string) {
	fs := newFlagSet("health")
	c := addCommonFlags(fs)
	probe := fs.Bool("probe", false, "actively probe each backend")
	_ = fs.Parse(args)
	outFmt := c.format()

	ctx, stop := signalContext()
	defer stop()
	var h models.Health
	if c.remote() {
		path := "/health"
		if *probe {
			path += "?probe=true"
		}
		if err := c.client().do(ctx, http.MethodGet, path, nil, &h, http.StatusOK); err != nil {
			fatalf("Health failed: %v", err)
		}
	} else {
		orch, _, closeFn := openPipeline(ctx, *c.config)
		defer closeFn()
		if *probe {
			h = orch.Probe(ctx)
		} else {
			h = orch.Health(ctx)
		}
	}
	if err := cli.WriteHealth(os.Stdout, h, outFmt); err != nil {
		fatalf("Output failed: %v", err)
	}
	if h.Status != "ok" {
		os.Exit(2)
	}
}

func runWatch(args []string) {
	if len(args) < 1 {
		fmt.Println("Usage: kotae watch <add|remove|list> [path]")
		fmt.Println("  kotae watch add <path>     Add directory to watch")
		fmt.Println("  kotae watch remove <path>  Remove directory from watch")
		fmt.Println("  kotae watch list           List watched directories")
		os.Exit(1)
	}
	sub := args[0]
	fs := newFlagSet("watch")
	serverURL := fs.String("server", defaultServerURL, "server URL")
	token := fs.String("token", os.Getenv(defaultTokenEnv), "bearer token for the server")
	syncExisting := fs.Bool("sync", true, "ingest files already in the directory")
	_ = fs.Parse(reorderArgs(args[1:]))
	client := newAPIClient(*serverURL, *token)
	ctx, stop := signalContext()
	defer stop()

	switch sub {
	case "add":
		if fs.NArg() < 1 {
			fatalf("Usage: kotae watch add <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := client.do(ctx, http.MethodPost, "/api/v1/watch/directories",
			map[string]any{"path": path, "sync": *syncExisting}, nil, http.StatusCreated); err != nil {
			fatalf("Add failed: %v", err)
		}
		fmt.Printf("Added: %s\n", path)
	case "remove":
		if fs.NArg() < 1 {
			fatalf("Usage: kotae watch remove <path>")
		}
		path, _ := filepath.Abs(fs.Arg(0))
		if err := client.do(ctx, http.MethodDelete, "/api/v1/watch/directories?path="+url.QueryEscape(path), nil, nil, http.StatusOK); err != nil {
			fatalf("Remove failed: %v", err)
		}
		fmt.Printf("Removed: %s\n", path)
	case "list":
		var out struct {
			Directories []string `json:"directories"`
		}
		if err := client.do(ctx, http.MethodGet, "/api/v1/watch/directories", nil, &out, http.StatusOK); err != nil {
			fatalf("List failed: %v", err)
		}
		for _, d := range out.Directories {
			fmt.Println(d)
		}
	default:
		fatalf("Unknown watch subcommand: %s", sub)
	}
}
