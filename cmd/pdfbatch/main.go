// Command pdfbatch runs a job script against a set of documents with a
// bounded worker pool.
//
//	pdfbatch -script job.js -out results [-format text] [-concurrency 4] 'docs/*.psdoc'
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"pdfsuite/batch"
	"pdfsuite/codec"
	"pdfsuite/convert"
	"pdfsuite/pipeline"
	"pdfsuite/scripting"
)

type options struct {
	inputs     []string
	scriptPath string
	outDir     string
	format     string
	workers    int
	failFast   bool
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "pdfbatch: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "pdfbatch: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: pdfbatch [flags] <input>...\n")
		flag.PrintDefaults()
	}
	script := flag.String("script", "", "Job script declaring the operations to run")
	outDir := flag.String("out", "pdfbatch_output", "Directory for result files")
	format := flag.String("format", "", "Output format (empty keeps the document format)")
	concurrency := flag.Int("concurrency", 4, "Concurrent documents")
	failFast := flag.Bool("fail-fast", false, "Abort a document after its first failed operation")
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return options{}, fmt.Errorf("no input files")
	}
	if *script == "" {
		return options{}, fmt.Errorf("-script is required")
	}
	for _, pattern := range flag.Args() {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			return options{}, fmt.Errorf("bad pattern %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			// Not a pattern, or nothing matched: let ReadFile report it.
			matches = []string{pattern}
		}
		opts.inputs = append(opts.inputs, matches...)
	}
	opts.scriptPath = *script
	opts.outDir = *outDir
	opts.format = *format
	opts.workers = *concurrency
	opts.failFast = *failFast
	return opts, nil
}

func run(opts options) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	script, err := os.ReadFile(opts.scriptPath)
	if err != nil {
		return err
	}
	ops, err := scripting.NewEngine().BuildOperations(ctx, string(script))
	if err != nil {
		return err
	}
	if len(ops) == 0 {
		return fmt.Errorf("%s declares no operations", opts.scriptPath)
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return err
	}

	registry := convert.NewRegistry()
	simple := codec.NewSimple()
	for _, exporter := range []convert.Exporter{
		convert.TextExporter{},
		convert.ImageExporter{Renderer: simple, Encoding: "png"},
	} {
		if err := registry.RegisterExporter(exporter); err != nil {
			return err
		}
	}
	registry.Freeze()
	if opts.format != "" {
		if _, err := registry.Exporter(opts.format); err != nil {
			return fmt.Errorf("%w (available: %s)", err, strings.Join(registry.ExportFormats(), ", "))
		}
	}

	items := make([]*batch.Item, len(opts.inputs))
	for i, path := range opts.inputs {
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		items[i] = &batch.Item{
			ID:     filepath.Base(path),
			Raw:    raw,
			Ops:    ops,
			Format: opts.format,
			Output: fileOutput(filepath.Join(opts.outDir, outputName(path, opts.format))),
		}
	}

	var engineOpts []batch.Option
	engineOpts = append(engineOpts, batch.WithRegistry(registry), batch.WithCodec(simple))
	if opts.failFast {
		engineOpts = append(engineOpts, batch.WithPipelineOptions(pipeline.WithFailFast()))
	}

	handle, err := batch.New(engineOpts...).Submit(ctx, items, opts.workers)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		handle.Cancel()
	}()
	// Items drain to terminal states even after cancellation, so waiting
	// on a background context cannot hang.
	if err := handle.Wait(context.Background()); err != nil {
		return err
	}

	return report(handle.Status())
}

// outputName swaps the input extension for one matching the output format.
func outputName(path, format string) string {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch format {
	case "":
		return base + ".psdoc"
	case "text":
		return base + ".txt"
	default:
		return base + "." + format
	}
}

type fileOutput string

func (f fileOutput) Commit(data []byte) error {
	return os.WriteFile(string(f), data, 0o644)
}

func report(status batch.Status) error {
	failed := 0
	for _, item := range status.Items {
		switch item.State {
		case batch.StateSucceeded:
			fmt.Printf("ok      %s\n", item.ID)
		case batch.StateCancelled:
			fmt.Printf("cancel  %s\n", item.ID)
			failed++
		default:
			fmt.Printf("FAIL    %s: %v\n", item.ID, item.Err)
			failed++
		}
		for _, w := range item.Warnings {
			fmt.Printf("        warning: %s\n", w)
		}
		if item.Report != nil && item.Report.Failed() > 0 {
			for _, outcome := range item.Report.Outcomes {
				if outcome.Status == pipeline.StatusFailed {
					fmt.Printf("        %s: %v\n", outcome.Op, outcome.Reason)
				}
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents did not finish", failed, len(status.Items))
	}
	return nil
}
