package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/wafkaw/book-digger/internal/config"
	"github.com/wafkaw/book-digger/internal/storage"
	"github.com/wafkaw/book-digger/internal/util"
	"github.com/wafkaw/book-digger/pkg/common"
	"github.com/wafkaw/book-digger/pkg/logger"
	"github.com/wafkaw/book-digger/pkg/pipeline"
	"github.com/wafkaw/book-digger/pkg/render"
)

type analyzeFlags struct {
	input     string
	out       string
	bucket    string
	prefix    string
	replace   bool
	offline   bool
	batchSize int
	noJSON    bool
}

func analyzeCmd() *cobra.Command {
	var f analyzeFlags
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze the highlights of one book",
		Long: `Analyze reads a book as JSON ({"id", "metadata", "highlights"}) or a bare
array of highlights, builds its knowledge graph and writes the vault to a
folder or an S3 bucket.`,
		Example: `  book-digger analyze --input nietzsche.json --out vault
  book-digger analyze --input - --offline < highlights.json
  book-digger analyze --input book.json --bucket vaults --prefix books/nietzsche --replace`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runAnalyze(ctx, cmd.OutOrStdout(), f)
		},
	}

	cmd.Flags().StringVarP(&f.input, "input", "i", "", "book JSON file, s3://bucket/key, or - for stdin")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "output folder (default $OUTPUT_DIR or vault)")
	cmd.Flags().StringVar(&f.bucket, "bucket", "", "upload to this S3 bucket instead of a folder (default $AWS_BUCKET)")
	cmd.Flags().StringVar(&f.prefix, "prefix", "", "object key prefix inside the bucket (default the book id)")
	cmd.Flags().BoolVar(&f.replace, "replace", false, "remove objects below the prefix that this run did not write")
	cmd.Flags().BoolVar(&f.offline, "offline", false, "use the local extractor instead of the AI service")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "highlights per AI request (default $AI_BATCH_SIZE)")
	cmd.Flags().BoolVar(&f.noJSON, "no-json", false, "do not write graph.json")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

// readBook accepts a full book or a bare highlight array; the latter is
// named after the input file or object.
func readBook(input string, r io.Reader) (common.Book, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return common.Book{}, fmt.Errorf("failed to read input: %w", err)
	}
	data = bytes.TrimSpace(data)

	var book common.Book
	if bytes.HasPrefix(data, []byte("[")) {
		if err := json.Unmarshal(data, &book.Highlights); err != nil {
			return common.Book{}, fmt.Errorf("invalid highlights: %w", err)
		}
	} else if err := json.Unmarshal(data, &book); err != nil {
		return common.Book{}, fmt.Errorf("invalid book: %w", err)
	}

	if book.ID == "" {
		base := path.Base(filepath.ToSlash(input))
		book.ID = strings.TrimSuffix(base, path.Ext(base))
		if input == "-" || book.ID == "" {
			book.ID = "book"
		}
	}
	for i := range book.Highlights {
		if book.Highlights[i].SourceBookID == "" {
			book.Highlights[i].SourceBookID = book.ID
		}
	}
	return book, nil
}

const inputAttempts = 3

// openInput reads a local file, stdin or an s3://bucket/key object.
func openInput(ctx context.Context, cfg *config.Config, input string) (io.ReadCloser, error) {
	switch {
	case input == "-":
		return io.NopCloser(os.Stdin), nil
	case strings.HasPrefix(input, "s3://"):
		bucket, key, ok := strings.Cut(strings.TrimPrefix(input, "s3://"), "/")
		if !ok || bucket == "" || key == "" {
			return nil, fmt.Errorf("invalid S3 input %q, want s3://bucket/key", input)
		}
		client, err := storage.NewS3Client(ctx, storage.S3Params{
			Region:    cfg.AWS.Region,
			Endpoint:  cfg.AWS.Endpoint,
			AccessKey: cfg.AWS.AccessKey,
			SecretKey: cfg.AWS.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		data, err := util.RetryWithContext(ctx, inputAttempts, func(ctx context.Context) ([]byte, error) {
			return storage.GetFile(ctx, client, bucket, key)
		})
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return os.Open(input)
}

func runAnalyze(ctx context.Context, stdout io.Writer, f analyzeFlags) error {
	cfg := config.FromEnv()
	if f.offline {
		cfg.AI.Adapter = config.AdapterOffline
	}
	if f.batchSize > 0 {
		cfg.Extract.BatchSize = f.batchSize
	}
	if f.bucket != "" {
		cfg.AWS.Bucket = f.bucket
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	in, err := openInput(ctx, cfg, f.input)
	if err != nil {
		return fmt.Errorf("failed to open input: %w", err)
	}
	book, err := readBook(f.input, in)
	in.Close()
	if err != nil {
		return err
	}

	stack, err := cfg.Open(ctx)
	if err != nil {
		return err
	}
	defer stack.Close()

	res, err := stack.Runner.Run(ctx, book, pipeline.RunOptions{
		Progress: func(p util.Progress) {
			logger.Info("[Analyze] Progress", "book_id", book.ID, "progress", p.String(), "percent", p.Percentage())
		},
	})
	if err != nil {
		return err
	}
	for _, w := range res.Warnings {
		logger.Warn("[Analyze] Highlight skipped", "err", w)
	}

	docs := render.Render(res.Graph, book)
	if !f.noJSON {
		doc, err := render.RenderJSON(res.Graph, book)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}

	out, err := outputSink(ctx, cfg, f, book)
	if err != nil {
		return err
	}
	if err := out.sink.Write(ctx, docs); err != nil {
		return err
	}

	s := res.Summary
	fmt.Fprintf(stdout, "%s: %d highlights, %d nodes, %d edges, %d degraded, %d documents -> %s\n",
		book.ID, s.Highlights, s.Stats.Nodes, s.Stats.Edges, s.Degraded, len(docs), out.where)

	if out.client != nil && cfg.AWS.PublicEndpoint != "" {
		s3s := out.sink.(render.S3Sink)
		link, err := storage.GenerateDownloadLink(ctx, out.client, s3s.Bucket, cfg.AWS.PublicEndpoint, s3s.Key(render.IndexPath))
		if err != nil {
			logger.Warn("[Analyze] Failed to presign index link", "err", err)
			return nil
		}
		fmt.Fprintf(stdout, "index: %s\n", link)
	}
	return nil
}

type output struct {
	sink  render.Sink
	where string
	// client is set for S3 output.
	client *s3.Client
}

// outputSink picks the bucket when one is configured, unless --out names a
// folder without --bucket.
func outputSink(ctx context.Context, cfg *config.Config, f analyzeFlags, book common.Book) (output, error) {
	if cfg.AWS.Bucket == "" || (f.out != "" && f.bucket == "") {
		dir := f.out
		if dir == "" {
			dir = cfg.OutputDir
		}
		return output{sink: render.DirSink{Dir: dir}, where: dir}, nil
	}

	client, err := cfg.NewS3(ctx)
	if err != nil {
		return output{}, err
	}
	prefix := f.prefix
	if prefix == "" {
		prefix = book.ID
	}
	return output{
		sink:   render.S3Sink{Client: client, Bucket: cfg.AWS.Bucket, Prefix: prefix, Replace: f.replace},
		where:  "s3://" + cfg.AWS.Bucket + "/" + prefix,
		client: client,
	}, nil
}
