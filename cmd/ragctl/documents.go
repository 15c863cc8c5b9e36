package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/Kanishk2004/plug-rag/internal/app"
	"github.com/Kanishk2004/plug-rag/internal/chunker"
	"github.com/Kanishk2004/plug-rag/internal/extract"
	"github.com/Kanishk2004/plug-rag/internal/format"
	"github.com/Kanishk2004/plug-rag/internal/queue"
	"github.com/Kanishk2004/plug-rag/internal/records"
)

var chunkFlags struct {
	preview int
}

var chunkCmd = &cobra.Command{
	Use:   "chunk <file>",
	Short: "Extract and chunk a local file without embedding it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		kind := format.Detect(args[0], data)
		res := extract.NewRegistry(logger).Extract(cmd.Context(), kind, data, extract.Options{
			HTMLReadability: cfg.Ingest.HTMLReadability,
			MaxCSVRows:      cfg.Ingest.MaxCSVRows,
		})
		frags := chunker.New(chunker.Options{
			MaxChunkSize:        cfg.Ingest.MaxChunkSize,
			OverlapSize:         cfg.Ingest.OverlapSize,
			MaxHardTokenCeiling: cfg.Ingest.MaxHardTokenCeiling,
		}, logger).Chunk(res.Text, res.Structure)

		fmt.Printf("Format: %s (fallback: %t)\n", kind, res.UsedFallback)
		fmt.Printf("Words: %d  Characters: %d  Fragments: %d\n", res.WordCount, res.CharacterCount, len(frags))
		for _, f := range frags {
			fmt.Println()
			fmt.Printf("[%d] %s ordinal=%g tokens=%d", f.Index, f.Type, f.Ordinal, f.Tokens)
			if f.Heading != "" {
				fmt.Printf(" heading=%q", f.Heading)
			}
			if f.PageNumber > 0 {
				fmt.Printf(" page=%d", f.PageNumber)
			}
			fmt.Println()
			fmt.Println("  " + preview(f.Content, chunkFlags.preview))
		}
		return nil
	},
}

var ingestFlags struct {
	bot  string
	id   string
	wait bool
}

var ingestCmd = &cobra.Command{
	Use:     "ingest <file>...",
	Aliases: []string{"enqueue"},
	Short:   "Upload local files and queue them for indexing",
	Long: `Stores each file in the default object store, registers a document
record and queues an indexing job. With --wait an in-process worker runs
until every queued job completes or fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestFlags.bot == "" {
			return fmt.Errorf("--bot is required")
		}
		if ingestFlags.id != "" && len(args) > 1 {
			return fmt.Errorf("--id can only be used with a single file")
		}
		ctx, a, done, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer done()

		owner, err := a.Records.BotOwner(ctx, ingestFlags.bot)
		if err != nil {
			return err
		}

		var ids []string
		for _, file := range args {
			id, err := ingest(ctx, a, owner, file)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			ids = append(ids, id)
		}
		if !ingestFlags.wait {
			return nil
		}
		return waitForJobs(ctx, a, ids)
	},
}

func ingest(ctx context.Context, a *app.App, owner, file string) (string, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", err
	}
	id := ingestFlags.id
	if id == "" {
		id = uuid.NewString()
	}
	name := filepath.Base(file)
	key := path.Join("uploads", ingestFlags.bot, id, name)
	if err := a.Objects.Put(ctx, key, data); err != nil {
		return "", err
	}

	doc := &records.Document{
		ID:           id,
		OwnerID:      owner,
		BotID:        ingestFlags.bot,
		OriginalName: name,
		Kind:         string(format.Detect(name, data)),
		SizeBytes:    int64(len(data)),
		StorageKey:   key,
	}
	if err := a.Records.CreateDocument(ctx, doc); err != nil {
		return "", err
	}
	h, err := a.Queue.Enqueue(ctx, queue.Payload{
		DocumentID:   id,
		BotID:        ingestFlags.bot,
		OwnerID:      owner,
		StorageKey:   key,
		FileName:     name,
		DeclaredSize: int64(len(data)),
	})
	if err != nil {
		return "", err
	}
	fmt.Printf("Queued %s as %s (%s, duplicate: %t)\n", name, id, h.State, h.Duplicate)
	return id, nil
}

func waitForJobs(ctx context.Context, a *app.App, ids []string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	worker := a.Worker()
	errc := make(chan error, 1)
	go func() { errc <- worker.Run(ctx) }()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	pending := map[string]bool{}
	for _, id := range ids {
		pending[id] = true
	}
	var failed int
	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-errc:
			return err
		case <-ticker.C:
		}
		for id := range pending {
			st, err := a.Queue.Status(ctx, id)
			if err != nil {
				return err
			}
			switch st.State {
			case queue.StateCompleted:
				fmt.Printf("%s completed\n", id)
				delete(pending, id)
			case queue.StateFailed, queue.StateNotFound:
				fmt.Printf("%s failed: %s\n", id, st.FailureReason)
				failed++
				delete(pending, id)
			}
		}
	}
	cancel()
	if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d document(s) failed", failed, len(ids))
	}
	return nil
}

var statusCmd = &cobra.Command{
	Use:   "status <documentID>",
	Short: "Show the job and record state of a document",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, done, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer done()

		st, err := a.Queue.Status(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Job: %s (progress %d%%, attempts %d/%d)\n", st.State, st.Progress, st.Attempts, st.MaxAttempts)
		if st.FailureReason != "" {
			fmt.Printf("  Reason: %s\n", st.FailureReason)
		}

		doc, err := a.Records.GetDocument(ctx, args[0])
		if errors.Is(err, records.ErrDocumentNotFound) {
			fmt.Println("Document: no record")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Printf("Document: %s (%s, embedding %s)\n", doc.OriginalName, doc.Status, doc.EmbeddingStatus)
		fmt.Printf("  Chunks: %d  Tokens: %d  Vectors: %d  Cost: $%.6f\n",
			doc.ChunkCount, doc.TokenCount, doc.VectorCount, doc.EmbeddingCost)
		if doc.ProcessingError != "" {
			fmt.Printf("  Error: %s\n", doc.ProcessingError)
		}
		return nil
	},
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued indexing jobs until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, a, done, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer done()

		fmt.Println("Worker running, press Ctrl+C to stop")
		if err := a.Worker().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	},
}

func init() {
	chunkCmd.Flags().IntVar(&chunkFlags.preview, "preview", 160, "characters of each fragment to print, 0 for all")

	ingestCmd.Flags().StringVar(&ingestFlags.bot, "bot", "", "bot that owns the documents")
	ingestCmd.Flags().StringVar(&ingestFlags.id, "id", "", "document id (default: random UUID)")
	ingestCmd.Flags().BoolVar(&ingestFlags.wait, "wait", false, "process the jobs before exiting")
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 {
		return s
	}
	if r := []rune(s); len(r) > n {
		return string(r[:n]) + "..."
	}
	return s
}
