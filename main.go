package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fabfab/aiact-explorer/api"
	"github.com/fabfab/aiact-explorer/chat"
	"github.com/fabfab/aiact-explorer/corpus"
	"github.com/fabfab/aiact-explorer/mcpserver"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "aiact-explorer",
		Short:         "Question answering over the EU AI Act and its guidelines",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCommand(),
		newAskCommand(),
		newIngestCommand(),
		newMCPCommand(),
		newClearCommand(),
	)
	return root
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand() *cobra.Command {
	var (
		addr  string
		admin bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the search API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := api.Options{AllowedOrigins: a.cfg.Server.AllowedOrigins, DataDir: a.cfg.DataDir}
			if admin {
				opts.Admin = a.ingestion(corpus.SourceRegulation)
			}
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           api.New(a.chat(), a.logger, opts),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      5 * time.Minute,
				IdleTimeout:       2 * time.Minute,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Infow("http server listening", "addr", addr, "admin", admin)
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("http server: %w", err)
			case <-ctx.Done():
			}

			a.logger.Info("shutting down http server")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer shutdownCancel()
			return httpServer.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to server.addr)")
	cmd.Flags().BoolVar(&admin, "admin", false, "expose /v1/ingest and /v1/clear")
	return cmd
}

func newAskCommand() *cobra.Command {
	var (
		question string
		sources  []string
	)
	cmd := &cobra.Command{
		Use:   "ask",
		Short: "Ask a single question from the command line",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(question) == "" {
				fmt.Fprint(cmd.ErrOrStderr(), "Enter your question: ")
				line, err := readLine(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read question: %w", err)
				}
				question = line
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.chat().Ask(ctx, chat.Request{Question: question, SourceTypes: sources})
			if err != nil {
				return err
			}
			printResponse(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVarP(&question, "question", "q", "", "question to ask")
	cmd.Flags().StringSliceVar(&sources, "source", []string{string(corpus.SourceRegulation), string(corpus.SourceGuidelines)}, "source types to search (repeatable)")
	return cmd
}

func newIngestCommand() *cobra.Command {
	var (
		dir        string
		sourceType string
		watch      bool
		debounce   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Import corpus files into the document store",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := corpus.ParseSourceType(sourceType)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if dir == "" {
				dir = a.cfg.DataDir
			}
			svc := a.ingestion(st)
			a.logger.Infow("ingesting corpus",
				"dir", dir,
				"sourceType", st,
				"embeddings", a.cfg.Embeddings.Provider+"/"+a.cfg.Embeddings.Model)

			summary, err := svc.IngestDirectory(ctx, dir)
			a.logger.Infow("ingestion finished",
				"files", summary.Files,
				"imported", summary.Imported,
				"unchanged", summary.Unchanged,
				"failed", summary.Failed,
				"chunks", summary.Chunks)
			if err != nil && !watch {
				return fmt.Errorf("ingestion failed: %w", err)
			}
			if !watch {
				return nil
			}

			if err := svc.Watch(ctx, dir, debounce); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "corpus directory (defaults to data_dir)")
	cmd.Flags().StringVar(&sourceType, "source-type", string(corpus.SourceRegulation), "source type for files that neither declare one nor sit under a source type directory")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep running and re-import changed files")
	cmd.Flags().DurationVar(&debounce, "debounce", 2*time.Second, "quiet period before a changed file is re-imported")
	return cmd
}

func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the ask_ai_act tool over MCP stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Infow("mcp server ready", "tool", mcpserver.ToolName)
			err = mcpserver.ServeStdio(ctx, mcpserver.New(a.chat(), a.logger), cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

func newClearCommand() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove imported documents from the store and the graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				fmt.Fprint(cmd.ErrOrStderr(), "This will permanently delete imported documents. Continue? [y/N]: ")
				answer, err := readLine(cmd.InOrStdin())
				if err != nil && !errors.Is(err, io.EOF) {
					return fmt.Errorf("read confirmation: %w", err)
				}
				answer = strings.ToLower(answer)
				if answer != "y" && answer != "yes" {
					fmt.Fprintln(cmd.ErrOrStderr(), "clear aborted")
					return nil
				}
			}

			ctx, cancel := signalContext()
			defer cancel()

			a, err := newApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.ingestion(corpus.SourceRegulation).Clear(ctx); err != nil {
				return err
			}
			a.logger.Info("corpus data removed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&confirmed, "confirm", false, "skip confirmation prompt")
	return cmd
}

func readLine(r io.Reader) (string, error) {
	scanner := bufio.NewScanner(r)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func printResponse(w io.Writer, resp chat.Response) {
	fmt.Fprintln(w, resp.Answer)
	if len(resp.Documents) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Sources:")
	for idx, doc := range resp.Documents {
		fmt.Fprintf(w, "%d. %s (%s, score %.2f)\n", idx+1, doc.Source, doc.SourceType, doc.Score)
		if len(doc.RelatedArticles) > 0 {
			fmt.Fprintf(w, "   Related articles: %s\n", strings.Join(doc.RelatedArticles, ", "))
		}
	}
}
