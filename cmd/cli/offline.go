package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"exam-grader/internal/analyzer"
	"exam-grader/internal/cache"
	"exam-grader/internal/catalog"
	"exam-grader/internal/intake"
	"exam-grader/internal/synth"
)

var (
	catalogPath string
	redisURL    string
	queue       string
	mode        string
	waitFor     time.Duration
)

// loadCatalog returns the TOML catalog named by --catalog, or the built-in one.
func loadCatalog() (*catalog.Catalog, error) {
	if catalogPath == "" {
		return catalog.Default(), nil
	}
	return catalog.LoadFile(catalogPath)
}

func question(id int) (*catalog.Question, error) {
	cat, err := loadCatalog()
	if err != nil {
		return nil, err
	}
	q, ok := cat.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w %d", catalog.ErrUnknownQuestion, id)
	}
	return q, nil
}

func synthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "synth [file]",
		Short: "Print the program that would be compiled for a solution",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			q, err := question(questionID)
			if err != nil {
				return err
			}
			src, err := readSource(args)
			if err != nil {
				return err
			}
			prog := synth.Synthesize(q, src)
			if prog.UsedStub {
				fmt.Fprintf(os.Stderr, "%s not found, using the default stub\n", q.Function)
			}
			fmt.Print(prog.Source)
			return nil
		},
	}
	cmd.Flags().IntVarP(&questionID, "question", "q", 0, "Question ID")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "TOML question catalog (default: built-in)")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

func analyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analyze [file]",
		Short: "Estimate the time complexity of a solution",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			q, err := question(questionID)
			if err != nil {
				return err
			}
			src, err := readSource(args)
			if err != nil {
				return err
			}
			formatted, _ := json.MarshalIndent(analyzer.Analyze(src, q.Profile), "", "  ")
			fmt.Println(string(formatted))
			return nil
		},
	}
	cmd.Flags().IntVarP(&questionID, "question", "q", 0, "Question ID")
	cmd.Flags().StringVar(&catalogPath, "catalog", "", "TOML question catalog (default: built-in)")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}

// enqueueCmd pushes a job straight onto the Redis intake queue and waits for
// the reply, bypassing the HTTP API.
func enqueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "enqueue [file]",
		Short: "Grade a solution through the Redis job queue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			src, err := readSource(args)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), waitFor+5*time.Second)
			defer cancel()

			rdb, err := cache.Connect(ctx, redisURL)
			if err != nil {
				return err
			}
			defer rdb.Close()

			c := intake.NewConsumer(rdb, nil, intake.Options{Queue: queue})
			jobID := uuid.New().String()
			if err := c.Enqueue(ctx, intake.Payload{
				JobID:      jobID,
				QuestionID: questionID,
				Source:     src,
				Mode:       mode,
			}); err != nil {
				return err
			}

			reply, err := c.Await(ctx, jobID, waitFor)
			if err != nil {
				return err
			}
			formatted, _ := json.MarshalIndent(reply, "", "  ")
			fmt.Println(string(formatted))
			if reply.Error != "" {
				return fmt.Errorf("job %s: %s", jobID, reply.Error)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&questionID, "question", "q", 0, "Question ID")
	cmd.Flags().StringVar(&redisURL, "redis", envOr("REDIS_URL", "redis://localhost:6379/0"), "Redis URL")
	cmd.Flags().StringVar(&queue, "queue", intake.DefaultQueue, "Job queue name")
	cmd.Flags().StringVar(&mode, "mode", string(catalog.ModeFull), "full or limited")
	cmd.Flags().DurationVar(&waitFor, "wait", time.Minute, "How long to wait for the result")
	_ = cmd.MarkFlagRequired("question")
	return cmd
}
