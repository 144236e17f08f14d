package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	var jobFile string
	var executorID string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Submit one job description and print its futures",
	}
	wf := registerWireFlags(cmd.Flags())
	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return doRunJob(cmd.Context(), wf, jobFile, executorID)
	}
	cmd.Flags().StringVar(&jobFile, "job", "", "path to a JSON or YAML job description")
	cmd.Flags().StringVar(&executorID, "executor-id", "", "executor ID (generated if empty)")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func doRunJob(ctx context.Context, wf *wireFlags, jobFile, executorID string) error {
	raw, err := os.ReadFile(jobFile)
	if err != nil {
		return fmt.Errorf("invokerctl: read job file: %w", err)
	}
	j, err := decodeJobFile(jobFile, raw)
	if err != nil {
		return err
	}
	if executorID != "" {
		j.ExecutorID = executorID
	}
	if j.ExecutorID == "" {
		j.ExecutorID = uuid.NewString()
	}

	w, err := buildWired(wf)
	if err != nil {
		return err
	}
	defer w.facade.Stop()
	defer w.bus.Close()

	futures, err := w.facade.Run(ctx, j)
	if err != nil {
		return fmt.Errorf("invokerctl: run job: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(futures)
}
