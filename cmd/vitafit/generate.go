package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"vitafit/internal/llm"
	"vitafit/internal/pipeline"
)

type generateFlags struct {
	task      string
	userID    string
	message   string
	text      string
	imagePath string
	options   map[string]string
}

func generateCmd() *cobra.Command {
	var f generateFlags

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run one generation and print the validated result as JSON",
		Example: `  vitafit generate --task chat --message "Posso tomar café na gravidez?"
  vitafit generate --task meal-plan --user 6f1c2a
  vitafit generate --task meal-analysis --image prato.jpg --option meal_type=lunch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.task, "task", "t", string(pipeline.TaskChat), "Task kind")
	cmd.Flags().StringVarP(&f.userID, "user", "u", "", "User id whose profile and memories are used (empty runs anonymously)")
	cmd.Flags().StringVarP(&f.message, "message", "m", "", "Chat message")
	cmd.Flags().StringVar(&f.text, "text", "", "Source text for extraction tasks")
	cmd.Flags().StringVar(&f.imagePath, "image", "", "Image file for attachment tasks")
	cmd.Flags().StringToStringVarP(&f.options, "option", "o", nil, "Task option as key=value (repeatable)")
	return cmd
}

func runGenerate(cmd *cobra.Command, f generateFlags) error {
	ctx := cmd.Context()
	cfg, l, err := setup()
	if err != nil {
		return err
	}
	defer l.Sync()

	invoker, err := llm.New(ctx, cfg.LLM)
	if err != nil {
		return fmt.Errorf("failed to create model client: %w", err)
	}

	opts := []pipeline.Option{
		pipeline.WithConfig(cfg.Pipeline),
		pipeline.WithTimeout(cfg.LLM.Timeout),
	}
	var gen *pipeline.Pipeline
	if f.userID != "" {
		store, err := connect(ctx, cfg.DB, l)
		if err != nil {
			return err
		}
		defer store.Close()
		gen = pipeline.New(invoker, store, store, store, l, opts...)
	} else {
		gen = pipeline.New(invoker, nil, nil, nil, l, opts...)
	}

	in := pipeline.TaskInput{Message: f.message, Text: f.text, Options: f.options}
	if f.imagePath != "" {
		data, err := os.ReadFile(f.imagePath)
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		in.Attachment = &llm.Attachment{MediaType: http.DetectContentType(data), Data: data}
	}

	out, err := gen.Run(ctx, pipeline.Request{UserID: f.userID, Task: pipeline.TaskKind(f.task), Input: in})
	if err != nil {
		var violation *pipeline.SchemaViolationError
		if errors.As(err, &violation) {
			for _, v := range violation.Violations {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s: want %s, got %s\n", v.Field, v.ExpectedType, v.Got)
			}
		}
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"request_id": out.RequestID,
		"task":       out.Result.Task,
		"status":     out.State,
		"missing":    out.Missing,
		"saved":      out.Saved,
		"result":     out.Result.Fields,
	})
}
