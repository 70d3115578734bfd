package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/rendis/flowrun/internal/api"
	"github.com/rendis/flowrun/internal/diagram"
	"github.com/rendis/flowrun/internal/store"
	"github.com/rendis/flowrun/pkg/mcp"
	"github.com/rendis/flowrun/pkg/schema"
)

// errRunFailed makes the process exit non-zero after the result was printed.
var errRunFailed = errors.New("workflow run failed")

func newRunCmd(rf *rootFlags) *cobra.Command {
	var (
		inputs    []string
		inputFile string
		persist   bool
	)
	cmd := &cobra.Command{
		Use:   "run <workflow-file>",
		Short: "Execute a workflow file and print its result as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			def, err := loadDefinition(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			input, err := buildInput(inputFile, inputs, cmd.InOrStdin())
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			a, err := newApp(ctx, cfg, appOptions{withStore: persist, logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			result, err := a.engine.Run(ctx, def, input)
			if err != nil {
				return err
			}
			if a.store != nil {
				rec := &store.ExecutionRecord{ID: result.ExecutionID, WorkflowID: def.ID, Input: input, Result: result}
				if err := a.store.SaveExecution(ctx, rec); err != nil {
					a.logger.Warn("failed to persist execution", "error", err.Error())
				}
			}
			if err := writeJSON(cmd.OutOrStdout(), result); err != nil {
				return err
			}
			if !result.Success {
				return errRunFailed
			}
			return nil
		},
	}
	cmd.Flags().StringArrayVarP(&inputs, "input", "i", nil, "input override as key=value (repeatable)")
	cmd.Flags().StringVar(&inputFile, "input-file", "", "YAML or JSON file with input overrides")
	cmd.Flags().BoolVar(&persist, "persist", false, "record the execution in the database")
	return cmd
}

func newValidateCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <workflow-file>",
		Short: "Check a workflow file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			def, err := loadDefinition(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			vr := a.engine.Validate(def)
			out := cmd.OutOrStdout()
			for _, issue := range vr.Errors {
				fmt.Fprintf(out, "error   %s: %s\n", issue.Path, issue.Message)
			}
			for _, issue := range vr.Warnings {
				fmt.Fprintf(out, "warning %s: %s\n", issue.Path, issue.Message)
			}
			if !vr.Valid() {
				return vr.ToError()
			}
			fmt.Fprintf(out, "%s: ok (%d steps)\n", def.ID, len(def.Steps))
			return nil
		},
	}
}

func newToolsCmd(rf *rootFlags) *cobra.Command {
	var category string
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "List the tools workflow steps can call",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, appOptions{logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tCATEGORY\tDESCRIPTION")
			for _, d := range a.registry.List() {
				if category != "" && string(d.Category) != category {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Name, d.Category, d.Description)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only list this category")
	return cmd
}

func newDiagramCmd(rf *rootFlags) *cobra.Command {
	var (
		format     string
		resultFile string
		output     string
	)
	cmd := &cobra.Command{
		Use:   "diagram <workflow-file>",
		Short: "Render a workflow as Mermaid, DOT, ASCII, or PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := rf.load(); err != nil {
				return err
			}
			if diagram.Format(format) == diagram.FormatPNG && output == "" {
				return errors.New("png output requires --output")
			}
			def, err := loadDefinition(args[0], cmd.InOrStdin())
			if err != nil {
				return err
			}
			var runLog []schema.LogEntry
			if resultFile != "" {
				res, err := loadResult(resultFile)
				if err != nil {
					return err
				}
				runLog = res.Log
			}

			model, err := diagram.Build(def, runLog)
			if err != nil {
				return err
			}
			data, err := diagram.Render(cmd.Context(), model, diagram.Format(format))
			if err != nil {
				return err
			}
			if output != "" {
				return os.WriteFile(output, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", string(diagram.FormatMermaid), "mermaid, dot, ascii, or png")
	cmd.Flags().StringVar(&resultFile, "result", "", "execution result JSON to overlay step statuses")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to file instead of stdout")
	return cmd
}

func newServeCmd(rf *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP run API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			a, err := newApp(ctx, cfg, appOptions{withStore: true, withHub: true, logOutput: cmd.ErrOrStderr()})
			if err != nil {
				return err
			}
			defer a.Close()

			srv, err := api.NewServer(api.Deps{
				Engine:          a.engine,
				Store:           a.storeOrNil(),
				Events:          a.events,
				Hub:             a.hub,
				IdempotencyTTL:  cfg.HTTP.IdempotencyTTL,
				IdempotencySize: cfg.HTTP.IdempotencySize,
				Logger:          a.logger,
			})
			if err != nil {
				return err
			}
			return srv.Start(ctx, cfg.HTTP.ListenAddr)
		},
	}
	cmd.Flags().String("listen", "", "listen address (default :4100)")
	_ = rf.v.BindPFlag("http.listen_addr", cmd.Flags().Lookup("listen"))
	return cmd
}

func newMCPCmd(rf *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tool interface over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := rf.load()
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			// stdout carries the protocol; logs must stay on stderr.
			a, err := newApp(ctx, cfg, appOptions{withStore: true, withNotifier: true, logOutput: os.Stderr})
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewFlowServer(mcp.FlowServerDeps{
				Engine:   a.engine,
				Store:    a.storeOrNil(),
				Notifier: a.notifier,
				Logger:   a.logger,
			})
			a.logger.Info("mcp server starting", "tools", a.registry.Count())
			return srv.Serve(ctx)
		},
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
