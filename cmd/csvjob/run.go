package main

import (
	"context"
	"fmt"
	"io"
	"log"

	"github.com/chtzvt/csvjob/cmd/csvjob/config"
	"github.com/chtzvt/csvjob/internal/etl"
	"github.com/chtzvt/csvjob/internal/job"
	"github.com/spf13/cobra"
)

type jobFlags struct {
	args     job.Args
	specFile string
}

// newJobCmd builds a command that runs one job. A non-empty step overrides
// the step named by the job spec.
func newJobCmd(g *globalOptions, use, short, step string) *cobra.Command {
	var f jobFlags
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runJob(cmd.Context(), g, f, step, cmd.OutOrStdout())
		},
	}
	// Job launchers append arguments of their own.
	cmd.FParseErrWhitelist.UnknownFlags = true

	fl := cmd.Flags()
	fl.StringVar(&f.args.JobName, job.ArgJobName, "", "job name (required)")
	fl.StringVar(&f.args.InputPath, job.ArgInputPath, "", "input dataset URI (required)")
	fl.StringVar(&f.args.OutputPath, job.ArgOutputPath, "", "output dataset URI, overwritten (required)")
	fl.StringVar(&f.args.QuarantinePath, job.ArgQuarantinePath, "", "dataset URI for rejected rows")
	fl.StringVar(&f.specFile, "spec", "", "JSON job spec; flags override its args")
	return cmd
}

func runJob(ctx context.Context, g *globalOptions, f jobFlags, step string, out io.Writer) error {
	spec := job.NewSpec(f.args)
	if f.specFile != "" {
		loaded, err := job.LoadFromFile(f.specFile)
		if err != nil {
			return fmt.Errorf("job spec: %w", err)
		}
		loaded.MergeArgs(f.args)
		spec = loaded
	}
	if step != "" {
		spec.Options.Step = step
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	cfg, err := config.LoadConfig(g.cfgFile)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	cfg.ApplyTo(spec)

	if g.quiet {
		out = io.Discard
	}
	logger := log.New(out, "[job] ", log.LstdFlags)

	env, err := newEnv(cfg, log.New(out, "[runtime] ", log.LstdFlags))
	if err != nil {
		return fmt.Errorf("boot failure: %w", err)
	}
	defer env.Close()

	p, err := etl.NewPipeline(spec, cfg.Storage, env.secrets, "", logger)
	if err != nil {
		return err
	}

	h, err := env.runtime.Init(ctx, spec.Args.JobName, spec.Args)
	if err != nil {
		return fmt.Errorf("init run: %w", err)
	}
	p.RunID = h.ID()

	summary, err := p.Run(ctx)
	if err != nil {
		if ferr := h.Fail(context.WithoutCancel(ctx), err); ferr != nil {
			logger.Printf("mark run %s failed: %v", h.ID(), ferr)
		}
		return fmt.Errorf("run %s: %w", h.ID(), err)
	}
	if err := h.Commit(ctx, summary); err != nil {
		return fmt.Errorf("commit run %s: %w", h.ID(), err)
	}
	return nil
}
