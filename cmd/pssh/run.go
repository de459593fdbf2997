package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/andrej220/pssh/internal/lg"
	"github.com/andrej220/pssh/pkg/config"
	"github.com/andrej220/pssh/pkg/executor"
	"github.com/andrej220/pssh/pkg/fanout"
	"github.com/andrej220/pssh/pkg/models"
	"github.com/andrej220/pssh/pkg/presenter"
	"github.com/andrej220/pssh/pkg/sequencer"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"
)

const serviceName = "pssh"

// execute resolves hosts, runs op on all of them and presents the results.
// The returned error wraps presenter.ErrHostsFailed when the run itself
// worked but some hosts did not succeed.
func (a *app) execute(cmd *cobra.Command, op models.Operation) error {
	if err := op.Validate(); err != nil {
		return err
	}

	logger := lg.New(lg.NewConfig(serviceName, a.flags.debug, a.flags.logFormat))
	defer logger.Sync()

	hosts, err := config.Resolve(a.hostOptions(cmd))
	if err != nil {
		return err
	}

	run := presenter.NewRun(op)
	logger = logger.With(lg.String("run", run.ID.String()))
	ctx := lg.Attach(cmd.Context(), logger)
	logger.Debug("starting run",
		lg.String("op", op.Kind.String()),
		lg.Int("hosts", len(hosts)),
		lg.Int("workers", a.flags.numThreads),
		lg.Bool("stable", a.flags.stable))

	sinks, err := a.presenters(ctx, run)
	if err != nil {
		return err
	}
	summary := &presenter.Summary{}
	sinks = append(sinks, summary)

	exec := executor.New(a.provider, executor.WithFs(a.fs), executor.WithMaxOutput(a.flags.maxOutput))
	sched, err := fanout.New(exec, a.flags.numThreads)
	if err != nil {
		sinks.Close()
		return err
	}
	events, err := sched.Run(ctx, hosts, op)
	if err != nil {
		sinks.Close()
		return err
	}

	mode := sequencer.Immediate
	if a.flags.stable {
		mode = sequencer.Stable
	}
	drainErr := sequencer.Drain(ctx, events, len(hosts), mode, sinks)
	closeErr := sinks.Close()

	if errors.Is(drainErr, sequencer.ErrIncomplete) || errors.Is(drainErr, sequencer.ErrInvalidIndex) {
		return fmt.Errorf("internal error: %w", drainErr)
	}

	var result *multierror.Error
	if drainErr != nil {
		result = multierror.Append(result, fmt.Errorf("presenting results: %w", drainErr))
	}
	if closeErr != nil {
		result = multierror.Append(result, fmt.Errorf("closing outputs: %w", closeErr))
	}
	if err := summary.Err(); err != nil {
		result = multierror.Append(result, err)
	}
	logger.Debug("run finished", lg.Int("ok", summary.OK), lg.Int("failed", summary.Failed), lg.Int("errored", summary.Errored))
	return result.ErrorOrNil()
}

// presenters builds the output chain for a run: the terminal always, plus
// each sink that was configured.
func (a *app) presenters(ctx context.Context, run presenter.Run) (presenter.Multi, error) {
	sinks := presenter.Multi{presenter.NewTerminal(a.stdout, a.flags.noColor)}

	if a.flags.report != "" {
		sinks = append(sinks, presenter.NewReport(a.fs, a.flags.report, run))
	}
	if len(a.flags.kafkaBrokers) > 0 {
		sinks = append(sinks, presenter.NewKafka(a.flags.kafkaBrokers, a.flags.kafkaTopic, run))
	}
	if a.flags.mongoURI != "" {
		m, err := presenter.NewMongo(ctx, a.flags.mongoURI, a.flags.mongoDB, a.flags.mongoCollection, run)
		if err != nil {
			sinks.Close()
			return nil, err
		}
		sinks = append(sinks, m)
	}
	return sinks, nil
}
