// Command kgrader grades the submissions of a folder, one boot at a time.
// It is meant to be started on every boot of the grading machine.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"
	"github.com/viant/kgrader"
	"github.com/viant/kgrader/model"
	"github.com/viant/kgrader/service/orchestrator"
	"github.com/viant/kgrader/service/rendezvous"
	_ "github.com/viant/kgrader/service/suite/devicecheck"
	"gopkg.in/yaml.v3"
)

func main() {
	// children forked by test cases never get past this line
	rendezvous.Init()

	cmd := &cli.Command{
		Name:      "kgrader",
		Usage:     "grade kernel and kernel module submissions across reboots",
		Version:   kgrader.Version,
		ArgsUsage: "[submissions folder]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				Sources: cli.EnvVars("KGRADER_CONFIG"),
			},
			&cli.BoolFlag{Name: "init", Usage: "initialize the grader for the submissions folder and reboot"},
			&cli.BoolFlag{Name: "reset", Usage: "remove the grader state and restore normal boot"},
			&cli.StringFlag{Name: "suite", Aliases: []string{"t"}, Usage: "test suite to grade with"},
			&cli.BoolFlag{Name: "break", Aliases: []string{"b"}, Usage: "stop before testing for manual inspection"},
			&cli.StringFlag{Name: "trace", Usage: "write trace spans to file"},
		},
		Action: run,
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage:  "print the grader state, run ledger and queue counts",
				Action: status,
			},
		},
	}
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "kgrader:", err)
		if model.IsInfrastructure(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func newService(ctx context.Context, cmd *cli.Command, opts ...kgrader.Option) (*kgrader.Service, error) {
	cfg, err := kgrader.LoadConfig(ctx, cmd.String("config"))
	if err != nil {
		return nil, err
	}
	if suite := cmd.String("suite"); suite != "" {
		cfg.Suite = suite
	}
	if cmd.IsSet("break") {
		cfg.Break = cmd.Bool("break")
	}
	if trace := cmd.String("trace"); trace != "" {
		opts = append(opts, kgrader.WithTracing(trace))
	}
	return kgrader.New(cfg, opts...)
}

func run(ctx context.Context, cmd *cli.Command) error {
	if cmd.Bool("init") && cmd.Bool("reset") {
		return errors.New("--init and --reset are exclusive")
	}
	srv, err := newService(ctx, cmd)
	if err != nil {
		return err
	}
	defer srv.Close()

	switch {
	case cmd.Bool("reset"):
		return srv.Reset(ctx)
	case cmd.Bool("init"):
		return srv.Init(ctx, cmd.Args().First())
	}
	state, err := srv.Run(ctx)
	if err != nil {
		return err
	}
	switch state {
	case orchestrator.StateDrainEmpty:
		fmt.Println("all submissions graded")
	case orchestrator.StateHalted:
		fmt.Println("grader halted")
	}
	return nil
}

func status(ctx context.Context, cmd *cli.Command) error {
	srv, err := newService(ctx, cmd, kgrader.WithPrompt(nil))
	if err != nil {
		return err
	}
	defer srv.Close()
	snapshot, err := srv.Status(ctx)
	if err != nil {
		return err
	}
	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	return encoder.Encode(snapshot)
}
