// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// labforge runs VM-backed sysadmin practice challenges: it snapshots a
// libvirt domain, drives the challenge setup over SSH, validates the
// resulting state and prints a scored run report.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/alexandremahdhaoui/labforge/internal/util/logging"
	"github.com/alexandremahdhaoui/labforge/pkg/challenge"
	"github.com/alexandremahdhaoui/labforge/pkg/check"
	"github.com/alexandremahdhaoui/labforge/pkg/engine"
	"github.com/alexandremahdhaoui/labforge/pkg/runctx"
	"github.com/alexandremahdhaoui/labforge/pkg/vmm"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type app struct {
	config *Config
	logger logr.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	var configPath string

	root := &cobra.Command{
		Use:           "labforge",
		Short:         "Run VM-backed sysadmin practice challenges",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv(ConfigPathEnvKey)
			}

			config, err := LoadConfig(configPath)
			if err != nil {
				return err
			}
			a.config = config

			if config.DevelopmentMode {
				a.logger = logging.SetupDevelopment()
			} else {
				a.logger = logging.SetupDefault()
			}

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the config file (defaults to $"+ConfigPathEnvKey+")")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newValidateCmd(a))
	root.AddCommand(newResolveIPCmd(a))

	return root
}

func newRunCmd(a *app) *cobra.Command {
	var (
		vmName       string
		snapshotName string
		revert       bool
		keepSnapshot bool
	)

	cmd := &cobra.Command{
		Use:   "run <challenge.yaml>",
		Short: "Execute a challenge against a VM and print the run report",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := challenge.NewLoader("").Load(args[0])
			if err != nil {
				return err
			}

			manager, err := vmm.NewManager(a.config.ConnectURI)
			if err != nil {
				return err
			}
			defer manager.Close()

			if a.config.MetricsServer.Enabled {
				srv := setupMetricsServer(a.config)
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						slog.Error("metrics server failed", "err", err)
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rep := a.runChallenge(ctx, manager, def, runOptions{
				vmName:       vmName,
				snapshotName: snapshotName,
				revert:       revert,
				keepSnapshot: keepSnapshot,
			})

			if err := printReport(cmd, rep); err != nil {
				return err
			}

			if rep.Outcome != engine.OutcomeSuccess {
				return fmt.Errorf("run %s: %s", rep.Outcome, rep.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&vmName, "vm", "", "target libvirt domain name")
	cmd.Flags().StringVar(&snapshotName, "snapshot", "", "baseline snapshot name (empty disables snapshotting)")
	cmd.Flags().BoolVar(&revert, "revert", false, "revert to the baseline snapshot during cleanup")
	cmd.Flags().BoolVar(&keepSnapshot, "keep-snapshot", false, "keep the baseline snapshot after cleanup")
	_ = cmd.MarkFlagRequired("vm")

	return cmd
}

type runOptions struct {
	vmName       string
	snapshotName string
	revert       bool
	keepSnapshot bool
}

func (a *app) runChallenge(
	ctx context.Context,
	hypervisor engine.Hypervisor,
	def *challenge.Definition,
	opts runOptions,
) *engine.RunReport {
	config := a.config
	commandTimeout := time.Duration(config.CommandTimeoutSeconds) * time.Second

	rctx := runctx.New(config.SSHUser, config.SSHKeyPath,
		runctx.WithSSHPort(config.SSHPort),
		runctx.WithConnectTimeout(time.Duration(config.ConnectTimeoutSeconds)*time.Second),
		runctx.WithCommandTimeout(commandTimeout),
		runctx.WithReadyTimeout(time.Duration(config.ReadyTimeoutSeconds)*time.Second),
		runctx.WithPollInterval(time.Duration(config.PollIntervalSeconds)*time.Second))

	eng := engine.New(hypervisor, check.NewRegistry(check.WithTimeout(commandTimeout)),
		engine.WithLogger(a.logger))

	spec := engine.RunSpec{ //nolint:exhaustruct
		Definition:       def,
		VMName:           opts.vmName,
		RunCtx:           rctx,
		BaselineSnapshot: opts.snapshotName,
		RevertOnCleanup:  opts.revert,
		KeepSnapshot:     opts.keepSnapshot,
	}

	// Unattended runs without a simulation command skip the wait for a
	// human action; validation observes the state setup produced.
	if def.UserActionSimulation == "" {
		done := make(chan struct{})
		close(done)
		spec.ActionDone = done
	}

	return eng.NewRun(spec).Execute(ctx)
}

func printReport(cmd *cobra.Command, rep *engine.RunReport) error {
	out, err := yaml.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshalling run report: %w", err)
	}

	_, err = fmt.Fprint(cmd.OutOrStdout(), string(out))
	return err
}

func newValidateCmd(_ *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <challenge.yaml>...",
		Short: "Validate challenge definition files without executing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := challenge.NewLoader("")

			defs, errs := loader.LoadMultiple(args)
			for _, def := range defs {
				fmt.Fprintf(cmd.OutOrStdout(), "OK: %s (%s)\n", def.ID, def.Name)
			}

			if len(errs) > 0 {
				return errors.Join(errs...)
			}
			return nil
		},
	}
}

func newResolveIPCmd(a *app) *cobra.Command {
	var vmName string

	cmd := &cobra.Command{
		Use:   "resolve-ip",
		Short: "Resolve the IPv4 address of a running VM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := vmm.NewManager(a.config.ConnectURI)
			if err != nil {
				return err
			}
			defer manager.Close()

			ip, err := manager.ResolveVMIP(vmName)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), ip)
			return nil
		},
	}

	cmd.Flags().StringVar(&vmName, "vm", "", "target libvirt domain name")
	_ = cmd.MarkFlagRequired("vm")

	return cmd
}
