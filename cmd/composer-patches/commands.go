// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/composer-patches/cmd/composer-patches/internal/util"
	"github.com/AleutianAI/composer-patches/pkg/ux"
	"github.com/AleutianAI/composer-patches/pkg/validation"
)

// annotationMutates marks commands that write composer.json and therefore
// take the project lock.
const annotationMutates = "composer-patches/mutates"

// globalOptions are the persistent root flags.
type globalOptions struct {
	workingDir    string
	configPath    string
	assumeYes     bool
	noInteraction bool
	verbose       bool
	output        string
}

type addOptions struct {
	dir          string
	includeTests bool
}

type removeOptions struct {
	skipUninstall bool
}

// newRootCmd builds the command tree bound to a.
func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "composer-patches",
		Short: "Apply Gerrit changes as patches to Composer packages",
		Long: `composer-patches fetches changes from a Gerrit review server, turns them
into per-package patch files and records them in composer.json so a patch
applier plugin picks them up on the next install.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context(), cmd.Annotations[annotationMutates] == "true")
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.opts.workingDir, "working-dir", "d", ".", "Project directory containing composer.json")
	flags.StringVar(&a.opts.configPath, "config", "", "Configuration file (default ~/.composer-patches/config.yaml)")
	flags.BoolVarP(&a.opts.assumeYes, "yes", "y", false, "Answer yes to every question")
	flags.BoolVarP(&a.opts.noInteraction, "no-interaction", "n", false, "Do not ask any question, take the default answer")
	flags.BoolVarP(&a.opts.verbose, "verbose", "v", false, "Print debug logs to stderr")
	flags.StringVar(&a.opts.output, "output", "", "Output style: full, standard, minimal or machine")

	root.AddCommand(
		newAddCmd(a),
		newRemoveCmd(a),
		newUpdateCmd(a),
		newVerifyCmd(a),
		newRelockCmd(a),
		newListCmd(a),
	)
	return root
}

func mutating() map[string]string {
	return map[string]string{annotationMutates: "true"}
}

func changeIDArgs(cmd *cobra.Command, args []string) error {
	return validation.ValidateChangeIDs(args)
}

func packageArgs(cmd *cobra.Command, args []string) error {
	return validation.ValidatePackageNames(args)
}

func newAddCmd(a *app) *cobra.Command {
	var opts addOptions
	cmd := &cobra.Command{
		Use:         "add <change-id>...",
		Short:       "Fetch changes and record their patches",
		Args:        cobra.MatchAll(cobra.MinimumNArgs(1), changeIDArgs),
		Annotations: mutating(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runAdd(cmd.Context(), args, opts)
		},
	}
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Patch directory relative to the project (default from config)")
	cmd.Flags().BoolVar(&opts.includeTests, "include-tests", false, "Keep test files and switch affected packages to source installs")
	return cmd
}

func newRemoveCmd(a *app) *cobra.Command {
	var opts removeOptions
	cmd := &cobra.Command{
		Use:         "remove <change-id>...",
		Short:       "Delete the patches of tracked changes",
		Args:        cobra.MatchAll(cobra.MinimumNArgs(1), changeIDArgs),
		Annotations: mutating(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRemove(cmd.Context(), args, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.skipUninstall, "skip-uninstall", false, "Leave the affected packages installed")
	return cmd
}

func newUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "update [change-id...]",
		Short:       "Re-fetch tracked changes (all when none are given)",
		Args:        changeIDArgs,
		Annotations: mutating(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runUpdate(cmd.Context(), args)
		},
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "verify [package...]",
		Short:       "Find patches already included in the installed package versions",
		Args:        packageArgs,
		Annotations: mutating(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runVerify(cmd.Context(), args)
		},
	}
}

func newRelockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:         "relock",
		Short:       "Refresh composer.lock after composer.json changed",
		Args:        cobra.NoArgs,
		Annotations: mutating(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runRelock(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show tracked changes and their patch files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runList(cmd.OutOrStdout())
		},
	}
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, a *app, args []string) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)

	err := root.ExecuteContext(ctx)
	if closeErr := a.close(ctx); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		ux.Error(err.Error())
		if stderr := util.ExtractStderr(err); stderr != "" {
			ux.Muted(stderr)
		}
		return util.ExitCode(err)
	}
	return 0
}
