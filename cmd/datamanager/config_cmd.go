/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"datamanager/internal/config"
)

func newConfigCmd(cfgPath *string) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(*cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", *cfgPath)
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := config.Save(*cfgPath, config.Defaults()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Wrote", *cfgPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg)
		},
	}

	configCmd.AddCommand(initCmd, showCmd)
	return configCmd
}

var overrideKeys = []string{
	"server.addr",
	"server.static_dir",
	"storage.json_dir",
	"storage.sqlite_dir",
	"storage.json_backups",
	"sqlite.max_open_handles",
	"logging.level",
	"logging.format",
	"logging.source",
	"logging.file",
}

// printConfig writes cfg as YAML followed by the keys taken from the environment.
func printConfig(w io.Writer, cfg config.AppConfig) error {
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	for _, key := range overrideKeys {
		if env, set := config.EnvOverrideFor(key); set {
			if _, err := fmt.Fprintf(w, "# %s overridden by %s\n", key, env); err != nil {
				return err
			}
		}
	}
	return nil
}
