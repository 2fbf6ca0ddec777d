// Copyright 2026 The shellescapefs Authors
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

// Package config is the flag/viper half of the CLI/config surface described
// in SPEC_FULL.md's Ambient Stack section, in the shape of
// GoogleCloudPlatform-gcsfuse's cfg/config.go. The cobra.Command root that
// uses it lives in cmd/shellescapefs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the fully resolved set of knobs for one mount, after flag
// parsing and environment binding have been merged by viper. No config
// file is read.
type Config struct {
	MountPoint string

	Debug        bool
	Shell        string
	PollInterval time.Duration
	ReadOnly     bool
	AllowOther   bool
}

const (
	debugFlag        = "debug"
	shellFlag        = "shell"
	pollIntervalFlag = "poll-interval"
	readOnlyFlag     = "read-only"
	allowOtherFlag   = "allow-other"

	// envPrefix is the SHELLESCAPEFS_* namespace viper binds flags under,
	// e.g. --poll-interval is also settable via SHELLESCAPEFS_POLL_INTERVAL.
	envPrefix = "SHELLESCAPEFS"
)

// BindFlags registers every flag this mount understands onto flagSet and
// binds each one into viper, following the one-flag-register-then-bind
// pattern cfg.BindFlags uses for every gcsfuse flag.
func BindFlags(flagSet *pflag.FlagSet) error {
	flagSet.Bool(debugFlag, false, "Trace every filesystem operation to stderr.")
	if err := viper.BindPFlag(debugFlag, flagSet.Lookup(debugFlag)); err != nil {
		return err
	}

	flagSet.String(shellFlag, "sh", "Interpreter used to run submitted commands, passed -c <command>.")
	if err := viper.BindPFlag(shellFlag, flagSet.Lookup(shellFlag)); err != nil {
		return err
	}

	flagSet.Duration(pollIntervalFlag, time.Second, "How often a worker checks for cancellation while its child runs.")
	if err := viper.BindPFlag(pollIntervalFlag, flagSet.Lookup(pollIntervalFlag)); err != nil {
		return err
	}

	flagSet.Bool(readOnlyFlag, true, "Mount read-only from the kernel's perspective.")
	if err := viper.BindPFlag(readOnlyFlag, flagSet.Lookup(readOnlyFlag)); err != nil {
		return err
	}

	flagSet.Bool(allowOtherFlag, true, "Allow users other than the mounting user to access the mount.")
	if err := viper.BindPFlag(allowOtherFlag, flagSet.Lookup(allowOtherFlag)); err != nil {
		return err
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	return nil
}

// Resolve reads the bound flags/environment back out of viper
// into a Config, given the positional mount point argument cobra already
// validated.
func Resolve(mountPoint string) (Config, error) {
	cfg := Config{
		MountPoint:   mountPoint,
		Debug:        viper.GetBool(debugFlag),
		Shell:        viper.GetString(shellFlag),
		PollInterval: viper.GetDuration(pollIntervalFlag),
		ReadOnly:     viper.GetBool(readOnlyFlag),
		AllowOther:   viper.GetBool(allowOtherFlag),
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.MountPoint == "" {
		return fmt.Errorf("mount point is required")
	}
	if cfg.Shell == "" {
		return fmt.Errorf("%s must not be empty", shellFlag)
	}
	if cfg.PollInterval <= 0 {
		return fmt.Errorf("%s must be positive", pollIntervalFlag)
	}
	return nil
}
