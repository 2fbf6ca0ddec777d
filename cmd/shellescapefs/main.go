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

// Command shellescapefs mounts the shell-escape control filesystem at a
// caller-supplied directory, following the mount_hello/mount_readbenchfs
// convention of github.com/jacobsa/fuse/samples.
package main

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/timeutil"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/typstlabs/shellescapefs/internal/config"
	"github.com/typstlabs/shellescapefs/internal/controlfs"
	"github.com/typstlabs/shellescapefs/internal/shellworker"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "shellescapefs mount_point",
		Short: "Mount a synthetic command-execution control filesystem",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Resolve(args[0])
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	if err := config.BindFlags(root.Flags()); err != nil {
		log.Fatalf("binding flags: %v", err)
	}
	cobra.OnInitialize(func() {
		if err := viper.BindPFlags(root.Flags()); err != nil {
			log.Fatalf("binding pflags: %v", err)
		}
	})

	return root
}

func run(ctx context.Context, cfg config.Config) error {
	commands := make(chan shellworker.Command)
	results := make(chan shellworker.FinishedCommand)

	pool := shellworker.NewPool(commands, results)
	pool.ShellPath = cfg.Shell
	pool.PollInterval = cfg.PollInterval
	pool.Logger = log.New(os.Stderr, "shellworker: ", 0)
	go pool.Run()
	defer close(commands)

	if err := prepareMountPoint(cfg.MountPoint); err != nil {
		return err
	}

	fs := controlfs.New(timeutil.RealClock(), commands, results)

	mountCfg := &fuse.MountConfig{
		ReadOnly: cfg.ReadOnly,
	}
	if cfg.Debug {
		mountCfg.DebugLogger = log.New(os.Stderr, "fuse: ", 0)
		fs.DebugLogger = log.New(os.Stderr, "", 0)
	}
	if cfg.AllowOther {
		mountCfg.Options = map[string]string{"allow_other": ""}
	}

	mfs, err := fuse.Mount(cfg.MountPoint, fuseutil.NewFileSystemServer(fs), mountCfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Printf("shellescapefs: received signal, unmounting %s", cfg.MountPoint)
		if err := fusermountUnmount(cfg.MountPoint); err != nil {
			log.Printf("shellescapefs: unmount failed: %v", err)
		}
	}()

	if err := mfs.Join(ctx); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	return nil
}

// prepareMountPoint implements spec.md §6's mount-point precondition: the
// directory is created if absent; if something else already exists there
// and it isn't a directory, startup fails rather than mounting over it.
func prepareMountPoint(dir string) error {
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		return os.MkdirAll(dir, 0755)
	case err != nil:
		return fmt.Errorf("statting mount point: %w", err)
	case !info.IsDir():
		return fmt.Errorf("mount point %s exists and is not a directory", dir)
	default:
		return nil
	}
}

// fusermountUnmount shells out to fusermount -u, the same mechanism the
// jacobsa/fuse package itself uses internally to unmount on Linux. The
// reference implementation relies on fuser's AutoUnmount mount option,
// which this binding has no equivalent for; calling out on signal receipt
// is the closest match without one.
func fusermountUnmount(dir string) error {
	cmd := exec.Command("fusermount", "-u", dir)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		if output.Len() > 0 {
			return fmt.Errorf("%w: %s", err, bytes.TrimRight(output.Bytes(), "\n"))
		}
		return err
	}
	return nil
}
