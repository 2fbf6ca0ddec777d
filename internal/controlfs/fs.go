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

// Package controlfs is the filesystem façade of spec.md §4.3: a read-only
// synthetic directory whose lookup and read callbacks double as a
// command-ingestion and command-triggering API for the shell worker pool in
// package shellworker.
package controlfs

import (
	"fmt"
	"log"
	"time"

	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/typstlabs/shellescapefs/internal/hexcodec"
	"github.com/typstlabs/shellescapefs/internal/shellworker"
)

// TTL is how long the kernel may cache entries and attributes we return,
// per spec.md §4.3 ("The caller caches the returned attributes for a
// 1-second TTL").
const TTL = time.Second

// fileInodeOffset is the first inode number handed out to a realized entry.
// Inode 1 is reserved for the root directory, per spec.md §3.
const fileInodeOffset fuseops.InodeID = 256

// FS is the control filesystem façade. It embeds
// fuseutil.NotImplementedFileSystem so that ops outside this façade's
// scope (write, create, mkdir, rmdir, unlink, symlink, setattr, sync,
// xattrs) answer ENOSYS automatically; the methods FS defines itself below
// take priority over the embedded defaults for the ops this façade does
// implement.
type FS struct {
	fuseutil.NotImplementedFileSystem

	clock timeutil.Clock

	// DebugLogger, if non-nil, receives a trace line for every lookup,
	// getattr, readdir and read, mirroring the teacher's
	// fuse.MountConfig.DebugLogger convention.
	DebugLogger *log.Logger

	// mu guards everything below. fuseutil's dispatcher runs each op on its
	// own goroutine ("must be safe for concurrent access via all methods"),
	// so even though the protocol expects a client to serialize its own
	// calls, two concurrent clients (or a client racing itself) must not
	// corrupt this state. Blocking inside wait_one/terminate_all while
	// holding mu is what gives the façade its documented "blocks all
	// filesystem operations from this mount" behavior (spec.md §5).
	mu syncutil.InvariantMutex

	decodedCommandBuffer []byte                             // GUARDED_BY(mu)
	inodes               map[fuseops.InodeID]realizedEntry // GUARDED_BY(mu)

	execInode        fuseops.InodeID // GUARDED_BY(mu)
	waitInode        fuseops.InodeID // GUARDED_BY(mu)
	resetInode       fuseops.InodeID // GUARDED_BY(mu)
	diagnosticsInode fuseops.InodeID // GUARDED_BY(mu)
	stdoutInode      fuseops.InodeID // GUARDED_BY(mu)
	stderrInode      fuseops.InodeID // GUARDED_BY(mu)
	logInode         fuseops.InodeID // GUARDED_BY(mu)

	commands chan<- shellworker.Command
	results  <-chan shellworker.FinishedCommand
}

// New builds an FS bound to the given command/result channels, which the
// caller is expected to have also handed to a running shellworker.Pool.
func New(
	clock timeutil.Clock,
	commands chan<- shellworker.Command,
	results <-chan shellworker.FinishedCommand,
) *FS {
	fs := &FS{
		clock:    clock,
		inodes:   make(map[fuseops.InodeID]realizedEntry),
		commands: commands,
		results:  results,
	}
	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	// Allocation order matches spec.md §4.3's readdir order, and the
	// reference implementation's constructor.
	fs.execInode = fs.allocate(execEntry{})
	fs.waitInode = fs.allocate(waitEntry{})
	fs.resetInode = fs.allocate(resetEntry{})
	fs.diagnosticsInode = fs.allocate(resultEntry{})
	fs.stdoutInode = fs.allocate(resultEntry{})
	fs.stderrInode = fs.allocate(resultEntry{})
	fs.logInode = fs.allocate(resultEntry{})

	return fs
}

// checkInvariants re-asserts the invariants of spec.md §3. It runs on every
// Lock/Unlock of mu via syncutil.InvariantMutex.
func (fs *FS) checkInvariants() {
	named := []fuseops.InodeID{
		fs.execInode, fs.waitInode, fs.resetInode,
		fs.diagnosticsInode, fs.stdoutInode, fs.stderrInode, fs.logInode,
	}
	for _, inode := range named {
		if _, ok := fs.inodes[inode]; !ok {
			panic(fmt.Sprintf("controlfs: named pointer %d has no realized entry", inode))
		}
	}

	if _, ok := fs.inodes[fs.execInode].entry.(execEntry); !ok {
		panic("controlfs: exec pointer does not refer to an exec entry")
	}
	if _, ok := fs.inodes[fs.waitInode].entry.(waitEntry); !ok {
		panic("controlfs: wait pointer does not refer to a wait entry")
	}
	if _, ok := fs.inodes[fs.resetInode].entry.(resetEntry); !ok {
		panic("controlfs: reset pointer does not refer to a reset entry")
	}
	for _, inode := range []fuseops.InodeID{fs.diagnosticsInode, fs.stdoutInode, fs.stderrInode, fs.logInode} {
		if _, ok := fs.inodes[inode].entry.(resultEntry); !ok {
			panic(fmt.Sprintf("controlfs: inode %d should be a result entry", inode))
		}
	}

	// The log pointer is bound once, by the seventh allocation in New, and
	// never rebound.
	if fs.logInode != fileInodeOffset+6 {
		panic(fmt.Sprintf("controlfs: log pointer was rebound to %d", fs.logInode))
	}
}

// allocate stores e under a freshly minted inode and returns it. Inode
// allocation is strictly monotonic and entries are never removed: this is
// the "known small leak" of spec.md §3/§9.
func (fs *FS) allocate(e entry) fuseops.InodeID {
	inode := fileInodeOffset + fuseops.InodeID(len(fs.inodes))
	fs.inodes[inode] = realizedEntry{inode: inode, entry: e}
	return inode
}

// setResult replaces the contents of a Result entry wholesale.
func (fs *FS) setResult(inode fuseops.InodeID, contents []byte) {
	fs.inodes[inode] = realizedEntry{inode: inode, entry: resultEntry{contents: contents}}
}

// appendLog appends one formatted line to the log file, per spec.md §4.3:
// "[buf=<current buffer, lossy-utf8>] <message>\n".
func (fs *FS) appendLog(message string) {
	line := fmt.Sprintf("[buf=%s] %s\n", lossyUTF8(fs.decodedCommandBuffer), message)

	re := fs.inodes[fs.logInode]
	existing := re.entry.(resultEntry)
	existing.contents = append(existing.contents, []byte(line)...)
	re.entry = existing
	fs.inodes[fs.logInode] = re
}

func (fs *FS) debugf(format string, args ...any) {
	if fs.DebugLogger != nil {
		fs.DebugLogger.Printf(format, args...)
	}
}

// doExec implements spec.md §4.3's do_exec.
func (fs *FS) doExec() {
	if len(fs.decodedCommandBuffer) == 0 {
		fs.appendLog("Ignoring execution because buffer is empty")
		return
	}

	fs.appendLog("Executing")

	command := fs.decodedCommandBuffer
	fs.decodedCommandBuffer = nil

	fs.commands <- shellworker.Execute{Payload: command}

	fs.execInode = fs.allocate(execEntry{})
}

// waitOne implements spec.md §4.3's wait_one.
func (fs *FS) waitOne() {
	fs.appendLog("Waiting")
	fs.waitInode = fs.allocate(waitEntry{})

	result := <-fs.results
	fs.appendLog("Received result")

	fs.diagnosticsInode = fs.allocate(resultEntry{})
	fs.stdoutInode = fs.allocate(resultEntry{})
	fs.stderrInode = fs.allocate(resultEntry{})

	execution, ok := result.(shellworker.Execution)
	if !ok {
		// Open Question #2 of spec.md §9: the reference implementation
		// aborts on an unpaired Termination racing a wait. We do the same.
		panic("controlfs: wait observed a Termination; a concurrent reset raced this wait")
	}

	diagnosticsJSON, err := shellworker.SummarizeJSON(execution)
	if err != nil {
		// Our own diagnosticsDocument always marshals; a failure here means
		// a programming error, not a runtime condition to recover from.
		panic(fmt.Sprintf("controlfs: failed to marshal diagnostics: %v", err))
	}
	fs.setResult(fs.diagnosticsInode, diagnosticsJSON)

	if ran, ok := execution.Result.(shellworker.Ran); ok {
		fs.setResult(fs.stdoutInode, ran.Stdout)
		fs.setResult(fs.stderrInode, ran.Stderr)
	}
}

// terminateAll implements spec.md §4.3's terminate_all.
func (fs *FS) terminateAll() {
	fs.commands <- shellworker.TerminateAll{}
	fs.appendLog("Terminating")

	fs.execInode = fs.allocate(execEntry{})
	fs.waitInode = fs.allocate(waitEntry{})
	fs.resetInode = fs.allocate(resetEntry{})
	fs.diagnosticsInode = fs.allocate(resultEntry{})
	fs.stdoutInode = fs.allocate(resultEntry{})
	fs.stderrInode = fs.allocate(resultEntry{})

	fs.decodedCommandBuffer = nil

	for {
		result := <-fs.results
		if _, ok := result.(shellworker.Termination); ok {
			break
		}
	}
}

// doAppend implements spec.md §4.3's do_append.
func (fs *FS) doAppend(hex []byte) {
	fs.decodedCommandBuffer = append(fs.decodedCommandBuffer, hexcodec.Decode(hex)...)
	fs.appendLog("Appended")
}

// lossyUTF8 mirrors Rust's String::from_utf8_lossy.
func lossyUTF8(b []byte) string {
	return string([]rune(string(b)))
}
