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

package controlfs_test

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"

	"github.com/typstlabs/shellescapefs/internal/controlfs"
	"github.com/typstlabs/shellescapefs/internal/shellworker"

	. "github.com/jacobsa/ogletest"
)

func TestControlFS(t *testing.T) { RunTests(t) }

// controlFSTest drives controlfs.FS directly through the fuseops structs
// its methods accept, the way samples/memfs's lower-level suites exercise
// FileSystem methods without requiring a live kernel mount.
type controlFSTest struct {
	clock    *timeutil.SimulatedClock

	commands chan shellworker.Command
	results  chan shellworker.FinishedCommand
	fs       *controlfs.FS

	rootIno fuseops.InodeID
}

func init() { RegisterTestSuite(&controlFSTest{}) }

func (t *controlFSTest) SetUp(ti *TestInfo) {
	t.clock = &timeutil.SimulatedClock{}
	t.clock.SetTime(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	t.commands = make(chan shellworker.Command, 8)
	t.results = make(chan shellworker.FinishedCommand, 8)
	t.fs = controlfs.New(t.clock, t.commands, t.results)
	t.rootIno = fuseops.RootInodeID
}

func (t *controlFSTest) lookup(name string) (fuseops.InodeID, error) {
	op := &fuseops.LookUpInodeOp{Parent: t.rootIno, Name: name}
	err := t.fs.LookUpInode(context.Background(), op)
	return op.Entry.Child, err
}

func (t *controlFSTest) readAt(inode fuseops.InodeID, offset int64, size int) ([]byte, error) {
	dst := make([]byte, size)
	op := &fuseops.ReadFileOp{Inode: inode, Offset: offset, Dst: dst}
	err := t.fs.ReadFile(context.Background(), op)
	return dst[:op.BytesRead], err
}

// appendHex looks up the append file named hex and reads it, which appends
// the decoded bytes to the command buffer.
func (t *controlFSTest) appendHex(hex string) {
	inode, err := t.lookup(hex)
	AssertEq(nil, err)

	_, err = t.readAt(inode, 0, 1)
	AssertEq(nil, err)
}

func (t *controlFSTest) ReaddirListsTheSevenNamedPointers() {
	op := &fuseops.ReadDirOp{Inode: t.rootIno, Dst: make([]byte, 4096)}
	AssertEq(nil, t.fs.ReadDir(context.Background(), op))
	ExpectTrue(op.BytesRead > 0)

	listing := op.Dst[:op.BytesRead]
	for _, name := range []string{"exec", "wait", "reset", "diagnostics", "stdout", "stderr", "log"} {
		ExpectTrue(bytes.Contains(listing, []byte(name)), "missing %q", name)
	}
}

func (t *controlFSTest) LookupOfUnknownDottedExtensionResolvesToAppendEntry() {
	inode, err := t.lookup("deadbeef.txt")
	AssertEq(nil, err)
	ExpectNe(0, inode)
}

func (t *controlFSTest) LookupOfNonHexNameIsRejected() {
	_, err := t.lookup("not-hex")
	ExpectEq(fuse.ENOENT, err)
}

func (t *controlFSTest) LookupStripsNoncePrefixAndDefeatsCaching() {
	// exec only rotates its inode after it has sent a command, so give it
	// something to send.
	t.appendHex("ab")

	a, err := t.lookup("n1_exec")
	AssertEq(nil, err)

	_, err = t.readAt(a, 0, 1)
	AssertEq(nil, err)

	b, err := t.lookup("n2_exec")
	AssertEq(nil, err)

	ExpectNe(a, b)
}

func (t *controlFSTest) ZeroByteReadDoesNotTriggerExec() {
	// With a non-empty buffer, a triggered exec would enqueue a command.
	t.appendHex("ab")

	execInode, err := t.lookup("exec")
	AssertEq(nil, err)

	_, err = t.readAt(execInode, 0, 0)
	AssertEq(nil, err)

	select {
	case cmd := <-t.commands:
		ExpectTrue(false, "unexpected command enqueued: %#v", cmd)
	default:
	}
}

func (t *controlFSTest) EmptyBufferExecIsANoOp() {
	execInode, err := t.lookup("exec")
	AssertEq(nil, err)

	_, err = t.readAt(execInode, 0, 1)
	AssertEq(nil, err)

	select {
	case cmd := <-t.commands:
		ExpectTrue(false, "unexpected command enqueued: %#v", cmd)
	default:
	}
}

func (t *controlFSTest) AppendThenExecEnqueuesDecodedCommand() {
	// "6563686f202d6e206869" is hex for "echo -n hi"; build it via a lookup
	// of the hex-named append file followed by a triggering read.
	hexName := "6563686f202d6e206869"
	appendInode, err := t.lookup(hexName)
	AssertEq(nil, err)

	_, err = t.readAt(appendInode, 0, 1)
	AssertEq(nil, err)

	execInode, err := t.lookup("exec")
	AssertEq(nil, err)

	_, err = t.readAt(execInode, 0, 1)
	AssertEq(nil, err)

	select {
	case cmd := <-t.commands:
		exec, ok := cmd.(shellworker.Execute)
		AssertTrue(ok)
		ExpectEq("echo -n hi", string(exec.Payload))
	default:
		ExpectTrue(false, "expected an Execute command to have been enqueued")
	}
}

func (t *controlFSTest) WaitPopulatesDiagnosticsStdoutAndStderr() {
	waitInode, err := t.lookup("wait")
	AssertEq(nil, err)

	t.results <- shellworker.Execution{
		Command: []byte("echo hi\n"),
		Result:  shellworker.Ran{ExitCode: 0, Stdout: []byte("hi\n")},
	}

	_, err = t.readAt(waitInode, 0, 1)
	AssertEq(nil, err)

	stdoutInode, err := t.lookup("stdout")
	AssertEq(nil, err)

	contents, err := t.readAt(stdoutInode, 0, 64)
	AssertEq(nil, err)
	ExpectEq("hi\n", string(contents))

	stderrInode, err := t.lookup("stderr")
	AssertEq(nil, err)

	contents, err = t.readAt(stderrInode, 0, 64)
	AssertEq(nil, err)
	ExpectEq("", string(contents))

	diagnosticsInode, err := t.lookup("diagnostics")
	AssertEq(nil, err)

	contents, err = t.readAt(diagnosticsInode, 0, 4096)
	AssertEq(nil, err)
	ExpectThat(string(contents), HasSubstr(`"error_code":0`))
}

func (t *controlFSTest) ResetDrainsTerminationAndResetsBuffer() {
	t.appendHex("ab")

	resetInode, err := t.lookup("reset")
	AssertEq(nil, err)

	t.results <- shellworker.Termination{}

	_, err = t.readAt(resetInode, 0, 1)
	AssertEq(nil, err)

	select {
	case cmd := <-t.commands:
		_, ok := cmd.(shellworker.TerminateAll)
		AssertTrue(ok)
	default:
		ExpectTrue(false, "expected a TerminateAll command to have been enqueued")
	}

	// The buffer was cleared, so a following exec has nothing to send.
	execInode, err := t.lookup("exec")
	AssertEq(nil, err)

	_, err = t.readAt(execInode, 0, 1)
	AssertEq(nil, err)

	select {
	case cmd := <-t.commands:
		ExpectTrue(false, "unexpected command enqueued: %#v", cmd)
	default:
	}
}
