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

package controlfs

import (
	"os"
	"time"

	"github.com/jacobsa/fuse/fuseops"
)

// successMessage is the fixed one-byte payload returned by every control
// file and append file on a triggering read (spec.md §3).
var successMessage = []byte("!")

// entry is the discriminated filesystem-entry value of spec.md §3. Each
// variant is a distinct Go type implementing this marker interface, the
// same idiom the rest of this tree uses for Command/ExecutionResult in
// package shellworker.
type entry interface {
	isEntry()
}

// execEntry is the exec control file: reading it drains the command buffer
// and enqueues an Execute.
type execEntry struct{}

func (execEntry) isEntry() {}

// waitEntry is the wait control file: reading it blocks for one finished
// command and populates diagnostics/stdout/stderr.
type waitEntry struct{}

func (waitEntry) isEntry() {}

// resetEntry is the reset control file: reading it cancels every in-flight
// command and clears all state.
type resetEntry struct{}

func (resetEntry) isEntry() {}

// appendDataEntry is a transient file whose basename is the hex payload to
// append to the command buffer on read.
type appendDataEntry struct {
	payload []byte
}

func (appendDataEntry) isEntry() {}

// resultEntry is a plain data file: diagnostics, stdout, stderr and log.
type resultEntry struct {
	contents []byte
}

func (resultEntry) isEntry() {}

// realizedEntry pairs an inode number with the entry currently bound to it.
type realizedEntry struct {
	inode fuseops.InodeID
	entry entry
}

// payload returns the bytes a read of this entry serves, before any
// side-effect fires.
func (r realizedEntry) payload() []byte {
	switch e := r.entry.(type) {
	case resultEntry:
		return e.contents
	default:
		return successMessage
	}
}

// attrs reports this entry's attributes as of now, per spec.md §3: regular
// file, read-only, size equal to the current payload length, timestamps set
// to now, link count zero.
func (r realizedEntry) attrs(now time.Time) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:  uint64(len(r.payload())),
		Nlink: 0,
		Mode:  0444,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Crtime: now,
	}
}

// rootAttrs reports the attributes of the root directory (inode 1).
func rootAttrs(now time.Time) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 0,
		Mode:  os.ModeDir | 0555,
		Atime: now,
		Mtime: now,
		Ctime: now,
		Crtime: now,
	}
}
