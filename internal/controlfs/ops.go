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
	"bytes"
	"context"
	"time"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"

	"github.com/typstlabs/shellescapefs/internal/hexcodec"
)

// FS implements fuseutil.FileSystem. Ops this façade has no use for (write,
// create, mkdir, rmdir, unlink, symlink, setattr, sync, xattrs) are
// inherited from NotImplementedFileSystem and answered with ENOSYS, which
// is how this system is "read-only from the kernel's perspective"
// (spec.md §1).
var _ fuseutil.FileSystem = &FS{}

func (fs *FS) Init(ctx context.Context, op *fuseops.InitOp) error {
	return nil
}

func (fs *FS) StatFS(ctx context.Context, op *fuseops.StatFSOp) error {
	return nil
}

func (fs *FS) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.debugf("controlfs: lookup %q", op.Name)

	if op.Parent != fuseops.RootInodeID {
		panic("controlfs: lookup with non-root parent, should be impossible")
	}

	name, isRoot := normalizeName(op.Name)
	now := fs.clock.Now()

	if isRoot {
		op.Entry = fuseops.ChildInodeEntry{
			Child:                fuseops.RootInodeID,
			Attributes:           rootAttrs(now),
			AttributesExpiration: now.Add(TTL),
			EntryExpiration:      now.Add(TTL),
		}
		return nil
	}

	var inode fuseops.InodeID
	switch name {
	case "exec":
		inode = fs.execInode
	case "wait":
		inode = fs.waitInode
	case "reset":
		inode = fs.resetInode
	case "diagnostics":
		inode = fs.diagnosticsInode
	case "stdout":
		inode = fs.stdoutInode
	case "stderr":
		inode = fs.stderrInode
	case "log":
		inode = fs.logInode
	default:
		if name == "" || !isAllHex(name) {
			return fuse.ENOENT
		}
		inode = fs.allocate(appendDataEntry{payload: []byte(name)})
	}

	op.Entry = fs.childEntry(inode, now)
	return nil
}

func (fs *FS) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.debugf("controlfs: getattr %d", op.Inode)

	now := fs.clock.Now()

	if op.Inode == fuseops.RootInodeID {
		op.Attributes = rootAttrs(now)
		op.AttributesExpiration = now.Add(TTL)
		return nil
	}

	re, ok := fs.inodes[op.Inode]
	if !ok {
		return fuse.ENOENT
	}

	op.Attributes = re.attrs(now)
	op.AttributesExpiration = now.Add(TTL)
	return nil
}

func (fs *FS) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) error {
	if op.Inode != fuseops.RootInodeID {
		return fuse.ENOENT
	}
	return nil
}

func (fs *FS) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.debugf("controlfs: readdir offset=%d", op.Offset)

	if op.Inode != fuseops.RootInodeID {
		panic("controlfs: readdir with non-root inode, should be impossible")
	}
	if op.Handle != 0 {
		panic("controlfs: readdir with non-zero handle, should be impossible")
	}

	entries := []fuseutil.Dirent{
		{Offset: 1, Inode: fuseops.RootInodeID, Name: ".", Type: fuseutil.DT_Directory},
		{Offset: 2, Inode: fuseops.RootInodeID, Name: "..", Type: fuseutil.DT_Directory},
		{Offset: 3, Inode: fs.execInode, Name: "exec", Type: fuseutil.DT_File},
		{Offset: 4, Inode: fs.waitInode, Name: "wait", Type: fuseutil.DT_File},
		{Offset: 5, Inode: fs.resetInode, Name: "reset", Type: fuseutil.DT_File},
		{Offset: 6, Inode: fs.diagnosticsInode, Name: "diagnostics", Type: fuseutil.DT_File},
		{Offset: 7, Inode: fs.stdoutInode, Name: "stdout", Type: fuseutil.DT_File},
		{Offset: 8, Inode: fs.stderrInode, Name: "stderr", Type: fuseutil.DT_File},
		{Offset: 9, Inode: fs.logInode, Name: "log", Type: fuseutil.DT_File},
	}

	if int(op.Offset) > len(entries) {
		return nil
	}

	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], e)
		if n == 0 {
			break
		}
		op.BytesRead += n
	}

	return nil
}

func (fs *FS) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (fs *FS) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.inodes[op.Inode]; !ok {
		return fuse.ENOENT
	}
	return nil
}

// ReadFile is the heart of the façade: spec.md §4.3's read(inode, offset,
// size). Every control-file and append-file side effect fires from here.
func (fs *FS) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.debugf("controlfs: read inode=%d offset=%d size=%d", op.Inode, op.Offset, len(op.Dst))

	re, ok := fs.inodes[op.Inode]
	if !ok {
		return fuse.ENOENT
	}

	window, triggered := sliceWindow(re.payload(), op.Offset, len(op.Dst))
	op.BytesRead = copy(op.Dst, window)

	if !triggered {
		return nil
	}

	switch e := re.entry.(type) {
	case execEntry:
		fs.doExec()
	case waitEntry:
		fs.waitOne()
	case resetEntry:
		fs.terminateAll()
	case appendDataEntry:
		fs.doAppend(e.payload)
	case resultEntry:
		// Reading a result file has no side effect.
	}

	return nil
}

func (fs *FS) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *FS) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) error {
	return nil
}

// childEntry builds a ChildInodeEntry for a named-pointer inode. Attributes
// are not separately cacheable from entry caching here (the reference
// implementation marks nothing as attribute-cacheable beyond the shared
// TTL); see the caching notes on samples/cachingfs in SPEC_FULL.md.
func (fs *FS) childEntry(inode fuseops.InodeID, now time.Time) fuseops.ChildInodeEntry {
	re := fs.inodes[inode]
	return fuseops.ChildInodeEntry{
		Child:                inode,
		Attributes:           re.attrs(now),
		AttributesExpiration: now.Add(TTL),
		EntryExpiration:      now.Add(TTL),
	}
}

// normalizeName applies spec.md §4.3's lookup name normalization. It
// returns ("", true) when the normalized name is the root directory itself.
func normalizeName(name string) (normalized string, isRoot bool) {
	b := []byte(name)

	if idx := bytes.LastIndexByte(b, '_'); idx >= 0 {
		b = b[idx+1:]
	}

	if string(b) == "." {
		return "", true
	}

	if idx := bytes.LastIndexByte(b, '.'); idx >= 0 {
		b = b[:idx]
	}

	return string(b), false
}

func isAllHex(name string) bool {
	for i := 0; i < len(name); i++ {
		if !hexcodec.IsHexByte(name[i]) {
			return false
		}
	}
	return true
}

// sliceWindow intersects [offset, offset+size) with payload, reporting
// whether the intersection is nonempty. This is spec.md §4.3's
// and_if_not_empty.
func sliceWindow(payload []byte, offset int64, size int) (window []byte, triggered bool) {
	if offset < 0 {
		offset = 0
	}

	start := offset
	if start > int64(len(payload)) {
		start = int64(len(payload))
	}

	end := start + int64(size)
	if end > int64(len(payload)) {
		end = int64(len(payload))
	}
	if end < start {
		end = start
	}

	return payload[start:end], end > start
}
