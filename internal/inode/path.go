package inode

import (
	"strings"

	"github.com/vexfs/vexfs"
	"github.com/vexfs/vexfs/internal/ondisk"
)

// ResolveFlags mirror the PathResolution flags spec §4.3 names.
type ResolveFlags struct {
	// NoFollow disables symlink following on the final path component.
	NoFollow bool
}

// symlinkTarget reads a symlink's target string out of the bytes stored in
// its vector-free direct blocks (a symlink inode never carries a vector
// payload, so its first direct block's leading Size bytes hold the target
// path, the same layout the teacher uses for ext4 fast/slow symlinks).
func (m *Manager) symlinkTarget(in *ondisk.Inode) (string, error) {
	if in.Direct[0] == 0 {
		return "", vexfs.Errorf(vexfs.ErrCorruption, "symlinkTarget", "symlink inode has no target block")
	}
	raw, err := m.Store.ReadBlock(vexfs.BlockID(in.Direct[0]))
	if err != nil {
		return "", err
	}
	n := in.Size
	if n > uint64(len(raw)) {
		n = uint64(len(raw))
	}
	return string(raw[:n]), nil
}

// Resolve walks path components left to right from root, following
// symlinks up to vexfs.MaxSymlinkDepth deep (spec §4.3: fails with Loop
// beyond that cap). NoFollow disables following a symlink at the final
// component only, matching POSIX O_NOFOLLOW semantics.
func (m *Manager) Resolve(root vexfs.InodeID, path string, flags ResolveFlags) (vexfs.InodeID, ondisk.FileType, error) {
	return m.resolve(root, path, flags, 0)
}

func (m *Manager) resolve(root vexfs.InodeID, path string, flags ResolveFlags, depth int) (vexfs.InodeID, ondisk.FileType, error) {
	if depth > vexfs.MaxSymlinkDepth {
		return vexfs.NullInode, 0, vexfs.Errorf(vexfs.ErrLoop, "Resolve", "symlink depth exceeds %d", vexfs.MaxSymlinkDepth)
	}
	components := splitPath(path)
	cur := root
	var curType ondisk.FileType = ondisk.TypeDirectory

	for i, comp := range components {
		if comp == "" || comp == "." {
			continue
		}
		id, ft, err := m.Lookup(cur, comp)
		if err != nil {
			return vexfs.NullInode, 0, err
		}
		isLast := i == len(components)-1
		if ft == ondisk.TypeSymlink && !(isLast && flags.NoFollow) {
			in, err := m.Cache.Get(id)
			if err != nil {
				return vexfs.NullInode, 0, err
			}
			target, err := m.symlinkTarget(in)
			if err != nil {
				return vexfs.NullInode, 0, err
			}
			resolvedRoot := cur
			if strings.HasPrefix(target, "/") {
				resolvedRoot = root
			}
			resolvedID, resolvedType, err := m.resolve(resolvedRoot, target, flags, depth+1)
			if err != nil {
				return vexfs.NullInode, 0, err
			}
			cur, curType = resolvedID, resolvedType
			continue
		}
		cur, curType = id, ft
	}
	return cur, curType, nil
}

func splitPath(path string) []string {
	return strings.Split(strings.Trim(path, "/"), "/")
}
