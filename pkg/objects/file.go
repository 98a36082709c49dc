package objects

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
)

// FileObject holds a file's content, its place in the extraction tree and
// the analysis results gathered for it.
type FileObject struct {
	uid string

	Binary   []byte
	SHA256   string
	Size     int
	FileName string
	FilePath string

	// RootUID is the UID of the firmware this object was extracted from.
	RootUID string
	// Depth is the extraction depth; the outer firmware is 0.
	Depth int
	// Parents lists the UIDs of direct predecessors.
	Parents []string
	// FilesIncluded holds the UIDs of the next extraction layer only.
	FilesIncluded map[string]struct{}
	// ListOfAllIncludedFiles holds the UIDs of every layer below this
	// object. It is nil until the caller aggregates it.
	ListOfAllIncludedFiles []string

	ParentFirmwareUIDs map[string]struct{}
	VirtualFilePath    VfpDict

	ScheduledAnalysis []string
	// ProcessedAnalysis maps plugin names to their result documents.
	ProcessedAnalysis map[string]map[string]any
	// TemporaryData is never persisted.
	TemporaryData map[string]any
}

// CreateUID returns "<sha256>_<size>" for binary
func CreateUID(binary []byte) string {
	sum := sha256.Sum256(binary)
	return fmt.Sprintf("%s_%d", hex.EncodeToString(sum[:]), len(binary))
}

// NewFileObject creates a file object from its content
func NewFileObject(binary []byte, fileName string) *FileObject {
	fo := newFileObject()
	fo.FileName = fileName
	fo.SetBinary(binary)
	return fo
}

// NewFileObjectFromPath reads path and creates a file object from it
func NewFileObjectFromPath(path string) (*FileObject, error) {
	binary, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file object %s: %w", path, err)
	}
	fo := newFileObject()
	fo.FilePath = path
	fo.FileName = filepath.Base(path)
	fo.SetBinary(binary)
	return fo, nil
}

func newFileObject() *FileObject {
	return &FileObject{
		FilesIncluded:      make(map[string]struct{}),
		ParentFirmwareUIDs: make(map[string]struct{}),
		VirtualFilePath:    make(VfpDict),
		ProcessedAnalysis:  make(map[string]map[string]any),
		TemporaryData:      make(map[string]any),
	}
}

// SetBinary stores the content and recomputes hash, size and UID
func (fo *FileObject) SetBinary(binary []byte) {
	fo.Binary = binary
	sum := sha256.Sum256(binary)
	fo.SHA256 = hex.EncodeToString(sum[:])
	fo.Size = len(binary)
	fo.uid = CreateUID(binary)
}

// UID returns the unique identifier of the object
func (fo *FileObject) UID() string {
	if fo.uid == "" && fo.Binary != nil {
		fo.uid = CreateUID(fo.Binary)
	}
	return fo.uid
}

// SetUID overrides the UID, e.g. for objects restored without content
func (fo *FileObject) SetUID(uid string) {
	if fo.uid != "" && fo.uid != uid {
		logrus.WithFields(logrus.Fields{
			"old": fo.uid,
			"new": uid,
		}).Warn("UID overwrite: UID might not be related to binary data anymore")
	}
	fo.uid = uid
}

// AddIncludedFile registers child as extracted from fo. The child inherits
// root, depth+1 and scheduled analyses, and gets virtual paths below fo.
func (fo *FileObject) AddIncludedFile(child *FileObject) {
	child.Parents = append(child.Parents, fo.UID())
	child.RootUID = fo.RootUID
	child.AddVirtualFilePathIfNoneExists(fo.VirtualPathsForOneUID(fo.RootUID), fo.UID())
	child.Depth = fo.Depth + 1
	child.ScheduledAnalysis = fo.ScheduledAnalysis
	fo.FilesIncluded[child.UID()] = struct{}{}
}

// AddVirtualFilePathIfNoneExists derives paths for the current root from the
// parent's paths unless the root already has some.
func (fo *FileObject) AddVirtualFilePathIfNoneExists(parentPaths []VirtualFilePath, parentUID string) {
	if fo.VirtualFilePath == nil {
		fo.VirtualFilePath = make(VfpDict)
	}
	if _, ok := fo.VirtualFilePath[fo.RootUID]; ok {
		return
	}
	paths := make([]VirtualFilePath, 0, len(parentPaths))
	for _, parent := range parentPaths {
		base := parent.Base()
		if base != "" {
			base += VfpSeparator
		}
		paths = append(paths, VirtualFilePath(base+parentUID+VfpSeparator+fo.FilePath))
	}
	fo.VirtualFilePath[fo.RootUID] = paths
}

// VirtualFilePaths returns the paths of fo, or the UID itself for an
// object without any.
func (fo *FileObject) VirtualFilePaths() VfpDict {
	if len(fo.VirtualFilePath) > 0 {
		return fo.VirtualFilePath
	}
	return VfpDict{fo.UID(): {VirtualFilePath(fo.UID())}}
}

// VirtualPathsForOneUID returns the paths inside root, falling back to
// RootUID and then to the first root in UID order.
func (fo *FileObject) VirtualPathsForOneUID(root string) []VirtualFilePath {
	paths := fo.VirtualFilePaths()
	if root == "" {
		root = fo.RootUID
	}
	if p, ok := paths[root]; ok {
		return p
	}
	keys := sortedKeys(paths)
	return paths[keys[0]]
}

// VirtualPathsForAllUIDs returns the paths inside every root
func (fo *FileObject) VirtualPathsForAllUIDs() []VirtualFilePath {
	var out []VirtualFilePath
	paths := fo.VirtualFilePaths()
	for _, root := range sortedKeys(paths) {
		out = append(out, paths[root]...)
	}
	return out
}

// RootUIDOrFirst returns RootUID when set and otherwise the first root of
// the virtual paths.
func (fo *FileObject) RootUIDOrFirst() string {
	if fo.RootUID != "" {
		return fo.RootUID
	}
	return sortedKeys(fo.VirtualFilePaths())[0]
}

// HID returns a human readable identifier, the file's path inside root.
func (fo *FileObject) HID(root string) string {
	if root == "" {
		root = fo.RootUIDOrFirst()
	}
	paths := fo.VirtualPathsForOneUID(root)
	if len(paths) == 0 {
		return fo.UID()
	}
	return paths[0].Top()
}

// IncludedFiles returns the UIDs in FilesIncluded, sorted
func (fo *FileObject) IncludedFiles() []string {
	out := make([]string, 0, len(fo.FilesIncluded))
	for uid := range fo.FilesIncluded {
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

func (fo *FileObject) String() string {
	plugins := make([]string, 0, len(fo.ProcessedAnalysis))
	for name := range fo.ProcessedAnalysis {
		plugins = append(plugins, name)
	}
	sort.Strings(plugins)
	return fmt.Sprintf("UID: %s\n Processed analysis: %v\n Files included: %v", fo.UID(), plugins, fo.IncludedFiles())
}
