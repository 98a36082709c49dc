package filecoverage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/factcore/pkg/objects"
	"github.com/platinummonkey/factcore/pkg/plugins"
)

const (
	Identity = "plugins.compare.file_coverage.code.file_coverage"
	Name     = "file_coverage"
)

// Result keys
const (
	KeyFilesInCommon        = "files_in_common"
	KeyNonZeroFilesInCommon = "non_zero_files_in_common"
	KeyExclusiveFiles       = "exclusive_files"
	KeyInMoreThanOne        = "files_in_more_than_one_but_not_in_all"

	// KeyAll holds the entries shared by every compared object
	KeyAll = "all"
)

// ErrMissingFileList is returned for an object whose ListOfAllIncludedFiles
// was never aggregated
var ErrMissingFileList = errors.New("list of all included files is missing")

func init() {
	plugins.MustRegister(Identity, New)
}

// Plugin compares the sets of files contained in several objects
type Plugin struct {
	log *logrus.Entry
}

func New(env *plugins.Env) (plugins.Plugin, error) {
	return &Plugin{log: env.Log()}, nil
}

func (p *Plugin) MetaData() plugins.MetaData {
	return plugins.MetaData{
		Name:        Name,
		Description: "Compares the files included in firmware images",
		Version:     "0.7.0",
	}
}

// Compare computes which included files the objects share and which are
// unique to one of them. Files in more than one but not all objects are
// only reported when more than two objects are compared.
func (p *Plugin) Compare(ctx context.Context, files []*objects.FileObject) (map[string]any, error) {
	var missing []string
	for _, fo := range files {
		if fo.ListOfAllIncludedFiles == nil {
			missing = append(missing, fo.UID())
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, fmt.Errorf("%w: %s", ErrMissingFileList, strings.Join(missing, ", "))
	}

	included := make(map[string][]string, len(files))
	counts := make(map[string]int)
	for _, fo := range files {
		uids := unique(fo.ListOfAllIncludedFiles)
		included[fo.UID()] = uids
		for _, uid := range uids {
			counts[uid]++
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	common := []string{}
	for uid, n := range counts {
		if n == len(files) {
			common = append(common, uid)
		}
	}
	sort.Strings(common)

	exclusive := make(map[string][]string, len(files))
	partial := make(map[string][]string, len(files))
	for fo, uids := range included {
		exclusive[fo] = []string{}
		partial[fo] = []string{}
		for _, uid := range uids {
			switch n := counts[uid]; {
			case n == 1:
				exclusive[fo] = append(exclusive[fo], uid)
			case n < len(files):
				partial[fo] = append(partial[fo], uid)
			}
		}
	}

	result := map[string]any{
		KeyFilesInCommon:  map[string][]string{KeyAll: common},
		KeyExclusiveFiles: exclusive,
	}

	// empty lists are left out
	nonZeroFiles := map[string][]string{}
	if nz := nonZero(common); len(nz) > 0 {
		nonZeroFiles[KeyAll] = nz
	}
	if len(files) > 2 {
		result[KeyInMoreThanOne] = partial
		for fo, uids := range partial {
			if nz := nonZero(uids); len(nz) > 0 {
				nonZeroFiles[fo] = nz
			}
		}
	}
	result[KeyNonZeroFilesInCommon] = nonZeroFiles

	p.log.WithFields(logrus.Fields{
		"objects": len(files),
		"common":  len(common),
	}).Debug("Compared file coverage")

	return result, nil
}

// unique returns the sorted, deduplicated uids
func unique(uids []string) []string {
	seen := make(map[string]struct{}, len(uids))
	out := make([]string, 0, len(uids))
	for _, uid := range uids {
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	sort.Strings(out)
	return out
}

// nonZero drops UIDs of empty files; a UID ends in the file size.
func nonZero(uids []string) []string {
	out := make([]string, 0, len(uids))
	for _, uid := range uids {
		if !strings.HasSuffix(uid, "_0") {
			out = append(out, uid)
		}
	}
	return out
}
