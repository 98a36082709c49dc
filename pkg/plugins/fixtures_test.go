package plugins

import (
	"context"
	"io"
	"path"
	"testing"
	"testing/fstest"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/platinummonkey/factcore/pkg/config"
	"github.com/platinummonkey/factcore/pkg/objects"
)

type testResult struct {
	Found bool     `json:"found"`
	Lines []string `json:"lines"`
}

type testAnalysis struct {
	name   string
	result any
	err    error
}

func (p *testAnalysis) MetaData() MetaData {
	return MetaData{
		Name:        p.name,
		Description: "test analysis",
		Version:     "1.0.0",
		Schema:      testResult{},
	}
}

func (p *testAnalysis) Analyze(_ context.Context, _ io.Reader, _ objects.VirtualFilePath, _ map[string]any) (any, error) {
	return p.result, p.err
}

func (p *testAnalysis) Summarize(result any) []string {
	if r, ok := result.(testResult); ok && r.Found {
		return []string{"found"}
	}
	return nil
}

type testCompare struct {
	name string
}

func (p *testCompare) MetaData() MetaData {
	return MetaData{Name: p.name, Description: "test compare", Version: "0.1.0"}
}

func (p *testCompare) Compare(_ context.Context, files []*objects.FileObject) (map[string]any, error) {
	return map[string]any{"count": len(files)}, nil
}

func analysisIdentity(name string) string {
	return "plugins.analysis." + name + ".code." + name
}

func compareIdentity(name string) string {
	return "plugins.compare." + name + ".code." + name
}

func analysisFactory(name string) Factory {
	return func(*Env) (Plugin, error) {
		return &testAnalysis{name: name, result: testResult{Lines: []string{}}}, nil
	}
}

// sourceTree returns a source tree with one code file per plugin name
func sourceTree(category Category, names ...string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for _, name := range names {
		addSource(fsys, category, name)
	}
	return fsys
}

func addSource(fsys fstest.MapFS, category Category, name string) {
	p := path.Join("plugins", string(category), name, "code", name+".go")
	fsys[p] = &fstest.MapFile{Data: []byte("package " + name + "\n")}
}

func newTestLoader(t *testing.T, fsys fstest.MapFS, catalog *Catalog, opts ...LoaderOption) (*Loader, *test.Hook) {
	t.Helper()
	log, hook := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	opts = append([]LoaderOption{
		WithCatalog(catalog),
		WithRegistry(NewRegistry()),
		WithConfig(config.NewState()),
	}, opts...)
	return NewLoader(&Locator{Root: "/src", FS: fsys}, log, opts...), hook
}

func errorEntries(hook *test.Hook) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.ErrorLevel {
			out = append(out, e)
		}
	}
	return out
}
