// Package plugins discovers and loads analysis and compare plugins.
//
// # Overview
//
// Plugins live in a source tree laid out as
//
//	plugins/<category>/<plugin>/code/<module>.go
//
// where category is analysis or compare. Each file matching that pattern is a
// candidate whose module identity is its slash separated path with dots, e.g.
// plugins.analysis.kernel_config.code.kernel_config.
//
// # Linking
//
// Go cannot load source at runtime, so plugin packages are linked into the
// binary and register a factory for their identity from init():
//
//	func init() {
//		plugins.MustRegister("plugins.analysis.foo.code.foo", New)
//	}
//
// Helper packages inside a plugin directory register with MustRegisterHelper
// and are imported from a factory through Env.Import, using relative names:
//
//	decomp, err := env.Import("..internal.decomp")
//
// # Discovery
//
// Loader.Discover locates candidates, runs their factories and registers the
// resulting modules in a Registry. A candidate that is not linked, returns an
// error, panics, times out or fails validation is logged and skipped; it
// never aborts discovery. Registration happens before the factory runs so a
// circular import sees the partially initialized module.
//
// # Results
//
// Analysis plugins declare their result type through MetaData.Schema. The
// JSON schema generated from it is enforced by RunAnalysis.
package plugins
