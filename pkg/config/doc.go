// Package config loads the FACT configuration document into validated,
// immutable sections and publishes them for the rest of the process.
//
// # Overview
//
// A document has three top-level sections. backend and frontend are optional;
// common is mandatory:
//
//	[backend]
//	temp-dir-path = "/tmp"
//
//	[[backend.presets]]
//	name = "default"
//	plugins = ["file_type", "cpu_architecture"]
//
//	[[backend.plugin]]
//	name = "cpu_architecture"
//	processes = 4
//
//	[common.redis]
//	fact-db = "3"
//	test-db = "13"
//	host = "localhost"
//	port = 6379
//
//	[common.logging]
//	level = "WARNING"
//	file = "/tmp/fact_main.log"
//
// Documents ending in .yaml or .yml are read as YAML, everything else as TOML.
// Hyphens in keys are rewritten to underscores at every depth before the
// sections are decoded with pkg/schema. The presets and plugin record lists are
// turned into maps keyed by name; a later record replaces an earlier one with
// the same name.
//
// # Loading
//
//	cfg, err := config.Load("/etc/fact/fact-core.toml")
//	if err != nil {
//		var verr *schema.ValidationError
//		if errors.As(err, &verr) {
//			log.Fatalf("invalid %s section: %v", verr.Section, verr)
//		}
//		log.Fatal(err)
//	}
//
// An empty path falls back to $FACT_CONFIG_FILE and then to the embedded
// default document. Errors are ErrConfigNotFound, *ParseError,
// *schema.ValidationError or *InvariantError.
//
// # Published State
//
// Load publishes all three sections at once. Backend, Frontend and Common read
// the current snapshot on every call and return nil for a section the document
// omitted:
//
//	if backend := config.Backend(); backend != nil {
//		fmt.Println(backend.TempDirPath)
//	}
//
// Components that prefer an injected dependency take a *State instead and use
// a Loader built WithState. Watcher reloads a file when it changes and keeps the
// previous snapshot when the new document is invalid.
package config
