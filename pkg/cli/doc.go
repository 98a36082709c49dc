// Package cli implements the fact-core command line.
//
//	fact-core check [--ping] [--describe]
//	fact-core plugins [analysis|compare] [--workers n] [--timeout d] [--json]
//	fact-core serve [--listen addr] [--otlp-endpoint host:port]
//
// Every command accepts --config, --src-dir and --log-level. Without
// --config the path in $FACT_CONFIG_FILE is used, then the built-in
// document.
package cli
