// Package all links every bundled plugin into the binary.
package all

import (
	_ "github.com/platinummonkey/factcore/plugins/analysis/kernel_config/code"
	_ "github.com/platinummonkey/factcore/plugins/compare/file_coverage/code"
)
