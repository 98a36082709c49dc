package plugins

import (
	"github.com/platinummonkey/factcore/pkg/config"
)

// AnalysisPluginInfo is the scheduler's view of one analysis plugin
type AnalysisPluginInfo struct {
	Description  string          `json:"description"`
	Mandatory    bool            `json:"mandatory"`
	Presets      map[string]bool `json:"presets"`
	Version      string          `json:"version"`
	Dependencies []string        `json:"dependencies"`
	Blacklist    []string        `json:"mime_blacklist"`
	Whitelist    []string        `json:"mime_whitelist"`
	WorkerCount  int             `json:"worker_count"`
}

// BuildPluginInfo describes the loaded analysis plugins, keyed by plugin name.
// Presets records for every configured preset whether it includes the plugin.
// WorkerCount is the plugin's "processes" option or defaultWorkers.
func BuildPluginInfo(modules []*Module, backend *config.BackendConfig, mandatory []string, defaultWorkers int) map[string]AnalysisPluginInfo {
	required := make(map[string]bool, len(mandatory))
	for _, name := range mandatory {
		required[name] = true
	}

	out := make(map[string]AnalysisPluginInfo, len(modules))
	for _, m := range modules {
		if m.Plugin == nil {
			continue
		}
		md := m.Plugin.MetaData()

		info := AnalysisPluginInfo{
			Description:  md.Description,
			Mandatory:    required[md.Name],
			Presets:      map[string]bool{},
			Version:      md.Version,
			Dependencies: nonNil(md.Dependencies),
			Blacklist:    nonNil(md.MimeBlacklist),
			Whitelist:    nonNil(md.MimeWhitelist),
			WorkerCount:  defaultWorkers,
		}
		if backend != nil {
			for name, preset := range backend.Presets {
				info.Presets[name] = false
				if preset == nil {
					continue
				}
				for _, p := range preset.Plugins {
					if p == md.Name {
						info.Presets[name] = true
						break
					}
				}
			}
			info.WorkerCount = backend.Plugin[md.Name].Int("processes", defaultWorkers)
		}
		out[md.Name] = info
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
