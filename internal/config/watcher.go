// watcher.go adapts the config change-notification hook into a
// diagnostic for settings that cannot take effect without a process
// restart. Everything else reachable through Get is live the instant
// Load/Save swaps the snapshot; broker.name is the one path callers
// have already baked into a broker instance at startup.
package config

import (
	"log"
	"strings"
)

// RestartRequiredPaths are the dotted key paths that a running process
// cannot pick up without being restarted, because some other component
// has already dereferenced their value into a concrete object (the
// active broker client, chiefly).
var RestartRequiredPaths = []string{
	"broker.name",
}

// WarnOnRestartRequired registers an OnChange callback on m that logs
// through logger whenever one of RestartRequiredPaths changes value
// between the old and new tree.
func WarnOnRestartRequired(m *Manager, logger *log.Logger) {
	if logger == nil {
		logger = m.logger
	}
	m.OnChange(func(old, new Tree) {
		for _, path := range RestartRequiredPaths {
			oldVal := lookup(old, path)
			newVal := lookup(new, path)
			if oldVal != newVal {
				logger.Printf("config reload: %s changed (%v -> %v) but requires a restart to take effect", path, oldVal, newVal)
			}
		}
	})
}

func lookup(tree Tree, keyPath string) interface{} {
	var cur interface{} = map[string]interface{}(tree)
	for _, part := range strings.Split(keyPath, ".") {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur, ok = asMap[part]
		if !ok {
			return nil
		}
	}
	return cur
}
