// Package config loads layered settings — a hierarchical file plus an
// environment overlay carrying secrets and a small whitelist of
// override keys — and serves typed lookups through a single dot-joined
// key path, e.g. Get("trading.defaults.quantity", 1).
//
// A file value stands unless a whitelisted environment variable
// shadows it at the same logical path (see envOverrides). A missing
// file or a parse error yields an empty tree and a logged diagnostic
// rather than a fatal error: secrets may still reach the engine purely
// through the environment.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/joho/godotenv"
)

// Tree is a generic hierarchical config document, as decoded from JSON.
type Tree map[string]interface{}

// envOverrides maps a dotted config key path to the environment variable
// that shadows it. Only these paths are eligible for override; every
// other file value stands untouched. The same variable is also
// reachable by its bare name (Get("OANDA_API_KEY", "")), matching how
// secrets were addressed in the Python loader this design is ported
// from.
var envOverrides = map[string]string{
	"brokers.oanda.api_key":         "OANDA_API_KEY",
	"brokers.oanda.account_id":      "OANDA_ACCOUNT_ID",
	"brokers.oanda.base_url":        "OANDA_API_URL",
	"brokers.alpaca.api_key_id":     "ALPACA_API_KEY_ID",
	"brokers.alpaca.api_secret_key": "ALPACA_API_SECRET_KEY",
	"webhook_server.shared_secret":  "WEBHOOK_SHARED_SECRET",
}

type snapshot struct {
	tree Tree
	env  map[string]string // both dotted path and bare var name as keys
}

// Manager holds the process-wide, read-mostly configuration. Readers
// always observe a coherent snapshot — either the pre-reload tree or
// the post-reload one, never a tear — because Load swaps an atomic
// pointer rather than mutating the tree in place.
type Manager struct {
	current  atomic.Pointer[snapshot]
	loaded   atomic.Bool
	filePath string
	envPath  string
	logger   *log.Logger
	watchers []func(old, new Tree)
	notifier *Notifier
}

// SetNotifier attaches a Notifier that Save uses to broadcast a reload
// signal to other processes sharing the same database (see notify.go).
// A Manager with no notifier still reloads its own in-process state.
func (m *Manager) SetNotifier(n *Notifier) {
	m.notifier = n
}

// NewManager creates an unloaded Manager. Call Load before use.
func NewManager(logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stdout, "[config] ", log.LstdFlags)
	}
	m := &Manager{logger: logger}
	m.current.Store(&snapshot{tree: Tree{}, env: map[string]string{}})
	return m
}

// Load reads filePath and layers envPath (a .env-style file) on top.
// It is idempotent: a second call without forceReload is a no-op so
// that components can call Load defensively without re-reading the
// file on every request. Pass forceReload=true to re-read after the
// file has been rewritten (e.g. by Save).
func (m *Manager) Load(filePath, envPath string, forceReload bool) error {
	if m.loaded.Load() && !forceReload {
		return nil
	}

	m.filePath = filePath
	m.envPath = envPath

	// Layer the .env file into the process environment; a missing file
	// is not an error (secrets may come from the real environment).
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			m.logger.Printf("env overlay: %s: %v", envPath, err)
		}
	}

	tree, err := m.readTree(filePath)
	if err != nil {
		// Missing file or parse error yields an empty tree plus a
		// logged diagnostic, never a fatal Load error.
		m.logger.Printf("config load: %v (continuing with empty tree)", err)
		tree = Tree{}
	}

	env := map[string]string{}
	for path, varName := range envOverrides {
		if v, ok := os.LookupEnv(varName); ok {
			env[path] = v
			env[varName] = v
		}
	}

	old := m.current.Load()
	next := &snapshot{tree: tree, env: env}
	m.current.Store(next)
	m.loaded.Store(true)

	if old != nil {
		m.notify(old.tree, next.tree)
	}
	return nil
}

func (m *Manager) readTree(filePath string) (Tree, error) {
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", absPath, err)
	}
	var tree Tree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("parse json %s: %w", absPath, err)
	}
	return tree, nil
}

// Save atomically overwrites the config file with newConfig and
// triggers a reload. Callers are warned that components holding a
// value derived once at startup (notably the active broker, chosen by
// broker.name) will not observe the new value until the process
// restarts.
func (m *Manager) Save(newConfig Tree) error {
	if m.filePath == "" {
		return fmt.Errorf("config: Save called before Load")
	}
	data, err := json.MarshalIndent(newConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}

	tmp := m.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := os.Rename(tmp, m.filePath); err != nil {
		return fmt.Errorf("config: replace file: %w", err)
	}

	if err := m.Load(m.filePath, m.envPath, true); err != nil {
		return err
	}

	if m.notifier != nil {
		if err := m.notifier.NotifyReload(); err != nil {
			m.logger.Printf("config: failed to broadcast reload notification: %v", err)
		}
	}
	return nil
}

// OnChange registers a callback invoked after every successful reload
// with the pre- and post-reload trees. See watcher.go for the
// broker.name-changed diagnostic built on top of this.
func (m *Manager) OnChange(fn func(old, new Tree)) {
	m.watchers = append(m.watchers, fn)
}

func (m *Manager) notify(old, new Tree) {
	for _, fn := range m.watchers {
		fn(old, new)
	}
}

// Get resolves a dot-joined key path against the whitelisted
// environment overlay first, then the file tree. It returns def only
// when the full path cannot be traversed (a missing intermediate key,
// or a leaf value that is explicitly null).
//
// When keyPath names a subtree rather than a leaf (e.g. "brokers.oanda"),
// any whitelisted environment variable whose override path lives under
// that subtree (e.g. "brokers.oanda.api_key") is merged into the
// returned map, overlaying or adding to whatever the file tree holds at
// that leaf. This lets a deployment supply secrets purely through the
// environment, with no matching file entry required.
func (m *Manager) Get(keyPath string, def interface{}) interface{} {
	snap := m.current.Load()
	if snap == nil {
		return def
	}
	if v, ok := snap.env[keyPath]; ok {
		return v
	}

	fileValue, found := traversePath(map[string]interface{}(snap.tree), strings.Split(keyPath, "."))

	overlay := envSubtree(keyPath, snap)
	if len(overlay) == 0 {
		if !found || fileValue == nil {
			return def
		}
		return fileValue
	}

	baseMap, _ := fileValue.(map[string]interface{})
	return deepMerge(baseMap, overlay)
}

// traversePath walks tree along parts, reporting whether the full path
// resolved to a value (possibly nil).
func traversePath(tree map[string]interface{}, parts []string) (interface{}, bool) {
	var cur interface{} = tree
	for _, part := range parts {
		asMap, ok := cur.(map[string]interface{})
		if !ok {
			return nil, false
		}
		cur, ok = asMap[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// envSubtree builds the nested map of every whitelisted env override
// whose path lives under prefix, using only variables actually set in
// the process environment.
func envSubtree(prefix string, snap *snapshot) map[string]interface{} {
	out := map[string]interface{}{}
	for path := range envOverrides {
		if !strings.HasPrefix(path, prefix+".") {
			continue
		}
		v, ok := snap.env[path]
		if !ok {
			continue
		}
		suffix := strings.TrimPrefix(path, prefix+".")
		setNested(out, strings.Split(suffix, "."), v)
	}
	return out
}

func setNested(m map[string]interface{}, parts []string, value string) {
	if len(parts) == 1 {
		m[parts[0]] = value
		return
	}
	sub, ok := m[parts[0]].(map[string]interface{})
	if !ok {
		sub = map[string]interface{}{}
		m[parts[0]] = sub
	}
	setNested(sub, parts[1:], value)
}

// deepMerge returns a new map holding base's entries with overlay's
// entries layered on top; nested maps are merged recursively rather
// than replaced wholesale.
func deepMerge(base, overlay map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		if overlayMap, ok := v.(map[string]interface{}); ok {
			if baseMap, ok := out[k].(map[string]interface{}); ok {
				out[k] = deepMerge(baseMap, overlayMap)
				continue
			}
		}
		out[k] = v
	}
	return out
}

// GetString is Get with a string-typed default and result.
func (m *Manager) GetString(keyPath, def string) string {
	v := m.Get(keyPath, def)
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// GetInt is Get with an int-typed default and result, tolerant of the
// float64 and string representations JSON and the env overlay produce.
func (m *Manager) GetInt(keyPath string, def int) int {
	v := m.Get(keyPath, def)
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
		return def
	default:
		return def
	}
}

// GetFloat is Get with a float64-typed default and result.
func (m *Manager) GetFloat(keyPath string, def float64) float64 {
	v := m.Get(keyPath, def)
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f
		}
		return def
	default:
		return def
	}
}

// GetStringSlice is Get specialized for a sequence of strings, e.g.
// trading.allowed_instruments. A missing or wrongly-typed path yields nil.
func (m *Manager) GetStringSlice(keyPath string) []string {
	v := m.Get(keyPath, nil)
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Raw returns the current file-portion tree, for the GET /config
// endpoint. It does not include the environment overlay, so secrets
// supplied through the environment are never echoed back to a caller;
// values written in the file itself are returned as they are.
func (m *Manager) Raw() Tree {
	snap := m.current.Load()
	if snap == nil {
		return Tree{}
	}
	return snap.tree
}
