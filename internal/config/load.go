package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIDETREE_"

// EnvConfig names the config file. It is read by the CLI, not by ApplyEnv.
const EnvConfig = EnvPrefix + "CONFIG"

// envMapping holds overrides whose names do not follow SECTION_KEY.
var envMapping = map[string]string{
	EnvPrefix + "LOG_LEVEL":    "logging.level",
	EnvPrefix + "LOG_FORMAT":   "logging.format",
	EnvPrefix + "LOG_FILE":     "logging.output",
	EnvPrefix + "METRICS_ADDR": "metrics.addr",
}

var sections = map[string]bool{
	"sidebar": true, "panels": true, "renderers": true, "theme": true,
	"git": true, "search": true, "filter": true, "sort": true,
	"watcher": true, "diagnostics": true, "logging": true, "metrics": true,
}

// Load returns the defaults overlaid with the file at path and then with
// the process environment. An empty path or a missing file yields the
// defaults plus the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.LoadFile(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	if err := cfg.ApplyEnv(os.Environ()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays c with a TOML (.toml) or YAML (.yaml, .yml) file.
// Keys not present in the file keep their current value. Unknown keys are
// a parse error.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return c.decodeTOML(path, data)
	case ".yaml", ".yml":
		return c.decodeYAML(path, data)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownFormat, path)
	}
}

func (c *Config) decodeTOML(path string, data []byte) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(c)
	if err == nil {
		return nil
	}
	pe := &ParseError{Path: path, Message: err.Error(), Err: err}
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		pe.Line, pe.Column = derr.Position()
		pe.Message = derr.Error()
	}
	var serr *toml.StrictMissingError
	if errors.As(err, &serr) {
		pe.Message = "unknown keys: " + serr.String()
	}
	return pe
}

func (c *Config) decodeYAML(path string, data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(c)
	// An empty document decodes as io.EOF.
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	pe := &ParseError{Path: path, Message: err.Error(), Err: err}
	var terr *yaml.TypeError
	if errors.As(err, &terr) {
		pe.Message = strings.Join(terr.Errors, "; ")
	}
	return pe
}

// ApplyEnv overlays c with SIDETREE_* variables from environ.
//
// SIDETREE_GIT_POLL_INTERVAL sets git.poll_interval: the first word after
// the prefix names the section and the rest, joined with underscores, the
// key. Values are YAML scalars, so "true", "30" and "200ms" decode into
// bool, int and duration fields. A value starting with [ or { is parsed
// as a flow collection, e.g. SIDETREE_SIDEBAR_LEFT='["files","buffers"]'.
func (c *Config) ApplyEnv(environ []string) error {
	root := &yaml.Node{Kind: yaml.MappingNode}
	bySection := make(map[string]*yaml.Node)
	var unknown []string

	vars := make([]string, 0, len(environ))
	for _, kv := range environ {
		if strings.HasPrefix(kv, EnvPrefix) {
			vars = append(vars, kv)
		}
	}
	sort.Strings(vars)

	for _, kv := range vars {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == EnvConfig {
			continue
		}
		path, ok := envMapping[name]
		if !ok {
			path = envToPath(name)
		}
		section, key, ok := strings.Cut(path, ".")
		if !ok || !sections[section] || key == "" {
			unknown = append(unknown, name)
			continue
		}
		val, err := envValue(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		sec := bySection[section]
		if sec == nil {
			sec = &yaml.Node{Kind: yaml.MappingNode}
			bySection[section] = sec
			root.Content = append(root.Content, scalar(section), sec)
		}
		sec.Content = append(sec.Content, scalar(key), val)
	}
	if len(unknown) > 0 {
		return fmt.Errorf("unknown environment overrides: %s", strings.Join(unknown, ", "))
	}
	if len(root.Content) == 0 {
		return nil
	}

	data, err := yaml.Marshal(root)
	if err != nil {
		return err
	}
	if err := c.decodeYAML("environment", data); err != nil {
		return err
	}
	return nil
}

// envToPath converts SIDETREE_FILTER_HIDE_DOTFILES to filter.hide_dotfiles.
func envToPath(env string) string {
	name := strings.ToLower(strings.TrimPrefix(env, EnvPrefix))
	section, key, _ := strings.Cut(name, "_")
	return section + "." + key
}

func envValue(s string) (*yaml.Node, error) {
	t := strings.TrimSpace(s)
	if strings.HasPrefix(t, "[") || strings.HasPrefix(t, "{") {
		var doc yaml.Node
		if err := yaml.Unmarshal([]byte(t), &doc); err != nil {
			return nil, err
		}
		if len(doc.Content) == 1 {
			return doc.Content[0], nil
		}
	}
	return scalar(s), nil
}

// scalar is an untagged plain scalar, typed by the YAML resolver on decode.
func scalar(v string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Value: v}
}
