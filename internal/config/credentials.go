package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Credentials authenticate against the SoundCloud API and are handed to scdl.
type Credentials struct {
	ClientID  string
	AuthToken string
}

// SetSoundCloudValue rewrites soundcloud.<key> in the config file, leaving the
// rest of the document (including ${ENV} placeholders) untouched.
func SetSoundCloudValue(path, key, value string) error {
	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read config file: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if len(doc.Content) == 0 {
		doc = yaml.Node{
			Kind:    yaml.DocumentNode,
			Content: []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}},
		}
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("parse config: top level is not a mapping")
	}

	section := mappingValue(root, "soundcloud")
	if section == nil {
		section = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		root.Content = append(root.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "soundcloud"},
			section,
		)
	}

	if node := mappingValue(section, key); node != nil {
		node.Kind = yaml.ScalarNode
		node.Tag = "!!str"
		node.Value = value
		node.Content = nil
	} else {
		section.Content = append(section.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
		)
	}

	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}

	if err := os.WriteFile(path, out, 0o600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

func mappingValue(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// CredentialsWatcher keeps the latest SoundCloud credentials from the config
// file, so that set-auth takes effect without restarting the daemon.
type CredentialsWatcher struct {
	path    string
	current atomic.Pointer[Credentials]
	logger  *slog.Logger
}

func NewCredentialsWatcher(path string, initial Credentials, logger *slog.Logger) *CredentialsWatcher {
	w := &CredentialsWatcher{
		path:   filepath.Clean(path),
		logger: logger,
	}
	w.current.Store(&initial)
	return w
}

func (w *CredentialsWatcher) Credentials() Credentials {
	return *w.current.Load()
}

// Reload re-reads the config file. The previous credentials stay in place on
// error.
func (w *CredentialsWatcher) Reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}

	creds := cfg.SoundCloud.Credentials()
	if prev := w.current.Swap(&creds); *prev != creds {
		w.logger.Info("soundcloud credentials changed")
	}
	return nil
}

// Run watches the config file until ctx is done. The directory is watched
// rather than the file because editors and SetSoundCloudValue may replace it.
func (w *CredentialsWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if err := w.Reload(); err != nil {
				w.logger.Warn("failed to reload config", "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}
