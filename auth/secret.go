package auth

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// DefaultSecretEnv is the environment variable EnvSecret reads when given
// an empty name.
const DefaultSecretEnv = "JWT_SECRET"

// SecretSource yields the shared secret used to verify HMAC-signed tokens.
// Implementations return an error wrapping ErrSecretUnavailable when no
// usable secret exists.
type SecretSource interface {
	Secret(ctx context.Context) ([]byte, error)
}

// StaticSecret is a secret fixed at construction time.
type StaticSecret []byte

func (s StaticSecret) Secret(context.Context) ([]byte, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("%w: static secret is empty", ErrSecretUnavailable)
	}
	return s, nil
}

// EnvSecret reads the named environment variable on every call.
type EnvSecret string

func (e EnvSecret) name() string {
	if e == "" {
		return DefaultSecretEnv
	}
	return string(e)
}

func (e EnvSecret) Secret(context.Context) ([]byte, error) {
	v, ok := os.LookupEnv(e.name())
	if !ok || v == "" {
		return nil, fmt.Errorf("%w: environment variable %s not set", ErrSecretUnavailable, e.name())
	}
	return []byte(v), nil
}

// FileSecret serves the trimmed contents of a file and reloads them when
// the file changes. The parent directory is watched so atomic replacements
// (rename over the old file) are picked up.
type FileSecret struct {
	path    string
	log     *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}

	mu     sync.RWMutex
	secret []byte
	err    error
}

// FileSecretOption configures a FileSecret.
type FileSecretOption func(*FileSecret)

// WithFileSecretLogger sets the logger used to report reloads.
func WithFileSecretLogger(l *slog.Logger) FileSecretOption {
	return func(f *FileSecret) { f.log = l }
}

// NewFileSecret loads path and starts watching it. The initial read must
// succeed; later read failures make Secret return ErrSecretUnavailable
// until the file is readable again.
func NewFileSecret(path string, opts ...FileSecretOption) (*FileSecret, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve secret path: %w", err)
	}
	f := &FileSecret{
		path: abs,
		log:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.reload()
	if f.err != nil {
		return nil, f.err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("secret watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	f.watcher = w
	go f.watch()
	return f, nil
}

func (f *FileSecret) Secret(context.Context) ([]byte, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.secret, nil
}

// Close stops watching the file.
func (f *FileSecret) Close() error {
	if f.watcher == nil {
		return nil
	}
	err := f.watcher.Close()
	<-f.done
	return err
}

func (f *FileSecret) watch() {
	defer close(f.done)
	for {
		select {
		case ev, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != f.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
				f.reload()
			}
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.log.Warn("secret.watch.fail", slog.String("err", err.Error()))
		}
	}
}

func (f *FileSecret) reload() {
	b, err := os.ReadFile(f.path)
	b = bytes.TrimSpace(b)
	if err == nil && len(b) == 0 {
		err = errors.New("file is empty")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err != nil {
		f.secret = nil
		f.err = fmt.Errorf("%w: %s: %v", ErrSecretUnavailable, f.path, err)
		f.log.Warn("secret.reload.fail", slog.String("path", f.path), slog.String("err", err.Error()))
		return
	}
	f.secret = b
	f.err = nil
	f.log.Info("secret.reload.ok", slog.String("path", f.path))
}
