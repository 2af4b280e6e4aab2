package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// k8sDataDir is the symlink Kubernetes swaps when a mounted secret changes.
const k8sDataDir = "..data"

// Watcher holds the serving certificate and reloads it when the cert or
// key file changes. A failed reload keeps the previous certificate.
type Watcher struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	debounce      time.Duration
	expiryWarning time.Duration

	cert    atomic.Pointer[tls.Certificate]
	leaf    atomic.Pointer[x509.Certificate]
	reloads atomic.Uint64

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger for the watcher.
func WithLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithDebounce sets how long the files must be quiet before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithExpiryWarning logs a warning on every load of a certificate that
// expires within d.
func WithExpiryWarning(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.expiryWarning = d
	}
}

// NewWatcher loads the key pair. It fails if the initial load fails.
func NewWatcher(certFile, keyFile string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		certFile:      certFile,
		keyFile:       keyFile,
		logger:        slog.Default(),
		debounce:      500 * time.Millisecond,
		expiryWarning: 7 * 24 * time.Hour,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.load(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}
	return w, nil
}

// Start watches the directories of the cert and key files until Stop. It
// blocks.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	defer fw.Close()

	// Directories, not files, so editor renames and secret swaps are seen.
	dirs := map[string]bool{filepath.Dir(w.certFile): true, filepath.Dir(w.keyFile): true}
	for dir := range dirs {
		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("tlsroots: watch %s: %w", dir, err)
		}
	}
	w.logger.Info("certificate watcher started", "cert_file", w.certFile, "key_file", w.keyFile)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.logger.Debug("certificate file changed", "file", event.Name, "op", event.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			if err := w.load(); err != nil {
				w.logger.Error("certificate reload failed, keeping previous certificate",
					"error", err, "cert_file", w.certFile)
				continue
			}
			w.reloads.Add(1)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("certificate watcher error", "error", err)

		case <-w.done:
			return nil
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	switch filepath.Base(event.Name) {
	case filepath.Base(w.certFile), filepath.Base(w.keyFile), k8sDataDir:
		return true
	}
	return false
}

// StartAsync runs Start in a goroutine.
func (w *Watcher) StartAsync() {
	go func() {
		if err := w.Start(); err != nil {
			w.logger.Error("certificate watcher stopped", "error", err)
		}
	}()
}

// Stop ends Start. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

// GetCertificate returns the current certificate. It is meant for
// tls.Config.GetCertificate.
func (w *Watcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return w.cert.Load(), nil
}

// NotAfter returns the expiry of the current certificate.
func (w *Watcher) NotAfter() time.Time {
	return w.leaf.Load().NotAfter
}

// Reloads returns how many times the certificate was replaced after the
// initial load.
func (w *Watcher) Reloads() uint64 {
	return w.reloads.Load()
}

func (w *Watcher) load() error {
	cert, err := tls.LoadX509KeyPair(w.certFile, w.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	leaf := cert.Leaf
	if leaf == nil {
		if leaf, err = x509.ParseCertificate(cert.Certificate[0]); err != nil {
			return fmt.Errorf("parse certificate: %w", err)
		}
		cert.Leaf = leaf
	}

	w.cert.Store(&cert)
	w.leaf.Store(leaf)

	left := time.Until(leaf.NotAfter)
	w.logger.Info("certificate loaded", "cert_file", w.certFile,
		"subject", leaf.Subject.CommonName, "not_after", leaf.NotAfter)
	if left < w.expiryWarning {
		w.logger.Warn("certificate expires soon", "cert_file", w.certFile,
			"not_after", leaf.NotAfter, "remaining", left.Round(time.Second))
	}
	return nil
}
