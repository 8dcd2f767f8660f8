package kerberos

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/marmos91/joincheck/internal/logger"
)

// DefaultKeytabPollInterval is how often the client keytab's mtime is checked.
const DefaultKeytabPollInterval = 60 * time.Second

// keytabReloader is implemented by CredentialCache.
type keytabReloader interface {
	ReloadKeytab() error
}

// keytabWatcher refreshes a credential cache when ipa-getkeytab or
// k5srvutil rotates the client keytab underneath a long verification run.
// Rotation replaces the file by rename, so the watcher compares mtimes
// instead of following an inode.
type keytabWatcher struct {
	path     string
	interval time.Duration
	cache    keytabReloader

	mu      sync.Mutex
	seen    time.Time
	done    chan struct{}
	closing sync.Once
}

// watchKeytab records the keytab's current mtime and starts polling it.
func watchKeytab(path string, interval time.Duration, cache keytabReloader) (*keytabWatcher, error) {
	if interval <= 0 {
		interval = DefaultKeytabPollInterval
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("watch keytab: %w", err)
	}

	w := &keytabWatcher{
		path:     path,
		interval: interval,
		cache:    cache,
		seen:     info.ModTime(),
		done:     make(chan struct{}),
	}
	go w.run()

	logger.Debug("Watching client keytab for rotation",
		logger.KeyKeytab, path,
		"interval", interval.String(),
	)
	return w, nil
}

// stop ends polling. Repeated calls are no-ops.
func (w *keytabWatcher) stop() {
	w.closing.Do(func() { close(w.done) })
}

func (w *keytabWatcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll hands a rotated keytab to the cache. A keytab the cache rejects is
// retried on the next tick; the cache keeps its previous keys meanwhile.
func (w *keytabWatcher) poll() {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		logger.Warn("Client keytab missing, keeping cached keys",
			logger.KeyKeytab, w.path,
			logger.KeyError, err,
		)
		return
	}
	mtime := info.ModTime()
	if mtime.Equal(w.seen) {
		return
	}

	if err := w.cache.ReloadKeytab(); err != nil {
		logger.Warn("Rotated client keytab rejected, keeping cached keys",
			logger.KeyKeytab, w.path,
			logger.KeyError, err,
		)
		return
	}
	w.seen = mtime
	logger.Info("Client keytab rotated, next login uses the new keys",
		logger.KeyKeytab, w.path,
	)
}
