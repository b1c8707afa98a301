// notify.go broadcasts a config reload across process boundaries using
// Postgres LISTEN/NOTIFY, the same pq.Listener pattern
// internal/dashboard/events.go used for trade events. A Manager with a
// Notifier attached still reloads its own copy synchronously inside
// Save; the notifier exists for OTHER processes sharing the same
// database to pick up the change without polling the file.
package config

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/lib/pq"
)

const reloadChannel = "config_reload"

// Notifier owns both sides of the LISTEN/NOTIFY channel: NotifyReload
// sends, Listen receives and drives mgr.Load on every signal.
type Notifier struct {
	dbURL  string
	mgr    *Manager
	logger *log.Logger

	listener *pq.Listener
	shutdown chan struct{}
}

// NewNotifier creates a Notifier bound to mgr. dbURL must be a
// Postgres connection string accepted by lib/pq.
func NewNotifier(dbURL string, mgr *Manager, logger *log.Logger) *Notifier {
	if logger == nil {
		logger = mgr.logger
	}
	return &Notifier{dbURL: dbURL, mgr: mgr, logger: logger, shutdown: make(chan struct{})}
}

// NotifyReload sends a single NOTIFY on reloadChannel using a
// short-lived connection, per this repo's one-connection-per-call
// convention for engine access.
func (n *Notifier) NotifyReload() error {
	db, err := sql.Open("postgres", n.dbURL)
	if err != nil {
		return fmt.Errorf("config notifier: open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = db.ExecContext(ctx, "SELECT pg_notify($1, '')", reloadChannel)
	if err != nil {
		return fmt.Errorf("config notifier: notify: %w", err)
	}
	return nil
}

// Listen starts a background goroutine that reloads mgr whenever
// another process calls NotifyReload. It retries the underlying
// connection with the same backoff shape as dashboard's EventListener.
func (n *Notifier) Listen(ctx context.Context) {
	go n.listenLoop(ctx)
}

func (n *Notifier) listenLoop(ctx context.Context) {
	minRetry := 100 * time.Millisecond
	maxRetry := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.shutdown:
			return
		default:
		}

		listener := pq.NewListener(n.dbURL, minRetry, maxRetry, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				n.logger.Printf("config notifier: %v", err)
			}
		})
		if err := listener.Listen(reloadChannel); err != nil {
			n.logger.Printf("config notifier: failed to listen on %s: %v", reloadChannel, err)
			listener.Close()
			time.Sleep(maxRetry)
			continue
		}
		n.listener = listener

		n.drain(ctx, listener)
		listener.Close()

		select {
		case <-ctx.Done():
			return
		case <-n.shutdown:
			return
		default:
			time.Sleep(minRetry)
		}
	}
}

func (n *Notifier) drain(ctx context.Context, listener *pq.Listener) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-n.shutdown:
			return
		case notification := <-listener.Notify:
			if notification == nil {
				return
			}
			if err := n.mgr.Load(n.mgr.filePath, n.mgr.envPath, true); err != nil {
				n.logger.Printf("config notifier: reload after notification failed: %v", err)
			}
		}
	}
}

// Stop ends the listener goroutine.
func (n *Notifier) Stop() {
	close(n.shutdown)
}
