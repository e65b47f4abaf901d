package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// watchdogInterval is how often the bridge verifies its LISTEN connection
// and reconnects if it was lost.
const watchdogInterval = 30 * time.Second

// identRe limits table and channel names to plain identifiers. These names
// are interpolated into DDL, so anything else is rejected up front.
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NotificationHandler receives each incoming NOTIFY payload. The executor's
// HandleDatabaseNotification is wired here.
type NotificationHandler func(ctx context.Context, channel string, payload []byte)

// Bridge maintains the LISTEN connection, installs notify triggers on
// demand, and fans incoming notifications out to the handler.
//
// Like the teacher pattern for LISTEN/NOTIFY: the pool serves NOTIFY and
// DDL, while a dedicated pgx.Conn outside the pool holds the persistent
// LISTEN channels.
type Bridge struct {
	pool    *pgxpool.Pool
	handler NotificationHandler

	mu         sync.Mutex
	listenConn *pgx.Conn
	channels   map[string]bool

	// installMu serializes notify-trigger DDL installs.
	installMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewBridge creates a bridge over the pool. handler must be set before
// Start via SetHandler (the executor is constructed after the bridge).
func NewBridge(pool *pgxpool.Pool) *Bridge {
	return &Bridge{pool: pool, channels: make(map[string]bool)}
}

// SetHandler wires the notification dispatch target.
func (b *Bridge) SetHandler(h NotificationHandler) { b.handler = h }

// Start connects the dedicated LISTEN connection and launches the listener
// loop plus the reconnect watchdog.
func (b *Bridge) Start(ctx context.Context) error {
	ctx, b.cancel = context.WithCancel(ctx)
	b.done = make(chan struct{})

	if err := b.connect(ctx); err != nil {
		b.cancel()
		return err
	}

	b.wg.Add(1)
	go b.watchdog(ctx)

	go func() {
		b.wg.Wait()
		close(b.done)
	}()

	slog.Info("bridge: database notification bridge started")
	return nil
}

// Stop cancels background work and closes the LISTEN connection.
func (b *Bridge) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	if b.done != nil {
		<-b.done
	}
	b.mu.Lock()
	conn := b.listenConn
	b.listenConn = nil
	b.mu.Unlock()
	if conn != nil {
		_ = conn.Close(context.Background())
	}
	slog.Info("bridge: stopped")
}

// connect establishes the dedicated LISTEN connection, re-issues LISTEN for
// every previously active channel, and launches the listen loop.
func (b *Bridge) connect(ctx context.Context) error {
	connCfg := b.pool.Config().ConnConfig.Copy()
	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("bridge: acquire listen connection: %w", err)
	}

	b.mu.Lock()
	b.listenConn = conn
	channels := make([]string, 0, len(b.channels))
	for ch := range b.channels {
		channels = append(channels, ch)
	}
	b.mu.Unlock()

	for _, ch := range channels {
		if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{ch}.Sanitize()); err != nil {
			slog.Error("bridge: re-LISTEN failed", "channel", ch, "error", err)
		}
	}

	b.wg.Add(1)
	go b.listenLoop(ctx, conn)
	return nil
}

// listenLoop waits for notifications and dispatches them to the handler.
// On connection failure it marks the connection lost and returns; the
// watchdog re-establishes it.
func (b *Bridge) listenLoop(ctx context.Context, conn *pgx.Conn) {
	defer b.wg.Done()

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("bridge: listen connection lost", "error", err)
			b.mu.Lock()
			if b.listenConn == conn {
				b.listenConn = nil
			}
			b.mu.Unlock()
			_ = conn.Close(context.Background())
			return
		}

		if b.handler != nil {
			b.handler(ctx, notification.Channel, []byte(notification.Payload))
		}
	}
}

// watchdog checks the LISTEN connection every 30 seconds and reconnects
// (re-registering all active channels) when it is gone.
func (b *Bridge) watchdog(ctx context.Context) {
	defer b.wg.Done()
	ticker := time.NewTicker(watchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if b.Connected() {
				continue
			}
			slog.Warn("bridge: reconnecting listen connection")
			if err := b.connect(ctx); err != nil {
				slog.Error("bridge: reconnect failed", "error", err)
			}
		}
	}
}

// Connected reports whether the LISTEN connection is live.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listenConn != nil
}

// Channels returns the sorted set of channels currently LISTENed on.
func (b *Bridge) Channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.channels))
	for ch := range b.channels {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}

// Listen ensures the bridge is LISTENing on channel. The channel is
// remembered so a reconnect restores it.
func (b *Bridge) Listen(ctx context.Context, channel string) error {
	if !identRe.MatchString(channel) {
		return fmt.Errorf("bridge: invalid channel name %q", channel)
	}

	b.mu.Lock()
	already := b.channels[channel]
	b.channels[channel] = true
	conn := b.listenConn
	b.mu.Unlock()

	if already || conn == nil {
		return nil
	}
	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		return fmt.Errorf("bridge: LISTEN %s: %w", channel, err)
	}
	slog.Info("bridge: listening", "channel", channel)
	return nil
}

// Notify issues a pg_notify on the given channel through the pool.
func (b *Bridge) Notify(ctx context.Context, channel, payload string) error {
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", channel, payload); err != nil {
		return fmt.Errorf("bridge: notify %s: %w", channel, err)
	}
	return nil
}

// InstallTableTrigger installs (create-or-replace) the generic notify
// function and AFTER row trigger on table, emitting JSON
// {operation, table, data?, old_data?} on channel. Idempotent; DDL installs
// are serialized. A missing table surfaces as an error the caller logs;
// the install is retried on later reloads.
func (b *Bridge) InstallTableTrigger(ctx context.Context, table, channel string) error {
	if !identRe.MatchString(table) {
		return fmt.Errorf("bridge: invalid table name %q", table)
	}
	if !identRe.MatchString(channel) {
		return fmt.Errorf("bridge: invalid channel name %q", channel)
	}

	b.installMu.Lock()
	defer b.installMu.Unlock()

	fnDDL := fmt.Sprintf(`
CREATE OR REPLACE FUNCTION notify_%s_changes() RETURNS trigger AS $$
DECLARE
	payload json;
BEGIN
	IF (TG_OP = 'DELETE') THEN
		payload = json_build_object('operation', TG_OP, 'table', TG_TABLE_NAME, 'old_data', row_to_json(OLD));
	ELSIF (TG_OP = 'UPDATE') THEN
		payload = json_build_object('operation', TG_OP, 'table', TG_TABLE_NAME, 'data', row_to_json(NEW), 'old_data', row_to_json(OLD));
	ELSE
		payload = json_build_object('operation', TG_OP, 'table', TG_TABLE_NAME, 'data', row_to_json(NEW));
	END IF;
	PERFORM pg_notify('%s', payload::text);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql`, table, channel)

	if _, err := b.pool.Exec(ctx, fnDDL); err != nil {
		return fmt.Errorf("bridge: create notify function for %s: %w", table, err)
	}

	dropDDL := fmt.Sprintf(`DROP TRIGGER IF EXISTS %s_notify_trigger ON %s`, table, table)
	if _, err := b.pool.Exec(ctx, dropDDL); err != nil {
		return fmt.Errorf("bridge: drop trigger on %s: %w", table, err)
	}

	trigDDL := fmt.Sprintf(`CREATE TRIGGER %s_notify_trigger
AFTER INSERT OR UPDATE OR DELETE ON %s
FOR EACH ROW EXECUTE FUNCTION notify_%s_changes()`, table, table, table)
	if _, err := b.pool.Exec(ctx, trigDDL); err != nil {
		return fmt.Errorf("bridge: create trigger on %s: %w", table, err)
	}

	slog.Info("bridge: notify trigger installed", "table", table, "channel", channel)
	return nil
}
