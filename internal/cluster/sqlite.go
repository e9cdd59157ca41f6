// ABOUTME: SQLite-backed Coordinator using modernc.org/sqlite
// ABOUTME: Gateways on one host share the database file as their coordination service

package cluster

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/2389/actor-gateway/internal/store"
	"github.com/2389/actor-gateway/internal/wire"
)

// SQLiteCoordinator implements Coordinator on a shared SQLite database.
type SQLiteCoordinator struct {
	db     *sql.DB
	ttl    time.Duration
	logger *slog.Logger
}

// NewSQLiteCoordinator opens (or creates) the coordination database at path.
// Gateways that have not announced within ttl are treated as dead; zero disables expiry.
func NewSQLiteCoordinator(path string, ttl time.Duration, logger *slog.Logger) (*SQLiteCoordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := store.OpenSQLite(path)
	if err != nil {
		return nil, err
	}

	c := &SQLiteCoordinator{
		db:     db,
		ttl:    ttl,
		logger: logger.With("component", "cluster", "backend", "sqlite"),
	}
	if err := c.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	c.logger.Info("SQLite coordinator initialized", "path", path)
	return c, nil
}

func (c *SQLiteCoordinator) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS gateways (
			id        TEXT PRIMARY KEY,
			address   TEXT NOT NULL,
			last_seen INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS agent_types (
			gateway_id  TEXT NOT NULL,
			agent_type  TEXT NOT NULL,
			event_types BLOB,
			PRIMARY KEY (gateway_id, agent_type)
		);

		CREATE INDEX IF NOT EXISTS idx_agent_types_type ON agent_types(agent_type);

		CREATE TABLE IF NOT EXISTS placements (
			agent_type TEXT NOT NULL,
			agent_key  TEXT NOT NULL,
			gateway_id TEXT NOT NULL,
			PRIMARY KEY (agent_type, agent_key)
		);

		CREATE INDEX IF NOT EXISTS idx_placements_gateway ON placements(gateway_id);

		CREATE TABLE IF NOT EXISTS subscriptions (
			id           TEXT PRIMARY KEY,
			agent_type   TEXT NOT NULL,
			topic_type   TEXT NOT NULL DEFAULT '',
			topic_prefix TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_topic ON subscriptions(topic_type);
	`
	_, err := c.db.Exec(schema)
	return err
}

// liveAfter is the oldest last_seen still considered live.
func (c *SQLiteCoordinator) liveAfter() int64 {
	if c.ttl <= 0 {
		return 0
	}
	return time.Now().Add(-c.ttl).UnixNano()
}

// LookupAgent implements Coordinator.
func (c *SQLiteCoordinator) LookupAgent(ctx context.Context, requester string, id wire.AgentID) (GatewayRef, bool, error) {
	liveAfter := c.liveAfter()

	ref, err := c.currentPlacement(ctx, requester, id, liveAfter)
	if err == nil {
		return ref, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return GatewayRef{}, false, fmt.Errorf("querying placement: %w", err)
	}

	// Drop a stale placement, keeping one another gateway may have just made.
	_, err = c.db.ExecContext(ctx, `
		DELETE FROM placements
		WHERE agent_type = ? AND agent_key = ?
		  AND (gateway_id = ? OR gateway_id NOT IN (
			SELECT g.id FROM gateways g
			JOIN agent_types t ON t.gateway_id = g.id
			WHERE t.agent_type = ? AND g.last_seen >= ?))
	`, id.Type, id.Key, requester, id.Type, liveAfter)
	if err != nil {
		return GatewayRef{}, false, fmt.Errorf("deleting stale placement: %w", err)
	}

	rows, err := c.db.QueryContext(ctx, `
		SELECT g.id, g.address FROM gateways g
		JOIN agent_types t ON t.gateway_id = g.id
		WHERE t.agent_type = ? AND g.id != ? AND g.last_seen >= ?
		ORDER BY g.id
	`, id.Type, requester, liveAfter)
	if err != nil {
		return GatewayRef{}, false, fmt.Errorf("querying candidate gateways: %w", err)
	}
	var candidates []GatewayRef
	for rows.Next() {
		var ref GatewayRef
		if err := rows.Scan(&ref.ID, &ref.Address); err != nil {
			rows.Close()
			return GatewayRef{}, false, fmt.Errorf("scanning gateway row: %w", err)
		}
		candidates = append(candidates, ref)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return GatewayRef{}, false, fmt.Errorf("iterating gateway rows: %w", err)
	}
	if len(candidates) == 0 {
		return GatewayRef{}, false, ErrAgentNotFound
	}

	chosen := pickGateway(candidates)
	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO placements (agent_type, agent_key, gateway_id) VALUES (?, ?, ?)
		ON CONFLICT (agent_type, agent_key) DO NOTHING
	`, id.Type, id.Key, chosen.ID); err != nil {
		return GatewayRef{}, false, fmt.Errorf("recording placement: %w", err)
	}

	// Another gateway may have won the insert; adopt its placement.
	ref, err = c.currentPlacement(ctx, requester, id, liveAfter)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GatewayRef{}, false, ErrAgentNotFound
		}
		return GatewayRef{}, false, fmt.Errorf("querying placement: %w", err)
	}
	return ref, ref.ID == chosen.ID, nil
}

func (c *SQLiteCoordinator) currentPlacement(ctx context.Context, requester string, id wire.AgentID, liveAfter int64) (GatewayRef, error) {
	var ref GatewayRef
	err := c.db.QueryRowContext(ctx, `
		SELECT g.id, g.address FROM placements p
		JOIN gateways g ON g.id = p.gateway_id
		JOIN agent_types t ON t.gateway_id = p.gateway_id AND t.agent_type = p.agent_type
		WHERE p.agent_type = ? AND p.agent_key = ? AND p.gateway_id != ? AND g.last_seen >= ?
	`, id.Type, id.Key, requester, liveAfter).Scan(&ref.ID, &ref.Address)
	return ref, err
}

// SubscribedAgentTypes implements Coordinator.
func (c *SQLiteCoordinator) SubscribedAgentTypes(ctx context.Context, topic, eventType string) ([]string, error) {
	subs, err := c.querySubscriptions(ctx, `
		SELECT id, agent_type, topic_type, topic_prefix FROM subscriptions
		WHERE topic_type = ? OR topic_prefix != ''
	`, topic)
	if err != nil {
		return nil, err
	}

	set := make(map[string]struct{})
	for _, sub := range subs {
		if !sub.Matches(topic) {
			continue
		}
		if _, seen := set[sub.AgentType]; seen {
			continue
		}
		regs, err := c.registrations(ctx, sub.AgentType)
		if err != nil {
			return nil, err
		}
		if handles(regs, eventType) {
			set[sub.AgentType] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (c *SQLiteCoordinator) registrations(ctx context.Context, agentType string) ([]wire.TypeRegistration, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT event_types FROM agent_types WHERE agent_type = ?`, agentType)
	if err != nil {
		return nil, fmt.Errorf("querying registrations: %w", err)
	}
	defer rows.Close()

	var regs []wire.TypeRegistration
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scanning registration row: %w", err)
		}
		reg := wire.TypeRegistration{AgentType: agentType}
		if len(raw) > 0 {
			if err := wire.Unmarshal(raw, &reg.EventTypes); err != nil {
				return nil, fmt.Errorf("decoding event types: %w", err)
			}
		}
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

// RegisterAgentType implements Coordinator.
func (c *SQLiteCoordinator) RegisterAgentType(ctx context.Context, gatewayID string, reg wire.TypeRegistration) error {
	var raw []byte
	if len(reg.EventTypes) > 0 {
		var err error
		if raw, err = wire.Marshal(reg.EventTypes); err != nil {
			return fmt.Errorf("encoding event types: %w", err)
		}
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO agent_types (gateway_id, agent_type, event_types) VALUES (?, ?, ?)
		ON CONFLICT (gateway_id, agent_type) DO UPDATE SET event_types = excluded.event_types
	`, gatewayID, reg.AgentType, raw)
	if err != nil {
		return fmt.Errorf("registering agent type: %w", err)
	}
	return nil
}

// UnregisterAgentType implements Coordinator.
func (c *SQLiteCoordinator) UnregisterAgentType(ctx context.Context, gatewayID, agentType string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM agent_types WHERE gateway_id = ? AND agent_type = ?`, gatewayID, agentType); err != nil {
		return fmt.Errorf("unregistering agent type: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM placements WHERE gateway_id = ? AND agent_type = ?`, gatewayID, agentType); err != nil {
		return fmt.Errorf("deleting placements: %w", err)
	}
	return tx.Commit()
}

// AddSubscription implements Coordinator.
func (c *SQLiteCoordinator) AddSubscription(ctx context.Context, sub wire.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO subscriptions (id, agent_type, topic_type, topic_prefix)
		VALUES (?, ?, ?, ?)
	`, sub.ID, sub.AgentType, sub.TopicType, sub.TopicPrefix)
	if err != nil {
		return fmt.Errorf("adding subscription: %w", err)
	}
	return nil
}

// RemoveSubscription implements Coordinator.
func (c *SQLiteCoordinator) RemoveSubscription(ctx context.Context, id string) error {
	res, err := c.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("removing subscription: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return ErrSubscriptionNotFound
	}
	return nil
}

// ListSubscriptions implements Coordinator.
func (c *SQLiteCoordinator) ListSubscriptions(ctx context.Context, agentType string) ([]wire.Subscription, error) {
	subs, err := c.querySubscriptions(ctx, `
		SELECT id, agent_type, topic_type, topic_prefix FROM subscriptions
		WHERE ? = '' OR agent_type = ?
	`, agentType, agentType)
	if err != nil {
		return nil, err
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].ID < subs[j].ID })
	return subs, nil
}

func (c *SQLiteCoordinator) querySubscriptions(ctx context.Context, query string, args ...any) ([]wire.Subscription, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []wire.Subscription{}
	for rows.Next() {
		var sub wire.Subscription
		if err := rows.Scan(&sub.ID, &sub.AgentType, &sub.TopicType, &sub.TopicPrefix); err != nil {
			return nil, fmt.Errorf("scanning subscription row: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating subscription rows: %w", err)
	}
	return subs, nil
}

// AddGateway implements Coordinator.
func (c *SQLiteCoordinator) AddGateway(ctx context.Context, ref GatewayRef) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO gateways (id, address, last_seen) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET address = excluded.address, last_seen = excluded.last_seen
	`, ref.ID, ref.Address, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("announcing gateway: %w", err)
	}
	return nil
}

// RemoveGateway implements Coordinator.
func (c *SQLiteCoordinator) RemoveGateway(ctx context.Context, id string) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, q := range []string{
		`DELETE FROM gateways WHERE id = ?`,
		`DELETE FROM agent_types WHERE gateway_id = ?`,
		`DELETE FROM placements WHERE gateway_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, id); err != nil {
			return fmt.Errorf("removing gateway: %w", err)
		}
	}
	return tx.Commit()
}

// Close closes the database connection.
func (c *SQLiteCoordinator) Close() error {
	return c.db.Close()
}
