// ABOUTME: Node inventory persistence and offline discovery
// ABOUTME: Upserts registrations and filters stored nodes with the shared matcher

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/coven-rpc/internal/filter"
)

// UpsertNode inserts or replaces a node's registration and marks it online.
// FirstSeen is kept from the existing row.
func (s *SQLiteStore) UpsertNode(ctx context.Context, n *NodeRecord) error {
	facts, err := json.Marshal(orEmptyMap(n.Facts))
	if err != nil {
		return fmt.Errorf("encoding facts: %w", err)
	}
	classes, err := json.Marshal(orEmptySlice(n.Classes))
	if err != nil {
		return fmt.Errorf("encoding classes: %w", err)
	}
	agents, err := json.Marshal(orEmptySlice(n.Agents))
	if err != nil {
		return fmt.Errorf("encoding agents: %w", err)
	}

	seen := n.LastSeen
	if seen.IsZero() {
		seen = time.Now()
	}
	ts := seen.UTC().Format(time.RFC3339Nano)

	query := `
		INSERT INTO nodes (identity, collective, facts_json, classes_json, agents_json, online, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			collective = excluded.collective,
			facts_json = excluded.facts_json,
			classes_json = excluded.classes_json,
			agents_json = excluded.agents_json,
			online = 1,
			last_seen = excluded.last_seen
	`
	if _, err := s.db.ExecContext(ctx, query, n.Identity, n.Collective, string(facts), string(classes), string(agents), ts, ts); err != nil {
		return fmt.Errorf("upserting node: %w", err)
	}

	s.logger.Debug("upserted node", "identity", n.Identity)
	return nil
}

// MarkOffline flags a node as disconnected.
// Returns ErrNotFound if the node was never registered.
func (s *SQLiteStore) MarkOffline(ctx context.Context, identity string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE nodes SET online = 0, last_seen = ? WHERE identity = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), identity,
	)
	if err != nil {
		return fmt.Errorf("marking node offline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetNode retrieves a node by identity.
// Returns ErrNotFound if the node doesn't exist.
func (s *SQLiteStore) GetNode(ctx context.Context, identity string) (*NodeRecord, error) {
	row := s.db.QueryRowContext(ctx, nodeSelect+` WHERE identity = ?`, identity)
	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// ListNodes returns nodes ordered by identity. onlineOnly skips
// disconnected nodes.
func (s *SQLiteStore) ListNodes(ctx context.Context, onlineOnly bool) ([]*NodeRecord, error) {
	query := nodeSelect
	if onlineOnly {
		query += ` WHERE online = 1`
	}
	query += ` ORDER BY identity`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying nodes: %w", err)
	}
	defer rows.Close()

	var nodes []*NodeRecord
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

// Discover returns the identities of stored nodes matching f. It satisfies
// the discovery source interface; timeout is unused and limit > 0 caps the
// result. Filters calling data functions are rejected.
func (s *SQLiteStore) Discover(ctx context.Context, f *filter.Filter, _ time.Duration, limit int) ([]string, error) {
	if f.HasFunctions() {
		return nil, fmt.Errorf("%w: %v", ErrDataFunctions, f.Functions())
	}

	nodes, err := s.ListNodes(ctx, false)
	if err != nil {
		return nil, err
	}

	var hosts []string
	for _, n := range nodes {
		if limit > 0 && len(hosts) >= limit {
			break
		}
		if f.Matches(n.Node()) {
			hosts = append(hosts, n.Identity)
		}
	}
	return hosts, nil
}

const nodeSelect = `
	SELECT identity, collective, facts_json, classes_json, agents_json, online, first_seen, last_seen
	FROM nodes`

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(row scanner) (*NodeRecord, error) {
	var n NodeRecord
	var facts, classes, agents, firstSeen, lastSeen string
	var online int
	if err := row.Scan(&n.Identity, &n.Collective, &facts, &classes, &agents, &online, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(facts), &n.Facts); err != nil {
		return nil, fmt.Errorf("decoding facts of %s: %w", n.Identity, err)
	}
	if err := json.Unmarshal([]byte(classes), &n.Classes); err != nil {
		return nil, fmt.Errorf("decoding classes of %s: %w", n.Identity, err)
	}
	if err := json.Unmarshal([]byte(agents), &n.Agents); err != nil {
		return nil, fmt.Errorf("decoding agents of %s: %w", n.Identity, err)
	}
	n.Online = online == 1

	var err error
	if n.FirstSeen, err = time.Parse(time.RFC3339Nano, firstSeen); err != nil {
		return nil, fmt.Errorf("parsing first_seen: %w", err)
	}
	if n.LastSeen, err = time.Parse(time.RFC3339Nano, lastSeen); err != nil {
		return nil, fmt.Errorf("parsing last_seen: %w", err)
	}
	return &n, nil
}

func orEmptyMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func orEmptySlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
