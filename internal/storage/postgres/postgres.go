package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/AaronLay10/OverlayEngine/internal/model"
)

// ErrNotFound is returned when the broker holds no row for a key.
var ErrNotFound = errors.New("postgres: not found")

// MaxHistory caps HistoricalTelemetry.
const MaxHistory = 10000

// Client is the data broker backed by Postgres. Documents are stored as
// JSONB and decoded into model types.
type Client struct {
	db *sql.DB
}

// New opens dsn, checks the connection and creates the schema.
func New(ctx context.Context, dsn string) (*Client, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{db: db}

	if err := client.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create broker tables: %w", err)
	}

	return client, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS node_contexts (
		name TEXT PRIMARY KEY,
		data JSONB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS recognition_contexts (
		name TEXT PRIMARY KEY,
		data JSONB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS action_mappings (
		device_id TEXT PRIMARY KEY,
		data      JSONB NOT NULL
	);
	CREATE TABLE IF NOT EXISTS telemetry (
		id        BIGSERIAL PRIMARY KEY,
		device_id TEXT NOT NULL,
		ts        TIMESTAMPTZ NOT NULL,
		vals      JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_telemetry_device_ts ON telemetry(device_id, ts DESC);
`

func (c *Client) createTables(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, schema)
	return err
}

func (c *Client) document(ctx context.Context, query, key string, out interface{}) error {
	var data []byte
	err := c.db.QueryRowContext(ctx, query, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return nil
}

// NodeData returns the context document for a scene node.
func (c *Client) NodeData(ctx context.Context, name string) (*model.NodeContext, error) {
	var nc model.NodeContext
	if err := c.document(ctx, `SELECT data FROM node_contexts WHERE name = $1`, name, &nc); err != nil {
		return nil, err
	}
	if nc.Name == "" {
		nc.Name = name
	}
	return &nc, nil
}

// RecognitionContext returns the context for a recognized object.
func (c *Client) RecognitionContext(ctx context.Context, name string) (*model.RecognitionContext, error) {
	var rc model.RecognitionContext
	if err := c.document(ctx, `SELECT data FROM recognition_contexts WHERE name = $1`, name, &rc); err != nil {
		return nil, err
	}
	if rc.Name == "" {
		rc.Name = name
	}
	return &rc, nil
}

// ActionMapping returns the action buttons for a device. A device with
// no mapping has no buttons.
func (c *Client) ActionMapping(ctx context.Context, deviceID string) ([]model.ActionButton, error) {
	var buttons []model.ActionButton
	err := c.document(ctx, `SELECT data FROM action_mappings WHERE device_id = $1`, deviceID, &buttons)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return buttons, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > MaxHistory {
		return MaxHistory
	}
	return limit
}

// HistoricalTelemetry returns up to limit messages for a device in
// ascending time order.
func (c *Client) HistoricalTelemetry(ctx context.Context, deviceID string, limit int) ([]model.SensorMessage, error) {
	query := `
		SELECT ts, vals
		FROM telemetry
		WHERE device_id = $1
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, query, deviceID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SensorMessage
	for rows.Next() {
		m := model.SensorMessage{DeviceID: deviceID}
		var vals []byte
		if err := rows.Scan(&m.Timestamp, &vals); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(vals, &m.Values); err != nil {
			return nil, fmt.Errorf("failed to unmarshal values: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	reverse(out)
	return out, nil
}

func reverse(msgs []model.SensorMessage) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}

// AppendTelemetry stores one telemetry message.
func (c *Client) AppendTelemetry(ctx context.Context, m *model.SensorMessage) error {
	vals, err := json.Marshal(m.Values)
	if err != nil {
		return fmt.Errorf("failed to marshal values: %w", err)
	}
	ts := m.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO telemetry (device_id, ts, vals) VALUES ($1, $2, $3)`,
		m.DeviceID, ts, vals)
	return err
}

func (c *Client) put(ctx context.Context, query, key string, doc interface{}) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	_, err = c.db.ExecContext(ctx, query, key, data)
	return err
}

// PutNodeData stores or replaces a node context.
func (c *Client) PutNodeData(ctx context.Context, nc *model.NodeContext) error {
	return c.put(ctx, `
		INSERT INTO node_contexts (name, data) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data`, nc.Name, nc)
}

// PutRecognitionContext stores or replaces a recognition context.
func (c *Client) PutRecognitionContext(ctx context.Context, rc *model.RecognitionContext) error {
	return c.put(ctx, `
		INSERT INTO recognition_contexts (name, data) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data`, rc.Name, rc)
}

// PutActionMapping stores or replaces a device's action buttons.
func (c *Client) PutActionMapping(ctx context.Context, deviceID string, buttons []model.ActionButton) error {
	return c.put(ctx, `
		INSERT INTO action_mappings (device_id, data) VALUES ($1, $2)
		ON CONFLICT (device_id) DO UPDATE SET data = EXCLUDED.data`, deviceID, buttons)
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
