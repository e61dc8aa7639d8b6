package backend

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fleetpulse/core/internal/models"
)

type DB struct {
	conn *sql.DB
}

func NewDB(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return db, nil
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS servers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		ip TEXT NOT NULL,
		platform TEXT NOT NULL DEFAULT '',
		version TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'online',
		last_seen TIMESTAMP NOT NULL,
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_servers_name ON servers(name);
	CREATE INDEX IF NOT EXISTS idx_servers_last_seen ON servers(last_seen);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		server_id INTEGER NOT NULL,
		tags TEXT NOT NULL DEFAULT '[]',
		notes TEXT NOT NULL DEFAULT '',
		UNIQUE (user_id, server_id),
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_subscriptions_user ON subscriptions(user_id);

	CREATE TABLE IF NOT EXISTS performance_data (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		server_id INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		cpu_info TEXT NOT NULL DEFAULT '{}',
		memory_info TEXT NOT NULL DEFAULT '{}',
		disk_info TEXT NOT NULL DEFAULT '[]',
		network_info TEXT NOT NULL DEFAULT '{}',
		boot_time TEXT NOT NULL DEFAULT '',
		UNIQUE (server_id, timestamp),
		FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_performance_server_time ON performance_data(server_id, timestamp);

	CREATE TABLE IF NOT EXISTS alerts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		server_id INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		cpu_alert TEXT NOT NULL,
		memory_alert TEXT NOT NULL,
		disk_alert TEXT NOT NULL,
		network_alert TEXT NOT NULL,
		is_valid_alert BOOLEAN NOT NULL DEFAULT 1,
		FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_alerts_server_time ON alerts(server_id, timestamp);
	`

	_, err := db.conn.Exec(schema)
	return err
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) CreateUser(username, passwordHash string) (int64, error) {
	result, err := db.conn.Exec(
		"INSERT INTO users (username, password_hash) VALUES (?, ?)",
		username, passwordHash)
	if err != nil {
		return 0, fmt.Errorf("create user: %w", err)
	}
	return result.LastInsertId()
}

func (db *DB) GetUser(username string) (int64, string, error) {
	var id int64
	var hash string
	err := db.conn.QueryRow(
		"SELECT id, password_hash FROM users WHERE username = ?",
		username).Scan(&id, &hash)
	if err != nil {
		return 0, "", err
	}
	return id, hash, nil
}

// UpsertServer registers a server by name or refreshes its identity row on a
// new report, and returns the server id either way.
func (db *DB) UpsertServer(s models.ServerIdentity) (int64, error) {
	_, err := db.conn.Exec(`
		INSERT INTO servers (name, ip, platform, version, status, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			ip = excluded.ip,
			platform = excluded.platform,
			version = excluded.version,
			status = excluded.status,
			last_seen = excluded.last_seen`,
		s.Name, s.IP, s.Platform, s.Version, models.StatusOnline, s.LastSeen)
	if err != nil {
		return 0, fmt.Errorf("upsert server: %w", err)
	}

	var id int64
	if err := db.conn.QueryRow("SELECT id FROM servers WHERE name = ?", s.Name).Scan(&id); err != nil {
		return 0, fmt.Errorf("lookup server id: %w", err)
	}
	return id, nil
}

func (db *DB) ListServers() ([]models.ServerIdentity, error) {
	rows, err := db.conn.Query(`
		SELECT id, name, ip, platform, version, status, last_seen, notes
		FROM servers ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list servers: %w", err)
	}
	defer rows.Close()

	var servers []models.ServerIdentity
	for rows.Next() {
		var s models.ServerIdentity
		if err := rows.Scan(&s.ID, &s.Name, &s.IP, &s.Platform, &s.Version, &s.Status, &s.LastSeen, &s.Notes); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		servers = append(servers, s)
	}
	return servers, rows.Err()
}

// MarkSilentOffline flips servers to offline when their last report is older
// than the cutoff. Returns how many rows changed.
func (db *DB) MarkSilentOffline(cutoff time.Time) (int64, error) {
	result, err := db.conn.Exec(`
		UPDATE servers SET status = ?
		WHERE status = ? AND last_seen < ?`,
		models.StatusOffline, models.StatusOnline, models.FormatTimestamp(cutoff))
	if err != nil {
		return 0, fmt.Errorf("mark offline: %w", err)
	}
	return result.RowsAffected()
}

func (db *DB) CreateSubscription(sub models.Subscription) (int64, error) {
	tags, err := json.Marshal(sub.Tags)
	if err != nil {
		return 0, fmt.Errorf("encode tags: %w", err)
	}
	result, err := db.conn.Exec(
		"INSERT INTO subscriptions (user_id, server_id, tags, notes) VALUES (?, ?, ?, ?)",
		sub.UserID, sub.ServerID, string(tags), sub.Notes)
	if err != nil {
		return 0, fmt.Errorf("create subscription: %w", err)
	}
	return result.LastInsertId()
}

func (db *DB) ListSubscriptions(userID int64) ([]models.Subscription, error) {
	rows, err := db.conn.Query(
		"SELECT id, user_id, server_id, tags, notes FROM subscriptions WHERE user_id = ?",
		userID)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		var sub models.Subscription
		var tags string
		if err := rows.Scan(&sub.ID, &sub.UserID, &sub.ServerID, &tags, &sub.Notes); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &sub.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (db *DB) UpdateSubscription(sub models.Subscription) error {
	tags, err := json.Marshal(sub.Tags)
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}
	_, err = db.conn.Exec(
		"UPDATE subscriptions SET tags = ?, notes = ? WHERE id = ?",
		string(tags), sub.Notes, sub.ID)
	if err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (db *DB) DeleteSubscription(id int64) error {
	_, err := db.conn.Exec("DELETE FROM subscriptions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	return nil
}

// InsertSample stores one report. The UNIQUE (server_id, timestamp) key makes
// re-delivery a no-op at the storage layer too.
func (db *DB) InsertSample(s models.MetricSample) error {
	_, err := db.conn.Exec(`
		INSERT OR IGNORE INTO performance_data
			(server_id, timestamp, cpu_info, memory_info, disk_info, network_info, boot_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ServerID, s.Timestamp,
		rawOr(s.CPU, "{}"), rawOr(s.Memory, "{}"),
		rawOr(s.Disk, "[]"), rawOr(s.Network, "{}"),
		s.BootTime)
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

func rawOr(raw json.RawMessage, def string) string {
	if len(raw) == 0 {
		return def
	}
	return string(raw)
}

func (db *DB) GetSamples(serverID int64, start, end time.Time) ([]models.MetricSample, error) {
	rows, err := db.conn.Query(`
		SELECT id, server_id, timestamp, cpu_info, memory_info, disk_info, network_info, boot_time
		FROM performance_data
		WHERE server_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp`,
		serverID, models.FormatTimestamp(start), models.FormatTimestamp(end))
	if err != nil {
		return nil, fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	var samples []models.MetricSample
	for rows.Next() {
		var s models.MetricSample
		var cpu, mem, disk, network string
		if err := rows.Scan(&s.ID, &s.ServerID, &s.Timestamp, &cpu, &mem, &disk, &network, &s.BootTime); err != nil {
			return nil, fmt.Errorf("scan sample: %w", err)
		}
		s.CPU = json.RawMessage(cpu)
		s.Memory = json.RawMessage(mem)
		s.Disk = json.RawMessage(disk)
		s.Network = json.RawMessage(network)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

// LatestSample returns a server's most recent stored report.
func (db *DB) LatestSample(serverID int64) (models.MetricSample, error) {
	var s models.MetricSample
	var cpu, mem, disk, network string
	err := db.conn.QueryRow(`
		SELECT id, server_id, timestamp, cpu_info, memory_info, disk_info, network_info, boot_time
		FROM performance_data
		WHERE server_id = ?
		ORDER BY timestamp DESC LIMIT 1`,
		serverID).Scan(&s.ID, &s.ServerID, &s.Timestamp, &cpu, &mem, &disk, &network, &s.BootTime)
	if err != nil {
		return models.MetricSample{}, err
	}
	s.CPU = json.RawMessage(cpu)
	s.Memory = json.RawMessage(mem)
	s.Disk = json.RawMessage(disk)
	s.Network = json.RawMessage(network)
	return s, nil
}

func (db *DB) InsertAlert(rec models.AlertRecord) error {
	cpu, err := json.Marshal(rec.CPU)
	if err != nil {
		return fmt.Errorf("encode cpu alert: %w", err)
	}
	mem, err := json.Marshal(rec.Memory)
	if err != nil {
		return fmt.Errorf("encode memory alert: %w", err)
	}
	disk, err := json.Marshal(rec.Disk)
	if err != nil {
		return fmt.Errorf("encode disk alert: %w", err)
	}
	network, err := json.Marshal(rec.Network)
	if err != nil {
		return fmt.Errorf("encode network alert: %w", err)
	}

	_, err = db.conn.Exec(`
		INSERT INTO alerts (server_id, timestamp, cpu_alert, memory_alert, disk_alert, network_alert, is_valid_alert)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ServerID, rec.Timestamp, string(cpu), string(mem), string(disk), string(network), bool(rec.IsValid))
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (db *DB) GetAlerts(serverID int64, start, end time.Time) ([]models.AlertRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, server_id, timestamp, cpu_alert, memory_alert, disk_alert, network_alert, is_valid_alert
		FROM alerts
		WHERE server_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC`,
		serverID, models.FormatTimestamp(start), models.FormatTimestamp(end))
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.AlertRecord
	for rows.Next() {
		var rec models.AlertRecord
		var cpu, mem, disk, network string
		var valid bool
		if err := rows.Scan(&rec.ID, &rec.ServerID, &rec.Timestamp, &cpu, &mem, &disk, &network, &valid); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if err := json.Unmarshal([]byte(cpu), &rec.CPU); err != nil {
			return nil, fmt.Errorf("decode cpu alert: %w", err)
		}
		if err := json.Unmarshal([]byte(mem), &rec.Memory); err != nil {
			return nil, fmt.Errorf("decode memory alert: %w", err)
		}
		if err := json.Unmarshal([]byte(disk), &rec.Disk); err != nil {
			return nil, fmt.Errorf("decode disk alert: %w", err)
		}
		if err := json.Unmarshal([]byte(network), &rec.Network); err != nil {
			return nil, fmt.Errorf("decode network alert: %w", err)
		}
		rec.IsValid = models.Flag(valid)
		alerts = append(alerts, rec)
	}
	return alerts, rows.Err()
}

// Prune drops samples and alerts older than the cutoff.
func (db *DB) Prune(cutoff time.Time) (int64, error) {
	ts := models.FormatTimestamp(cutoff)

	var total int64
	for _, table := range []string{"performance_data", "alerts"} {
		result, err := db.conn.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE timestamp < ?", table), ts)
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}
	return total, nil
}

// SubscribersOf returns the user ids subscribed to a server.
func (db *DB) SubscribersOf(serverID int64) ([]int64, error) {
	rows, err := db.conn.Query(
		"SELECT user_id FROM subscriptions WHERE server_id = ?", serverID)
	if err != nil {
		return nil, fmt.Errorf("query subscribers: %w", err)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subscriber: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}
