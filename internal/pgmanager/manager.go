// Package pgmanager implements the PostgreSQL Manager of spec §4.4: a
// pool-per-key connection manager with safe identifier quoting, parameterized
// CRUD helpers, streaming export, and catalog introspection.
package pgmanager

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"

	"github.com/sentryfrogg/engine/internal/model"
	"github.com/sentryfrogg/engine/internal/platform/apperr"
	"github.com/sentryfrogg/engine/internal/platform/logging"
)

// ProfileStore is the subset of profiles.Store the manager needs.
type ProfileStore interface {
	Get(name string, expectedType model.ProfileType) (model.Profile, map[string]string, error)
	Upsert(name string, ptype model.ProfileType, data map[string]interface{}, secrets map[string]string) (model.Profile, error)
	List(ptype model.ProfileType) ([]model.ProfileSummary, error)
	Delete(name string) error
}

// PoolOpts tunes a connection pool beyond the defaults.
type PoolOpts struct {
	MaxConnections   int
	IdleTimeoutMS    int64
	ConnectTimeoutMS int64
}

func (o PoolOpts) withDefaults() PoolOpts {
	if o.MaxConnections <= 0 {
		o.MaxConnections = 10
	}
	if o.IdleTimeoutMS <= 0 {
		o.IdleTimeoutMS = 5 * 60 * 1000
	}
	if o.ConnectTimeoutMS <= 0 {
		o.ConnectTimeoutMS = 5000
	}
	return o
}

// ConnSpec identifies the target database for one call: either a persisted
// profile, or an inline connection description.
type ConnSpec struct {
	ProfileName string
	Inline      map[string]interface{}
	PoolOpts    PoolOpts
}

// poolKey implements spec §4.4's "Pool keying" rule.
func (c ConnSpec) poolKey() (string, error) {
	if c.ProfileName != "" {
		return "profile:" + c.ProfileName, nil
	}
	if len(c.Inline) == 0 {
		return "", apperr.MissingParam("profile_name or connection")
	}
	b, err := json.Marshal(c.Inline)
	if err != nil {
		return "", apperr.InternalErr("encode inline connection", err)
	}
	sum := sha256.Sum256(append(b, []byte(fmt.Sprintf("|%+v", c.PoolOpts))...))
	return "inline:" + hex.EncodeToString(sum[:]), nil
}

// Manager owns a process-wide set of *sql.DB pools keyed per spec §4.4/§9
// ("Pool-per-key lifecycle"): a failed dial or broken connection evicts the
// key so the next caller redials.
type Manager struct {
	mu       sync.Mutex
	pools    map[string]*sql.DB
	profiles ProfileStore
	log      *logging.Logger
}

func New(profiles ProfileStore, log *logging.Logger) *Manager {
	if log == nil {
		log = logging.Default()
	}
	return &Manager{pools: map[string]*sql.DB{}, profiles: profiles, log: log}
}

// NewWithPool preloads a pool under "profile:<name>" so a caller holding an
// already-open handle (tests, primarily) can bypass profile/DSN resolution
// by addressing it with ConnSpec{ProfileName: name}.
func NewWithPool(name string, db *sql.DB) *Manager {
	m := &Manager{pools: map[string]*sql.DB{}, log: logging.Default()}
	m.pools["profile:"+name] = db
	return m
}

// Invalidate evicts the pool for a profile, called on profile_upsert/delete
// via ProfileStore.OnInvalidate wiring (spec §9).
func (m *Manager) Invalidate(profileName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := "profile:" + profileName
	if db, ok := m.pools[key]; ok {
		db.Close()
		delete(m.pools, key)
	}
}

// Stats reports a point-in-time view of open pools (SPEC_FULL §5.4
// supplement).
func (m *Manager) Stats() map[string]sql.DBStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]sql.DBStats, len(m.pools))
	for k, db := range m.pools {
		out[k] = db.Stats()
	}
	return out
}

func (m *Manager) pool(ctx context.Context, spec ConnSpec) (*sql.DB, string, error) {
	key, err := spec.poolKey()
	if err != nil {
		return nil, "", err
	}

	m.mu.Lock()
	if db, ok := m.pools[key]; ok {
		m.mu.Unlock()
		return db, key, nil
	}
	m.mu.Unlock()

	dsn, opts, err := m.dsn(spec)
	if err != nil {
		return nil, "", err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, "", apperr.Wrap(apperr.Retryable, "pg_open_failed", "failed to open connection pool", err)
	}
	db.SetMaxOpenConns(opts.MaxConnections)
	db.SetConnMaxIdleTime(time.Duration(opts.IdleTimeoutMS) * time.Millisecond)

	pingCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.ConnectTimeoutMS)*time.Millisecond)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", apperr.Wrap(apperr.Retryable, "pg_ping_failed", "failed to reach postgres", err)
	}

	m.mu.Lock()
	if existing, ok := m.pools[key]; ok {
		m.mu.Unlock()
		db.Close()
		return existing, key, nil
	}
	m.pools[key] = db
	m.mu.Unlock()

	m.log.WithFields(map[string]interface{}{"pool_key": key}).Debug("postgres pool opened")
	return db, key, nil
}

// evict drops a pool that produced a connection-level failure so the next
// call redials rather than keeps hammering a dead connection.
func (m *Manager) evict(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if db, ok := m.pools[key]; ok {
		db.Close()
		delete(m.pools, key)
	}
}

func (m *Manager) dsn(spec ConnSpec) (string, PoolOpts, error) {
	opts := spec.PoolOpts.withDefaults()

	if spec.ProfileName != "" {
		prof, secrets, err := m.profiles.Get(spec.ProfileName, model.ProfilePostgres)
		if err != nil {
			return "", opts, err
		}
		dsn, err := buildDSN(prof.Data, secrets)
		return dsn, opts, err
	}

	secrets := map[string]string{}
	if pw, ok := spec.Inline["password"].(string); ok {
		secrets["password"] = pw
	}
	dsn, err := buildDSN(spec.Inline, secrets)
	return dsn, opts, err
}

func buildDSN(data map[string]interface{}, secrets map[string]string) (string, error) {
	host, _ := data["host"].(string)
	if host == "" {
		return "", apperr.MissingParam("host")
	}
	database, _ := data["database"].(string)
	if database == "" {
		return "", apperr.MissingParam("database")
	}
	user, _ := data["user"].(string)
	if user == "" {
		return "", apperr.MissingParam("user")
	}

	port := 5432
	switch p := data["port"].(type) {
	case float64:
		port = int(p)
	case int:
		port = p
	}

	sslmode, _ := data["sslmode"].(string)
	if sslmode == "" {
		sslmode = "require"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "host=%s port=%d dbname=%s user=%s sslmode=%s",
		quoteDSNValue(host), port, quoteDSNValue(database), quoteDSNValue(user), quoteDSNValue(sslmode))
	if pw := secrets["password"]; pw != "" {
		fmt.Fprintf(&b, " password=%s", quoteDSNValue(pw))
	}
	if ct, ok := data["connect_timeout"]; ok {
		fmt.Fprintf(&b, " connect_timeout=%v", ct)
	}
	return b.String(), nil
}

// quoteDSNValue escapes a libpq connection-string value per its quoting
// rules: wrap in single quotes, backslash-escape backslashes and quotes.
func quoteDSNValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `'`, `\'`)
	return "'" + s + "'"
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
