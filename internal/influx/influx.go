// Package influx writes battle metrics to InfluxDB: one point per
// resolved cast and periodic hub status. Without a reachable server the
// points go to a gzip line-protocol file instead.
package influx

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/warband/battlecore/internal/monitor"
	"github.com/warband/battlecore/pkg/core"
)

const (
	BucketActions     = "battle_actions"
	BucketPerformance = "battle_performance"

	MeasurementSpellCast = "spell_cast"
	MeasurementHub       = "hub_status"

	retention = 90 * 24 * time.Hour
)

var buckets = []string{BucketActions, BucketPerformance}

// ErrDisabled is returned by Connect when influx.enabled is false.
var ErrDisabled = errors.New("influx disabled")

type Settings struct {
	Enabled    bool
	URL        string
	Token      string
	Org        string
	BackupPath string
}

// SettingsFromConfig reads the influx.* keys.
func SettingsFromConfig() Settings {
	return Settings{
		Enabled: viper.GetBool("influx.enabled"),
		URL: fmt.Sprintf("%s://%s:%s",
			viper.GetString("influx.protocol"),
			viper.GetString("influx.host"),
			viper.GetString("influx.port")),
		Token:      viper.GetString("influx.token"),
		Org:        viper.GetString("influx.org"),
		BackupPath: viper.GetString("influx.backupPath"),
	}
}

// Manager is safe for concurrent use.
type Manager struct {
	settings Settings
	logger   zerolog.Logger

	mu      sync.Mutex
	client  influxdb2.Client
	writers map[string]api.WriteAPI
	file    *os.File
	gz      *gzip.Writer
}

func NewManager(log zerolog.Logger, s Settings) *Manager {
	return &Manager{
		settings: s,
		logger:   log.With().Str("component", "influx").Logger(),
		writers:  make(map[string]api.WriteAPI),
	}
}

// Connect pings the server and prepares the org and buckets. If the
// server does not answer, the backup file is opened instead and Connect
// still succeeds.
func (m *Manager) Connect(ctx context.Context) error {
	if !m.settings.Enabled {
		return ErrDisabled
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	client := influxdb2.NewClientWithOptions(m.settings.URL, m.settings.Token,
		influxdb2.DefaultOptions().SetBatchSize(500).SetFlushInterval(1000))

	if up, err := client.Ping(ctx); err != nil || !up {
		client.Close()
		m.logger.Warn().Err(err).Str("url", m.settings.URL).Str("backupPath", m.settings.BackupPath).
			Msg("InfluxDB unreachable, writing to backup file")
		return m.openBackup()
	}
	m.client = client

	if err := m.ensureBuckets(ctx); err != nil {
		return err
	}
	for _, bucket := range buckets {
		w := client.WriteAPI(m.settings.Org, bucket)
		go m.logWriteErrors(bucket, w.Errors())
		m.writers[bucket] = w
	}
	m.logger.Info().Str("url", m.settings.URL).Msg("InfluxDB client initialized")
	return nil
}

func (m *Manager) logWriteErrors(bucket string, errs <-chan error) {
	for err := range errs {
		m.logger.Error().Err(err).Str("bucket", bucket).Msg("Error sending data to InfluxDB")
	}
}

func (m *Manager) openBackup() error {
	if m.gz != nil {
		return nil
	}
	file, err := os.OpenFile(m.settings.BackupPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open influx backup: %w", err)
	}
	m.file, m.gz = file, gzip.NewWriter(file)
	return nil
}

func (m *Manager) ensureBuckets(ctx context.Context) error {
	orgs := m.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, m.settings.Org)
	if err != nil {
		m.logger.Info().Str("org", m.settings.Org).Msg("Creating organization")
		if org, err = orgs.CreateOrganizationWithName(ctx, m.settings.Org); err != nil {
			return fmt.Errorf("create organization %s: %w", m.settings.Org, err)
		}
	}

	expire := domain.RetentionRuleTypeExpire
	rule := domain.RetentionRule{Type: &expire, EverySeconds: int64(retention / time.Second)}
	for _, bucket := range buckets {
		if _, err := m.client.BucketsAPI().FindBucketByName(ctx, bucket); err == nil {
			continue
		}
		m.logger.Info().Str("bucket", bucket).Msg("Creating bucket")
		if _, err := m.client.BucketsAPI().CreateBucketWithName(ctx, org, bucket, rule); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}
	return nil
}

// Online reports whether points go to the server rather than the backup.
func (m *Manager) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.client != nil
}

// WritePoint queues point for bucket on the server, or appends it to the
// backup file in line protocol.
func (m *Manager) WritePoint(bucket string, point *write.Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.client != nil:
		w, ok := m.writers[bucket]
		if !ok {
			return fmt.Errorf("unknown bucket %q", bucket)
		}
		w.WritePoint(point)
		return nil
	case m.gz != nil:
		if _, err := m.gz.Write([]byte(write.PointToLineProtocol(point, time.Nanosecond))); err != nil {
			return fmt.Errorf("write influx backup: %w", err)
		}
		return nil
	default:
		return errors.New("influx not connected")
	}
}

// ActionPoint converts a resolved cast into a spell_cast point.
func ActionPoint(a core.ActionRecord) *write.Point {
	at := a.Time
	if at.IsZero() {
		at = time.Now()
	}
	return influxdb2.NewPoint(MeasurementSpellCast,
		map[string]string{
			"battle": a.BattleID,
			"spell":  a.Spell,
			"caster": strconv.Itoa(int(a.Caster)),
		},
		map[string]any{
			"targets":     a.Targets,
			"damage":      a.Damage,
			"healed":      a.Healed,
			"killed":      a.Killed,
			"revived":     a.Revived,
			"duration_ms": float64(a.Duration) / float64(time.Millisecond),
		},
		at)
}

// StatusPoint converts a monitor snapshot into a hub_status point. Alive
// counts become alive_<side> fields and queues queue_<name>.
func StatusPoint(st monitor.Status) *write.Point {
	fields := map[string]any{
		"observers": st.Hub.Observers,
		"last_seq":  st.Hub.LastSeq,
		"round":     st.Hub.Round,
	}
	for side, n := range st.Hub.Alive {
		fields["alive_"+side] = n
	}
	for name, n := range st.Queues {
		fields["queue_"+name] = n
	}
	return influxdb2.NewPoint(MeasurementHub, map[string]string{"battle": st.Hub.BattleID}, fields, st.Time)
}

// RecordAction satisfies server.ActionMetrics.
func (m *Manager) RecordAction(_ context.Context, a core.ActionRecord) error {
	return m.WritePoint(BucketActions, ActionPoint(a))
}

// RecordStatus is meant for monitor.Dependencies.Publish.
func (m *Manager) RecordStatus(st monitor.Status) error {
	return m.WritePoint(BucketPerformance, StatusPoint(st))
}

// Close flushes pending writes and releases the client and backup file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.writers {
		w.Flush()
	}
	if m.client != nil {
		m.client.Close()
		m.client = nil
	}
	var errs []error
	if m.gz != nil {
		errs = append(errs, m.gz.Close())
		m.gz = nil
	}
	if m.file != nil {
		errs = append(errs, m.file.Close())
		m.file = nil
	}
	return errors.Join(errs...)
}
