package telemetry

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"agsteer/internal/geo"
	"agsteer/internal/pipeline"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type StoreConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	DSN    string
}

// Session groups the snapshots of one run.
type Session struct {
	ID        uint `gorm:"primarykey"`
	StartedAt time.Time
	EndedAt   *time.Time
	TrackName string
	OriginLat float64
	OriginLon float64
	RowCount  int64
}

// SnapshotRow is one stored cycle. MercX and MercY are Web Mercator meters
// for map tiles; State holds the full snapshot.
type SnapshotRow struct {
	ID            uint `gorm:"primarykey"`
	SessionID     uint `gorm:"index"`
	Seq           uint64
	At            time.Time `gorm:"index"`
	Lat           float64
	Lon           float64
	MercX         float64
	MercY         float64
	CrossTrackM   float64
	SteerAngleDeg float64
	SpeedKmh      float64
	Engaged       bool
	GuidanceValid bool
	State         datatypes.JSON
}

type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

func OpenStore(cfg StoreConfig, log zerolog.Logger) (*Store, error) {
	gcfg := &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        500,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
	var (
		db  *gorm.DB
		err error
	)
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "file::memory:?cache=shared"
		}
		db, err = gorm.Open(sqlite.Open(dsn), gcfg)
	case "postgres":
		if cfg.DSN == "" {
			return nil, errors.New("store dsn is required for postgres")
		}
		db, err = gorm.Open(postgres.New(postgres.Config{DSN: cfg.DSN, PreferSimpleProtocol: true}), gcfg)
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	if err := db.AutoMigrate(&Session{}, &SnapshotRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate store")
	}
	log.Info().Str("driver", cfg.Driver).Msg("telemetry store ready")
	return &Store{db: db, log: log}, nil
}

func (s *Store) StartSession(ctx context.Context, at time.Time, trackName string, origin geo.LatLon) (Session, error) {
	sess := Session{StartedAt: at, TrackName: trackName, OriginLat: origin.Lat, OriginLon: origin.Lon}
	if err := s.db.WithContext(ctx).Create(&sess).Error; err != nil {
		return Session{}, errors.Wrap(err, "create session")
	}
	return sess, nil
}

func (s *Store) EndSession(ctx context.Context, id uint, at time.Time) error {
	var n int64
	db := s.db.WithContext(ctx)
	if err := db.Model(&SnapshotRow{}).Where("session_id = ?", id).Count(&n).Error; err != nil {
		return errors.Wrap(err, "count rows")
	}
	res := db.Model(&Session{}).Where("id = ?", id).Updates(map[string]interface{}{"ended_at": at, "row_count": n})
	if res.Error != nil {
		return errors.Wrap(res.Error, "end session")
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("session %d not found", id)
	}
	return nil
}

// Append stores snaps under session id in one batch.
func (s *Store) Append(ctx context.Context, id uint, snaps []pipeline.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	rows := make([]SnapshotRow, 0, len(snaps))
	for i := range snaps {
		row, err := NewRow(id, snaps[i])
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := s.db.WithContext(ctx).Create(&rows).Error; err != nil {
		return errors.Wrap(err, "insert snapshots")
	}
	return nil
}

func NewRow(sessionID uint, snap pipeline.Snapshot) (SnapshotRow, error) {
	st := snap.State
	raw, err := json.Marshal(snap)
	if err != nil {
		return SnapshotRow{}, errors.Wrap(err, "encode snapshot")
	}
	x, y := geo.WebMercator(st.Position)
	return SnapshotRow{
		SessionID:     sessionID,
		Seq:           snap.Seq,
		At:            st.CycleStart,
		Lat:           st.Position.Lat,
		Lon:           st.Position.Lon,
		MercX:         x,
		MercY:         y,
		CrossTrackM:   st.CrossTrackM,
		SteerAngleDeg: st.SteerAngleDeg,
		SpeedKmh:      st.SpeedKmh,
		Engaged:       st.Engaged,
		GuidanceValid: st.GuidanceValid,
		State:         datatypes.JSON(raw),
	}, nil
}

func (s *Store) Session(ctx context.Context, id uint) (Session, error) {
	var sess Session
	if err := s.db.WithContext(ctx).First(&sess, id).Error; err != nil {
		return Session{}, errors.Wrapf(err, "session %d", id)
	}
	return sess, nil
}

// Rows returns the stored snapshots of a session in cycle order.
func (s *Store) Rows(ctx context.Context, id uint) ([]SnapshotRow, error) {
	var rows []SnapshotRow
	if err := s.db.WithContext(ctx).Where("session_id = ?", id).Order("seq").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "load snapshots")
	}
	return rows, nil
}

// CrossTrackRMS is the root mean square cross-track error over the engaged
// rows of a session.
func (s *Store) CrossTrackRMS(ctx context.Context, id uint) (float64, int64, error) {
	var out struct {
		MeanSq float64
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&SnapshotRow{}).
		Select("COALESCE(AVG(cross_track_m * cross_track_m), 0) AS mean_sq, COUNT(*) AS n").
		Where("session_id = ? AND engaged = ? AND guidance_valid = ?", id, true, true).
		Scan(&out).Error
	if err != nil {
		return 0, 0, errors.Wrap(err, "cross-track rms")
	}
	return math.Sqrt(out.MeanSq), out.N, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
