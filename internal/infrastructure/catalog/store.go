// ABOUTME: SQL station and slider catalog on SQLite or Postgres through sqlx
// ABOUTME: Pushes the full ordered list to subscribers after every change, including edits from other processes
package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/harper/radiod/internal/domain"
	"github.com/harper/radiod/internal/domain/station"
)

var ErrNotFound = errors.New("station not found")

type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string
	DSN    string
	// Watch follows changes made to the sqlite file by other processes.
	Watch bool
}

type Store struct {
	db     *sqlx.DB
	driver string
	dsn    string

	subsMu     sync.Mutex
	subs       map[chan []station.Station]struct{}
	sliderSubs map[chan []station.Slider]struct{}

	watcher *fsnotify.Watcher
	closed  chan struct{}
	wg      sync.WaitGroup
}

var _ domain.Catalog = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS stations (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	stream_url    TEXT NOT NULL,
	logo_url      TEXT NOT NULL DEFAULT '',
	metadata_url  TEXT NOT NULL DEFAULT '',
	position      INTEGER NOT NULL DEFAULT 0,
	country       TEXT NOT NULL DEFAULT '',
	country_code  TEXT NOT NULL DEFAULT '',
	state         TEXT NOT NULL DEFAULT '',
	state_code    TEXT NOT NULL DEFAULT '',
	city          TEXT NOT NULL DEFAULT '',
	tags          TEXT NOT NULL DEFAULT '[]',
	whatsapp_url  TEXT NOT NULL DEFAULT '',
	instagram_url TEXT NOT NULL DEFAULT '',
	tiktok_url    TEXT NOT NULL DEFAULT '',
	email         TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS sliders (
	id         TEXT PRIMARY KEY,
	image_url  TEXT NOT NULL,
	alt        TEXT NOT NULL,
	link_url   TEXT NOT NULL,
	position   INTEGER NOT NULL DEFAULT 0,
	image_hint TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS settings (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);`

func Open(cfg Config) (*Store, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = "sqlite"
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
		if _, err := db.Exec(`
			PRAGMA journal_mode = WAL;
			PRAGMA busy_timeout = 5000;
		`); err != nil {
			db.Close()
			return nil, fmt.Errorf("configure database: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	s := &Store{
		db:     db,
		driver: driver,
		dsn:    cfg.DSN,
		subs:       make(map[chan []station.Station]struct{}),
		sliderSubs: make(map[chan []station.Slider]struct{}),
		closed:     make(chan struct{}),
	}

	if cfg.Watch && driver == "sqlite" {
		if err := s.watch(); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// DB exposes the connection for stores sharing the catalog database.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

type stationRow struct {
	ID           string `db:"id"`
	Name         string `db:"name"`
	StreamURL    string `db:"stream_url"`
	LogoURL      string `db:"logo_url"`
	MetadataURL  string `db:"metadata_url"`
	Position     int    `db:"position"`
	Country      string `db:"country"`
	CountryCode  string `db:"country_code"`
	State        string `db:"state"`
	StateCode    string `db:"state_code"`
	City         string `db:"city"`
	Tags         string `db:"tags"`
	WhatsappURL  string `db:"whatsapp_url"`
	InstagramURL string `db:"instagram_url"`
	TiktokURL    string `db:"tiktok_url"`
	Email        string `db:"email"`
}

func toRow(st *station.Station) stationRow {
	tags := st.Tags
	if tags == nil {
		tags = []string{}
	}
	encoded, _ := json.Marshal(tags)
	return stationRow{
		ID:           st.ID,
		Name:         st.Name,
		StreamURL:    st.StreamURL,
		LogoURL:      st.LogoURL,
		MetadataURL:  st.MetadataURL,
		Position:     st.Order,
		Country:      st.Country,
		CountryCode:  st.CountryCode,
		State:        st.State,
		StateCode:    st.StateCode,
		City:         st.City,
		Tags:         string(encoded),
		WhatsappURL:  st.WhatsappURL,
		InstagramURL: st.InstagramURL,
		TiktokURL:    st.TiktokURL,
		Email:        st.Email,
	}
}

func (r stationRow) station() station.Station {
	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil || len(tags) == 0 {
		tags = nil
	}
	return station.Station{
		ID:           r.ID,
		Name:         r.Name,
		StreamURL:    r.StreamURL,
		LogoURL:      r.LogoURL,
		MetadataURL:  r.MetadataURL,
		Order:        r.Position,
		Country:      r.Country,
		CountryCode:  r.CountryCode,
		State:        r.State,
		StateCode:    r.StateCode,
		City:         r.City,
		Tags:         tags,
		WhatsappURL:  r.WhatsappURL,
		InstagramURL: r.InstagramURL,
		TiktokURL:    r.TiktokURL,
		Email:        r.Email,
	}
}

const columns = `id, name, stream_url, logo_url, metadata_url, position, country, country_code,
	state, state_code, city, tags, whatsapp_url, instagram_url, tiktok_url, email`

const insertStation = `
	INSERT INTO stations (` + columns + `)
	VALUES (:id, :name, :stream_url, :logo_url, :metadata_url, :position, :country, :country_code,
		:state, :state_code, :city, :tags, :whatsapp_url, :instagram_url, :tiktok_url, :email)`

const upsertStation = insertStation + `
	ON CONFLICT (id) DO UPDATE SET
		name = excluded.name,
		stream_url = excluded.stream_url,
		logo_url = excluded.logo_url,
		metadata_url = excluded.metadata_url,
		position = excluded.position,
		country = excluded.country,
		country_code = excluded.country_code,
		state = excluded.state,
		state_code = excluded.state_code,
		city = excluded.city,
		tags = excluded.tags,
		whatsapp_url = excluded.whatsapp_url,
		instagram_url = excluded.instagram_url,
		tiktok_url = excluded.tiktok_url,
		email = excluded.email`

func (s *Store) List(ctx context.Context) ([]station.Station, error) {
	var rows []stationRow
	query := `SELECT ` + columns + ` FROM stations ORDER BY position, name`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list stations: %w", err)
	}

	out := make([]station.Station, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.station())
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id string) (*station.Station, error) {
	var row stationRow
	query := s.db.Rebind(`SELECT ` + columns + ` FROM stations WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("get station: %w", err)
	}
	st := row.station()
	return &st, nil
}

// Create stores a new station, assigning an id when it has none.
func (s *Store) Create(ctx context.Context, st station.Station) (*station.Station, error) {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if err := st.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.db.NamedExecContext(ctx, insertStation, toRow(&st)); err != nil {
		return nil, fmt.Errorf("create station: %w", err)
	}
	s.changed(ctx)
	return &st, nil
}

func (s *Store) Update(ctx context.Context, st station.Station) error {
	if err := st.Validate(); err != nil {
		return err
	}
	res, err := s.db.NamedExecContext(ctx, `
		UPDATE stations SET
			name = :name, stream_url = :stream_url, logo_url = :logo_url,
			metadata_url = :metadata_url, position = :position, country = :country,
			country_code = :country_code, state = :state, state_code = :state_code,
			city = :city, tags = :tags, whatsapp_url = :whatsapp_url,
			instagram_url = :instagram_url, tiktok_url = :tiktok_url, email = :email
		WHERE id = :id`, toRow(&st))
	if err != nil {
		return fmt.Errorf("update station: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, st.ID)
	}
	s.changed(ctx)
	return nil
}

func (s *Store) Upsert(ctx context.Context, st station.Station) error {
	if err := st.Validate(); err != nil {
		return err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertStation, toRow(&st)); err != nil {
		return fmt.Errorf("upsert station: %w", err)
	}
	s.changed(ctx)
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM stations WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete station: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.changed(ctx)
	return nil
}

// Seed writes the given stations in one transaction. With replace, every
// stored station is deleted first.
func (s *Store) Seed(ctx context.Context, stations []station.Station, replace bool) error {
	for i := range stations {
		if err := stations[i].Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM stations`); err != nil {
			return fmt.Errorf("clear stations: %w", err)
		}
	}
	for i := range stations {
		if _, err := tx.NamedExecContext(ctx, upsertStation, toRow(&stations[i])); err != nil {
			return fmt.Errorf("seed %s: %w", stations[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}

	log.Info().Int("stations", len(stations)).Bool("replace", replace).Msg("catalog seeded")
	s.changed(ctx)
	return nil
}

// Subscribe delivers the current list and then a fresh list after every
// change. Slow readers only see the latest list. The channel closes with ctx.
func (s *Store) Subscribe(ctx context.Context) <-chan []station.Station {
	ch := make(chan []station.Station, 1)

	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	if list, err := s.List(ctx); err == nil {
		replaceLatest(ch, list)
	} else {
		log.Warn().Err(err).Msg("initial catalog list failed")
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.closed:
		}
		s.subsMu.Lock()
		delete(s.subs, ch)
		close(ch)
		s.subsMu.Unlock()
	}()
	return ch
}

func (s *Store) changed(ctx context.Context) {
	s.subsMu.Lock()
	n := len(s.subs)
	s.subsMu.Unlock()
	if n == 0 {
		return
	}

	list, err := s.List(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn().Err(err).Msg("catalog refresh failed")
		return
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		replaceLatest(ch, list)
	}
}

// replaceLatest replaces any unread list with the new one.
func replaceLatest[T any](ch chan []T, list []T) {
	select {
	case ch <- list:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- list:
	default:
	}
}

func (s *Store) Close() error {
	select {
	case <-s.closed:
		return nil
	default:
	}
	close(s.closed)
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.wg.Wait()
	return s.db.Close()
}
