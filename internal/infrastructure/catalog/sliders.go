// ABOUTME: Slider records stored next to the stations in the catalog database
// ABOUTME: Listed by order and pushed to subscribers after every change
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harper/radiod/internal/domain/station"
)

var ErrSliderNotFound = errors.New("slider not found")

type sliderRow struct {
	ID        string `db:"id"`
	ImageURL  string `db:"image_url"`
	Alt       string `db:"alt"`
	LinkURL   string `db:"link_url"`
	Position  int    `db:"position"`
	ImageHint string `db:"image_hint"`
}

func toSliderRow(sl *station.Slider) sliderRow {
	return sliderRow{
		ID:        sl.ID,
		ImageURL:  sl.ImageURL,
		Alt:       sl.Alt,
		LinkURL:   sl.LinkURL,
		Position:  sl.Order,
		ImageHint: sl.ImageHint,
	}
}

func (r sliderRow) slider() station.Slider {
	return station.Slider{
		ID:        r.ID,
		ImageURL:  r.ImageURL,
		Alt:       r.Alt,
		LinkURL:   r.LinkURL,
		Order:     r.Position,
		ImageHint: r.ImageHint,
	}
}

const upsertSlider = `
	INSERT INTO sliders (id, image_url, alt, link_url, position, image_hint)
	VALUES (:id, :image_url, :alt, :link_url, :position, :image_hint)
	ON CONFLICT (id) DO UPDATE SET
		image_url = excluded.image_url,
		alt = excluded.alt,
		link_url = excluded.link_url,
		position = excluded.position,
		image_hint = excluded.image_hint`

// ListSliders returns sliders by ascending order.
func (s *Store) ListSliders(ctx context.Context) ([]station.Slider, error) {
	var rows []sliderRow
	query := `SELECT id, image_url, alt, link_url, position, image_hint FROM sliders ORDER BY position, id`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list sliders: %w", err)
	}

	out := make([]station.Slider, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.slider())
	}
	return out, nil
}

// PutSlider creates or replaces a slider, assigning an id when it has none.
func (s *Store) PutSlider(ctx context.Context, sl station.Slider) (*station.Slider, error) {
	if sl.ID == "" {
		sl.ID = uuid.NewString()
	}
	if err := sl.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.db.NamedExecContext(ctx, upsertSlider, toSliderRow(&sl)); err != nil {
		return nil, fmt.Errorf("put slider: %w", err)
	}
	s.slidersChanged(ctx)
	return &sl, nil
}

func (s *Store) DeleteSlider(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM sliders WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete slider: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSliderNotFound, id)
	}
	s.slidersChanged(ctx)
	return nil
}

// SeedSliders writes the given sliders in one transaction. With replace,
// every stored slider is deleted first.
func (s *Store) SeedSliders(ctx context.Context, sliders []station.Slider, replace bool) error {
	for i := range sliders {
		if sliders[i].ID == "" {
			return fmt.Errorf("%w: slider %d has no id", station.ErrInvalidSlider, i)
		}
		if err := sliders[i].Validate(); err != nil {
			return err
		}
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin slider seed: %w", err)
	}
	defer tx.Rollback()

	if replace {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sliders`); err != nil {
			return fmt.Errorf("clear sliders: %w", err)
		}
	}
	for i := range sliders {
		if _, err := tx.NamedExecContext(ctx, upsertSlider, toSliderRow(&sliders[i])); err != nil {
			return fmt.Errorf("seed slider %s: %w", sliders[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit slider seed: %w", err)
	}

	log.Info().Int("sliders", len(sliders)).Bool("replace", replace).Msg("sliders seeded")
	s.slidersChanged(ctx)
	return nil
}

// SubscribeSliders behaves like Subscribe for the slider list.
func (s *Store) SubscribeSliders(ctx context.Context) <-chan []station.Slider {
	ch := make(chan []station.Slider, 1)

	s.subsMu.Lock()
	s.sliderSubs[ch] = struct{}{}
	s.subsMu.Unlock()

	if list, err := s.ListSliders(ctx); err == nil {
		replaceLatest(ch, list)
	} else {
		log.Warn().Err(err).Msg("initial slider list failed")
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.closed:
		}
		s.subsMu.Lock()
		delete(s.sliderSubs, ch)
		close(ch)
		s.subsMu.Unlock()
	}()
	return ch
}

func (s *Store) slidersChanged(ctx context.Context) {
	s.subsMu.Lock()
	n := len(s.sliderSubs)
	s.subsMu.Unlock()
	if n == 0 {
		return
	}

	list, err := s.ListSliders(context.WithoutCancel(ctx))
	if err != nil {
		log.Warn().Err(err).Msg("slider refresh failed")
		return
	}

	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.sliderSubs {
		replaceLatest(ch, list)
	}
}
