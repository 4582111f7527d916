package app

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/roman-kulish/launch-telemetry/internal/storage"
)

func Run(ctx context.Context, config *Config, logger *slog.Logger) error {
	if config.Driver == storage.DriverSQLite {
		if _, err := os.Stat(config.DSN); err != nil && os.IsNotExist(err) {
			return fmt.Errorf("database file '%s' does not exist: %w", config.DSN, err)
		}
	}

	store, err := storage.NewSQLStore(config.Driver, config.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	event, err := store.Event(ctx, config.EventID)
	if err != nil {
		return fmt.Errorf("loading event %d: %w", config.EventID, err)
	}

	series, err := readSeries(ctx, store, config, logger)
	if err != nil {
		return err
	}

	renderer, err := NewProfileRenderer(RenderConfig{
		Width:         config.Width,
		Height:        config.Height,
		Location:      config.Location,
		Title:         fmt.Sprintf("%s (%s)", event.Name, event.Kind),
		NoAnnotations: config.NoAnnotations,
	})
	if err != nil {
		return fmt.Errorf("creating profile renderer: %w", err)
	}

	logger.Info("rendering profile",
		slog.Group("image",
			slog.String("destination", config.OutputFile),
			slog.String("format", string(config.Format)),
			slog.Int("width", config.Width),
			slog.Int("height", config.Height),
		))

	img, err := renderer.Render(series)
	if err != nil {
		return fmt.Errorf("rendering profile: %w", err)
	}

	out, err := os.Create(config.OutputFile)
	if err != nil {
		return err
	}

	err = encode(out, img, config.Format)
	return errors.Join(err, out.Close())
}

func readSeries(ctx context.Context, store storage.Store, config *Config, logger *slog.Logger) (*Series, error) {
	var opts []storage.ReaderOption
	var filters []any
	if config.From != nil || config.To != nil {
		from, to := time.UnixMilli(0), time.Now()
		if config.From != nil {
			from = *config.From
			filters = append(filters, slog.String("from", from.In(config.Location).Format(time.DateTime)))
		}
		if config.To != nil {
			to = *config.To
			filters = append(filters, slog.String("to", to.In(config.Location).Format(time.DateTime)))
		}
		opts = append(opts, storage.WithTimeRange(from, to))
	}

	logger.Info("reader configuration", append(filters,
		slog.Int64("event", config.EventID),
		slog.String("reference", config.Reference),
		slog.String("field", config.Field))...)

	reader, err := store.ReadReadings(ctx, config.EventID, config.Reference, opts...)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	series := NewSeries(config.Reference, config.Field)
	for reader.Next(ctx) {
		if err = series.Update(reader.Current()); err != nil {
			return nil, err
		}
	}
	if err = reader.Error(); err != nil {
		return nil, err
	}

	if series.Empty() {
		return nil, fmt.Errorf("no %s readings with field %q in event %d", config.Reference, config.Field, config.EventID)
	}

	logger.Info("finished reading",
		slog.Group("stats",
			slog.String("points", humanize.Comma(int64(len(series.Points)))),
			slog.String("skipped", humanize.Comma(int64(series.Skipped))),
			slog.String("start", series.Start.In(config.Location).Format(time.DateTime)),
			slog.String("end", series.End.In(config.Location).Format(time.DateTime)),
			slog.String("min", fmt.Sprintf("%0.2f%s", series.Min, series.Unit)),
			slog.String("max", fmt.Sprintf("%0.2f%s", series.Max, series.Unit)),
		))

	return series, nil
}

func encode(w io.Writer, img image.Image, format ImageFormat) error {
	switch format {
	case ImagePNG:
		return png.Encode(w, img)
	case ImageJPEG:
		return jpeg.Encode(w, img, &jpeg.Options{Quality: 98})
	}
	return fmt.Errorf("unsupported image format: %s", format)
}
