package app

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/roman-kulish/launch-telemetry/internal/storage"
)

const (
	ImagePNG  ImageFormat = "png"
	ImageJPEG ImageFormat = "jpeg"
)

type ImageFormat string

type Config struct {
	Driver        string
	DSN           string
	EventID       int64
	Reference     string
	Field         string
	OutputFile    string
	Format        ImageFormat
	From          *time.Time
	To            *time.Time
	Width         int
	Height        int
	Location      *time.Location
	NoAnnotations bool
}

var validImageFormats = map[ImageFormat]struct{}{
	ImagePNG:  {},
	ImageJPEG: {},
}

func NewConfig() *Config {
	return &Config{
		Driver:    storage.DriverSQLite,
		Reference: "BMP_R",
		Field:     "altitude",
		Format:    ImagePNG,
		Width:     1200,
		Height:    600,
		Location:  time.Local,
	}
}

// NewConfigFromCLI parses args, the command line without the program name.
func NewConfigFromCLI(args []string) (*Config, error) {
	c := NewConfig()

	fs := pflag.NewFlagSet("flightplot", pflag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var imageFormat, from, to, timeZone string
	fs.StringVar(&c.Driver, "driver", c.Driver, "Database driver. [sqlite3, mysql]")
	fs.StringVar(&c.DSN, "db", "", "Path to the sqlite database or MySQL DSN")
	fs.Int64VarP(&c.EventID, "event", "e", 0, "Event ID")
	fs.StringVarP(&c.Reference, "reference", "r", c.Reference, "Sensor reference")
	fs.StringVar(&c.Field, "field", c.Field, "Dotted path of the plotted payload field, e.g. accelerometer.magnitude")
	fs.StringVarP(&c.OutputFile, "output", "o", "", "Path to the output file, without extension")
	fs.StringVarP(&imageFormat, "format", "f", string(ImagePNG), "Output image format. [png, jpeg]")
	fs.StringVar(&from, "from", "", "Plot readings taken at or after this RFC3339 time")
	fs.StringVar(&to, "to", "", "Plot readings taken at or before this RFC3339 time")
	fs.IntVar(&c.Width, "width", c.Width, "Width of the plot area in pixels")
	fs.IntVar(&c.Height, "height", c.Height, "Height of the plot area in pixels")
	fs.StringVar(&timeZone, "tz", "Local", "Time zone of printed timestamps")
	fs.BoolVar(&c.NoAnnotations, "no-annotations", false, "Disable annotations such as time and value scales")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	imageFormat = strings.ToLower(imageFormat)

	var err error
	switch {
	case c.Driver != storage.DriverSQLite && c.Driver != storage.DriverMySQL:
		err = fmt.Errorf("unsupported driver: %s", c.Driver)
	case c.DSN == "":
		err = errors.New("db is required")
	case c.EventID <= 0:
		err = errors.New("event id is required")
	case c.Reference == "":
		err = errors.New("sensor reference is required")
	case c.Field == "":
		err = errors.New("field is required")
	case c.OutputFile == "":
		err = errors.New("output file is required")
	case c.Width < minPlotSize || c.Height < minPlotSize:
		err = fmt.Errorf("plot area must be at least %dx%d pixels", minPlotSize, minPlotSize)
	}
	if err == nil {
		if _, ok := validImageFormats[ImageFormat(imageFormat)]; !ok {
			err = fmt.Errorf("invalid image format: %s", imageFormat)
		}
	}
	if err == nil {
		c.Location, err = time.LoadLocation(timeZone)
	}
	if err == nil {
		c.From, err = parseTime("from", from)
	}
	if err == nil {
		c.To, err = parseTime("to", to)
	}
	if err == nil && c.From != nil && c.To != nil && c.From.After(*c.To) {
		err = errors.New("from is after to")
	}

	if err != nil {
		fs.PrintDefaults()
		return nil, err
	}

	c.Format = ImageFormat(imageFormat)
	c.OutputFile = fmt.Sprintf("%s.%s", c.OutputFile, c.Format)
	return c, nil
}

func parseTime(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s time: %w", name, err)
	}
	return &t, nil
}
