package viz

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/dataset"
	"github.com/fyrsmithlabs/insightd/internal/insight"
	"github.com/fyrsmithlabs/insightd/internal/logging"
)

// Chart caps per kind keep artifact volume bounded on wide datasets.
const (
	maxTimeSeriesCharts = 4
	maxBarCharts        = 3
	maxSparklines       = 4
	maxBars             = 8
)

// dominantShare is the fraction of rows above which one category value
// counts as dominating its column.
const dominantShare = 0.5

// Options size the rendered charts in terminal cells.
type Options struct {
	Width  int
	Height int
}

// DefaultOptions returns the standard chart size.
func DefaultOptions() Options {
	return Options{Width: 60, Height: 12}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Width < 10 {
		o.Width = def.Width
	}
	if o.Height < 3 {
		o.Height = def.Height
	}
	return o
}

// Chart is one rendered chart artifact.
type Chart struct {
	Kind   string `json:"kind"`
	Column string `json:"column"`
	Path   string `json:"path,omitempty"`
	View   string `json:"-"`
}

// Chart kinds.
const (
	KindTimeSeries = "timeseries"
	KindBar        = "bar"
	KindSparkline  = "sparkline"
)

// Output bundles rendered charts with the insights derived from them.
type Output struct {
	Charts   []Chart
	Insights []insight.Insight
}

// Visualizer renders the visual analysis pass.
type Visualizer struct {
	opts   Options
	logger *logging.Logger
}

// NewVisualizer creates a visualizer. A nil logger falls back to a no-op
// logger.
func NewVisualizer(opts Options, logger *logging.Logger) *Visualizer {
	if logger == nil {
		logger = logging.FromContext(context.Background())
	}
	return &Visualizer{
		opts:   opts.withDefaults(),
		logger: logger.Named("viz"),
	}
}

// Render draws charts for the dataset and writes them as text artifacts
// under artifactsDir. A dataset with nothing chartable yields an empty
// output, not an error.
func (v *Visualizer) Render(ctx context.Context, ds *dataset.Dataset, artifactsDir string) (*Output, error) {
	if ds == nil {
		return nil, errors.New("nil dataset")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if artifactsDir != "" {
		if err := os.MkdirAll(artifactsDir, 0o700); err != nil {
			return nil, fmt.Errorf("create artifacts dir: %w", err)
		}
	}

	out := &Output{}
	v.renderTimeSeries(ds, out)
	v.renderBars(ds, out)
	v.renderSparklines(ds, out)

	for i := range out.Charts {
		if artifactsDir == "" {
			continue
		}
		path := filepath.Join(artifactsDir, chartFileName(out.Charts[i].Kind, out.Charts[i].Column))
		if err := os.WriteFile(path, []byte(out.Charts[i].View), 0o600); err != nil {
			return nil, fmt.Errorf("write chart artifact: %w", err)
		}
		out.Charts[i].Path = path
	}

	v.logger.Debug(ctx, "visualization complete",
		zap.String("dataset", ds.Name()),
		zap.Int("charts", len(out.Charts)),
		zap.Int("insights", len(out.Insights)))
	return out, nil
}

// chartFileName builds a filesystem-safe artifact name.
func chartFileName(kind, column string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, column)
	return fmt.Sprintf("%s_%s.txt", kind, safe)
}
