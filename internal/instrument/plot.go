package instrument

// Kind is the rendering kind a plot transform declares.
type Kind string

const (
	Kind1D     Kind = "1d"
	Kind2D     Kind = "2d"
	KindParams Kind = "params"
)

// Plottable is the output of a plot transform.
type Plottable interface {
	Kind() Kind
}

// Point is one plotted sample with its error band.
type Point struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	YUpper float64 `json:"yupper"`
	YLower float64 `json:"ylower"`
	XUpper float64 `json:"xupper"`
	XLower float64 `json:"xlower"`
}

// Series is one labelled curve.
type Series struct {
	Label  string  `json:"label"`
	Points []Point `json:"points"`
}

// Axis describes one plot axis. Transform is the scale name ("linear",
// "log", ...) reported by the data.
type Axis struct {
	Label     string `json:"label"`
	Transform string `json:"transform,omitempty"`
}

// Plot1D is a set of curves sharing axes.
type Plot1D struct {
	XAxis  Axis     `json:"xaxis"`
	YAxis  Axis     `json:"yaxis"`
	Series []Series `json:"series"`
}

// Kind returns Kind1D.
func (Plot1D) Kind() Kind { return Kind1D }

// Plot2D is a gridded intensity map.
type Plot2D struct {
	XAxis Axis        `json:"xaxis"`
	YAxis Axis        `json:"yaxis"`
	Z     [][]float64 `json:"z"`
	XMin  float64     `json:"xmin"`
	XMax  float64     `json:"xmax"`
	YMin  float64     `json:"ymin"`
	YMax  float64     `json:"ymax"`
}

// Kind returns Kind2D.
func (Plot2D) Kind() Kind { return Kind2D }

// Params is a list of parameter records shown as a table.
type Params struct {
	Values []map[string]any `json:"params"`
}

// Kind returns KindParams.
func (Params) Kind() Kind { return KindParams }

// Renderer draws plottables. Implementations own the output technology.
type Renderer interface {
	Render1D(p Plot1D) error
	Render2D(p Plot2D) error
	RenderParams(p Params) error
}
