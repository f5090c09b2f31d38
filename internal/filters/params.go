package filters

import (
	"math"
	"net/url"
	"strconv"
	"strings"

	"upscale-go/internal/imgtypes"
)

// Params are the optional form fields sent alongside an upload.
//
// Brightness, Contrast, Saturation and Sepia are accepted and validated so
// clients sharing one form with the browser preview keep working, but the
// pipeline does not apply them.
type Params struct {
	Brightness int
	Contrast   int
	Saturation int
	Blur       int
	Grayscale  int
	Sepia      int
	Rotate     float64
	FlipH      bool
	FlipV      bool
}

// DefaultParams mirrors the form defaults: 100% for the tone fields, zero otherwise.
func DefaultParams() Params {
	return Params{Brightness: 100, Contrast: 100, Saturation: 100}
}

// ParseParams reads filter fields from a parsed multipart form. Missing
// fields keep their defaults; malformed numbers yield a ValidationError.
func ParseParams(form url.Values) (Params, error) {
	p := DefaultParams()

	intFields := []struct {
		name string
		dst  *int
	}{
		{"brightness", &p.Brightness},
		{"contrast", &p.Contrast},
		{"saturation", &p.Saturation},
		{"blur", &p.Blur},
		{"grayscale", &p.Grayscale},
		{"sepia", &p.Sepia},
	}
	for _, f := range intFields {
		v, ok, err := parseFloatField(form, f.name)
		if err != nil {
			return Params{}, err
		}
		if ok {
			v = math.Max(math.MinInt32, math.Min(math.MaxInt32, v))
			*f.dst = int(math.Trunc(v))
		}
	}

	rotate, ok, err := parseFloatField(form, "rotate")
	if err != nil {
		return Params{}, err
	}
	if ok {
		p.Rotate = rotate
	}

	p.FlipH = form.Get("flipH") == "true"
	p.FlipV = form.Get("flipV") == "true"
	return p, nil
}

func parseFloatField(form url.Values, name string) (float64, bool, error) {
	values, present := form[name]
	if !present || len(values) == 0 {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(values[0]), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, imgtypes.NewValidationError("Invalid value for %s", name)
	}
	return v, true, nil
}
