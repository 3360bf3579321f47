// Package metar parses the fixed-format METAR surface report grammar into
// typed observation records. The parser is a state machine over an ordered
// rule table and never fails outright: malformed input degrades to a
// partially populated Observation plus diagnostics.
package metar

import "time"

// SkyLayer is one reported cloud layer.
type SkyLayer struct {
	Cover  string   // SKC, CLR, FEW, SCT, BKN, OVC, VV, NSC, NCD
	Height *float64 // feet AGL; nil when unreported
	Cloud  string   // CB, TCU when present
}

// RunwayVisualRange is one reported runway visibility group.
type RunwayVisualRange struct {
	Runway string
	Low    *float64
	High   *float64
	Unit   string
}

// Observation is one decoded report. Every numeric field is a pointer:
// nil means the corresponding group was absent or unreadable. Values keep
// the units the report declared; no conversion happens here.
type Observation struct {
	Raw string

	Type      string // METAR or SPECI
	Modifier  string // AUTO, COR, ...
	StationID string
	Time      *time.Time // always UTC
	Cycle     *int       // observation cycle 0-23

	WindDir     *float64 // degrees true; nil for VRB or missing
	WindSpeed   *float64
	WindGust    *float64
	WindUnit    string // KT, MPS or KMH as declared
	WindDirFrom *float64
	WindDirTo   *float64

	Visibility     *float64 // in VisibilityUnit
	VisibilityUnit string   // SM or M
	CAVOK          bool

	Temperature *float64 // degC
	DewPoint    *float64 // degC

	Pressure         *float64 // altimeter setting, in PressureUnit
	PressureUnit     string   // IN (inches Hg) or HPA
	SeaLevelPressure *float64 // mb, from the SLP remark

	Runway  []RunwayVisualRange
	Weather []string // present weather groups, raw codes
	Recent  []string // recent weather groups
	Sky     []SkyLayer

	PeakWindSpeed *float64
	PeakWindDir   *float64

	MaxTemp6h  *float64
	MinTemp6h  *float64
	MaxTemp24h *float64
	MinTemp24h *float64

	Precip1h  *float64 // inches
	Precip3h  *float64
	Precip6h  *float64
	Precip24h *float64

	StationType string   // AO1/AO2 from remarks
	Remarks     []string // decoded remark groups, raw text
	Trend       []string // trend forecast groups, raw text

	// Diagnostics: tokens the grammar could not place. Parsing never
	// aborts on these.
	UnparsedGroups  []string
	UnparsedRemarks []string
}

// coverFraction maps a sky cover code onto a numeric coverage fraction.
// Values follow the standard okta midpoints used by the ASOS archive.
var coverFraction = map[string]float64{
	"CLR": 0.0000,
	"SKC": 0.0000,
	"NSC": 0.0000,
	"NCD": 0.0000,
	"FEW": 0.1785,
	"SCT": 0.4375,
	"BKN": 0.7500,
	"VV":  0.9900,
	"OVC": 1.0000,
}

// CoverFraction converts a sky cover code to its coverage fraction.
func CoverFraction(code string) (float64, bool) {
	v, ok := coverFraction[code]
	return v, ok
}

// MaxCover collapses the layer list to the single densest coverage
// fraction, or nil when no recognizable layer was reported.
func (o *Observation) MaxCover() *float64 {
	var max *float64
	for _, layer := range o.Sky {
		v, ok := coverFraction[layer.Cover]
		if !ok {
			continue
		}
		if max == nil || v > *max {
			cp := v
			max = &cp
		}
	}
	return max
}
