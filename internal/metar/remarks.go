package metar

import (
	"fmt"
	"regexp"
)

// Remark-group patterns, tried in declaration order against the text
// following the RMK delimiter.
var (
	autoStationRe = regexp.MustCompile(`^AO(?P<sensor>[12])A?\s+`)
	slpRe         = regexp.MustCompile(`^SLP(?P<press>\d\d\d|NO)\s+`)
	peakWindRe    = regexp.MustCompile(`^PK\s+WND\s+(?P<dir>\d\d\d)(?P<speed>P?\d{2,3})/(?P<hour>\d\d)?(?P<min>\d\d)\s+`)
	windShiftRe   = regexp.MustCompile(`^WSHFT\s+(?P<hour>\d\d)?(?P<min>\d\d)(\s+(?P<front>FROPA))?\s+`)
	preciseTempRe = regexp.MustCompile(`^T(?P<tsign>[01])(?P<temp>\d\d\d)((?P<dsign>[01])(?P<dewpt>\d\d\d))?\s+`)
	precip1hRe    = regexp.MustCompile(`^P(?P<precip>\d{3,4}|////)\s+`)
	precip36hRe   = regexp.MustCompile(`^6(?P<precip>\d{4}|////)\s+`)
	precip24hRe   = regexp.MustCompile(`^7(?P<precip>\d{4}|////)\s+`)
	temp6hMaxRe   = regexp.MustCompile(`^1(?P<sign>[01])(?P<temp>\d\d\d)\s+`)
	temp6hMinRe   = regexp.MustCompile(`^2(?P<sign>[01])(?P<temp>\d\d\d)\s+`)
	temp24hRe     = regexp.MustCompile(`^4(?P<maxsign>[01])(?P<maxt>\d\d\d)(?P<minsign>[01])(?P<mint>\d\d\d)\s+`)
	pressTendRe   = regexp.MustCompile(`^5(?P<tend>[0-8])(?P<press>\d\d\d)\s+`)
)

type remarkRule struct {
	name   string
	re     *regexp.Regexp
	handle func(o *Observation, p *Parser, m map[string]string)
}

var remarkRules = []remarkRule{
	{name: "auto", re: autoStationRe, handle: handleAutoStation},
	{name: "slp", re: slpRe, handle: handleSLP},
	{name: "peakwind", re: peakWindRe, handle: handlePeakWind},
	{name: "windshift", re: windShiftRe, handle: handleWindShift},
	{name: "precisetemp", re: preciseTempRe, handle: handlePreciseTemp},
	{name: "precip1h", re: precip1hRe, handle: handlePrecip1h},
	{name: "precip36h", re: precip36hRe, handle: handlePrecip36h},
	{name: "precip24h", re: precip24hRe, handle: handlePrecip24h},
	{name: "temp6hmax", re: temp6hMaxRe, handle: handleTemp6hMax},
	{name: "temp6hmin", re: temp6hMinRe, handle: handleTemp6hMin},
	{name: "temp24h", re: temp24hRe, handle: handleTemp24h},
	{name: "presstend", re: pressTendRe, handle: handlePressTend},
}

func handleAutoStation(o *Observation, _ *Parser, m map[string]string) {
	o.StationType = "AO" + m["sensor"]
	if m["sensor"] == "2" {
		o.Remarks = append(o.Remarks, "automated station with precipitation sensor")
	} else {
		o.Remarks = append(o.Remarks, "automated station without precipitation sensor")
	}
}

func handleSLP(o *Observation, _ *Parser, m map[string]string) {
	if m["press"] == "NO" {
		o.Remarks = append(o.Remarks, "sea-level pressure not available")
		return
	}
	// SLP groups report tenths of hPa with the leading 9 or 10 dropped.
	v := mustFloat(m["press"]) / 10
	if v < 50 {
		v += 1000
	} else {
		v += 900
	}
	o.SeaLevelPressure = &v
	o.Remarks = append(o.Remarks, fmt.Sprintf("sea-level pressure %.1f hPa", v))
}

func handlePeakWind(o *Observation, _ *Parser, m map[string]string) {
	o.PeakWindDir = numeric(m["dir"])
	o.PeakWindSpeed = numeric(m["speed"])
	o.Remarks = append(o.Remarks, fmt.Sprintf("peak wind %s at %s kt", m["dir"], m["speed"]))
}

func handleWindShift(o *Observation, _ *Parser, m map[string]string) {
	text := "wind shift at " + m["hour"] + m["min"]
	if m["front"] != "" {
		text += " (frontal passage)"
	}
	o.Remarks = append(o.Remarks, text)
}

// handlePreciseTemp overrides the body-group temperature with the
// tenths-of-degree remark value.
func handlePreciseTemp(o *Observation, _ *Parser, m map[string]string) {
	t := mustFloat(m["temp"]) / 10
	if m["tsign"] == "1" {
		t = -t
	}
	o.Temperature = &t
	if m["dewpt"] != "" {
		d := mustFloat(m["dewpt"]) / 10
		if m["dsign"] == "1" {
			d = -d
		}
		o.DewPoint = &d
	}
	o.Remarks = append(o.Remarks, fmt.Sprintf("hourly temperature %.1f C", t))
}

func handlePrecip1h(o *Observation, _ *Parser, m map[string]string) {
	if v := hundredthsInches(m["precip"]); v != nil {
		o.Precip1h = v
		o.Remarks = append(o.Remarks, fmt.Sprintf("%.2f in precipitation in the last hour", *v))
	}
}

// handlePrecip36h attributes the 6xxxx group to the 3-hour accumulator on
// the synoptic 3-hour cycles and to the 6-hour accumulator otherwise.
func handlePrecip36h(o *Observation, _ *Parser, m map[string]string) {
	v := hundredthsInches(m["precip"])
	if v == nil {
		return
	}
	if o.Cycle != nil && (*o.Cycle%6 == 3) {
		o.Precip3h = v
		o.Remarks = append(o.Remarks, fmt.Sprintf("%.2f in precipitation in the last 3 hours", *v))
		return
	}
	o.Precip6h = v
	o.Remarks = append(o.Remarks, fmt.Sprintf("%.2f in precipitation in the last 6 hours", *v))
}

func handlePrecip24h(o *Observation, _ *Parser, m map[string]string) {
	if v := hundredthsInches(m["precip"]); v != nil {
		o.Precip24h = v
		o.Remarks = append(o.Remarks, fmt.Sprintf("%.2f in precipitation in the last 24 hours", *v))
	}
}

func handleTemp6hMax(o *Observation, _ *Parser, m map[string]string) {
	o.MaxTemp6h = tenthsSigned(m["sign"], m["temp"])
}

func handleTemp6hMin(o *Observation, _ *Parser, m map[string]string) {
	o.MinTemp6h = tenthsSigned(m["sign"], m["temp"])
}

func handleTemp24h(o *Observation, _ *Parser, m map[string]string) {
	o.MaxTemp24h = tenthsSigned(m["maxsign"], m["maxt"])
	o.MinTemp24h = tenthsSigned(m["minsign"], m["mint"])
}

func handlePressTend(o *Observation, _ *Parser, m map[string]string) {
	o.Remarks = append(o.Remarks,
		fmt.Sprintf("3-hour pressure tendency %s, %.1f hPa", m["tend"], mustFloat(m["press"])/10))
}

func hundredthsInches(s string) *float64 {
	v := numeric(s)
	if v == nil {
		return nil
	}
	h := *v / 100
	return &h
}

func tenthsSigned(sign, digits string) *float64 {
	v := mustFloat(digits) / 10
	if sign == "1" {
		v = -v
	}
	return &v
}
