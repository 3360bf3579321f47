package metar

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// A rule is one entry of the ordered grammar table: an anchored pattern,
// the handler that moves matched groups into the Observation, and whether
// the rule may match repeatedly (sky layers, weather phenomena).
type rule struct {
	name       string
	re         *regexp.Regexp
	handle     func(o *Observation, p *Parser, m map[string]string)
	repeatable bool
	trend      bool // a successful match switches into trend-group parsing
	toRemarks  bool // a successful match switches into remark parsing
}

// Body-group patterns. All are anchored at the start of the unconsumed
// remainder and swallow trailing whitespace; the parser appends a single
// space to the input so every token pattern can end in \s+.
var (
	typeRe     = regexp.MustCompile(`^(?P<type>METAR|SPECI)(\s+(?P<cor>COR))?\s+`)
	stationRe  = regexp.MustCompile(`^(?P<station>[A-Z][A-Z0-9]{3})\s+`)
	timeRe     = regexp.MustCompile(`^(?P<day>\d\d)(?P<hour>\d\d)(?P<min>\d\d)Z?\s+`)
	modifierRe = regexp.MustCompile(`^(?P<mod>AUTO|FINO|NIL|TEST|CORR?|RTD|CC[A-G])\s+`)
	windRe     = regexp.MustCompile(`^(?P<dir>[0-3]\d\d|VRB|///)(?P<speed>P?\d{2,3}|//)` +
		`(G(?P<gust>P?\d{2,3}))?(?P<unit>KTS?|KMH|MPS)?` +
		`(\s+(?P<varfrom>\d\d\d)V(?P<varto>\d\d\d))?\s+`)
	visRe = regexp.MustCompile(`^(?P<vis>CAVOK|////|` +
		`(?P<whole>\d+)\s+(?P<num>\d+)/(?P<den>\d+)SM|` +
		`(?P<prefix>[MP])?(?P<snum>\d+)(/(?P<sden>\d+))?(?P<smunit>SM|KM)|` +
		`(?P<meters>\d{4})(?P<visdir>[NSEW][EW]?|NDV)?)\s+`)
	rvrRe = regexp.MustCompile(`^R(?P<rwy>\d\d[RLC]?)/(?P<low>[MP]?\d{3,4})` +
		`(V(?P<high>[MP]?\d{3,4}))?(?P<unit>FT)?[/NDU]*\s+`)
	weatherRe = regexp.MustCompile(`^(?P<wx>(?P<inten>[-+]|VC)?(?P<desc>MI|PR|BC|DR|BL|SH|TS|FZ)?` +
		`((?P<prec>(DZ|RA|SN|SG|IC|PL|GR|GS|UP)+)|` +
		`(?P<obsc>BR|FG|FU|VA|DU|SA|HZ|PY)|` +
		`(?P<other>PO|SQ|FC|SS|DS|NSW)))\s+`)
	skyRe = regexp.MustCompile(`^(?P<cover>VV|CLR|SKC|NSC|NCD|FEW|SCT|BKN|OVC|///)` +
		`(?P<height>\d{2,4}|///)?(?P<cloud>CB|TCU|///)?\s+`)
	tempRe = regexp.MustCompile(`^(?P<temp>M?\d{1,2}|//|MM|XX)/(?P<dewpt>M?\d{1,2}|//|MM|XX)?\s+`)
	pressRe = regexp.MustCompile(`^(?P<punit>A|Q|QNH)?(?P<press>[\d/]{4})(?P<punit2>INS)?\s+`)
	recentRe = regexp.MustCompile(`^RE(?P<desc>MI|PR|BC|DR|BL|SH|TS|FZ)?` +
		`(?P<prec>(DZ|RA|SN|SG|IC|PL|GR|GS|UP)+)?\s+`)
	trendMarkerRe = regexp.MustCompile(`^(?P<trend>NOSIG|BECMG|TEMPO|INTER|PROB\d\d)\s+`)
	trendTimeRe   = regexp.MustCompile(`^(?P<prefix>FM|TL|AT)(?P<hour>\d\d)(?P<min>\d\d)Z?\s+`)
	remarkStartRe = regexp.MustCompile(`^RMK(S| REMARKS)?\s+`)

	// unparsedRe swallows exactly one unrecognizable token.
	unparsedRe = regexp.MustCompile(`^(?P<group>\S+)\s+`)
)

// bodyRules is the main-body grammar in strict declaration order; the
// first matching rule wins and there is no backtracking across committed
// matches.
var bodyRules = []rule{
	{name: "type", re: typeRe, handle: handleType},
	{name: "station", re: stationRe, handle: handleStation},
	{name: "time", re: timeRe, handle: handleTime},
	{name: "modifier", re: modifierRe, handle: handleModifier},
	{name: "wind", re: windRe, handle: handleWind},
	{name: "visibility", re: visRe, handle: handleVisibility},
	{name: "rvr", re: rvrRe, handle: handleRVR, repeatable: true},
	{name: "weather", re: weatherRe, handle: handleWeather, repeatable: true},
	{name: "sky", re: skyRe, handle: handleSky, repeatable: true},
	{name: "temp", re: tempRe, handle: handleTemp},
	{name: "press", re: pressRe, handle: handlePressure},
	{name: "recent", re: recentRe, handle: handleRecent, repeatable: true},
	{name: "trend", re: trendMarkerRe, handle: handleTrendMarker, trend: true},
	{name: "remarks", re: remarkStartRe, handle: func(*Observation, *Parser, map[string]string) {}, toRemarks: true},
}

// trendPatterns recognize the trend subgrammar; matched groups are kept
// as raw text only.
var trendPatterns = []*regexp.Regexp{trendTimeRe, windRe, visRe, weatherRe, skyRe}

func handleType(o *Observation, _ *Parser, m map[string]string) {
	o.Type = m["type"]
	if m["cor"] != "" {
		o.Modifier = "COR"
	}
}

func handleStation(o *Observation, _ *Parser, m map[string]string) {
	o.StationID = m["station"]
}

func handleTime(o *Observation, p *Parser, m map[string]string) {
	day := mustInt(m["day"])
	hour := mustInt(m["hour"])
	min := mustInt(m["min"])
	if hour > 23 || min > 59 {
		return
	}
	t := time.Date(p.ref.Year(), p.ref.Month(), day, hour, min, 0, 0, time.UTC)
	if t.Day() != day {
		// Day number does not exist in the reference month.
		return
	}
	o.Time = &t
	cycle := hour
	if min >= 45 {
		cycle = (hour + 1) % 24
	}
	o.Cycle = &cycle
}

func handleModifier(o *Observation, _ *Parser, m map[string]string) {
	mod := m["mod"]
	if mod == "CORR" {
		mod = "COR"
	}
	o.Modifier = mod
}

func handleWind(o *Observation, _ *Parser, m map[string]string) {
	if dir := m["dir"]; dir != "VRB" && dir != "///" {
		o.WindDir = numeric(dir)
	}
	o.WindSpeed = numeric(m["speed"])
	o.WindGust = numeric(m["gust"])
	switch m["unit"] {
	case "KT", "KTS":
		o.WindUnit = "KT"
	case "KMH":
		o.WindUnit = "KMH"
	default:
		// Groups without a declared unit report metres per second.
		o.WindUnit = "MPS"
	}
	o.WindDirFrom = numeric(m["varfrom"])
	o.WindDirTo = numeric(m["varto"])
}

func handleVisibility(o *Observation, _ *Parser, m map[string]string) {
	switch {
	case m["vis"] == "CAVOK":
		o.CAVOK = true
		v := 10000.0
		o.Visibility = &v
		o.VisibilityUnit = "M"
	case m["vis"] == "////":
		// unreported
	case m["whole"] != "":
		whole := mustFloat(m["whole"])
		num := mustFloat(m["num"])
		den := mustFloat(m["den"])
		if den != 0 {
			v := whole + num/den
			o.Visibility = &v
			o.VisibilityUnit = "SM"
		}
	case m["snum"] != "":
		v := mustFloat(m["snum"])
		if m["sden"] != "" {
			den := mustFloat(m["sden"])
			if den == 0 {
				return
			}
			v /= den
		}
		o.Visibility = &v
		o.VisibilityUnit = m["smunit"]
	case m["meters"] != "":
		v := mustFloat(m["meters"])
		if v == 9999 {
			v = 10000 // "9999" codes unlimited visibility
		}
		o.Visibility = &v
		o.VisibilityUnit = "M"
	}
}

func handleRVR(o *Observation, _ *Parser, m map[string]string) {
	unit := m["unit"]
	if unit == "" {
		unit = "M"
	}
	o.Runway = append(o.Runway, RunwayVisualRange{
		Runway: m["rwy"],
		Low:    numeric(m["low"]),
		High:   numeric(m["high"]),
		Unit:   unit,
	})
}

func handleWeather(o *Observation, _ *Parser, m map[string]string) {
	o.Weather = append(o.Weather, m["wx"])
}

func handleSky(o *Observation, _ *Parser, m map[string]string) {
	layer := SkyLayer{Cover: m["cover"]}
	if h := m["height"]; h != "" && h != "///" {
		v := mustFloat(h) * 100 // heights are reported in hundreds of feet
		layer.Height = &v
	}
	if c := m["cloud"]; c != "" && c != "///" {
		layer.Cloud = c
	}
	o.Sky = append(o.Sky, layer)
}

func handleTemp(o *Observation, _ *Parser, m map[string]string) {
	o.Temperature = signedTemp(m["temp"])
	o.DewPoint = signedTemp(m["dewpt"])
}

func handlePressure(o *Observation, _ *Parser, m map[string]string) {
	raw := m["press"]
	if strings.Contains(raw, "/") {
		return
	}
	v := mustFloat(raw)
	switch {
	case m["punit"] == "A" || m["punit2"] == "INS":
		v /= 100 // A3006 reads 30.06 inHg
		o.Pressure = &v
		o.PressureUnit = "IN"
	case m["punit"] == "Q" || m["punit"] == "QNH":
		o.Pressure = &v
		o.PressureUnit = "HPA"
	case v > 2500:
		// Unprefixed North American altimeter group.
		v /= 100
		o.Pressure = &v
		o.PressureUnit = "IN"
	default:
		o.Pressure = &v
		o.PressureUnit = "HPA"
	}
}

func handleRecent(o *Observation, _ *Parser, m map[string]string) {
	code := m["desc"] + m["prec"]
	if code == "" {
		return
	}
	o.Recent = append(o.Recent, code)
}

func handleTrendMarker(o *Observation, _ *Parser, m map[string]string) {
	o.Trend = append(o.Trend, m["trend"])
}

// numeric converts a matched digit group to a value; empty and
// slashed-out groups become nil, a P prefix (off-scale reading) is
// dropped.
func numeric(s string) *float64 {
	s = strings.TrimPrefix(s, "P")
	if s == "" || strings.Contains(s, "/") {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}

// signedTemp converts an M-prefixed temperature group; missing markers
// become nil.
func signedTemp(s string) *float64 {
	if s == "" || s == "//" || s == "MM" || s == "XX" {
		return nil
	}
	neg := strings.HasPrefix(s, "M")
	v, err := strconv.ParseFloat(strings.TrimPrefix(s, "M"), 64)
	if err != nil {
		return nil
	}
	if neg {
		v = -v
	}
	return &v
}

func mustFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func mustInt(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
