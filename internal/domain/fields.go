package domain

// SweepFields are the layers whose availability is recorded per cell.
var SweepFields = []string{
	"temperature", "windDirection", "windSpeed", "windGust",
	"skyCover", "waveHeight", "wavePeriod", "waveDirection",
	"primarySwellHeight", "primarySwellDirection", "secondarySwellHeight",
	"secondarySwellDirection", "wavePeriod2", "windWaveHeight",
}

// SurfFields are the layers a surf report resolves by nearest-value search.
var SurfFields = []string{
	"waveHeight", "wavePeriod", "waveDirection",
	"primarySwellHeight", "primarySwellDirection",
	"secondarySwellHeight", "secondarySwellDirection",
	"windSpeed", "windDirection", "windWaveHeight", "temperature",
}

// Available reports whether a first value counts as data: present and not
// exactly zero.
func Available(v *float64) bool {
	return v != nil && *v != 0
}

// FieldValues extracts the first value of each requested field. Fields the
// gridpoint does not report map to nil.
func FieldValues(gp Gridpoint, fields []string) map[string]*float64 {
	out := make(map[string]*float64, len(fields))
	for _, f := range fields {
		out[f] = gp.FirstValue(f)
	}
	return out
}

// Availability maps each field to Available(value).
func Availability(values map[string]*float64, fields []string) map[string]bool {
	out := make(map[string]bool, len(fields))
	for _, f := range fields {
		out[f] = Available(values[f])
	}
	return out
}

// AbsentValues returns a map with every field set to nil.
func AbsentValues(fields []string) map[string]*float64 {
	out := make(map[string]*float64, len(fields))
	for _, f := range fields {
		out[f] = nil
	}
	return out
}
