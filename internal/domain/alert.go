package domain

// Thresholds are the pollutant concentrations (µg/m³) above which a station
// is in alert. Comparison is strict.
type Thresholds struct {
	NO2  float64
	PM10 float64
	PM25 float64
}

// DefaultThresholds returns the fixed alert levels: NO2 200, PM10 50, PM2.5 25.
func DefaultThresholds() Thresholds {
	return Thresholds{NO2: 200, PM10: 50, PM25: 25}
}

// Breached reports whether any pollutant of the reading exceeds its
// threshold. Missing values never breach.
func (t Thresholds) Breached(r StationReading) bool {
	return exceeds(r.NO2, t.NO2) || exceeds(r.PM10, t.PM10) || exceeds(r.PM25, t.PM25)
}

// EvaluateAlerts collects an entry for every breaching reading, keyed by
// station name. A later reading for the same name replaces an earlier one.
func EvaluateAlerts(readings []StationReading, t Thresholds) Alerts {
	alerts := Alerts{}
	for _, r := range readings {
		if !t.Breached(r) {
			continue
		}
		alerts[r.Name] = AlertEntry{NO2: r.NO2, PM10: r.PM10, PM25: r.PM25}
	}
	return alerts
}

func exceeds(v *float64, limit float64) bool {
	return v != nil && *v > limit
}
