package domain

import (
	"errors"
	"time"
)

var (
	// ErrNoData marks a transport failure (non-success status or timeout)
	// that leaves the run without a batch. Callers skip the dependent steps.
	ErrNoData = errors.New("no data from source")

	// ErrSchema marks a raw record that does not carry the fields the
	// normalizer relies on. It is fatal to the run.
	ErrSchema = errors.New("unexpected source schema")

	// ErrEmptyBatch is returned when an operation needs at least one record.
	ErrEmptyBatch = errors.New("empty batch")
)

// RawRecord is one element of the source "results" array, kept exactly as
// decoded (numbers as json.Number) so snapshots preserve the source form.
type RawRecord map[string]any

// Response is the decoded top-level body of one source poll.
type Response struct {
	TotalCount int         `json:"total_count"`
	Results    []RawRecord `json:"results"`
}

// StationReading is the normalized form of one station's reading.
type StationReading struct {
	StationID    string    `json:"fiwareid"`
	Name         string    `json:"nombre"`
	Address      string    `json:"direccion"`
	ZoneType     string    `json:"tipozona"`
	EmissionType string    `json:"tipoemisio"`
	NO2          *float64  `json:"no2"`
	PM10         *float64  `json:"pm10"`
	PM25         *float64  `json:"pm25"`
	AirQuality   string    `json:"calidad_am"`
	LoadedAt     time.Time `json:"fecha_carg"`
	Longitude    float64   `json:"longitud"`
	Latitude     float64   `json:"latitud"`
}

// AlertEntry holds the pollutant values of a reading that breached a threshold.
type AlertEntry struct {
	NO2  *float64 `json:"no2"`
	PM10 *float64 `json:"pm10"`
	PM25 *float64 `json:"pm25"`
}

// Alerts maps station name to its alert entry.
type Alerts map[string]AlertEntry

// StationLatest is the most recent stored timestamp for one station.
type StationLatest struct {
	Name     string
	LoadedAt time.Time
}
