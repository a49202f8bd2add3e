package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"time"
)

// ExcludedStation is the station whose upstream data is known to be corrupt.
const ExcludedStation = "Patraix"

// Source field names.
const (
	FieldStationID    = "fiwareid"
	FieldName         = "nombre"
	FieldAddress      = "direccion"
	FieldZoneType     = "tipozona"
	FieldEmissionType = "tipoemisio"
	FieldNO2          = "no2"
	FieldPM10         = "pm10"
	FieldPM25         = "pm25"
	FieldAirQuality   = "calidad_am"
	FieldLoadedAt     = "fecha_carg"
	FieldGeoPoint     = "geo_point_2d"
	FieldLon          = "lon"
	FieldLat          = "lat"
)

// Normalize maps raw records onto StationReadings in source order, dropping
// every record whose name is listed in excluded. A record missing any
// expected field fails the whole batch with ErrSchema.
func Normalize(results []RawRecord, excluded []string) ([]StationReading, error) {
	out := make([]StationReading, 0, len(results))
	for i, rec := range results {
		name, err := stringField(rec, FieldName)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		if slices.Contains(excluded, name) {
			continue
		}
		reading, err := normalizeRecord(rec, name)
		if err != nil {
			return nil, fmt.Errorf("record %d (%s): %w", i, name, err)
		}
		out = append(out, reading)
	}
	return out, nil
}

// IsExcluded reports whether the raw record belongs to an excluded station.
func IsExcluded(rec RawRecord, excluded []string) bool {
	name, ok := rec[FieldName].(string)
	return ok && slices.Contains(excluded, name)
}

func normalizeRecord(rec RawRecord, name string) (StationReading, error) {
	r := StationReading{Name: name}

	var err error
	strs := []struct {
		key string
		dst *string
	}{
		{FieldStationID, &r.StationID},
		{FieldAddress, &r.Address},
		{FieldZoneType, &r.ZoneType},
		{FieldEmissionType, &r.EmissionType},
		{FieldAirQuality, &r.AirQuality},
	}
	for _, f := range strs {
		if *f.dst, err = stringField(rec, f.key); err != nil {
			return StationReading{}, err
		}
	}

	if r.NO2, err = nullableNumberField(rec, FieldNO2); err != nil {
		return StationReading{}, err
	}
	if r.PM10, err = nullableNumberField(rec, FieldPM10); err != nil {
		return StationReading{}, err
	}
	if r.PM25, err = nullableNumberField(rec, FieldPM25); err != nil {
		return StationReading{}, err
	}

	if r.LoadedAt, err = timestampField(rec, FieldLoadedAt); err != nil {
		return StationReading{}, err
	}

	geo, ok := rec[FieldGeoPoint].(map[string]any)
	if !ok {
		return StationReading{}, fmt.Errorf("%w: field %q missing or not an object", ErrSchema, FieldGeoPoint)
	}
	if r.Longitude, err = numberField(geo, FieldGeoPoint+"."+FieldLon, FieldLon); err != nil {
		return StationReading{}, err
	}
	if r.Latitude, err = numberField(geo, FieldGeoPoint+"."+FieldLat, FieldLat); err != nil {
		return StationReading{}, err
	}

	return r, nil
}

// stringField requires the key to be present; a JSON null becomes "".
func stringField(rec RawRecord, key string) (string, error) {
	v, ok := rec[key]
	if !ok {
		return "", fmt.Errorf("%w: missing field %q", ErrSchema, key)
	}
	switch s := v.(type) {
	case nil:
		return "", nil
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	default:
		return "", fmt.Errorf("%w: field %q is %T, want string", ErrSchema, key, v)
	}
}

// nullableNumberField requires the key to be present; a JSON null yields nil.
func nullableNumberField(rec RawRecord, key string) (*float64, error) {
	v, ok := rec[key]
	if !ok {
		return nil, fmt.Errorf("%w: missing field %q", ErrSchema, key)
	}
	if v == nil {
		return nil, nil
	}
	f, err := toFloat(v)
	if err != nil {
		return nil, fmt.Errorf("%w: field %q: %v", ErrSchema, key, err)
	}
	return &f, nil
}

func numberField(m map[string]any, label, key string) (float64, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, fmt.Errorf("%w: missing field %q", ErrSchema, label)
	}
	f, err := toFloat(v)
	if err != nil {
		return 0, fmt.Errorf("%w: field %q: %v", ErrSchema, label, err)
	}
	return f, nil
}

func timestampField(rec RawRecord, key string) (time.Time, error) {
	s, err := stringField(rec, key)
	if err != nil {
		return time.Time{}, err
	}
	t, err := ParseLoadedAt(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: field %q: %v", ErrSchema, key, err)
	}
	// Stores keep microseconds at most; a finer reading would never compare
	// equal to its stored copy.
	return t.Truncate(time.Microsecond), nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
