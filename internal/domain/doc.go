// Package domain models the air-quality readings published by the València
// city council open-data portal.
//
// # Data Source
//
// The portal exposes an Opendatasoft "explore v2.1" records endpoint for the
// dataset "estacions-contaminacio-atmosferiques-estaciones-contaminacion-atmosfericas".
// One poll returns a JSON object with a "results" array holding one record per
// monitoring station:
//
//	{
//	  "total_count": 12,
//	  "results": [
//	    {
//	      "fiwareid": "A01_AVFRANCIA_60m",
//	      "nombre": "Avda. Francia",
//	      "direccion": "Avda. Francia",
//	      "tipozona": "Urbana",
//	      "tipoemisio": "Tráfico",
//	      "no2": 20, "pm10": 15, "pm25": 9,
//	      "calidad_am": "Razonablemente Buena",
//	      "fecha_carg": "2025-10-14T09:00:00+00:00",
//	      "geo_point_2d": {"lon": -0.342988, "lat": 39.457504}
//	    }
//	  ]
//	}
//
// Pollutant concentrations are µg/m³ and may be null when a station does not
// measure a pollutant. "fecha_carg" is the portal's ingestion timestamp; every
// record in one poll carries the same value, which is what makes whole-batch
// change detection by timestamp possible (see [NeedsAppend]).
//
// # Data Quality
//
// The "Patraix" station is known to publish corrupt values and is dropped
// during normalization. Other records are passed through without range checks.
//
// # Alerting
//
// A station is in alert when any pollutant strictly exceeds its threshold:
//
//	NO2 > 200 | PM10 > 50 | PM2.5 > 25
//
// Thresholds are configurable; see [DefaultThresholds].
package domain
