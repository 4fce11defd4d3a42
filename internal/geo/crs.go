// Package geo projects geographic coordinates into the planar, metre-based
// system used by every downstream stage.
package geo

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/sells-group/hotspot-cli/internal/model"
)

// WGS84 is the PROJ.4 definition of geographic longitude/latitude.
const WGS84 = "+proj=longlat +ellps=WGS84 +datum=WGS84 +no_defs"

// WebMercator is the PROJ.4 definition of EPSG:3857. Its scale error grows
// with latitude, so it is accepted but never chosen automatically.
const WebMercator = "+proj=merc +a=6378137 +b=6378137 +lat_ts=0.0 +lon_0=0.0 +x_0=0.0 +y_0=0 +k=1.0 +units=m +nadgrids=@null +no_defs"

// UTM latitude band. Points outside it must use a polar projection.
const (
	utmMinLat = -80.0
	utmMaxLat = 84.0
)

// UTMScaleError is the worst-case relative distance error inside one UTM
// zone (k0 = 0.9996 on the central meridian).
const UTMScaleError = 0.0004

// UTMZone returns the UTM zone number for a longitude.
func UTMZone(lon float64) int {
	zone := int(math.Floor((lon+180)/6)) + 1
	return min(max(zone, 1), 60)
}

// UTMFor returns the UTM zone definition that contains (lon, lat).
func UTMFor(lon, lat float64) string {
	def := fmt.Sprintf("+proj=utm +zone=%d +ellps=WGS84 +datum=WGS84 +units=m +no_defs", UTMZone(lon))
	if lat < 0 {
		def = strings.Replace(def, "+ellps", "+south +ellps", 1)
	}
	return def
}

// AutoTarget picks a UTM zone from the mean position of raw events.
func AutoTarget(events []model.RawEvent) (string, error) {
	if len(events) == 0 {
		return "", model.NewInvalidParameter(model.StageNormalize, "target_crs", "", "cannot derive a projection from zero events")
	}
	var lon, lat float64
	for i, e := range events {
		if err := checkLonLat(i, e.Lon, e.Lat); err != nil {
			return "", err
		}
		lon += e.Lon
		lat += e.Lat
	}
	n := float64(len(events))
	return UTMFor(lon/n, lat/n), nil
}

// AutoTargetBounds picks a UTM zone from the centre of a lon/lat box
// (MinX=west, MinY=south).
func AutoTargetBounds(b model.BBox) (string, error) {
	if err := checkLonLat(0, b.MinX, b.MinY); err != nil {
		return "", err
	}
	if err := checkLonLat(1, b.MaxX, b.MaxY); err != nil {
		return "", err
	}
	return UTMFor((b.MinX+b.MaxX)/2, (b.MinY+b.MaxY)/2), nil
}

// ResolveCRS expands the short identifiers accepted in configuration
// (EPSG:4326, EPSG:3857, EPSG:326zz, EPSG:327zz, WGS84) into PROJ.4
// definitions. Anything starting with "+" is returned unchanged.
func ResolveCRS(id string) (string, error) {
	s := strings.TrimSpace(id)
	if strings.HasPrefix(s, "+") {
		return s, nil
	}
	switch strings.ToUpper(s) {
	case "WGS84", "EPSG:4326":
		return WGS84, nil
	case "EPSG:3857", "EPSG:900913":
		return WebMercator, nil
	}
	up := strings.ToUpper(s)
	if code, ok := strings.CutPrefix(up, "EPSG:"); ok && len(code) == 5 {
		n, err := strconv.Atoi(code)
		if err == nil {
			zone := n % 100
			switch {
			case n/100 == 326 && zone >= 1 && zone <= 60:
				return fmt.Sprintf("+proj=utm +zone=%d +ellps=WGS84 +datum=WGS84 +units=m +no_defs", zone), nil
			case n/100 == 327 && zone >= 1 && zone <= 60:
				return fmt.Sprintf("+proj=utm +zone=%d +south +ellps=WGS84 +datum=WGS84 +units=m +no_defs", zone), nil
			}
		}
	}
	return "", model.NewInvalidParameter(model.StageNormalize, "crs", id, "unsupported coordinate system identifier")
}

func checkLonLat(i int, lon, lat float64) error {
	switch {
	case math.IsNaN(lon) || math.IsInf(lon, 0) || math.IsNaN(lat) || math.IsInf(lat, 0):
		return &model.InvalidCoordinateError{Index: i, Lon: lon, Lat: lat, Reason: "coordinate is not finite"}
	case lon < -180 || lon > 180:
		return &model.InvalidCoordinateError{Index: i, Lon: lon, Lat: lat, Reason: "longitude outside [-180, 180]"}
	case lat < -90 || lat > 90:
		return &model.InvalidCoordinateError{Index: i, Lon: lon, Lat: lat, Reason: "latitude outside [-90, 90]"}
	}
	return nil
}
