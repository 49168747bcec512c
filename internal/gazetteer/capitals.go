package gazetteer

// Capital pins one capital of a multi-capital country to its own
// coordinates so distinct capitals are not collapsed by the proximity
// matcher.
type Capital struct {
	Name string
	Lat  float64
	Lng  float64
	Role string
}

// MultiCapitalCountries lists countries with more than one capital,
// keyed by ISO 3166-1 alpha-2 code.
var MultiCapitalCountries = map[string][]Capital{
	"ZA": {
		{Name: "Pretoria", Lat: -25.7461, Lng: 28.1881, Role: "executive"},
		{Name: "Cape Town", Lat: -33.9249, Lng: 18.4241, Role: "legislative"},
		{Name: "Bloemfontein", Lat: -29.0852, Lng: 26.1596, Role: "judicial"},
	},
	"BO": {
		{Name: "La Paz", Lat: -16.4897, Lng: -68.1193, Role: "administrative"},
		{Name: "Sucre", Lat: -19.0196, Lng: -65.2619, Role: "constitutional"},
	},
	"NL": {
		{Name: "Amsterdam", Lat: 52.3676, Lng: 4.9041, Role: "constitutional"},
		{Name: "The Hague", Lat: 52.0705, Lng: 4.3007, Role: "administrative"},
	},
	"LK": {
		{Name: "Sri Jayawardenepura Kotte", Lat: 6.8868, Lng: 79.9187, Role: "legislative"},
		{Name: "Colombo", Lat: 6.9271, Lng: 79.8612, Role: "executive"},
	},
	"MY": {
		{Name: "Kuala Lumpur", Lat: 3.1390, Lng: 101.6869, Role: "legislative"},
		{Name: "Putrajaya", Lat: 2.9264, Lng: 101.6964, Role: "administrative"},
	},
	"SZ": {
		{Name: "Mbabane", Lat: -26.3054, Lng: 31.1367, Role: "administrative"},
		{Name: "Lobamba", Lat: -26.4667, Lng: 31.2000, Role: "legislative"},
	},
	"BJ": {
		{Name: "Porto-Novo", Lat: 6.4969, Lng: 2.6289, Role: "official"},
		{Name: "Cotonou", Lat: 6.3703, Lng: 2.3912, Role: "de-facto"},
	},
	"TZ": {
		{Name: "Dodoma", Lat: -6.1630, Lng: 35.7516, Role: "official"},
		{Name: "Dar es Salaam", Lat: -6.7924, Lng: 39.2083, Role: "de-facto"},
	},
}

// CapitalCoordinates returns the pinned coordinates for a capital of
// the given country, or ok=false when the country is single-capital or
// the name is not one of its capitals.
func CapitalCoordinates(countryCode, name string) (lat, lng float64, ok bool) {
	capitals, found := MultiCapitalCountries[countryCode]
	if !found {
		return 0, 0, false
	}
	normalized := NormalizeName(name)
	for _, c := range capitals {
		if c.Name == normalized {
			return c.Lat, c.Lng, true
		}
	}
	return 0, 0, false
}
