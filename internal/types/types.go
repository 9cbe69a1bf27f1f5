package types

import "fmt"

// Placeholder values used when the geolocation response omits a field.
// Each placeholder is the literal name of the field it stands in for.
const (
	PlaceholderHostname = "hostname"
	PlaceholderOrg      = "org"
	PlaceholderCity     = "city"
	PlaceholderLocation = "loc"
	PlaceholderCountry  = "country"
	PlaceholderRegion   = "region"
)

// IPRecord represents the geolocation information returned for a single IP
type IPRecord struct {
	IP       string `json:"ip" xml:"ip"`
	Hostname string `json:"hostname" xml:"hostname"`
	Org      string `json:"org" xml:"org"`
	City     string `json:"city" xml:"city"`
	Location string `json:"loc" xml:"loc"`
	Country  string `json:"country" xml:"country"`
	Region   string `json:"region" xml:"region"`
	Postal   string `json:"postal,omitempty" xml:"postal,omitempty"`
	Timezone string `json:"timezone,omitempty" xml:"timezone,omitempty"`
}

// Summary renders the human-readable, multi-line description of the record.
// Field order is IP, hostname, org, city, location, country, region.
func (r *IPRecord) Summary() string {
	return fmt.Sprintf("Current IP is %s \nHostname is %s \nOrg is %s \nCity is %s \nLocation is %s \nCountry is %s \nRegion is %s\n",
		r.IP, r.Hostname, r.Org, r.City, r.Location, r.Country, r.Region)
}
