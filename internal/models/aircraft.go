package models

// Aircraft represents aircraft information from the reference database
// All fields correspond to columns of the aircraft table
type Aircraft struct {
	ICAO         string // Primary key - 6 hex digit address, lowercase
	Registration string // Aircraft registration (e.g., N12345)
	ICAOType     string // ICAO type designator (e.g., B738)
	Model        string // Model name
	Manufacturer string // Manufacturer name
	OwnerOp      string // Owner or operator
	ShortType    string // Short type description (e.g., L2J)
	Year         string // Year built
	Military     bool
	PIA          bool // Privacy ICAO Address program
	LADD         bool // Limiting Aircraft Data Displayed program
}

// Enrichment is the reference data attached to every message under the "db" key.
// A miss produces the zero value: all strings empty, all flags false.
type Enrichment struct {
	Registration string `json:"reg"`
	ICAOType     string `json:"icaotype"`
	Model        string `json:"model"`
	Manufacturer string `json:"manufacturer"`
	OwnerOp      string `json:"ownop"`
	ShortType    string `json:"short_type"`
	Year         string `json:"year"`
	Military     bool   `json:"mil"`
	PIA          bool   `json:"pia"`
	LADD         bool   `json:"ladd"`
}

// Enrichment converts the reference record into its wire form
func (a *Aircraft) Enrichment() Enrichment {
	if a == nil {
		return Enrichment{}
	}
	return Enrichment{
		Registration: a.Registration,
		ICAOType:     a.ICAOType,
		Model:        a.Model,
		Manufacturer: a.Manufacturer,
		OwnerOp:      a.OwnerOp,
		ShortType:    a.ShortType,
		Year:         a.Year,
		Military:     a.Military,
		PIA:          a.PIA,
		LADD:         a.LADD,
	}
}

// IsEmpty reports whether no reference data was attached
func (e Enrichment) IsEmpty() bool {
	return e == Enrichment{}
}
