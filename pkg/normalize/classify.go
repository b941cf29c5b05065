package normalize

// Common technology buckets derived from the upstream technology name.
const (
	TechCable         = "Cable"
	TechDSL           = "DSL"
	TechFiber         = "Fiber"
	TechFixedWireless = "Fixed Wireless"
	TechSatellite     = "Satellite"
	TechOther         = "Other Tech"
)

// Service categories derived from the common technology bucket.
const (
	CategoryWired     = "wired"
	CategoryWireless  = "wireless"
	CategorySatellite = "satellite"
	CategoryOther     = "Other Category"
)

// commonTech maps the upstream technology name to its common bucket.
var commonTech = map[string]string{
	"Cable":                     TechCable,
	"Copper":                    TechDSL,
	"Fiber to the Premises":     TechFiber,
	"LBR Fixed Wireless":        TechFixedWireless,
	"Licensed Fixed Wireless":   TechFixedWireless,
	"Unlicensed Fixed Wireless": TechFixedWireless,
	"GSO Satellite":             TechSatellite,
	"NGSO Satellite":            TechSatellite,
}

// ClassifyTech returns the commonly-used technology name for an upstream
// technology name, or TechOther when unrecognized.
func ClassifyTech(technology string) string {
	if tech, ok := commonTech[technology]; ok {
		return tech
	}
	return TechOther
}

// Categorize returns the wired/wireless/satellite service category for a
// common technology bucket.
func Categorize(tech string) string {
	switch tech {
	case TechCable, TechDSL, TechFiber:
		return CategoryWired
	case TechFixedWireless:
		return CategoryWireless
	case TechSatellite:
		return CategorySatellite
	default:
		return CategoryOther
	}
}
