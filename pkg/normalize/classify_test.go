package normalize

import "testing"

func TestClassifyTech(t *testing.T) {
	cases := []struct {
		technology string
		want       string
	}{
		{"Cable", TechCable},
		{"Copper", TechDSL},
		{"Fiber to the Premises", TechFiber},
		{"LBR Fixed Wireless", TechFixedWireless},
		{"Licensed Fixed Wireless", TechFixedWireless},
		{"Unlicensed Fixed Wireless", TechFixedWireless},
		{"GSO Satellite", TechSatellite},
		{"NGSO Satellite", TechSatellite},
		{"Carrier Pigeon", TechOther},
	}

	for _, tc := range cases {
		if got := ClassifyTech(tc.technology); got != tc.want {
			t.Errorf("ClassifyTech(%q) = %q, want %q", tc.technology, got, tc.want)
		}
	}
}

func TestCategorize(t *testing.T) {
	cases := []struct {
		tech string
		want string
	}{
		{TechCable, CategoryWired},
		{TechDSL, CategoryWired},
		{TechFiber, CategoryWired},
		{TechFixedWireless, CategoryWireless},
		{TechSatellite, CategorySatellite},
		{TechOther, CategoryOther},
	}

	for _, tc := range cases {
		if got := Categorize(tc.tech); got != tc.want {
			t.Errorf("Categorize(%q) = %q, want %q", tc.tech, got, tc.want)
		}
	}
}
