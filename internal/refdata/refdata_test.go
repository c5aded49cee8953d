package refdata

import (
	"strings"
	"testing"

	"github.com/hyeonsu-kim/citypulse/internal/core/model"
)

const sampleCSV = `category,no,id,name,name_eng,lat,lng
tourist_zone,1,POI001,강남역,Gangnam Station,37.4979,127.0276
tourist_zone,2,POI002,홍대입구,Hongdae,37.5568,126.9237
park,3,POI003,여의도한강공원,Yeouido Hangang Park,37.5285,126.9327
park,4,POI004,남산공원,Namsan Park
`

func TestParse(t *testing.T) {
	reg, err := Parse(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if reg.Len() != 4 {
		t.Fatalf("len=%d want 4", reg.Len())
	}

	e, ok := reg.ByID("POI001")
	if !ok {
		t.Fatal("POI001 missing")
	}
	if e.Name != "강남역" || e.NameEng != "Gangnam Station" || e.Category != "tourist_zone" {
		t.Fatalf("entity wrong: %+v", e)
	}
	if e.Coord == nil || e.Coord.Lat != 37.4979 || e.Coord.Lng != 127.0276 {
		t.Fatalf("coord wrong: %+v", e.Coord)
	}

	// row without coordinate columns parses with nil coord
	e4, _ := reg.ByID("POI004")
	if e4.Coord != nil {
		t.Fatalf("POI004 coord=%+v want nil", e4.Coord)
	}

	if !reg.IsValid("POI002") || reg.IsValid("POI999") {
		t.Fatal("IsValid wrong")
	}
}

func TestParse_SkipsBadRows(t *testing.T) {
	const csv = `category,no,id,name,name_eng
tourist_zone,1,POI001,강남역,Gangnam Station
tourist_zone,2,,nameless,Nameless
short,row
`
	reg, err := Parse(strings.NewReader(csv))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("len=%d want 1", reg.Len())
	}
}

func TestParse_Empty(t *testing.T) {
	if _, err := Parse(strings.NewReader("category,no,id,name,name_eng\n")); err == nil {
		t.Fatal("want error for empty reference set")
	}
}

func TestByCategory(t *testing.T) {
	reg, err := Parse(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	parks := reg.ByCategory("park")
	if len(parks) != 2 {
		t.Fatalf("parks=%d want 2", len(parks))
	}
	if all := reg.ByCategory(""); len(all) != 4 {
		t.Fatalf("empty category returned %d want all 4", len(all))
	}
}

func TestFromEntities_DropsDuplicatesAndEmptyIDs(t *testing.T) {
	reg := FromEntities([]model.Entity{
		{ID: "a", Name: "first"},
		{ID: "a", Name: "second"},
		{ID: ""},
		{ID: "b"},
	})
	if reg.Len() != 2 {
		t.Fatalf("len=%d want 2", reg.Len())
	}
	e, _ := reg.ByID("a")
	if e.Name != "first" {
		t.Fatalf("duplicate id must keep the first row, got %q", e.Name)
	}
}

func TestDistricts(t *testing.T) {
	reg := Districts()
	if reg.Len() != 25 {
		t.Fatalf("districts=%d want 25", reg.Len())
	}
	for _, e := range reg.All() {
		if e.Category != "district" {
			t.Fatalf("district %s category=%q", e.ID, e.Category)
		}
		if e.Coord == nil {
			t.Fatalf("district %s has no centroid", e.ID)
		}
	}
}
