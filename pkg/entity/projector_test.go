package entity

import (
	"encoding/json"
	"testing"

	"geoingest/pkg/classify"
)

func buildOracle(t *testing.T, territorial, human, secondLevel, languages, excluded []string) *classify.Oracle {
	t.Helper()
	return buildOracleWithExcludedSettlements(t, territorial, human, secondLevel, languages, excluded, nil)
}

func buildOracleWithExcludedSettlements(t *testing.T, territorial, human, secondLevel, languages, excluded, excludedSettlements []string) *classify.Oracle {
	t.Helper()
	return classify.NewOracle(map[classify.Set][]string{
		classify.TerritorialEntities:  territorial,
		classify.HumanSettlements:     human,
		classify.SecondLevelAdminDivs: secondLevel,
		classify.Languages:            languages,
		classify.Excluded:             excluded,
		classify.ExcludedSettlements:  excludedSettlements,
	})
}

func TestProjectDiscardsReplacedEntity(t *testing.T) {
	raw := []byte(`{"id":"Q1","claims":{"P1366":[{"mainsnak":{}}]}}`)
	oracle := buildOracle(t, nil, nil, nil, nil, nil)
	recs := Project(raw, oracle)
	if len(recs) != 0 {
		t.Fatalf("expected no records for a discarded entity, got %v", recs)
	}
}

func TestProjectCountryAndOfficialLanguage(t *testing.T) {
	raw := []byte(`{
		"id":"Q30",
		"labels":{},
		"claims":{
			"P297":[{"mainsnak":{"datavalue":{"value":"US"}}}],
			"P37":[{"mainsnak":{"datavalue":{"value":{"id":"Q1860"}}}}]
		}
	}`)
	oracle := buildOracle(t, nil, nil, nil, nil, nil)
	recs := Project(raw, oracle)

	var gotCountry, gotLang bool
	for _, r := range recs {
		switch v := r.(type) {
		case Country:
			if v.Id == "Q30" && v.ISO == "us" {
				gotCountry = true
			}
		case ObjectLanguage:
			if v.Id == "Q30" && v.LangId == "Q1860" && v.Index == 0 {
				gotLang = true
			}
		}
	}
	if !gotCountry {
		t.Fatalf("expected a lowercase Country record, got %v", recs)
	}
	if !gotLang {
		t.Fatalf("expected an ObjectLanguage record at index 0, got %v", recs)
	}
}

func TestProjectTerritorialEntity(t *testing.T) {
	raw := []byte(`{
		"id":"Q64",
		"labels":{"en":{"language":"en","value":"Berlin"}},
		"claims":{
			"P31":[{"mainsnak":{"datavalue":{"value":{"id":"Q515"}}}}],
			"P131":[{"mainsnak":{"datavalue":{"value":{"id":"Q183"}}}}]
		}
	}`)
	oracle := buildOracle(t, []string{"Q515"}, nil, nil, nil, nil)
	recs := Project(raw, oracle)

	var gotTE, gotParent, gotLabel bool
	for _, r := range recs {
		switch v := r.(type) {
		case TerritorialEntity:
			if v.Id == "Q64" && !v.Is2nd {
				gotTE = true
			}
		case TerritorialEntityParent:
			if v.Id == "Q64" && v.Parent == "Q183" {
				gotParent = true
			}
		case ObjectLabel:
			if v.Id == "Q64" && v.Lang == "en" && v.Label == "Berlin" && v.NativeOrder == nil {
				gotLabel = true
			}
		}
	}
	if !gotTE || !gotParent || !gotLabel {
		t.Fatalf("missing expected records: %v", recs)
	}
}

func TestProjectHumanSettlementMissingCountry(t *testing.T) {
	raw := []byte(`{
		"id":"Q999",
		"labels":{},
		"claims":{
			"P31":[{"mainsnak":{"datavalue":{"value":{"id":"Q486972"}}}}]
		}
	}`)
	oracle := buildOracle(t, nil, []string{"Q486972"}, nil, nil, nil)
	recs := Project(raw, oracle)

	found := false
	for _, r := range recs {
		if m, ok := r.(MissingP17); ok && m.Id == "Q999" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected MissingP17 record, got %v", recs)
	}
}

func TestProjectHumanSettlementWithPopulationAndCoords(t *testing.T) {
	raw := []byte(`{
		"id":"Q60",
		"labels":{"en":{"language":"en","value":"New York City"}},
		"claims":{
			"P31":[{"mainsnak":{"datavalue":{"value":{"id":"Q486972"}}}}],
			"P17":[{"mainsnak":{"datavalue":{"value":{"id":"Q30"}}}}],
			"P1082":[
				{
					"mainsnak":{"datavalue":{"value":{"amount":"+8,419,000","unit":"1"}}},
					"qualifiers":{"P585":[{"datavalue":{"value":{"time":"+2020-01-01T00:00:00Z","timezone":0}}}]}
				},
				{
					"mainsnak":{"datavalue":{"value":{"amount":"+100","unit":"1"}}},
					"qualifiers":{"P585":[{"datavalue":{"value":{"time":"+2000-01-01T00:00:00Z","timezone":0}}}]}
				}
			],
			"P625":[{"mainsnak":{"snaktype":"value","datavalue":{"value":{"latitude":40.7,"longitude":-74.0}}}}]
		}
	}`)
	oracle := buildOracle(t, nil, []string{"Q486972"}, nil, nil, nil)
	recs := Project(raw, oracle)

	var gotCity, gotCityCountry bool
	for _, r := range recs {
		switch v := r.(type) {
		case City:
			if v.Id == "Q60" && v.Population != nil && *v.Population == 8419000 &&
				v.Lat != nil && *v.Lat == 40.7 && v.Lon != nil && *v.Lon == -74.0 {
				gotCity = true
			}
		case CityCountry:
			if v.Id == "Q60" && v.Country == "Q30" && v.Priority == 0 {
				gotCityCountry = true
			}
		}
	}
	if !gotCity {
		t.Fatalf("expected City with latest-qualified population, got %v", recs)
	}
	if !gotCityCountry {
		t.Fatalf("expected CityCountry record, got %v", recs)
	}
}

func TestProjectPopulationSkipsNonUnitOneAndQualifiedClaims(t *testing.T) {
	raw := []byte(`{
		"id":"Q61",
		"labels":{},
		"claims":{
			"P31":[{"mainsnak":{"datavalue":{"value":{"id":"Q486972"}}}}],
			"P17":[{"mainsnak":{"datavalue":{"value":{"id":"Q30"}}}}],
			"P1082":[
				{
					"mainsnak":{"datavalue":{"value":{"amount":"+5000","unit":"Q11573"}}},
					"qualifiers":{"P585":[{"datavalue":{"value":{"time":"+2020-01-01T00:00:00Z","timezone":0}}}]}
				},
				{
					"mainsnak":{"datavalue":{"value":{"amount":"+42","unit":"1"}}},
					"qualifiers":{
						"P585":[{"datavalue":{"value":{"time":"+2021-01-01T00:00:00Z","timezone":0}}}],
						"P1539":[{"datavalue":{"value":"dummy"}}]
					}
				}
			]
		}
	}`)
	oracle := buildOracle(t, nil, []string{"Q486972"}, nil, nil, nil)
	recs := Project(raw, oracle)

	for _, r := range recs {
		if c, ok := r.(City); ok {
			if c.Population != nil {
				t.Fatalf("expected no population to resolve, got %d", *c.Population)
			}
		}
	}
}

func TestProjectNativeLabelsPreferP1705(t *testing.T) {
	raw := []byte(`{
		"id":"Q64",
		"labels":{},
		"claims":{
			"P31":[{"mainsnak":{"datavalue":{"value":{"id":"Q486972"}}}}],
			"P17":[{"mainsnak":{"datavalue":{"value":{"id":"Q183"}}}}],
			"P1705":[{"mainsnak":{"datavalue":{"value":{"language":"de","text":"Berlin"}}}}],
			"P1448":[{"mainsnak":{"datavalue":{"value":{"language":"de","text":"SHOULD NOT APPEAR"}}}}]
		}
	}`)
	oracle := buildOracle(t, nil, []string{"Q486972"}, nil, nil, nil)
	recs := Project(raw, oracle)

	sawNative := false
	for _, r := range recs {
		if l, ok := r.(ObjectLabel); ok && l.NativeOrder != nil {
			if l.Label == "SHOULD NOT APPEAR" {
				t.Fatalf("P1448 should not be consulted when P1705 has entries")
			}
			if l.Label == "Berlin" {
				sawNative = true
			}
		}
	}
	if !sawNative {
		t.Fatalf("expected a native label from P1705, got %v", recs)
	}
}

func TestProjectLanguage(t *testing.T) {
	raw := []byte(`{
		"id":"Q1860",
		"labels":{},
		"claims":{
			"P31":[{"mainsnak":{"datavalue":{"value":{"id":"Q34770"}}}}],
			"P424":[{"mainsnak":{"datavalue":{"value":"en"}}}]
		}
	}`)
	oracle := buildOracle(t, nil, nil, nil, []string{"Q34770"}, nil)
	recs := Project(raw, oracle)

	found := false
	for _, r := range recs {
		if l, ok := r.(Language); ok && l.Id == "Q1860" && l.Code == "en" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Language record, got %v", recs)
	}
}

func TestProjectExcludedEntitySkipsTerritorialBranch(t *testing.T) {
	raw := []byte(`{
		"id":"Q2",
		"labels":{},
		"claims":{
			"P31":[{"mainsnak":{"datavalue":{"value":{"id":"Q515"}}}},{"mainsnak":{"datavalue":{"value":{"id":"Q2974842"}}}}]
		}
	}`)
	oracle := buildOracle(t, []string{"Q515"}, nil, nil, nil, []string{"Q2974842"})
	recs := Project(raw, oracle)
	for _, r := range recs {
		if _, ok := r.(TerritorialEntity); ok {
			t.Fatalf("expected excluded entity to skip territorial-entity branch, got %v", recs)
		}
	}
}

func TestProjectExcludedSettlementSkipsHumanSettlementBranch(t *testing.T) {
	raw := []byte(`{
		"id":"Q3616",
		"labels":{},
		"claims":{
			"P31":[{"mainsnak":{"datavalue":{"value":{"id":"Q486972"}}}},{"mainsnak":{"datavalue":{"value":{"id":"Q5146"}}}}],
			"P17":[{"mainsnak":{"datavalue":{"value":{"id":"Q30"}}}}]
		}
	}`)
	oracle := buildOracleWithExcludedSettlements(t, nil, []string{"Q486972"}, nil, nil, nil, []string{"Q5146"})
	recs := Project(raw, oracle)
	for _, r := range recs {
		switch r.(type) {
		case City, CityCountry, MissingP17:
			t.Fatalf("expected an urban agglomeration to skip the human-settlement branch, got %v", recs)
		}
	}
}

func TestParseRejectsInvalidJSON(t *testing.T) {
	if _, err := Parse([]byte("not json")); err == nil {
		t.Fatal("expected an error for invalid JSON")
	}
}

func TestGetHelpers(t *testing.T) {
	var v any
	if err := json.Unmarshal([]byte(`{"a":{"b":[1,2,{"c":"x"}]}}`), &v); err != nil {
		t.Fatal(err)
	}
	if s, ok := GetString(v, "a", "b", 2, "c"); !ok || s != "x" {
		t.Fatalf("got %q, %v", s, ok)
	}
	if _, ok := GetString(v, "a", "missing"); ok {
		t.Fatal("expected missing key to return ok=false")
	}
}
