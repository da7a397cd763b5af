// Package entity implements the Entity Projector: a pure function from one
// Wikidata JSON entity (plus the classification oracle) to zero or more
// tagged-union DataEntry records.
package entity

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/paulmach/orb"

	"geoingest/pkg/classify"
	"geoingest/pkg/wikitime"
)

const (
	pDiscardReplacedBy  = "P1366"
	pDiscardDissolved   = "P576"
	pISOCountryCode     = "P297"
	pOfficialLanguage   = "P37"
	pInstanceOf         = "P31"
	pLocatedIn          = "P131"
	pLanguageUsed       = "P2936"
	pCountry            = "P17"
	pPopulation         = "P1082"
	pPointInTime        = "P585"
	pAppliesToPart      = "P518"
	pFemaleOnly         = "P1539"
	pMaleOnly           = "P1540"
	pCoordinates        = "P625"
	pNativeLabel        = "P1705"
	pOfficialName       = "P1448"
	pWikimediaLangCode  = "P424"
	pStartTime          = "P580"
	pEndTime            = "P582"
)

// Project runs the projector over one raw entity JSON document, returning
// the records it yields. Entries with missing or malformed sub-values are
// individually skipped with a warning log; they never abort the entity.
func Project(raw []byte, oracle *classify.Oracle) []Record {
	root, err := Parse(raw)
	if err != nil {
		slog.Warn("entity: failed to parse JSON", "error", err)
		return nil
	}

	id, ok := GetString(root, "id")
	if !ok {
		slog.Warn("entity: entity missing id, skipping")
		return nil
	}

	// 1. Discard markers.
	if hasClaims(root, pDiscardReplacedBy) || hasClaims(root, pDiscardDissolved) {
		return nil
	}

	var out []Record
	now := wikitime.Now()

	// 2. Country ISO.
	if claims, ok := GetArray(root, "claims", pISOCountryCode); ok {
		for _, c := range claims {
			if !isActiveClaim(c, now) {
				continue
			}
			iso, ok := mainsnakString(c)
			if !ok {
				slog.Warn("entity: malformed P297 claim", "id", id)
				continue
			}
			out = append(out, Country{Id: id, ISO: strings.ToLower(iso)})
			break
		}

		idx := uint32(0)
		if langClaims, ok := GetArray(root, "claims", pOfficialLanguage); ok {
			for _, c := range langClaims {
				if !isActiveClaim(c, now) {
					continue
				}
				langID, ok := mainsnakEntityID(c)
				if !ok {
					slog.Warn("entity: malformed P37 claim", "id", id)
					continue
				}
				out = append(out, ObjectLanguage{Id: id, LangId: langID, Index: idx})
				idx++
			}
		}
	}

	// 3. Classification dispatch via P31 only.
	instanceOf, _ := GetArray(root, "claims", pInstanceOf)
	isTE, isHS, isLG, isEX, isEXSettlement, is2nd := false, false, false, false, false, false
	for _, c := range instanceOf {
		target, ok := mainsnakEntityID(c)
		if !ok {
			continue
		}
		if oracle.Contains(classify.TerritorialEntities, target) {
			isTE = true
		}
		if oracle.Contains(classify.HumanSettlements, target) {
			isHS = true
		}
		if oracle.Contains(classify.Languages, target) {
			isLG = true
		}
		if oracle.Contains(classify.Excluded, target) {
			isEX = true
		}
		if oracle.Contains(classify.ExcludedSettlements, target) {
			isEXSettlement = true
		}
		if oracle.Contains(classify.SecondLevelAdminDivs, target) {
			is2nd = true
		}
	}

	// 4. Territorial entity.
	if isTE && !isEX {
		var iso *string
		if isoClaims, ok := GetArray(root, "claims", pISOCountryCode); ok {
			for _, c := range isoClaims {
				if !isActiveClaim(c, now) {
					continue
				}
				if s, ok := mainsnakString(c); ok {
					lowered := strings.ToLower(s)
					iso = &lowered
					break
				}
			}
		}
		out = append(out, TerritorialEntity{Id: id, Is2nd: is2nd, ISO: iso})

		if parents, ok := GetArray(root, "claims", pLocatedIn); ok {
			for _, c := range parents {
				if !isActiveClaim(c, now) {
					continue
				}
				parent, ok := mainsnakEntityID(c)
				if !ok {
					slog.Warn("entity: malformed P131 claim", "id", id)
					continue
				}
				out = append(out, TerritorialEntityParent{Id: id, Parent: parent})
			}
		}

		langClaims, hasLang := GetArray(root, "claims", pOfficialLanguage)
		if !hasLang || len(langClaims) == 0 {
			langClaims, hasLang = GetArray(root, "claims", pLanguageUsed)
		}
		if hasLang {
			idx := uint32(0)
			for _, c := range langClaims {
				if !isActiveClaim(c, now) {
					continue
				}
				langID, ok := mainsnakEntityID(c)
				if !ok {
					slog.Warn("entity: malformed language claim", "id", id)
					continue
				}
				out = append(out, ObjectLanguage{Id: id, LangId: langID, Index: idx})
				idx++
			}
		}

		out = append(out, labelRecords(root, id, nil)...)
	}

	// 5. Human settlement. ExcludedSettlements (urban agglomerations,
	// urban-type settlements) is consulted here only — it never gates
	// territorial-entity classification above.
	if isHS && !isEX && !isEXSettlement {
		countryClaims, hasCountry := GetArray(root, "claims", pCountry)
		if !hasCountry || len(countryClaims) == 0 {
			out = append(out, MissingP17{Id: id})
		} else {
			priority := uint32(0)
			resolved := false
			for _, c := range countryClaims {
				if !isActiveClaim(c, now) {
					continue
				}
				country, ok := mainsnakEntityID(c)
				if !ok {
					slog.Warn("entity: malformed P17 claim", "id", id)
					continue
				}
				out = append(out, CityCountry{Id: id, Country: country, Priority: priority})
				priority++
				resolved = true
			}

			if resolved {
				population := resolvePopulation(root, id, now)
				lat, lon := resolveCoordinates(root, id)
				out = append(out, City{Id: id, Population: population, Lat: lat, Lon: lon})

				out = append(out, labelRecords(root, id, nil)...)
				out = append(out, nativeLabelRecords(root, id, now)...)
			}
		}
	}

	// 6. Language.
	if isLG {
		if langClaims, ok := GetArray(root, "claims", pWikimediaLangCode); ok {
			for _, c := range langClaims {
				if code, ok := mainsnakString(c); ok {
					out = append(out, Language{Id: id, Code: code})
					break
				}
			}
		}
	}

	return out
}

func hasClaims(root Node, prop string) bool {
	arr, ok := GetArray(root, "claims", prop)
	return ok && len(arr) > 0
}

func mainsnakString(claim Node) (string, bool) {
	if s, ok := GetString(claim, "mainsnak", "datavalue", "value"); ok {
		return s, true
	}
	return "", false
}

func mainsnakEntityID(claim Node) (string, bool) {
	return GetString(claim, "mainsnak", "datavalue", "value", "id")
}

func mainsnakMonolingual(claim Node) (lang, text string, ok bool) {
	lang, okLang := GetString(claim, "mainsnak", "datavalue", "value", "language")
	text, okText := GetString(claim, "mainsnak", "datavalue", "value", "text")
	return lang, text, okLang && okText
}

// isActiveClaim reports whether claim's P580/P582 qualifiers (if any)
// place now within its active window. Absence or a parse failure of
// either qualifier never excludes activity.
func isActiveClaim(claim Node, now wikitime.Time) bool {
	start := qualifierTime(claim, pStartTime)
	end := qualifierTime(claim, pEndTime)
	return wikitime.IsActive(now, start, end)
}

func qualifierTime(claim Node, prop string) *wikitime.Time {
	snaks, ok := GetArray(claim, "qualifiers", prop)
	if !ok || len(snaks) == 0 {
		return nil
	}
	snak := snaks[0]
	timeStr, ok := GetString(snak, "datavalue", "value", "time")
	if !ok {
		return nil
	}
	tz, ok := GetFloat64(snak, "datavalue", "value", "timezone")
	if !ok {
		tz = 0
	}
	t, err := wikitime.Parse(timeStr, tz)
	if err != nil {
		return nil
	}
	return &t
}

func hasQualifier(claim Node, prop string) bool {
	snaks, ok := GetArray(claim, "qualifiers", prop)
	return ok && len(snaks) > 0
}

// resolvePopulation picks, among P1082 claims not qualified by P518,
// P1539, or P1540, the one with the latest parseable P585 qualifier,
// keeping the earlier-encountered claim on ties.
func resolvePopulation(root Node, id string, now wikitime.Time) *uint64 {
	claims, ok := GetArray(root, "claims", pPopulation)
	if !ok {
		return nil
	}

	var bestAmount *uint64
	var bestTime *wikitime.Time

	for _, c := range claims {
		if hasQualifier(c, pAppliesToPart) || hasQualifier(c, pFemaleOnly) || hasQualifier(c, pMaleOnly) {
			continue
		}
		pit := qualifierTime(c, pPointInTime)
		if pit == nil {
			continue
		}
		if bestTime != nil && !pit.After(*bestTime) {
			continue
		}

		unit, hasUnit := GetString(c, "mainsnak", "datavalue", "value", "unit")
		amountStr, hasAmount := GetString(c, "mainsnak", "datavalue", "value", "amount")
		if !hasUnit || !hasAmount {
			slog.Warn("entity: malformed P1082 claim", "id", id)
			continue
		}
		if unit != "1" {
			slog.Debug("entity: discarding population claim with non-1 unit", "id", id, "unit", unit)
			continue
		}
		amount, ok := parsePopulationAmount(amountStr)
		if !ok {
			slog.Warn("entity: unparseable P1082 amount", "id", id, "amount", amountStr)
			continue
		}

		bestAmount = &amount
		bestTime = pit
	}

	return bestAmount
}

func parsePopulationAmount(raw string) (uint64, bool) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, " ", "")
	s = strings.TrimPrefix(s, "+")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return uint64(n), true
}

func resolveCoordinates(root Node, id string) (*float64, *float64) {
	claims, ok := GetArray(root, "claims", pCoordinates)
	if !ok || len(claims) == 0 {
		return nil, nil
	}
	c := claims[0]
	snaktype, _ := GetString(c, "mainsnak", "snaktype")
	if snaktype != "value" {
		return nil, nil
	}
	lat, okLat := GetFloat64(c, "mainsnak", "datavalue", "value", "latitude")
	lon, okLon := GetFloat64(c, "mainsnak", "datavalue", "value", "longitude")
	if !okLat || !okLon {
		slog.Warn("entity: malformed P625 claim", "id", id)
		return nil, nil
	}

	// orb.Point carries coordinates as [lon, lat], matching GeoJSON order;
	// round-tripping through it here catches a swapped or out-of-range
	// pair before it reaches storage.
	point := orb.Point{lon, lat}
	if point.Lon() < -180 || point.Lon() > 180 || point.Lat() < -90 || point.Lat() > 90 {
		slog.Warn("entity: out-of-range P625 coordinates", "id", id, "lat", lat, "lon", lon)
		return nil, nil
	}
	resolvedLat, resolvedLon := point.Lat(), point.Lon()
	return &resolvedLat, &resolvedLon
}

func labelRecords(root Node, id string, nativeOrder *uint64) []Record {
	labels, ok := GetObject(root, "labels")
	if !ok {
		return nil
	}
	var out []Record
	for lang, v := range labels {
		label, ok := GetString(v, "value")
		if !ok {
			slog.Warn("entity: malformed label entry", "id", id, "lang", lang)
			continue
		}
		out = append(out, ObjectLabel{Id: id, Lang: lang, Label: label, NativeOrder: nativeOrder})
	}
	return out
}

// nativeLabelRecords emits P1705 native labels if any exist; otherwise
// falls back to active P1448 claims. The two sources are mutually
// exclusive.
func nativeLabelRecords(root Node, id string, now wikitime.Time) []Record {
	if claims, ok := GetArray(root, "claims", pNativeLabel); ok && len(claims) > 0 {
		var out []Record
		k := uint64(0)
		for _, c := range claims {
			lang, text, ok := mainsnakMonolingual(c)
			if !ok {
				slog.Warn("entity: malformed P1705 claim", "id", id)
				continue
			}
			order := k
			out = append(out, ObjectLabel{Id: id, Lang: lang, Label: text, NativeOrder: &order})
			k++
		}
		return out
	}

	claims, ok := GetArray(root, "claims", pOfficialName)
	if !ok {
		return nil
	}
	var out []Record
	k := uint64(0)
	for _, c := range claims {
		if !isActiveClaim(c, now) {
			continue
		}
		lang, text, ok := mainsnakMonolingual(c)
		if !ok {
			slog.Warn("entity: malformed P1448 claim", "id", id)
			continue
		}
		order := k
		out = append(out, ObjectLabel{Id: id, Lang: lang, Label: text, NativeOrder: &order})
		k++
	}
	return out
}
