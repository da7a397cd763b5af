package entity

// Record is the tagged union of projector output. Every variant carries
// the originating entity id as Id, except Language, where Id is the
// language entity's own id.
type Record interface {
	isRecord()
}

// TerritorialEntity is emitted for an entity classified as a territorial
// entity and not excluded. Is2nd is set when the entity is additionally a
// second-level administrative division.
type TerritorialEntity struct {
	Id   string
	Is2nd bool
	ISO  *string // lowercase 2-letter, from P297, if present
}

func (TerritorialEntity) isRecord() {}

// TerritorialEntityParent links a territorial entity to one P131 parent.
// (Id, Parent) is a unique natural key; conflicting inserts are ignored.
type TerritorialEntityParent struct {
	Id     string
	Parent string
}

func (TerritorialEntityParent) isRecord() {}

// ObjectLanguage links an entity to an official/used language, with Index
// preserving the order of active claims encountered. (Id, LangId) is a
// unique natural key.
type ObjectLanguage struct {
	Id     string
	LangId string
	Index  uint32
}

func (ObjectLanguage) isRecord() {}

// Language is emitted once per language entity that carries a Wikimedia
// language code (P424).
type Language struct {
	Id   string
	Code string
}

func (Language) isRecord() {}

// City is emitted for a human settlement with a resolvable country.
type City struct {
	Id         string
	Population *uint64
	Lat        *float64
	Lon        *float64
}

func (City) isRecord() {}

// CityCountry links a city to a country claim, Priority ordering multiple
// active claims by encounter order.
type CityCountry struct {
	Id       string
	Country  string
	Priority uint32
}

func (CityCountry) isRecord() {}

// ObjectLabel is a label in a given language. NativeOrder is non-nil when
// the label came from a canonical-native-name claim (P1705 or, absent
// that, active P1448), and carries its entity-local insertion rank.
type ObjectLabel struct {
	Id          string
	Lang        string
	Label       string
	NativeOrder *uint64
}

func (ObjectLabel) isRecord() {}

// Country is emitted for an entity with an ISO 3166-1 alpha-2 code.
type Country struct {
	Id  string
	ISO string
}

func (Country) isRecord() {}

// MissingP17 is a diagnostic record: a human settlement with no country
// claim at all.
type MissingP17 struct {
	Id string
}

func (MissingP17) isRecord() {}
