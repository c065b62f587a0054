package domain

import "strings"

// Manufacturer: производитель карточек.
type Manufacturer string

const (
	ManufacturerBBM        Manufacturer = "BBM"
	ManufacturerCalbee     Manufacturer = "Calbee"
	ManufacturerEpoch      Manufacturer = "Epoch"
	ManufacturerToppsJapan Manufacturer = "Topps_Japan"
	ManufacturerTopps      Manufacturer = "Topps"
)

// Team: клуб игрока на карточке.
type Team string

const (
	TeamGiants    Team = "Giants"
	TeamTigers    Team = "Tigers"
	TeamDragons   Team = "Dragons"
	TeamSwallows  Team = "Swallows"
	TeamCarp      Team = "Carp"
	TeamBayStars  Team = "BayStars"
	TeamHawks     Team = "Hawks"
	TeamFighters  Team = "Fighters"
	TeamMarines   Team = "Marines"
	TeamBuffaloes Team = "Buffaloes"
	TeamEagles    Team = "Eagles"
	TeamLions     Team = "Lions"
	TeamDodgers   Team = "Dodgers"
)

// Rarity: редкость карточки.
type Rarity string

const (
	RarityCommon    Rarity = "Common"
	RarityRare      Rarity = "Rare"
	RaritySuperRare Rarity = "Super Rare"
	RarityParallel  Rarity = "Parallel"
	RarityAutograph Rarity = "Autograph"
	RarityPatch     Rarity = "Patch"
	RarityRookie    Rarity = "Rookie"
	RarityLegend    Rarity = "Legend"
)

// CatalogEntry: неизменяемая справочная запись о типе карточки.
type CatalogEntry struct {
	ID           string
	Manufacturer Manufacturer
	Team         Team
	Year         int
	PlayerName   string
	Rarity       Rarity
	SeriesName   string
	CardNumber   string
	IsRookie     bool
}

// CatalogFilter: простые атрибутные фильтры по справочнику.
type CatalogFilter struct {
	Manufacturer Manufacturer
	Team         Team
	Year         int
	// Query ищет подстроку в имени игрока или названии серии без учёта регистра.
	Query string
}

// MatchesText проверяет вхождение q в имя игрока или серию без учёта регистра.
func (c CatalogEntry) MatchesText(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(c.PlayerName), q) ||
		strings.Contains(strings.ToLower(c.SeriesName), q)
}

// Matches применяет все заданные поля фильтра конъюнктивно.
func (f CatalogFilter) Matches(c CatalogEntry) bool {
	if f.Manufacturer != "" && c.Manufacturer != f.Manufacturer {
		return false
	}
	if f.Team != "" && c.Team != f.Team {
		return false
	}
	if f.Year != 0 && c.Year != f.Year {
		return false
	}
	return c.MatchesText(f.Query)
}
