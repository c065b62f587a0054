// Package catalog содержит стартовый справочник карточек для локальных окружений.
package catalog

import "github.com/vladislavdragonenkov/cardmarket/internal/domain"

// Seed возвращает фиксированный набор записей каталога.
// ID стабильны, чтобы повторный запуск не плодил дубликаты.
func Seed() []domain.CatalogEntry {
	return []domain.CatalogEntry{
		{
			ID: "c0a8e0b2-0001-4c1e-9f00-000000000001", Manufacturer: domain.ManufacturerBBM, Team: domain.TeamGiants,
			Year: 2024, PlayerName: "Kazuma Okamoto", Rarity: domain.RarityAutograph,
			SeriesName: "BBM 1st Version", CardNumber: "G-07",
		},
		{
			ID: "c0a8e0b2-0001-4c1e-9f00-000000000002", Manufacturer: domain.ManufacturerCalbee, Team: domain.TeamTigers,
			Year: 2023, PlayerName: "Teruaki Sato", Rarity: domain.RarityRare,
			SeriesName: "Calbee Pro Baseball Chips", CardNumber: "T-12",
		},
		{
			ID: "c0a8e0b2-0001-4c1e-9f00-000000000003", Manufacturer: domain.ManufacturerEpoch, Team: domain.TeamMarines,
			Year: 2022, PlayerName: "Roki Sasaki", Rarity: domain.RaritySuperRare,
			SeriesName: "Epoch Stars & Legends", CardNumber: "M-17",
		},
		{
			ID: "c0a8e0b2-0001-4c1e-9f00-000000000004", Manufacturer: domain.ManufacturerToppsJapan, Team: domain.TeamSwallows,
			Year: 2021, PlayerName: "Munetaka Murakami", Rarity: domain.RarityParallel,
			SeriesName: "Topps NPB Chrome", CardNumber: "55",
		},
		{
			ID: "c0a8e0b2-0001-4c1e-9f00-000000000005", Manufacturer: domain.ManufacturerTopps, Team: domain.TeamDodgers,
			Year: 2018, PlayerName: "Shohei Ohtani", Rarity: domain.RarityRookie,
			SeriesName: "Topps Update", CardNumber: "US1", IsRookie: true,
		},
		{
			ID: "c0a8e0b2-0001-4c1e-9f00-000000000006", Manufacturer: domain.ManufacturerBBM, Team: domain.TeamHawks,
			Year: 2020, PlayerName: "Yuki Yanagita", Rarity: domain.RarityPatch,
			SeriesName: "BBM Genesis", CardNumber: "H-09",
		},
		{
			ID: "c0a8e0b2-0001-4c1e-9f00-000000000007", Manufacturer: domain.ManufacturerEpoch, Team: domain.TeamBuffaloes,
			Year: 2019, PlayerName: "Yoshinobu Yamamoto", Rarity: domain.RarityLegend,
			SeriesName: "Epoch One", CardNumber: "B-18",
		},
		{
			ID: "c0a8e0b2-0001-4c1e-9f00-000000000008", Manufacturer: domain.ManufacturerCalbee, Team: domain.TeamCarp,
			Year: 2024, PlayerName: "Ryoma Nishikawa", Rarity: domain.RarityCommon,
			SeriesName: "Calbee Pro Baseball Chips", CardNumber: "C-05",
		},
	}
}
