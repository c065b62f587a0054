package domain

import (
	"sort"
	"time"
)

const (
	// MinListingPrice: минимальная цена объявления в целых единицах валюты.
	MinListingPrice = 100
	// MinListingImages: минимальное количество фотографий.
	MinListingImages = 2
)

// ConditionGrading описывает состояние карточки и её грейдинг.
type ConditionGrading struct {
	IsGraded            bool
	Service             string
	Score               *float64
	CertificationNumber string
}

// Listing: предложение о продаже одной карточки из каталога.
type Listing struct {
	ID               string
	CatalogID        string
	SellerID         string
	Price            int64
	Images           []string
	ConditionGrading ConditionGrading
	Status           ListingStatus
	// Version увеличивается при каждой смене статуса.
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ValidateInvariants проверяет ценовую политику и комплектность объявления.
func (l *Listing) ValidateInvariants() []error {
	var errs []error
	if l.CatalogID == "" {
		errs = append(errs, ErrCatalogIDRequired)
	}
	if l.Price < MinListingPrice {
		errs = append(errs, ErrPriceTooLow)
	}
	if len(l.Images) < MinListingImages {
		errs = append(errs, ErrTooFewImages)
	}
	if l.ConditionGrading.Service == "" {
		errs = append(errs, ErrGradingServiceEmpty)
	}
	return errs
}

// Clone возвращает копию без общих срезов и указателей.
func (l Listing) Clone() Listing {
	dst := l
	dst.Images = append([]string(nil), l.Images...)
	if l.ConditionGrading.Score != nil {
		score := *l.ConditionGrading.Score
		dst.ConditionGrading.Score = &score
	}
	return dst
}

// ListingSort задаёт порядок выдачи витрины.
type ListingSort string

const (
	SortNewest    ListingSort = "newest"
	SortPriceAsc  ListingSort = "price_asc"
	SortPriceDesc ListingSort = "price_desc"
)

// Valid проверяет значение сортировки; пустое значение означает newest.
func (s ListingSort) Valid() bool {
	switch s {
	case "", SortNewest, SortPriceAsc, SortPriceDesc:
		return true
	default:
		return false
	}
}

// ListingFilter: параметры выборки витрины. Все заданные поля объединяются по И.
type ListingFilter struct {
	CatalogID string
	SellerID  string
	Query     string
	Team      Team
	Sort      ListingSort
	// Status по умолчанию Active: витрина показывает только доступные объявления.
	Status ListingStatus
}

// EffectiveStatus возвращает статус выборки с учётом значения по умолчанию.
func (f ListingFilter) EffectiveStatus() ListingStatus {
	if f.Status == "" {
		return ListingStatusActive
	}
	return f.Status
}

// Matches применяет фильтр к объявлению и его записи каталога.
// entry может быть nil, если фильтры каталога не заданы.
func (f ListingFilter) Matches(l Listing, entry *CatalogEntry) bool {
	if l.Status != f.EffectiveStatus() {
		return false
	}
	if f.CatalogID != "" && l.CatalogID != f.CatalogID {
		return false
	}
	if f.SellerID != "" && l.SellerID != f.SellerID {
		return false
	}
	if f.NeedsCatalog() {
		if entry == nil {
			return false
		}
		if f.Team != "" && entry.Team != f.Team {
			return false
		}
		if !entry.MatchesText(f.Query) {
			return false
		}
	}
	return true
}

// NeedsCatalog сообщает, что для фильтрации нужна запись каталога.
func (f ListingFilter) NeedsCatalog() bool {
	return f.Team != "" || f.Query != ""
}

// SortListings упорядочивает выдачу in-place. Ничьи разрешаются по ID.
func SortListings(items []Listing, order ListingSort) {
	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		switch order {
		case SortPriceAsc:
			if a.Price != b.Price {
				return a.Price < b.Price
			}
		case SortPriceDesc:
			if a.Price != b.Price {
				return a.Price > b.Price
			}
		default:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.After(b.CreatedAt)
			}
		}
		return a.ID > b.ID
	})
}
