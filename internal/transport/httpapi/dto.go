package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/cardmarket/internal/domain"
)

type catalogResponse struct {
	ID           string `json:"id"`
	Manufacturer string `json:"manufacturer"`
	Team         string `json:"team"`
	Year         int    `json:"year"`
	PlayerName   string `json:"player_name"`
	Rarity       string `json:"rarity,omitempty"`
	SeriesName   string `json:"series_name,omitempty"`
	CardNumber   string `json:"card_number,omitempty"`
	IsRookie     bool   `json:"is_rookie"`
}

type conditionGradingDTO struct {
	IsGraded            bool     `json:"is_graded"`
	Service             string   `json:"service"`
	Score               *float64 `json:"score,omitempty"`
	CertificationNumber string   `json:"certification_number,omitempty"`
}

type createListingRequest struct {
	CatalogID        string              `json:"catalog_id"`
	SellerID         string              `json:"seller_id"`
	Price            int64               `json:"price"`
	Images           []string            `json:"images"`
	ConditionGrading conditionGradingDTO `json:"condition_grading"`
}

type listingResponse struct {
	ID               string              `json:"id"`
	CatalogID        string              `json:"catalog_id"`
	SellerID         string              `json:"seller_id"`
	Price            int64               `json:"price"`
	Images           []string            `json:"images"`
	ConditionGrading conditionGradingDTO `json:"condition_grading"`
	Status           string              `json:"status"`
	Catalog          *catalogResponse    `json:"catalog,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

type createOrderRequest struct {
	ListingID       string `json:"listing_id"`
	PaymentMethodID string `json:"payment_method_id"`
	BuyerID         string `json:"buyer_id"`
}

type shipRequest struct {
	TrackingNumber string `json:"tracking_number"`
}

type orderResponse struct {
	ID             string           `json:"id"`
	ListingID      string           `json:"listing_id"`
	BuyerID        string           `json:"buyer_id"`
	Status         string           `json:"status"`
	TotalAmount    int64            `json:"total_amount"`
	TrackingNumber string           `json:"tracking_number,omitempty"`
	Listing        *listingResponse `json:"listing,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

type timelineEventResponse struct {
	Seq      int64     `json:"seq"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

type uploadResponse struct {
	URL string `json:"url"`
}

func toCatalogResponse(c domain.CatalogEntry) catalogResponse {
	return catalogResponse{
		ID:           c.ID,
		Manufacturer: string(c.Manufacturer),
		Team:         string(c.Team),
		Year:         c.Year,
		PlayerName:   c.PlayerName,
		Rarity:       string(c.Rarity),
		SeriesName:   c.SeriesName,
		CardNumber:   c.CardNumber,
		IsRookie:     c.IsRookie,
	}
}

func toListingResponse(l domain.Listing, entry *domain.CatalogEntry) listingResponse {
	resp := listingResponse{
		ID:        l.ID,
		CatalogID: l.CatalogID,
		SellerID:  l.SellerID,
		Price:     l.Price,
		Images:    append([]string{}, l.Images...),
		ConditionGrading: conditionGradingDTO{
			IsGraded:            l.ConditionGrading.IsGraded,
			Service:             l.ConditionGrading.Service,
			Score:               l.ConditionGrading.Score,
			CertificationNumber: l.ConditionGrading.CertificationNumber,
		},
		Status:    string(l.Status),
		CreatedAt: l.CreatedAt,
		UpdatedAt: l.UpdatedAt,
	}
	if entry != nil {
		c := toCatalogResponse(*entry)
		resp.Catalog = &c
	}
	return resp
}

func toOrderResponse(o domain.Order, listing *listingResponse) orderResponse {
	return orderResponse{
		ID:             o.ID,
		ListingID:      o.ListingID,
		BuyerID:        o.BuyerID,
		Status:         string(o.Status),
		TotalAmount:    o.TotalAmount,
		TrackingNumber: o.TrackingNumber,
		Listing:        listing,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func (g conditionGradingDTO) toDomain() domain.ConditionGrading {
	return domain.ConditionGrading{
		IsGraded:            g.IsGraded,
		Service:             g.Service,
		Score:               g.Score,
		CertificationNumber: g.CertificationNumber,
	}
}
