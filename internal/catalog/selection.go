package catalog

import (
	"context"
	"strings"

	"github.com/j5272000/campus-imaotai/internal/accounts"
	"github.com/j5272000/campus-imaotai/internal/errs"
	"github.com/j5272000/campus-imaotai/internal/geo"
	"github.com/j5272000/campus-imaotai/internal/moutai"
	"github.com/j5272000/campus-imaotai/internal/outlets"
)

// PickOutlet chooses the outlet to reserve itemID at for acct.
//
// Strategy 1 takes the home-city outlet with the most stock and falls back
// to the nearest in-province outlet when the city has none. Strategy 2 takes
// the nearest in-province outlet and has no fallback. Outlets missing from
// the map or carrying unparsable coordinates are skipped, never guessed at.
func (s *Service) PickOutlet(ctx context.Context, acct accounts.Account, itemID string) (string, error) {
	stock, err := s.StockByProvince(ctx, acct.ProvinceName, itemID)
	if err != nil {
		return "", err
	}
	index, err := s.outletIndex(ctx)
	if err != nil {
		return "", err
	}

	switch acct.ShopMode {
	case accounts.ShopModeCityMaxInventory:
		if id := pickCityMaxInventory(stock, index, acct.CityName); id != "" {
			return id, nil
		}
		return s.pickNearest(stock, index, acct, itemID)
	case accounts.ShopModeNearestInProvince:
		return s.pickNearest(stock, index, acct, itemID)
	default:
		return "", errs.Preconditionf("unknown shop mode %d for %s", acct.ShopMode, acct.Mobile)
	}
}

func (s *Service) outletIndex(ctx context.Context) (map[string]outlets.Outlet, error) {
	list, err := s.Outlets(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]outlets.Outlet, len(list))
	for _, o := range list {
		index[o.OutletID] = o
	}
	return index, nil
}

// pickCityMaxInventory ranks home-city outlets by available inventory.
// City matching is by containment: accounts commonly store "杭州" while the
// outlet map says "杭州市".
func pickCityMaxInventory(stock []moutai.StockEntry, index map[string]outlets.Outlet, city string) string {
	best := ""
	bestInventory := -1
	for _, entry := range stock {
		o, ok := index[entry.ShopID]
		if !ok || !strings.Contains(o.CityName, city) {
			continue
		}
		if entry.Inventory > bestInventory {
			best, bestInventory = entry.ShopID, entry.Inventory
		}
	}
	return best
}

func (s *Service) pickNearest(stock []moutai.StockEntry, index map[string]outlets.Outlet, acct accounts.Account, itemID string) (string, error) {
	home, err := geo.ParsePoint(acct.Lat, acct.Lng)
	if err != nil {
		return "", errs.Preconditionf("account %s has no usable location: %v", acct.Mobile, err)
	}

	best := ""
	bestDist := 0.0
	for _, entry := range stock {
		o, ok := index[entry.ShopID]
		if !ok {
			continue
		}
		p, err := geo.ParsePoint(o.Lat, o.Lng)
		if err != nil {
			continue
		}
		if d := geo.Distance(home, p); best == "" || d < bestDist {
			best, bestDist = entry.ShopID, d
		}
	}
	if best == "" {
		return "", errs.Preconditionf("no eligible outlet for item %s in %s", itemID, acct.ProvinceName)
	}
	return best, nil
}
