// Package catalog keeps the volatile upstream state the reservation flow
// depends on: the scraped app version, the day-scoped catalog session, the
// bulk outlet map and per-province availability. Every read goes through the
// injected cache; misses fall through to the upstream API and repopulate.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/j5272000/campus-imaotai/internal/cache"
	"github.com/j5272000/campus-imaotai/internal/clock"
	"github.com/j5272000/campus-imaotai/internal/errs"
	"github.com/j5272000/campus-imaotai/internal/moutai"
	"github.com/j5272000/campus-imaotai/internal/outlets"
)

// Cache keys. The stock key is scoped to province, session and item because
// all three rotate independently.
const (
	keyVersion = "mt_version"
	keySession = "mt_session_id"
	keyOutlets = "mt_shop_list"
)

func stockKey(province, sessionID, itemID string) string {
	return fmt.Sprintf("mt_province:%s.%s.%s", province, sessionID, itemID)
}

// Version, session and outlet entries have no expiry; the scheduled
// refreshes rewrite them. Only the availability snapshot ages out.
const (
	noExpiry = time.Duration(0)
	stockTTL = 60 * time.Minute
)

// API is the slice of the upstream client the catalog consumes.
type API interface {
	FetchAppVersion(ctx context.Context) (string, error)
	FetchSession(ctx context.Context, dayMillis int64) (moutai.SessionData, error)
	FetchOutletResourceURL(ctx context.Context) (string, error)
	FetchOutletMap(ctx context.Context, mapURL string) (map[string]moutai.OutletInfo, error)
	FetchProvinceStock(ctx context.Context, sessionID, province, itemID string, dayMillis int64) ([]moutai.StockEntry, error)
}

// Store persists the refreshed catalogs for the admin surface.
type Store interface {
	ReplaceOutlets(ctx context.Context, list []outlets.Outlet) error
	ReplaceItems(ctx context.Context, list []outlets.Item) error
}

type Service struct {
	api   API
	cache cache.Cache
	store Store
	clock clock.Clock
	log   *slog.Logger
}

func NewService(api API, c cache.Cache, store Store, clk clock.Clock, log *slog.Logger) *Service {
	return &Service{api: api, cache: c, store: store, clock: clk, log: log}
}

// cst is the upstream's reference zone; session days roll over at its
// midnight regardless of where this process runs.
var cst = time.FixedZone("CST", 8*3600)

func (s *Service) dayStartMillis() int64 {
	t := s.clock.Now().In(cst)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, cst).UnixMilli()
}

// Version returns the current app version, scraping on a cache miss.
func (s *Service) Version(ctx context.Context) (string, error) {
	if v, ok, err := s.cache.Get(ctx, keyVersion); err != nil {
		return "", err
	} else if ok {
		return v, nil
	}
	return s.RefreshVersion(ctx)
}

// RefreshVersion scrapes the app store page and repopulates the cache.
func (s *Service) RefreshVersion(ctx context.Context) (string, error) {
	v, err := s.api.FetchAppVersion(ctx)
	if err != nil {
		return "", err
	}
	if err := s.cache.Set(ctx, keyVersion, v, noExpiry); err != nil {
		return "", err
	}
	s.log.Info("app version refreshed", "version", v)
	return v, nil
}

// InvalidateVersion drops the cached version so the next read re-scrapes.
// Called when the upstream rejects a request for carrying a stale version.
func (s *Service) InvalidateVersion(ctx context.Context) error {
	return s.cache.Delete(ctx, keyVersion)
}

// Device assembles the request identity for deviceID using the current
// version.
func (s *Service) Device(ctx context.Context, deviceID string) (moutai.Device, error) {
	v, err := s.Version(ctx)
	if err != nil {
		return moutai.Device{}, err
	}
	return moutai.Device{Version: v, DeviceID: deviceID}, nil
}

// SessionID returns today's catalog session id, fetching on a miss.
func (s *Service) SessionID(ctx context.Context) (string, error) {
	if v, ok, err := s.cache.Get(ctx, keySession); err != nil {
		return "", err
	} else if ok {
		return v, nil
	}
	return s.RefreshSession(ctx)
}

// RefreshSession fetches today's session and replaces the stored item
// catalog that rides along with it.
func (s *Service) RefreshSession(ctx context.Context) (string, error) {
	data, err := s.api.FetchSession(ctx, s.dayStartMillis())
	if err != nil {
		return "", err
	}

	items := make([]outlets.Item, 0, len(data.Items))
	for _, it := range data.Items {
		items = append(items, outlets.Item{
			ItemID:  it.ItemCode,
			Title:   it.Title,
			Content: it.Content,
			Picture: it.Picture,
		})
	}
	if err := s.store.ReplaceItems(ctx, items); err != nil {
		return "", err
	}

	if err := s.cache.Set(ctx, keySession, data.SessionID, noExpiry); err != nil {
		return "", err
	}
	s.log.Info("catalog session refreshed", "session_id", data.SessionID, "items", len(items))
	return data.SessionID, nil
}

// Outlets returns the full outlet list, downloading the bulk map on a miss.
func (s *Service) Outlets(ctx context.Context) ([]outlets.Outlet, error) {
	var cached []outlets.Outlet
	if ok, err := s.cache.GetList(ctx, keyOutlets, &cached); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}
	return s.RefreshOutlets(ctx)
}

// RefreshOutlets resolves the bulk map URL, downloads the map, and replaces
// both the stored table and the cached list.
func (s *Service) RefreshOutlets(ctx context.Context) ([]outlets.Outlet, error) {
	mapURL, err := s.api.FetchOutletResourceURL(ctx)
	if err != nil {
		return nil, err
	}
	m, err := s.api.FetchOutletMap(ctx, mapURL)
	if err != nil {
		return nil, err
	}

	list := make([]outlets.Outlet, 0, len(m))
	for id, info := range m {
		list = append(list, outlets.Outlet{
			OutletID:     id,
			Name:         info.Name,
			ProvinceName: info.ProvinceName,
			CityName:     info.CityName,
			DistrictName: info.DistrictName,
			FullAddress:  info.FullAddress,
			Lat:          info.Lat,
			Lng:          info.Lng,
		})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].OutletID < list[j].OutletID })

	if err := s.store.ReplaceOutlets(ctx, list); err != nil {
		return nil, err
	}
	if err := s.cache.SetList(ctx, keyOutlets, list, noExpiry); err != nil {
		return nil, err
	}
	s.log.Info("outlet map refreshed", "outlets", len(list))
	return list, nil
}

// StockByProvince lists today's per-outlet availability of itemID in
// province, cached for an hour per province/session/item triple.
func (s *Service) StockByProvince(ctx context.Context, province, itemID string) ([]moutai.StockEntry, error) {
	sessionID, err := s.SessionID(ctx)
	if err != nil {
		return nil, err
	}

	key := stockKey(province, sessionID, itemID)
	var cached []moutai.StockEntry
	if ok, err := s.cache.GetList(ctx, key, &cached); err != nil {
		return nil, err
	} else if ok {
		return cached, nil
	}

	stock, err := s.api.FetchProvinceStock(ctx, sessionID, province, itemID, s.dayStartMillis())
	if err != nil {
		return nil, err
	}
	if len(stock) == 0 {
		return nil, errs.Preconditionf("no availability for item %s in %s", itemID, province)
	}
	if err := s.cache.SetList(ctx, key, stock, stockTTL); err != nil {
		return nil, err
	}
	return stock, nil
}

// RefreshAll renews version, session and outlet map in one sweep. Each part
// is attempted regardless of earlier failures.
func (s *Service) RefreshAll(ctx context.Context) error {
	var combined error
	if _, err := s.RefreshVersion(ctx); err != nil {
		s.log.Warn("version refresh failed", "error", err)
		combined = errs.Combine(combined, err)
	}
	if _, err := s.RefreshSession(ctx); err != nil {
		s.log.Warn("session refresh failed", "error", err)
		combined = errs.Combine(combined, err)
	}
	if _, err := s.RefreshOutlets(ctx); err != nil {
		s.log.Warn("outlet refresh failed", "error", err)
		combined = errs.Combine(combined, err)
	}
	return combined
}
