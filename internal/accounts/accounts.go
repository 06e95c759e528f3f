// Package accounts holds the MT account entity and its postgres store.
//
// An account is one registered mobile number: its upstream identity, the
// session token/cookie issued at login, the items it subscribes to, the
// outlet-selection strategy and home location used when reserving, and the
// minute-of-hour slot that spreads accounts across the reservation window.
package accounts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/j5272000/campus-imaotai/internal/db"
)

// Outlet-selection strategies.
const (
	// ShopModeCityMaxInventory reserves at the home-city outlet with the
	// most stock, falling back to the nearest in-province outlet.
	ShopModeCityMaxInventory = 1
	// ShopModeNearestInProvince reserves at the nearest in-province outlet;
	// no fallback.
	ShopModeNearestInProvince = 2
)

// ItemDelimiter joins subscribed item ids in ItemCode.
const ItemDelimiter = "@"

type Account struct {
	Mobile       string
	UserID       int64
	UserName     string
	DeviceID     string
	Token        string
	Cookie       string
	ItemCode     string
	ShopMode     int
	ProvinceName string
	CityName     string
	Lat          string
	Lng          string
	Minute       int
	OwnerID      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Items splits the subscription code into individual item ids.
func (a Account) Items() []string {
	var out []string
	for _, it := range strings.Split(a.ItemCode, ItemDelimiter) {
		if it = strings.TrimSpace(it); it != "" {
			out = append(out, it)
		}
	}
	return out
}

func (a Account) Validate() error {
	if a.Mobile == "" {
		return fmt.Errorf("mobile required")
	}
	if a.ShopMode != ShopModeCityMaxInventory && a.ShopMode != ShopModeNearestInProvince {
		return fmt.Errorf("shop_mode must be %d or %d", ShopModeCityMaxInventory, ShopModeNearestInProvince)
	}
	if a.Minute < 0 || a.Minute > 59 {
		return fmt.Errorf("minute must be in 0..59")
	}
	return nil
}

// PageFilter narrows List results.
type PageFilter struct {
	Mobile  string // prefix match when set
	OwnerID int64  // 0 means no owner restriction
	Offset  int
	Limit   int
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

const accountColumns = `mobile, user_id, user_name, device_id, token, cookie, item_code, shop_mode,
province_name, city_name, lat, lng, minute, owner_id, created_at, updated_at`

func (r *Repo) Get(ctx context.Context, mobile string) (Account, error) {
	row := r.db.QueryRow(ctx, `SELECT `+accountColumns+` FROM mt_accounts WHERE mobile=$1`, mobile)
	a, err := scanAccount(row)
	if err != nil {
		return Account{}, db.WrapNotFound(err)
	}
	return a, nil
}

// Upsert inserts the account or updates it in place. The stored device id,
// strategy and assigned minute survive re-login updates; session fields and
// profile fields are refreshed.
func (r *Repo) Upsert(ctx context.Context, a Account) (int64, error) {
	return r.db.Exec(ctx, `
INSERT INTO mt_accounts (mobile, user_id, user_name, device_id, token, cookie, item_code, shop_mode,
                         province_name, city_name, lat, lng, minute, owner_id)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
ON CONFLICT (mobile) DO UPDATE SET
    user_id       = EXCLUDED.user_id,
    user_name     = EXCLUDED.user_name,
    token         = EXCLUDED.token,
    cookie        = EXCLUDED.cookie,
    item_code     = EXCLUDED.item_code,
    province_name = EXCLUDED.province_name,
    city_name     = EXCLUDED.city_name,
    lat           = EXCLUDED.lat,
    lng           = EXCLUDED.lng,
    updated_at    = now()`,
		a.Mobile, a.UserID, a.UserName, a.DeviceID, a.Token, a.Cookie, a.ItemCode, a.ShopMode,
		a.ProvinceName, a.CityName, a.Lat, a.Lng, a.Minute, a.OwnerID)
}

// Update rewrites every editable field; used by the manual-edit surface.
func (r *Repo) Update(ctx context.Context, a Account) (int64, error) {
	return r.db.Exec(ctx, `
UPDATE mt_accounts SET
    user_id=$2, user_name=$3, device_id=$4, token=$5, cookie=$6, item_code=$7, shop_mode=$8,
    province_name=$9, city_name=$10, lat=$11, lng=$12, minute=$13, updated_at=now()
WHERE mobile=$1`,
		a.Mobile, a.UserID, a.UserName, a.DeviceID, a.Token, a.Cookie, a.ItemCode, a.ShopMode,
		a.ProvinceName, a.CityName, a.Lat, a.Lng, a.Minute)
}

func (r *Repo) Delete(ctx context.Context, mobiles []string) (int64, error) {
	if len(mobiles) == 0 {
		return 0, nil
	}
	return r.db.Exec(ctx, `DELETE FROM mt_accounts WHERE mobile = ANY($1)`, mobiles)
}

func (r *Repo) List(ctx context.Context, f PageFilter) ([]Account, int64, error) {
	where := `WHERE ($1 = '' OR mobile LIKE $1 || '%') AND ($2 = 0 OR owner_id = $2)`

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM mt_accounts `+where, f.Mobile, f.OwnerID).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx, `
SELECT `+accountColumns+` FROM mt_accounts `+where+`
ORDER BY created_at DESC OFFSET $3 LIMIT $4`, f.Mobile, f.OwnerID, f.Offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// ListDueAtMinute returns accounts with a pending subscription whose
// assigned minute matches. This reads the same column the spreading jobs
// write.
func (r *Repo) ListDueAtMinute(ctx context.Context, minute int) ([]Account, error) {
	return r.list(ctx, `
SELECT `+accountColumns+` FROM mt_accounts
WHERE item_code <> '' AND minute = $1
ORDER BY mobile`, minute)
}

// ListWithPendingReservation returns every account with a non-empty item
// subscription.
func (r *Repo) ListWithPendingReservation(ctx context.Context) ([]Account, error) {
	return r.list(ctx, `
SELECT `+accountColumns+` FROM mt_accounts
WHERE item_code <> ''
ORDER BY mobile`)
}

func (r *Repo) CountAll(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM mt_accounts`).Scan(&n)
	return n, err
}

// SpreadMinutesEvenly deals minutes 0..59 out in mobile order so load is
// even across the window. Used when more than 60 accounts exist.
func (r *Repo) SpreadMinutesEvenly(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
UPDATE mt_accounts a SET minute = s.m, updated_at = now()
FROM (
    SELECT mobile, (row_number() OVER (ORDER BY mobile) - 1) % 60 AS m
    FROM mt_accounts
) s
WHERE a.mobile = s.mobile`)
	return err
}

// SpreadMinutesBatch assigns each account an independent random minute.
func (r *Repo) SpreadMinutesBatch(ctx context.Context) error {
	_, err := r.db.Exec(ctx, `
UPDATE mt_accounts SET minute = floor(random() * 60)::int, updated_at = now()`)
	return err
}

func (r *Repo) list(ctx context.Context, sql string, args ...any) ([]Account, error) {
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanAccount(s scanner) (Account, error) {
	var a Account
	err := s.Scan(&a.Mobile, &a.UserID, &a.UserName, &a.DeviceID, &a.Token, &a.Cookie,
		&a.ItemCode, &a.ShopMode, &a.ProvinceName, &a.CityName, &a.Lat, &a.Lng,
		&a.Minute, &a.OwnerID, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}
