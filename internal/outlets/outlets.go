// Package outlets stores the MT outlet and item catalogs. Both are
// bulk-replaced wholesale on every refresh; rows are never individually
// mutated.
package outlets

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/j5272000/campus-imaotai/internal/db"
)

type Outlet struct {
	OutletID     string `json:"outletId"`
	Name         string `json:"name"`
	ProvinceName string `json:"provinceName"`
	CityName     string `json:"cityName"`
	DistrictName string `json:"districtName"`
	FullAddress  string `json:"fullAddress"`
	Lat          string `json:"lat"`
	Lng          string `json:"lng"`
}

type Item struct {
	ItemID  string `json:"itemId"`
	Title   string `json:"title"`
	Content string `json:"content"`
	Picture string `json:"picture"`
}

type Repo struct{ db *db.DB }

func NewRepo(d *db.DB) *Repo { return &Repo{db: d} }

// ReplaceOutlets truncates and reinserts the outlet table in one
// transaction so concurrent readers never observe a half-replaced catalog.
func (r *Repo) ReplaceOutlets(ctx context.Context, list []Outlet) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE mt_outlets`); err != nil {
			return err
		}
		for _, o := range list {
			if _, err := tx.Exec(ctx, `
INSERT INTO mt_outlets (outlet_id, name, province_name, city_name, district_name, full_address, lat, lng)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
				o.OutletID, o.Name, o.ProvinceName, o.CityName, o.DistrictName, o.FullAddress, o.Lat, o.Lng); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceItems truncates and reinserts the item catalog.
func (r *Repo) ReplaceItems(ctx context.Context, list []Item) error {
	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `TRUNCATE mt_items`); err != nil {
			return err
		}
		for _, it := range list {
			if _, err := tx.Exec(ctx, `
INSERT INTO mt_items (item_id, title, content, picture) VALUES ($1,$2,$3,$4)`,
				it.ItemID, it.Title, it.Content, it.Picture); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repo) GetOutlet(ctx context.Context, outletID string) (Outlet, error) {
	var o Outlet
	err := r.db.QueryRow(ctx, `
SELECT outlet_id, name, province_name, city_name, district_name, full_address, lat, lng
FROM mt_outlets WHERE outlet_id=$1`, outletID).
		Scan(&o.OutletID, &o.Name, &o.ProvinceName, &o.CityName, &o.DistrictName, &o.FullAddress, &o.Lat, &o.Lng)
	if err != nil {
		return Outlet{}, db.WrapNotFound(err)
	}
	return o, nil
}

func (r *Repo) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.db.Query(ctx, `SELECT item_id, title, content, picture FROM mt_items ORDER BY item_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Item
	for rows.Next() {
		var it Item
		if err := rows.Scan(&it.ItemID, &it.Title, &it.Content, &it.Picture); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) ListOutlets(ctx context.Context) ([]Outlet, error) {
	rows, err := r.db.Query(ctx, `
SELECT outlet_id, name, province_name, city_name, district_name, full_address, lat, lng
FROM mt_outlets ORDER BY outlet_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Outlet
	for rows.Next() {
		var o Outlet
		if err := rows.Scan(&o.OutletID, &o.Name, &o.ProvinceName, &o.CityName, &o.DistrictName,
			&o.FullAddress, &o.Lat, &o.Lng); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
