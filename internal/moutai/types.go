package moutai

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/j5272000/campus-imaotai/internal/errs"
)

// Code is the numeric status in the upstream JSON envelope. The API is
// inconsistent about typing it (2000 on some endpoints, "2000" on others),
// so both encodings decode to the same value.
type Code int

func (c *Code) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return errs.Wrap(err, "parse envelope code")
	}
	*c = Code(n)
	return nil
}

// Success sentinels. Most endpoints answer 2000; the h5 energy endpoint
// answers 200, and the reservation-list query accepts either.
const (
	codeOK     Code = 2000
	codeOKGame Code = 200
)

type envelope struct {
	Code    Code            `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Device identifies the pseudo-app instance a request claims to come from.
type Device struct {
	Version  string // current MT-APP-Version
	DeviceID string // stable per account once assigned
}

// WapSession carries the h5 (game) authentication material.
type WapSession struct {
	Device
	Cookie string // MT-Token-Wap value issued at login
	Lat    string
	Lng    string
}

// LoginData is the profile payload returned by a successful login.
type LoginData struct {
	UserID   int64  `json:"userId"`
	UserName string `json:"userName"`
	Token    string `json:"token"`
	Cookie   string `json:"cookie"`
}

// SessionData is the day-scoped catalog session plus the item catalog that
// rides along with it.
type SessionData struct {
	SessionID string
	Items     []SessionItem
}

type SessionItem struct {
	ItemCode string `json:"itemCode"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	Picture  string `json:"picture"`
}

// OutletInfo is one entry of the bulk outlet map download.
type OutletInfo struct {
	Name         string `json:"name"`
	ProvinceName string `json:"provinceName"`
	CityName     string `json:"cityName"`
	DistrictName string `json:"districtName"`
	FullAddress  string `json:"fullAddress"`
	Lat          string `json:"lat"`
	Lng          string `json:"lng"`
}

// StockEntry reports one outlet's availability for one item today.
type StockEntry struct {
	ShopID    string `json:"shopId"`
	ItemID    string `json:"itemId"`
	Count     int    `json:"count"`
	Inventory int    `json:"inventory"`
}

// ReserveRequest is the signed reservation submission for a single item.
type ReserveRequest struct {
	UserID    int64
	Token     string
	Lat       string
	Lng       string
	ShopID    string
	ItemID    string
	SessionID string
}

// ReservationRecord is one row of the account's recent reservation history.
type ReservationRecord struct {
	ItemName        string `json:"itemName"`
	Status          int    `json:"status"`
	ReservationTime int64  `json:"reservationTime"` // epoch millis
}

// ReservationStatusSuccess marks a won reservation.
const ReservationStatusSuccess = 2

// Travel statuses on the isolation page.
const (
	TravelNotStarted = 1
	TravelInProgress = 2
	TravelCompleted  = 3
)

// IsolationPage is the validated shape of the game landing-page state.
type IsolationPage struct {
	Energy            int
	TravelStatus      int
	TravelEndTime     int64 // epoch seconds
	RemainChance      int
	EnergyRewardValue int
}
