// Package workflow drives the per-account flows: verification-code login,
// reservation submission, the travel mini-game reward loop, and result
// collection. Every flow writes a logbook row so operators can follow an
// account's history without reading server logs.
package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/j5272000/campus-imaotai/internal/accounts"
	"github.com/j5272000/campus-imaotai/internal/clock"
	"github.com/j5272000/campus-imaotai/internal/db"
	"github.com/j5272000/campus-imaotai/internal/errs"
	"github.com/j5272000/campus-imaotai/internal/moutai"
)

// Travel rewards are claimable between these hours (upstream zone).
const (
	travelOpenHour  = 9
	travelCloseHour = 20
)

// minTravelEnergy is the energy cost of starting a travel run.
const minTravelEnergy = 100

var cst = time.FixedZone("CST", 8*3600)

// API is the slice of the upstream client the flows consume.
type API interface {
	SendCode(ctx context.Context, dev moutai.Device, mobile string) error
	Login(ctx context.Context, dev moutai.Device, mobile, code string) (moutai.LoginData, error)
	SubmitReservation(ctx context.Context, dev moutai.Device, req moutai.ReserveRequest) (json.RawMessage, error)
	QueryReservations(ctx context.Context, dev moutai.Device, token string) ([]moutai.ReservationRecord, error)
	EnergyAward(ctx context.Context, wap moutai.WapSession) (string, error)
	IsolationPage(ctx context.Context, wap moutai.WapSession) (moutai.IsolationPage, error)
	ExchangeRateInfo(ctx context.Context, wap moutai.WapSession) (int, error)
	TravelRewardAmount(ctx context.Context, wap moutai.WapSession) (float64, error)
	ReceiveReward(ctx context.Context, wap moutai.WapSession) error
	StartTravel(ctx context.Context, wap moutai.WapSession) (string, error)
}

// Catalog supplies request identity and outlet selection.
type Catalog interface {
	Device(ctx context.Context, deviceID string) (moutai.Device, error)
	SessionID(ctx context.Context) (string, error)
	PickOutlet(ctx context.Context, acct accounts.Account, itemID string) (string, error)
	InvalidateVersion(ctx context.Context) error
}

// AccountStore is the account persistence the flows need.
type AccountStore interface {
	Get(ctx context.Context, mobile string) (accounts.Account, error)
	Upsert(ctx context.Context, a accounts.Account) (int64, error)
	ListWithPendingReservation(ctx context.Context) ([]accounts.Account, error)
}

// Logbook records per-account action outcomes.
type Logbook interface {
	Record(ctx context.Context, mobile, content string) error
}

// Tasks schedules fire-and-forget follow-ups.
type Tasks interface {
	SubmitDelayed(ctx context.Context, d time.Duration, fn func())
}

type Config struct {
	API      API
	Catalog  Catalog
	Accounts AccountStore
	Logbook  Logbook
	Tasks    Tasks
	Clock    clock.Clock
	Log      *slog.Logger

	// Pace is the gap between accounts in a batch; EnergyDelay is the gap
	// between a reservation and its follow-up energy claim. Zero values take
	// the defaults (3s and 10s).
	Pace        time.Duration
	EnergyDelay time.Duration
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.Pace == 0 {
		cfg.Pace = 3 * time.Second
	}
	if cfg.EnergyDelay == 0 {
		cfg.EnergyDelay = 10 * time.Second
	}
	return &Engine{cfg: cfg}
}

// SendCode requests a login verification code. The stored device id is
// reused when the account is already known so the upstream sees a stable
// device.
func (e *Engine) SendCode(ctx context.Context, mobile string) error {
	dev, err := e.cfg.Catalog.Device(ctx, e.deviceID(ctx, mobile))
	if err != nil {
		return err
	}
	if err := e.cfg.API.SendCode(ctx, dev, mobile); err != nil {
		e.record(ctx, mobile, "verification code request failed: "+err.Error())
		return err
	}
	e.record(ctx, mobile, "verification code sent")
	return nil
}

// LoginParams is the operator-supplied account configuration bundled with
// the verification code.
type LoginParams struct {
	Mobile       string
	Code         string
	ItemCode     string
	ShopMode     int
	ProvinceName string
	CityName     string
	Lat          string
	Lng          string
	OwnerID      int64
}

// Login exchanges the verification code for a session and upserts the
// account. A stale scraped version is a common login failure, so the cached
// version is dropped on upstream rejection.
func (e *Engine) Login(ctx context.Context, p LoginParams) (accounts.Account, error) {
	existing, err := e.cfg.Accounts.Get(ctx, p.Mobile)
	known := err == nil
	if err != nil && !db.IsNotFound(err) {
		return accounts.Account{}, err
	}

	deviceID := existing.DeviceID
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	dev, err := e.cfg.Catalog.Device(ctx, deviceID)
	if err != nil {
		return accounts.Account{}, err
	}

	data, err := e.cfg.API.Login(ctx, dev, p.Mobile, p.Code)
	if err != nil {
		if errs.IsUpstream(err) {
			if derr := e.cfg.Catalog.InvalidateVersion(ctx); derr != nil {
				e.cfg.Log.Warn("version invalidation failed", "error", derr)
			}
		}
		e.record(ctx, p.Mobile, "login failed: "+err.Error())
		return accounts.Account{}, err
	}

	acct := accounts.Account{
		Mobile:       p.Mobile,
		UserID:       data.UserID,
		UserName:     data.UserName,
		DeviceID:     deviceID,
		Token:        data.Token,
		Cookie:       data.Cookie,
		ItemCode:     coalesce(p.ItemCode, existing.ItemCode),
		ShopMode:     p.ShopMode,
		ProvinceName: coalesce(p.ProvinceName, existing.ProvinceName),
		CityName:     coalesce(p.CityName, existing.CityName),
		Lat:          coalesce(p.Lat, existing.Lat),
		Lng:          coalesce(p.Lng, existing.Lng),
		Minute:       existing.Minute,
		OwnerID:      p.OwnerID,
	}
	if acct.ShopMode == 0 && known {
		acct.ShopMode = existing.ShopMode
	}
	if acct.ShopMode == 0 {
		acct.ShopMode = accounts.ShopModeCityMaxInventory
	}
	if err := acct.Validate(); err != nil {
		return accounts.Account{}, errs.Wrap(err, "invalid account")
	}
	if _, err := e.cfg.Accounts.Upsert(ctx, acct); err != nil {
		return accounts.Account{}, err
	}
	e.record(ctx, p.Mobile, "login ok, user "+acct.UserName)
	return acct, nil
}

// Reservation submits one reservation per subscribed item. A failure on one
// item never blocks the others; all outcomes land in a single logbook row.
// The purchase-energy award opens shortly after a reservation, so a delayed
// claim is scheduled once per run.
func (e *Engine) Reservation(ctx context.Context, acct accounts.Account) error {
	items := acct.Items()
	if len(items) == 0 {
		return errs.Preconditionf("account %s has no item subscription", acct.Mobile)
	}

	dev, err := e.cfg.Catalog.Device(ctx, acct.DeviceID)
	if err != nil {
		return err
	}
	sessionID, err := e.cfg.Catalog.SessionID(ctx)
	if err != nil {
		return err
	}

	var lines []string
	var combined error
	for _, itemID := range items {
		shopID, err := e.cfg.Catalog.PickOutlet(ctx, acct, itemID)
		if err != nil {
			lines = append(lines, fmt.Sprintf("item %s: no outlet: %v", itemID, err))
			combined = errs.Combine(combined, err)
			continue
		}
		_, err = e.cfg.API.SubmitReservation(ctx, dev, moutai.ReserveRequest{
			UserID:    acct.UserID,
			Token:     acct.Token,
			Lat:       acct.Lat,
			Lng:       acct.Lng,
			ShopID:    shopID,
			ItemID:    itemID,
			SessionID: sessionID,
		})
		if err != nil {
			lines = append(lines, fmt.Sprintf("item %s at outlet %s: %v", itemID, shopID, err))
			combined = errs.Combine(combined, err)
			continue
		}
		lines = append(lines, fmt.Sprintf("item %s reserved at outlet %s", itemID, shopID))
	}
	e.record(ctx, acct.Mobile, strings.Join(lines, "; "))

	e.cfg.Tasks.SubmitDelayed(context.WithoutCancel(ctx), e.cfg.EnergyDelay, func() {
		e.claimEnergy(context.Background(), dev, acct)
	})
	return combined
}

func (e *Engine) claimEnergy(ctx context.Context, dev moutai.Device, acct accounts.Account) {
	body, err := e.cfg.API.EnergyAward(ctx, e.wap(dev, acct))
	if err != nil {
		e.record(ctx, acct.Mobile, "energy claim failed: "+err.Error())
		return
	}
	e.record(ctx, acct.Mobile, "energy claimed: "+body)
}

// TravelReward advances the travel mini-game one step: claim a finished
// run's reward, or start a new run when energy and chances allow. Gated to
// daytime hours because the upstream rejects requests outside them anyway.
func (e *Engine) TravelReward(ctx context.Context, acct accounts.Account) error {
	now := e.cfg.Clock.Now().In(cst)
	if h := now.Hour(); h < travelOpenHour || h >= travelCloseHour {
		return errs.Preconditionf("outside travel hours (%02d:00-%02d:00)", travelOpenHour, travelCloseHour)
	}

	dev, err := e.cfg.Catalog.Device(ctx, acct.DeviceID)
	if err != nil {
		return err
	}
	wap := e.wap(dev, acct)

	allowance, err := e.cfg.API.ExchangeRateInfo(ctx, wap)
	if err != nil {
		return err
	}
	if allowance <= 0 {
		return errs.Preconditionf("monthly conversion allowance exhausted for %s", acct.Mobile)
	}

	page, err := e.cfg.API.IsolationPage(ctx, wap)
	if err != nil {
		return err
	}
	// A pending energy award counts toward the travel cost once claimed.
	energy := page.Energy
	if page.EnergyRewardValue > 0 {
		if _, err := e.cfg.API.EnergyAward(ctx, wap); err != nil {
			e.cfg.Log.Warn("pending energy claim failed", "mobile", acct.Mobile, "error", err)
		} else {
			energy += page.EnergyRewardValue
		}
	}

	switch page.TravelStatus {
	case moutai.TravelCompleted:
		return e.claimTravelReward(ctx, wap, acct, allowance, page.RemainChance)
	case moutai.TravelInProgress:
		// The page reports in-progress until the next refresh even past the
		// end time; the claim only succeeds on a completed status.
		return errs.Preconditionf("travel in progress until %s",
			time.Unix(page.TravelEndTime, 0).In(cst).Format("2006-01-02 15:04:05"))
	case moutai.TravelNotStarted:
		if page.RemainChance <= 0 {
			return errs.Preconditionf("no travel chances left today for %s", acct.Mobile)
		}
		if energy < minTravelEnergy {
			return errs.Preconditionf("energy %d below travel cost %d", energy, minTravelEnergy)
		}
		body, err := e.cfg.API.StartTravel(ctx, wap)
		if err != nil {
			e.record(ctx, acct.Mobile, "start travel failed: "+err.Error())
			return err
		}
		e.record(ctx, acct.Mobile, "travel started: "+body)
		return nil
	default:
		return errs.Preconditionf("unknown travel status %d", page.TravelStatus)
	}
}

// claimTravelReward settles a completed run: the reward must fit within the
// remaining monthly conversion allowance, and a leftover chance rolls
// straight into the next run.
func (e *Engine) claimTravelReward(ctx context.Context, wap moutai.WapSession, acct accounts.Account, allowance, remainChance int) error {
	amount, err := e.cfg.API.TravelRewardAmount(ctx, wap)
	if err != nil {
		return err
	}
	if amount > float64(allowance) {
		return errs.Preconditionf("travel reward %.2f exceeds monthly allowance %d", amount, allowance)
	}
	if err := e.cfg.API.ReceiveReward(ctx, wap); err != nil {
		e.record(ctx, acct.Mobile, "travel reward claim failed: "+err.Error())
		return err
	}
	e.record(ctx, acct.Mobile, fmt.Sprintf("travel reward received: %.2f", amount))

	if remainChance <= 0 {
		return nil
	}
	body, err := e.cfg.API.StartTravel(ctx, wap)
	if err != nil {
		e.record(ctx, acct.Mobile, "start travel failed: "+err.Error())
		return err
	}
	e.record(ctx, acct.Mobile, "travel started: "+body)
	return nil
}

// AppointmentResults scans every subscribed account's recent reservations
// and logs wins from the last 24 hours.
func (e *Engine) AppointmentResults(ctx context.Context) error {
	accts, err := e.cfg.Accounts.ListWithPendingReservation(ctx)
	if err != nil {
		return err
	}

	cutoff := e.cfg.Clock.Now().Add(-24 * time.Hour).UnixMilli()
	for _, acct := range accts {
		dev, err := e.cfg.Catalog.Device(ctx, acct.DeviceID)
		if err != nil {
			e.cfg.Log.Warn("device identity unavailable", "mobile", acct.Mobile, "error", err)
			continue
		}
		records, err := e.cfg.API.QueryReservations(ctx, dev, acct.Token)
		if err != nil {
			e.cfg.Log.Warn("reservation query failed", "mobile", acct.Mobile, "error", err)
			continue
		}
		for _, rec := range records {
			if rec.Status == moutai.ReservationStatusSuccess && rec.ReservationTime >= cutoff {
				e.record(ctx, acct.Mobile, "reservation won: "+rec.ItemName)
			}
		}
	}
	return nil
}

// ReservationBatch runs Reservation for each account with a fixed pace
// between accounts so the upstream never sees a burst. One account's
// failure never stops the batch.
func (e *Engine) ReservationBatch(ctx context.Context, accts []accounts.Account) {
	e.batch(ctx, accts, "reservation", e.Reservation)
}

// TravelRewardBatch runs TravelReward for each account with the same pacing.
func (e *Engine) TravelRewardBatch(ctx context.Context, accts []accounts.Account) {
	e.batch(ctx, accts, "travel reward", e.TravelReward)
}

func (e *Engine) batch(ctx context.Context, accts []accounts.Account, name string,
	fn func(context.Context, accounts.Account) error) {

	for i, acct := range accts {
		if i > 0 && !e.pause(ctx) {
			e.cfg.Log.Info("batch cancelled", "flow", name, "done", i, "total", len(accts))
			return
		}
		if err := fn(ctx, acct); err != nil {
			if errs.IsPrecondition(err) {
				e.cfg.Log.Info("account skipped", "flow", name, "mobile", acct.Mobile, "reason", err)
			} else {
				e.cfg.Log.Warn("account failed", "flow", name, "mobile", acct.Mobile, "error", err)
			}
		}
	}
}

func (e *Engine) pause(ctx context.Context) bool {
	t := time.NewTimer(e.cfg.Pace)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (e *Engine) deviceID(ctx context.Context, mobile string) string {
	if acct, err := e.cfg.Accounts.Get(ctx, mobile); err == nil && acct.DeviceID != "" {
		return acct.DeviceID
	}
	return uuid.NewString()
}

func (e *Engine) wap(dev moutai.Device, acct accounts.Account) moutai.WapSession {
	return moutai.WapSession{Device: dev, Cookie: acct.Cookie, Lat: acct.Lat, Lng: acct.Lng}
}

func (e *Engine) record(ctx context.Context, mobile, content string) {
	if err := e.cfg.Logbook.Record(ctx, mobile, content); err != nil {
		e.cfg.Log.Warn("logbook write failed", "mobile", mobile, "error", err)
	}
}

func coalesce(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
