// Package moutai is the typed HTTP client for the MT upstream API. It is
// transport only: callers supply version strings, device ids and tokens;
// caching and selection live elsewhere. A non-success envelope code is a
// recoverable, message-carrying failure and is never retried here.
package moutai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/j5272000/campus-imaotai/internal/errs"
	"github.com/j5272000/campus-imaotai/internal/sign"
)

const (
	defaultAppBase     = "https://app.moutai519.com.cn"
	defaultStaticBase  = "https://static.moutai519.com.cn"
	defaultH5Base      = "https://h5.moutai519.com.cn"
	defaultAppStoreURL = "https://apps.apple.com/cn/app/i%E8%8C%85%E5%8F%B0/id1600482450"

	userAgent    = "iOS;16.3;Apple;?unrecognized?"
	mtInfoHeader = "028e7f96f6369cafe1d105579c5b9377"
)

var versionRe = regexp.MustCompile(`(?s)new__latest__version">(.*?)</p>`)

// Config overrides the upstream hosts; zero values use production defaults.
type Config struct {
	AppBase     string
	StaticBase  string
	H5Base      string
	AppStoreURL string
}

type Client struct {
	hc  *http.Client
	cfg Config
}

func New(cfg Config) *Client {
	if cfg.AppBase == "" {
		cfg.AppBase = defaultAppBase
	}
	if cfg.StaticBase == "" {
		cfg.StaticBase = defaultStaticBase
	}
	if cfg.H5Base == "" {
		cfg.H5Base = defaultH5Base
	}
	if cfg.AppStoreURL == "" {
		cfg.AppStoreURL = defaultAppStoreURL
	}
	return &Client{
		hc:  &http.Client{Timeout: 10 * time.Second},
		cfg: cfg,
	}
}

// FetchAppVersion scrapes the public app-store page for the current version
// label.
func (c *Client) FetchAppVersion(ctx context.Context) (string, error) {
	body, err := c.raw(ctx, http.MethodGet, c.cfg.AppStoreURL, nil, nil, nil)
	if err != nil {
		return "", err
	}
	m := versionRe.FindSubmatch(body)
	if m == nil {
		return "", errs.Upstreamf("version label not found in app store page")
	}
	v := strings.TrimSpace(strings.ReplaceAll(string(m[1]), "版本 ", ""))
	if v == "" {
		return "", errs.Upstreamf("empty version label in app store page")
	}
	return v, nil
}

// SendCode requests a login verification code for mobile.
func (c *Client) SendCode(ctx context.Context, dev Device, mobile string) error {
	now := time.Now().UnixMilli()
	payload := map[string]string{
		"mobile":    mobile,
		"md5":       sign.Signature(mobile, now),
		"timestamp": fmt.Sprintf("%d", now),
	}
	_, err := c.call(ctx, http.MethodPost, c.cfg.AppBase+"/xhr/front/user/register/vcode",
		c.appHeaders(dev, nil), nil, payload, codeOK)
	return err
}

// Login exchanges mobile + verification code for a session.
func (c *Client) Login(ctx context.Context, dev Device, mobile, code string) (LoginData, error) {
	now := time.Now().UnixMilli()
	payload := map[string]string{
		"mobile":         mobile,
		"vCode":          code,
		"md5":            sign.Signature(mobile+code, now),
		"timestamp":      fmt.Sprintf("%d", now),
		"MT-APP-Version": dev.Version,
	}
	data, err := c.call(ctx, http.MethodPost, c.cfg.AppBase+"/xhr/front/user/register/login",
		c.appHeaders(dev, nil), nil, payload, codeOK)
	if err != nil {
		return LoginData{}, err
	}
	var out LoginData
	if err := json.Unmarshal(data, &out); err != nil {
		return LoginData{}, errs.WrapUpstream(err, "decode login data")
	}
	if out.Token == "" {
		return LoginData{}, errs.Upstreamf("login response missing token")
	}
	return out, nil
}

// SubmitReservation posts one signed, encrypted reservation.
func (c *Client) SubmitReservation(ctx context.Context, dev Device, req ReserveRequest) (json.RawMessage, error) {
	type itemInfo struct {
		Count  int    `json:"count"`
		ItemID string `json:"itemId"`
	}
	body := struct {
		ItemInfoList []itemInfo `json:"itemInfoList"`
		SessionID    string     `json:"sessionId"`
		UserID       string     `json:"userId"`
		ShopID       string     `json:"shopId"`
		ActParam     string     `json:"actParam,omitempty"`
	}{
		ItemInfoList: []itemInfo{{Count: 1, ItemID: req.ItemID}},
		SessionID:    req.SessionID,
		UserID:       fmt.Sprintf("%d", req.UserID),
		ShopID:       req.ShopID,
	}

	plain, err := json.Marshal(body)
	if err != nil {
		return nil, errs.Wrap(err, "encode reservation body")
	}
	body.ActParam, err = sign.Encrypt(string(plain))
	if err != nil {
		return nil, err
	}

	headers := c.appHeaders(dev, map[string]string{
		"MT-Lat":   req.Lat,
		"MT-Lng":   req.Lng,
		"MT-Token": req.Token,
		"MT-Info":  mtInfoHeader,
		"userId":   fmt.Sprintf("%d", req.UserID),
	})
	return c.call(ctx, http.MethodPost, c.cfg.AppBase+"/xhr/front/mall/reservation/add",
		headers, nil, body, codeOK)
}

// QueryReservations lists the account's recent reservation records.
func (c *Client) QueryReservations(ctx context.Context, dev Device, token string) ([]ReservationRecord, error) {
	headers := c.appHeaders(dev, map[string]string{"MT-Token": token})
	data, err := c.call(ctx, http.MethodGet, c.cfg.AppBase+"/xhr/front/mall/reservation/list/pageOne/query",
		headers, nil, nil, codeOK, codeOKGame)
	if err != nil {
		return nil, err
	}
	var out struct {
		ReservationItemVOS []ReservationRecord `json:"reservationItemVOS"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, errs.WrapUpstream(err, "decode reservation records")
	}
	return out.ReservationItemVOS, nil
}

// FetchOutletResourceURL resolves the indirection endpoint to the bulk
// outlet map download URL.
func (c *Client) FetchOutletResourceURL(ctx context.Context) (string, error) {
	body, err := c.raw(ctx, http.MethodGet, c.cfg.StaticBase+"/mt-backend/xhr/front/mall/resource/get", nil, nil, nil)
	if err != nil {
		return "", err
	}
	var res struct {
		Data struct {
			MtshopsPC struct {
				URL string `json:"url"`
			} `json:"mtshops_pc"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", errs.WrapUpstream(err, "decode resource index")
	}
	if res.Data.MtshopsPC.URL == "" {
		return "", errs.Upstreamf("resource index missing outlet map url")
	}
	return res.Data.MtshopsPC.URL, nil
}

// FetchOutletMap downloads the full outlet map keyed by outlet id.
func (c *Client) FetchOutletMap(ctx context.Context, mapURL string) (map[string]OutletInfo, error) {
	body, err := c.raw(ctx, http.MethodGet, mapURL, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	var out map[string]OutletInfo
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errs.WrapUpstream(err, "decode outlet map")
	}
	return out, nil
}

// FetchSession fetches the catalog session for the day starting at
// dayMillis (midnight UTC+8, epoch milliseconds) together with the item
// catalog it scopes.
func (c *Client) FetchSession(ctx context.Context, dayMillis int64) (SessionData, error) {
	u := fmt.Sprintf("%s/mt-backend/xhr/front/mall/index/session/get/%d", c.cfg.StaticBase, dayMillis)
	data, err := c.call(ctx, http.MethodGet, u, nil, nil, nil, codeOK)
	if err != nil {
		return SessionData{}, err
	}
	var res struct {
		SessionID json.Number   `json:"sessionId"`
		ItemList  []SessionItem `json:"itemList"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return SessionData{}, errs.WrapUpstream(err, "decode session data")
	}
	if res.SessionID.String() == "" {
		return SessionData{}, errs.Upstreamf("session response missing sessionId")
	}
	return SessionData{SessionID: res.SessionID.String(), Items: res.ItemList}, nil
}

// FetchProvinceStock lists today's per-outlet availability of itemID in a
// province, already filtered down to the requested item.
func (c *Client) FetchProvinceStock(ctx context.Context, sessionID, province, itemID string, dayMillis int64) ([]StockEntry, error) {
	u := fmt.Sprintf("%s/mt-backend/xhr/front/mall/shop/list/slim/v3/%s/%s/%s/%d",
		c.cfg.StaticBase, url.PathEscape(sessionID), url.PathEscape(province), url.PathEscape(itemID), dayMillis)
	data, err := c.call(ctx, http.MethodGet, u, nil, nil, nil, codeOK)
	if err != nil {
		return nil, err
	}
	var res struct {
		Shops []struct {
			ShopID string       `json:"shopId"`
			Items  []StockEntry `json:"items"`
		} `json:"shops"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, errs.WrapUpstream(err, "decode province stock")
	}

	var out []StockEntry
	for _, shop := range res.Shops {
		for _, it := range shop.Items {
			if it.ItemID == itemID {
				it.ShopID = shop.ShopID
				out = append(out, it)
			}
		}
	}
	return out, nil
}

// EnergyAward claims the pending purchase-energy award. The raw response
// body is returned for the logbook.
func (c *Client) EnergyAward(ctx context.Context, wap WapSession) (string, error) {
	body, err := c.raw(ctx, http.MethodPost, c.cfg.H5Base+"/game/isolationPage/getUserEnergyAward",
		c.wapHeaders(wap, true), nil, nil)
	if err != nil {
		return "", err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", errs.WrapUpstream(err, "decode energy award response")
	}
	if env.Code != codeOKGame {
		return "", upstreamFailure(env, "claim energy award")
	}
	return string(body), nil
}

// IsolationPage fetches and validates the game landing-page state.
func (c *Client) IsolationPage(ctx context.Context, wap WapSession) (IsolationPage, error) {
	q := url.Values{"__timestamp": {fmt.Sprintf("%d", time.Now().Unix())}}
	data, err := c.call(ctx, http.MethodGet, c.cfg.H5Base+"/game/isolationPage/getUserIsolationPageData",
		c.wapHeaders(wap, false), q, nil, codeOK)
	if err != nil {
		return IsolationPage{}, err
	}

	var res struct {
		Energy   int `json:"energy"`
		XmTravel *struct {
			Status        int   `json:"status"`
			TravelEndTime int64 `json:"travelEndTime"`
			RemainChance  int   `json:"remainChance"`
		} `json:"xmTravel"`
		EnergyReward *struct {
			Value int `json:"value"`
		} `json:"energyReward"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return IsolationPage{}, errs.WrapUpstream(err, "decode isolation page")
	}
	if res.XmTravel == nil || res.EnergyReward == nil {
		return IsolationPage{}, errs.Upstreamf("isolation page missing xmTravel or energyReward")
	}
	return IsolationPage{
		Energy:            res.Energy,
		TravelStatus:      res.XmTravel.Status,
		TravelEndTime:     res.XmTravel.TravelEndTime,
		RemainChance:      res.XmTravel.RemainChance,
		EnergyRewardValue: res.EnergyReward.Value,
	}, nil
}

// ExchangeRateInfo returns the remaining monthly conversion allowance.
func (c *Client) ExchangeRateInfo(ctx context.Context, wap WapSession) (int, error) {
	q := url.Values{"__timestamp": {fmt.Sprintf("%d", time.Now().Unix())}}
	data, err := c.call(ctx, http.MethodGet, c.cfg.H5Base+"/game/synthesize/exchangeRateInfo",
		c.wapHeaders(wap, false), q, nil, codeOK)
	if err != nil {
		return 0, err
	}
	var res struct {
		CurrentPeriodCanConvertXmyNum int `json:"currentPeriodCanConvertXmyNum"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return 0, errs.WrapUpstream(err, "decode exchange rate info")
	}
	return res.CurrentPeriodCanConvertXmyNum, nil
}

// TravelRewardAmount queries the claimable travel reward.
func (c *Client) TravelRewardAmount(ctx context.Context, wap WapSession) (float64, error) {
	data, err := c.call(ctx, http.MethodGet, c.cfg.H5Base+"/game/xmTravel/getXmTravelReward",
		c.wapHeaders(wap, false), nil, nil, codeOK)
	if err != nil {
		return 0, err
	}
	var res struct {
		TravelRewardXmy float64 `json:"travelRewardXmy"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return 0, errs.WrapUpstream(err, "decode travel reward")
	}
	return res.TravelRewardXmy, nil
}

// ReceiveReward claims the completed travel reward.
func (c *Client) ReceiveReward(ctx context.Context, wap WapSession) error {
	_, err := c.call(ctx, http.MethodPost, c.cfg.H5Base+"/game/xmTravel/receiveReward",
		c.wapHeaders(wap, true), nil, nil, codeOK)
	return err
}

// StartTravel begins a new travel attempt; the raw envelope is returned for
// the logbook.
func (c *Client) StartTravel(ctx context.Context, wap WapSession) (string, error) {
	body, err := c.raw(ctx, http.MethodPost, c.cfg.H5Base+"/game/xmTravel/startTravel",
		c.wapHeaders(wap, false), nil, nil)
	if err != nil {
		return "", err
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", errs.WrapUpstream(err, "decode start travel response")
	}
	if env.Code != codeOK {
		return "", upstreamFailure(env, "start travel")
	}
	return string(body), nil
}

// --- plumbing ---

func (c *Client) appHeaders(dev Device, extra map[string]string) map[string]string {
	h := map[string]string{
		"MT-Device-ID":   dev.DeviceID,
		"MT-APP-Version": dev.Version,
		"User-Agent":     userAgent,
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func (c *Client) wapHeaders(wap WapSession, withLocation bool) map[string]string {
	h := c.appHeaders(wap.Device, map[string]string{
		"Cookie": "MT-Token-Wap=" + wap.Cookie + ";MT-Device-ID-Wap=" + wap.DeviceID + ";",
	})
	if withLocation {
		h["MT-Lat"] = wap.Lat
		h["MT-Lng"] = wap.Lng
	}
	return h
}

// call performs a request expecting the standard envelope and returns the
// data payload when the code matches one of want.
func (c *Client) call(ctx context.Context, method, rawURL string, headers map[string]string,
	query url.Values, jsonBody any, want ...Code) (json.RawMessage, error) {

	var body []byte
	if jsonBody != nil {
		var err error
		body, err = json.Marshal(jsonBody)
		if err != nil {
			return nil, errs.Wrap(err, "encode request body")
		}
	}

	raw, err := c.raw(ctx, method, rawURL, headers, query, body)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, errs.WrapUpstream(err, "decode response envelope")
	}
	for _, w := range want {
		if env.Code == w {
			return env.Data, nil
		}
	}
	return nil, upstreamFailure(env, method+" "+rawURL)
}

func (c *Client) raw(ctx context.Context, method, rawURL string, headers map[string]string,
	query url.Values, body []byte) ([]byte, error) {

	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader(body))
	if err != nil {
		return nil, errs.Wrap(err, "build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if query != nil {
		req.URL.RawQuery = query.Encode()
	}

	res, err := c.hc.Do(req)
	if err != nil {
		return nil, errs.WrapUpstream(err, "request failed")
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, errs.WrapUpstream(err, "read response body")
	}
	return b, nil
}

func bodyReader(b []byte) io.Reader {
	if b == nil {
		return nil
	}
	return strings.NewReader(string(b))
}

func upstreamFailure(env envelope, op string) error {
	if env.Message != "" {
		return errs.Upstreamf("%s", env.Message)
	}
	return errs.Upstreamf("%s failed with code %d", op, int(env.Code))
}
