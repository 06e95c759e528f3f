package workflow

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j5272000/campus-imaotai/internal/accounts"
	"github.com/j5272000/campus-imaotai/internal/clock"
	"github.com/j5272000/campus-imaotai/internal/db"
	"github.com/j5272000/campus-imaotai/internal/errs"
	"github.com/j5272000/campus-imaotai/internal/moutai"
)

type fakeAPI struct {
	sendCode          func(ctx context.Context, dev moutai.Device, mobile string) error
	login             func(ctx context.Context, dev moutai.Device, mobile, code string) (moutai.LoginData, error)
	submitReservation func(ctx context.Context, dev moutai.Device, req moutai.ReserveRequest) (json.RawMessage, error)
	queryReservations func(ctx context.Context, dev moutai.Device, token string) ([]moutai.ReservationRecord, error)
	energyAward       func(ctx context.Context, wap moutai.WapSession) (string, error)
	isolationPage     func(ctx context.Context, wap moutai.WapSession) (moutai.IsolationPage, error)
	exchangeRateInfo  func(ctx context.Context, wap moutai.WapSession) (int, error)
	travelReward      func(ctx context.Context, wap moutai.WapSession) (float64, error)
	receiveReward     func(ctx context.Context, wap moutai.WapSession) error
	startTravel       func(ctx context.Context, wap moutai.WapSession) (string, error)
}

func (f *fakeAPI) SendCode(ctx context.Context, dev moutai.Device, mobile string) error {
	return f.sendCode(ctx, dev, mobile)
}

func (f *fakeAPI) Login(ctx context.Context, dev moutai.Device, mobile, code string) (moutai.LoginData, error) {
	return f.login(ctx, dev, mobile, code)
}

func (f *fakeAPI) SubmitReservation(ctx context.Context, dev moutai.Device, req moutai.ReserveRequest) (json.RawMessage, error) {
	return f.submitReservation(ctx, dev, req)
}

func (f *fakeAPI) QueryReservations(ctx context.Context, dev moutai.Device, token string) ([]moutai.ReservationRecord, error) {
	return f.queryReservations(ctx, dev, token)
}

func (f *fakeAPI) EnergyAward(ctx context.Context, wap moutai.WapSession) (string, error) {
	return f.energyAward(ctx, wap)
}

func (f *fakeAPI) IsolationPage(ctx context.Context, wap moutai.WapSession) (moutai.IsolationPage, error) {
	return f.isolationPage(ctx, wap)
}

func (f *fakeAPI) ExchangeRateInfo(ctx context.Context, wap moutai.WapSession) (int, error) {
	return f.exchangeRateInfo(ctx, wap)
}

func (f *fakeAPI) TravelRewardAmount(ctx context.Context, wap moutai.WapSession) (float64, error) {
	return f.travelReward(ctx, wap)
}

func (f *fakeAPI) ReceiveReward(ctx context.Context, wap moutai.WapSession) error {
	return f.receiveReward(ctx, wap)
}

func (f *fakeAPI) StartTravel(ctx context.Context, wap moutai.WapSession) (string, error) {
	return f.startTravel(ctx, wap)
}

type fakeCatalog struct {
	pickOutlet  func(ctx context.Context, acct accounts.Account, itemID string) (string, error)
	device      func(ctx context.Context, deviceID string) (moutai.Device, error)
	invalidated int
}

func (f *fakeCatalog) Device(ctx context.Context, deviceID string) (moutai.Device, error) {
	if f.device != nil {
		return f.device(ctx, deviceID)
	}
	return moutai.Device{Version: "1.5.9", DeviceID: deviceID}, nil
}

func (f *fakeCatalog) SessionID(context.Context) (string, error) { return "628", nil }

func (f *fakeCatalog) PickOutlet(ctx context.Context, acct accounts.Account, itemID string) (string, error) {
	if f.pickOutlet != nil {
		return f.pickOutlet(ctx, acct, itemID)
	}
	return "S-" + itemID, nil
}

func (f *fakeCatalog) InvalidateVersion(context.Context) error {
	f.invalidated++
	return nil
}

type fakeStore struct {
	byMobile map[string]accounts.Account
	upserted []accounts.Account
}

func (s *fakeStore) Get(_ context.Context, mobile string) (accounts.Account, error) {
	if a, ok := s.byMobile[mobile]; ok {
		return a, nil
	}
	return accounts.Account{}, db.ErrNotFound
}

func (s *fakeStore) Upsert(_ context.Context, a accounts.Account) (int64, error) {
	s.upserted = append(s.upserted, a)
	return 1, nil
}

func (s *fakeStore) ListWithPendingReservation(context.Context) ([]accounts.Account, error) {
	var out []accounts.Account
	for _, a := range s.byMobile {
		if a.ItemCode != "" {
			out = append(out, a)
		}
	}
	return out, nil
}

type fakeLogbook struct {
	mu   sync.Mutex
	rows []string
}

func (l *fakeLogbook) Record(_ context.Context, mobile, content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rows = append(l.rows, mobile+": "+content)
	return nil
}

func (l *fakeLogbook) joined() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strings.Join(l.rows, "\n")
}

// fakeTasks records the requested delay and runs the task inline.
type fakeTasks struct {
	delays []time.Duration
}

func (f *fakeTasks) SubmitDelayed(_ context.Context, d time.Duration, fn func()) {
	f.delays = append(f.delays, d)
	fn()
}

func daytime() *clock.MockClock {
	// 10:00 in the upstream zone.
	return clock.NewMockClock(time.Date(2024, 3, 15, 2, 0, 0, 0, time.UTC))
}

func newTestEngine(api *fakeAPI, cat *fakeCatalog, store *fakeStore) (*Engine, *fakeLogbook, *fakeTasks, *clock.MockClock) {
	book := &fakeLogbook{}
	tasks := &fakeTasks{}
	clk := daytime()
	eng := NewEngine(Config{
		API:      api,
		Catalog:  cat,
		Accounts: store,
		Logbook:  book,
		Tasks:    tasks,
		Clock:    clk,
		Log:      slog.Default(),
		Pace:     time.Millisecond,
	})
	return eng, book, tasks, clk
}

func subscribedAccount(mobile string) accounts.Account {
	return accounts.Account{
		Mobile:       mobile,
		UserID:       7,
		DeviceID:     "dev-" + mobile,
		Token:        "tok",
		Cookie:       "ck",
		ItemCode:     "10213",
		ShopMode:     accounts.ShopModeCityMaxInventory,
		ProvinceName: "浙江省",
		CityName:     "杭州市",
		Lat:          "30.26",
		Lng:          "120.16",
	}
}

func TestLoginReusesStoredDeviceID(t *testing.T) {
	var gotDevice string
	api := &fakeAPI{
		login: func(_ context.Context, dev moutai.Device, mobile, code string) (moutai.LoginData, error) {
			gotDevice = dev.DeviceID
			return moutai.LoginData{UserID: 7, UserName: "u", Token: "t", Cookie: "c"}, nil
		},
	}
	existing := subscribedAccount("13800000000")
	existing.Minute = 17
	store := &fakeStore{byMobile: map[string]accounts.Account{"13800000000": existing}}
	eng, book, _, _ := newTestEngine(api, &fakeCatalog{}, store)

	acct, err := eng.Login(context.Background(), LoginParams{Mobile: "13800000000", Code: "123456"})
	require.NoError(t, err)
	assert.Equal(t, "dev-13800000000", gotDevice)
	assert.Equal(t, 17, acct.Minute)
	assert.Equal(t, "10213", acct.ItemCode)
	assert.Contains(t, book.joined(), "login ok")
}

func TestLoginAssignsDeviceIDToNewAccount(t *testing.T) {
	var gotDevice string
	api := &fakeAPI{
		login: func(_ context.Context, dev moutai.Device, _, _ string) (moutai.LoginData, error) {
			gotDevice = dev.DeviceID
			return moutai.LoginData{UserID: 9, Token: "t", Cookie: "c"}, nil
		},
	}
	store := &fakeStore{byMobile: map[string]accounts.Account{}}
	eng, _, _, _ := newTestEngine(api, &fakeCatalog{}, store)

	acct, err := eng.Login(context.Background(), LoginParams{
		Mobile: "13900000000", Code: "000000", ShopMode: accounts.ShopModeNearestInProvince,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, gotDevice)
	assert.Equal(t, gotDevice, acct.DeviceID)
	require.Len(t, store.upserted, 1)
}

func TestLoginRejectionInvalidatesVersion(t *testing.T) {
	api := &fakeAPI{
		login: func(context.Context, moutai.Device, string, string) (moutai.LoginData, error) {
			return moutai.LoginData{}, errs.Upstreamf("app version too old")
		},
	}
	cat := &fakeCatalog{}
	eng, book, _, _ := newTestEngine(api, cat, &fakeStore{byMobile: map[string]accounts.Account{}})

	_, err := eng.Login(context.Background(), LoginParams{Mobile: "13800000000", Code: "1"})
	require.Error(t, err)
	assert.Equal(t, 1, cat.invalidated)
	assert.Contains(t, book.joined(), "login failed")
}

func TestReservationIsolatesItemFailures(t *testing.T) {
	submitted := map[string]string{}
	api := &fakeAPI{
		submitReservation: func(_ context.Context, _ moutai.Device, req moutai.ReserveRequest) (json.RawMessage, error) {
			submitted[req.ItemID] = req.ShopID
			return json.RawMessage(`{}`), nil
		},
		energyAward: func(context.Context, moutai.WapSession) (string, error) {
			return `{"code":200}`, nil
		},
	}
	cat := &fakeCatalog{
		pickOutlet: func(_ context.Context, _ accounts.Account, itemID string) (string, error) {
			if itemID == "10214" {
				return "", errs.Preconditionf("no eligible outlet")
			}
			return "S-" + itemID, nil
		},
	}
	eng, book, tasks, _ := newTestEngine(api, cat, &fakeStore{})

	acct := subscribedAccount("13800000000")
	acct.ItemCode = "10213@10214@10215"
	err := eng.Reservation(context.Background(), acct)
	require.Error(t, err)

	// The middle item failed selection; the other two were still submitted.
	assert.Equal(t, map[string]string{"10213": "S-10213", "10215": "S-10215"}, submitted)

	log := book.joined()
	assert.Contains(t, log, "item 10213 reserved at outlet S-10213")
	assert.Contains(t, log, "item 10214: no outlet")
	assert.Contains(t, log, "energy claimed")

	// The follow-up energy claim is scheduled once with the default delay.
	require.Len(t, tasks.delays, 1)
	assert.Equal(t, 10*time.Second, tasks.delays[0])
}

func TestReservationBatchIsolatesAccountFailures(t *testing.T) {
	var submitted []string
	api := &fakeAPI{
		submitReservation: func(_ context.Context, _ moutai.Device, req moutai.ReserveRequest) (json.RawMessage, error) {
			if req.Token == "bad" {
				return nil, errs.Upstreamf("token expired")
			}
			submitted = append(submitted, req.ItemID)
			return json.RawMessage(`{}`), nil
		},
		energyAward: func(context.Context, moutai.WapSession) (string, error) { return "{}", nil },
	}
	eng, _, _, _ := newTestEngine(api, &fakeCatalog{}, &fakeStore{})

	a1 := subscribedAccount("13800000001")
	a2 := subscribedAccount("13800000002")
	a2.Token = "bad"
	a3 := subscribedAccount("13800000003")

	eng.ReservationBatch(context.Background(), []accounts.Account{a1, a2, a3})
	assert.Len(t, submitted, 2)
}

func TestTravelRewardGatedOutsideHours(t *testing.T) {
	calls := 0
	api := &fakeAPI{
		exchangeRateInfo: func(context.Context, moutai.WapSession) (int, error) {
			calls++
			return 5, nil
		},
	}
	eng, _, _, clk := newTestEngine(api, &fakeCatalog{}, &fakeStore{})

	// 21:00 in the upstream zone.
	clk.Set(time.Date(2024, 3, 15, 13, 0, 0, 0, time.UTC))
	err := eng.TravelReward(context.Background(), subscribedAccount("13800000000"))
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
	assert.Equal(t, 0, calls, "no upstream call outside the window")
}

func TestTravelRewardStopsWithoutChances(t *testing.T) {
	started := 0
	api := &fakeAPI{
		exchangeRateInfo: func(context.Context, moutai.WapSession) (int, error) { return 5, nil },
		isolationPage: func(context.Context, moutai.WapSession) (moutai.IsolationPage, error) {
			return moutai.IsolationPage{Energy: 500, TravelStatus: moutai.TravelNotStarted, RemainChance: 0}, nil
		},
		startTravel: func(context.Context, moutai.WapSession) (string, error) {
			started++
			return "{}", nil
		},
	}
	eng, _, _, _ := newTestEngine(api, &fakeCatalog{}, &fakeStore{})

	err := eng.TravelReward(context.Background(), subscribedAccount("13800000000"))
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
	assert.Equal(t, 0, started)
}

func TestTravelRewardStopsWithoutEnergy(t *testing.T) {
	started := 0
	api := &fakeAPI{
		exchangeRateInfo: func(context.Context, moutai.WapSession) (int, error) { return 5, nil },
		isolationPage: func(context.Context, moutai.WapSession) (moutai.IsolationPage, error) {
			return moutai.IsolationPage{Energy: 50, TravelStatus: moutai.TravelNotStarted, RemainChance: 2}, nil
		},
		startTravel: func(context.Context, moutai.WapSession) (string, error) {
			started++
			return "{}", nil
		},
	}
	eng, _, _, _ := newTestEngine(api, &fakeCatalog{}, &fakeStore{})

	err := eng.TravelReward(context.Background(), subscribedAccount("13800000000"))
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
	assert.Equal(t, 0, started)
}

func TestTravelRewardStartsRunWhenReady(t *testing.T) {
	energyClaims := 0
	// 80 on the balance plus a 30 pending award crosses the 100 cost only
	// after the award is claimed.
	api := &fakeAPI{
		exchangeRateInfo: func(context.Context, moutai.WapSession) (int, error) { return 5, nil },
		isolationPage: func(context.Context, moutai.WapSession) (moutai.IsolationPage, error) {
			return moutai.IsolationPage{
				Energy: 80, TravelStatus: moutai.TravelNotStarted,
				RemainChance: 2, EnergyRewardValue: 30,
			}, nil
		},
		energyAward: func(context.Context, moutai.WapSession) (string, error) {
			energyClaims++
			return "{}", nil
		},
		startTravel: func(context.Context, moutai.WapSession) (string, error) {
			return `{"code":2000}`, nil
		},
	}
	eng, book, _, _ := newTestEngine(api, &fakeCatalog{}, &fakeStore{})

	require.NoError(t, eng.TravelReward(context.Background(), subscribedAccount("13800000000")))
	assert.Equal(t, 1, energyClaims, "pending energy reward claimed first")
	assert.Contains(t, book.joined(), "travel started")
}

func TestTravelRewardClaimsCompletedRun(t *testing.T) {
	received := 0
	started := 0
	api := &fakeAPI{
		exchangeRateInfo: func(context.Context, moutai.WapSession) (int, error) { return 5, nil },
		isolationPage: func(context.Context, moutai.WapSession) (moutai.IsolationPage, error) {
			return moutai.IsolationPage{Energy: 10, TravelStatus: moutai.TravelCompleted, RemainChance: 0}, nil
		},
		travelReward: func(context.Context, moutai.WapSession) (float64, error) { return 3.5, nil },
		receiveReward: func(context.Context, moutai.WapSession) error {
			received++
			return nil
		},
		startTravel: func(context.Context, moutai.WapSession) (string, error) {
			started++
			return "{}", nil
		},
	}
	eng, book, _, _ := newTestEngine(api, &fakeCatalog{}, &fakeStore{})

	require.NoError(t, eng.TravelReward(context.Background(), subscribedAccount("13800000000")))
	assert.Equal(t, 1, received)
	assert.Equal(t, 0, started, "no chances left, no new run")
	assert.Contains(t, book.joined(), "travel reward received: 3.50")
}

func TestTravelRewardCompletedRunRollsIntoNextRun(t *testing.T) {
	received := 0
	started := 0
	api := &fakeAPI{
		exchangeRateInfo: func(context.Context, moutai.WapSession) (int, error) { return 5, nil },
		isolationPage: func(context.Context, moutai.WapSession) (moutai.IsolationPage, error) {
			return moutai.IsolationPage{Energy: 10, TravelStatus: moutai.TravelCompleted, RemainChance: 2}, nil
		},
		travelReward: func(context.Context, moutai.WapSession) (float64, error) { return 3.5, nil },
		receiveReward: func(context.Context, moutai.WapSession) error {
			received++
			return nil
		},
		startTravel: func(context.Context, moutai.WapSession) (string, error) {
			started++
			return `{"code":2000}`, nil
		},
	}
	eng, book, _, _ := newTestEngine(api, &fakeCatalog{}, &fakeStore{})

	require.NoError(t, eng.TravelReward(context.Background(), subscribedAccount("13800000000")))
	assert.Equal(t, 1, received)
	assert.Equal(t, 1, started, "remaining chance starts the next run")
	log := book.joined()
	assert.Contains(t, log, "travel reward received: 3.50")
	assert.Contains(t, log, "travel started")
}

func TestTravelRewardOverAllowanceIsNotClaimed(t *testing.T) {
	received := 0
	api := &fakeAPI{
		exchangeRateInfo: func(context.Context, moutai.WapSession) (int, error) { return 2, nil },
		isolationPage: func(context.Context, moutai.WapSession) (moutai.IsolationPage, error) {
			return moutai.IsolationPage{Energy: 10, TravelStatus: moutai.TravelCompleted, RemainChance: 1}, nil
		},
		travelReward: func(context.Context, moutai.WapSession) (float64, error) { return 9.99, nil },
		receiveReward: func(context.Context, moutai.WapSession) error {
			received++
			return nil
		},
	}
	eng, _, _, _ := newTestEngine(api, &fakeCatalog{}, &fakeStore{})

	err := eng.TravelReward(context.Background(), subscribedAccount("13800000000"))
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
	assert.Contains(t, err.Error(), "exceeds monthly allowance")
	assert.Equal(t, 0, received)
}

func TestTravelRewardWaitsForRunInProgress(t *testing.T) {
	api := &fakeAPI{
		exchangeRateInfo: func(context.Context, moutai.WapSession) (int, error) { return 5, nil },
		isolationPage: func(ctx context.Context, wap moutai.WapSession) (moutai.IsolationPage, error) {
			return moutai.IsolationPage{
				TravelStatus:  moutai.TravelInProgress,
				TravelEndTime: time.Date(2024, 3, 15, 6, 0, 0, 0, time.UTC).Unix(),
			}, nil
		},
	}
	eng, _, _, _ := newTestEngine(api, &fakeCatalog{}, &fakeStore{})

	err := eng.TravelReward(context.Background(), subscribedAccount("13800000000"))
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
	assert.Contains(t, err.Error(), "in progress until")
}

func TestTravelRewardInProgressPastEndTimeStillWaits(t *testing.T) {
	queried := 0
	received := 0
	api := &fakeAPI{
		exchangeRateInfo: func(context.Context, moutai.WapSession) (int, error) { return 5, nil },
		isolationPage: func(ctx context.Context, wap moutai.WapSession) (moutai.IsolationPage, error) {
			// The run ended an hour ago but the page has not flipped to
			// completed yet.
			return moutai.IsolationPage{
				TravelStatus:  moutai.TravelInProgress,
				TravelEndTime: time.Date(2024, 3, 15, 1, 0, 0, 0, time.UTC).Unix(),
			}, nil
		},
		travelReward: func(context.Context, moutai.WapSession) (float64, error) {
			queried++
			return 3.5, nil
		},
		receiveReward: func(context.Context, moutai.WapSession) error {
			received++
			return nil
		},
	}
	eng, _, _, _ := newTestEngine(api, &fakeCatalog{}, &fakeStore{})

	err := eng.TravelReward(context.Background(), subscribedAccount("13800000000"))
	require.Error(t, err)
	assert.True(t, errs.IsPrecondition(err))
	assert.Equal(t, 0, queried)
	assert.Equal(t, 0, received)
}

func TestAppointmentResultsSkipsAccountWithoutDevice(t *testing.T) {
	now := daytime().Now()
	var queried []string
	api := &fakeAPI{
		queryReservations: func(_ context.Context, dev moutai.Device, _ string) ([]moutai.ReservationRecord, error) {
			queried = append(queried, dev.DeviceID)
			return []moutai.ReservationRecord{
				{ItemName: "won", Status: moutai.ReservationStatusSuccess, ReservationTime: now.UnixMilli()},
			}, nil
		},
	}
	cat := &fakeCatalog{
		device: func(_ context.Context, deviceID string) (moutai.Device, error) {
			if deviceID == "dev-13800000001" {
				return moutai.Device{}, errs.New("version cache empty")
			}
			return moutai.Device{Version: "1.5.9", DeviceID: deviceID}, nil
		},
	}
	store := &fakeStore{byMobile: map[string]accounts.Account{
		"13800000001": subscribedAccount("13800000001"),
		"13800000002": subscribedAccount("13800000002"),
	}}
	eng, book, _, _ := newTestEngine(api, cat, store)

	require.NoError(t, eng.AppointmentResults(context.Background()))
	assert.Equal(t, []string{"dev-13800000002"}, queried)
	assert.Contains(t, book.joined(), "13800000002: reservation won")
}

func TestAppointmentResultsLogsRecentWins(t *testing.T) {
	now := daytime().Now()
	api := &fakeAPI{
		queryReservations: func(context.Context, moutai.Device, string) ([]moutai.ReservationRecord, error) {
			return []moutai.ReservationRecord{
				{ItemName: "won today", Status: moutai.ReservationStatusSuccess, ReservationTime: now.Add(-time.Hour).UnixMilli()},
				{ItemName: "won last week", Status: moutai.ReservationStatusSuccess, ReservationTime: now.Add(-7 * 24 * time.Hour).UnixMilli()},
				{ItemName: "lost today", Status: 1, ReservationTime: now.UnixMilli()},
			}, nil
		},
	}
	store := &fakeStore{byMobile: map[string]accounts.Account{
		"13800000000": subscribedAccount("13800000000"),
	}}
	eng, book, _, _ := newTestEngine(api, &fakeCatalog{}, store)

	require.NoError(t, eng.AppointmentResults(context.Background()))
	log := book.joined()
	assert.Contains(t, log, "reservation won: won today")
	assert.NotContains(t, log, "won last week")
	assert.NotContains(t, log, "lost today")
}
