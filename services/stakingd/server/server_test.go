package server

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"

	"stakepool/core/events"
	"stakepool/gateway/middleware"
	"stakepool/native/bank"
	"stakepool/native/staking"
	"stakepool/services/stakingd/storage"
	poolstorage "stakepool/storage"
)

const testSecret = "stakingd-test-secret"

var (
	controller = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	alice      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob        = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

type testEnv struct {
	t        *testing.T
	engine   *staking.Engine
	ledger   *bank.Ledger
	journal  *storage.Journal
	recorder *JournalRecorder
	hub      *Hub
	srv      *httptest.Server
	clock    atomic.Int64
}

func newTestEnv(t *testing.T, rate int64) *testEnv {
	t.Helper()
	return newTestEnvWithConfig(t, rate, Config{})
}

func newTestEnvWithConfig(t *testing.T, rate int64, cfg Config) *testEnv {
	t.Helper()
	env := &testEnv{t: t}
	env.clock.Store(1_700_000_000)

	ledger := bank.NewLedger(poolstorage.NewMemDB(), staking.DefaultStakeAsset, staking.DefaultRewardAsset)
	stakeToken, err := ledger.Token(staking.DefaultStakeAsset)
	require.NoError(t, err)
	rewardToken, err := ledger.Token(staking.DefaultRewardAsset)
	require.NoError(t, err)

	params := staking.DefaultParams()
	params.Controller = controller
	engine := staking.NewEngine(params, poolstorage.NewPoolStore(poolstorage.NewMemDB()), stakeToken, rewardToken)
	engine.SetClock(func() time.Time { return time.Unix(env.clock.Load(), 0) })
	require.NoError(t, engine.Bootstrap(big.NewInt(rate)))
	require.NoError(t, ledger.Mint(staking.DefaultRewardAsset, params.PoolAddress, big.NewInt(1_000_000)))

	dsn, err := storage.FileDSN(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	journal, err := storage.Open(dsn)
	require.NoError(t, err)

	hub := NewHub(nil)
	recorder := NewJournalRecorder(journal, hub, nil, nil)
	engine.SetEmitter(recorder)

	auth := middleware.NewAuthenticator(middleware.AuthConfig{
		Enabled:    true,
		HMACSecret: testSecret,
		Issuer:     "stakepool",
	}, nil)
	server, err := New(cfg, Deps{
		Engine:  engine,
		Ledger:  ledger,
		Journal: journal,
		Hub:     hub,
		Auth:    auth,
	})
	require.NoError(t, err)

	env.engine = engine
	env.ledger = ledger
	env.journal = journal
	env.recorder = recorder
	env.hub = hub
	env.srv = httptest.NewServer(server.Router())
	t.Cleanup(func() {
		env.srv.Close()
		hub.Close()
		recorder.Close()
		_ = journal.Close()
	})
	return env
}

func (e *testEnv) advance(d time.Duration) { e.clock.Add(int64(d / time.Second)) }

func (e *testEnv) token(addr common.Address) string {
	e.t.Helper()
	token, err := middleware.IssueToken(testSecret, "stakepool", "", addr, nil, time.Hour)
	require.NoError(e.t, err)
	return token
}

func (e *testEnv) mint(asset string, addr common.Address, amount int64) {
	e.t.Helper()
	require.NoError(e.t, e.ledger.Mint(asset, addr, big.NewInt(amount)))
}

func (e *testEnv) do(method, path string, caller *common.Address, body any) (int, map[string]any) {
	e.t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(e.t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	require.NoError(e.t, err)
	req.Header.Set("Content-Type", "application/json")
	if caller != nil {
		req.Header.Set("Authorization", "Bearer "+e.token(*caller))
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(e.t, err)
	defer resp.Body.Close()
	payload := map[string]any{}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		require.NoError(e.t, json.NewDecoder(resp.Body).Decode(&payload))
	}
	return resp.StatusCode, payload
}

func (e *testEnv) approveAndStake(addr common.Address, amount string) {
	e.t.Helper()
	status, body := e.do(http.MethodPost, "/v1/approve", &addr, map[string]string{"asset": "stk", "amount": amount})
	require.Equal(e.t, http.StatusOK, status, body)
	status, body = e.do(http.MethodPost, "/v1/stake", &addr, map[string]string{"amount": amount})
	require.Equal(e.t, http.StatusOK, status, body)
}

func (e *testEnv) waitForEvents(n int) []storage.Record {
	e.t.Helper()
	var records []storage.Record
	require.Eventually(e.t, func() bool {
		var err error
		records, err = e.journal.List(context.Background(), 0, 100)
		return err == nil && len(records) >= n
	}, 2*time.Second, 10*time.Millisecond)
	return records
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 1)
	status, body := env.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "ok", body["status"])
}

func TestSingleStakerLifecycle(t *testing.T) {
	env := newTestEnv(t, 1)
	env.mint(staking.DefaultStakeAsset, alice, 100)
	env.approveAndStake(alice, "100")

	env.advance(10 * time.Second)
	status, body := env.do(http.MethodGet, "/v1/accounts/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "100", body["stake"])
	require.Equal(t, "10", body["earned"])
	require.Equal(t, true, body["locked"])

	status, body = env.do(http.MethodPost, "/v1/withdraw", &alice, map[string]string{"amount": "100"})
	require.Equal(t, http.StatusLocked, status, body)

	status, body = env.do(http.MethodPost, "/v1/claim", &alice, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "10", body["paid"])
	status, body = env.do(http.MethodPost, "/v1/claim", &alice, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "0", body["paid"])

	env.advance(staking.DefaultLockDuration)
	status, body = env.do(http.MethodPost, "/v1/withdraw", &alice, map[string]string{"amount": "100"})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "0", body["stake"])

	status, body = env.do(http.MethodGet, "/v1/balances/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, status)
	balances := body["balances"].(map[string]any)
	require.Equal(t, "100", balances["STK"].(map[string]any)["balance"])
	rewardBalance, ok := new(big.Int).SetString(balances["RWD"].(map[string]any)["balance"].(string), 10)
	require.True(t, ok)
	// Withdraw settles the lock-period accrual without paying it out.
	require.Equal(t, "10", rewardBalance.String())
}

func TestTwoStakersSplitRewards(t *testing.T) {
	env := newTestEnv(t, 2)
	env.mint(staking.DefaultStakeAsset, alice, 100)
	env.mint(staking.DefaultStakeAsset, bob, 100)
	env.approveAndStake(alice, "100")
	env.approveAndStake(bob, "100")
	env.advance(10 * time.Second)

	for _, addr := range []common.Address{alice, bob} {
		status, body := env.do(http.MethodGet, "/v1/accounts/"+addr.Hex(), nil, nil)
		require.Equal(t, http.StatusOK, status)
		require.Equal(t, "10", body["earned"])
	}
	status, body := env.do(http.MethodGet, "/v1/pool", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "200", body["total_staked"])
	require.Equal(t, "2", body["reward_rate"])
	require.Equal(t, false, body["paused"])
}

func TestErrorMapping(t *testing.T) {
	env := newTestEnv(t, 1)
	env.mint(staking.DefaultStakeAsset, alice, 50)
	env.mint(staking.DefaultStakeAsset, bob, 50)
	env.approveAndStake(alice, "50")

	cases := []struct {
		name   string
		method string
		path   string
		caller *common.Address
		body   any
		status int
	}{
		{"missing_token", http.MethodPost, "/v1/stake", nil, map[string]string{"amount": "1"}, http.StatusUnauthorized},
		{"zero_amount", http.MethodPost, "/v1/stake", &alice, map[string]string{"amount": "0"}, http.StatusBadRequest},
		{"negative_amount", http.MethodPost, "/v1/withdraw", &alice, map[string]string{"amount": "-5"}, http.StatusBadRequest},
		{"malformed_amount", http.MethodPost, "/v1/stake", &alice, map[string]string{"amount": "1e3"}, http.StatusBadRequest},
		{"unknown_field", http.MethodPost, "/v1/stake", &alice, map[string]string{"value": "1"}, http.StatusBadRequest},
		{"withdraw_too_much", http.MethodPost, "/v1/withdraw", &alice, map[string]string{"amount": "51"}, http.StatusConflict},
		{"no_allowance", http.MethodPost, "/v1/stake", &bob, map[string]string{"amount": "10"}, http.StatusPaymentRequired},
		{"rate_not_controller", http.MethodPut, "/v1/admin/rate", &alice, map[string]string{"rate": "5"}, http.StatusForbidden},
		{"pause_not_controller", http.MethodPut, "/v1/admin/pause", &alice, map[string]bool{"paused": true}, http.StatusForbidden},
		{"pause_missing_flag", http.MethodPut, "/v1/admin/pause", &controller, map[string]string{}, http.StatusBadRequest},
		{"unknown_asset", http.MethodPost, "/v1/approve", &alice, map[string]string{"asset": "XYZ", "amount": "1"}, http.StatusBadRequest},
		{"bad_address", http.MethodGet, "/v1/accounts/nope", nil, nil, http.StatusBadRequest},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			status, body := env.do(tc.method, tc.path, tc.caller, tc.body)
			require.Equal(t, tc.status, status, body)
		})
	}

	status, body := env.do(http.MethodGet, "/v1/accounts/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "50", body["stake"])
}

func TestControllerAdminRoutes(t *testing.T) {
	env := newTestEnv(t, 1)
	env.mint(staking.DefaultStakeAsset, alice, 100)

	status, body := env.do(http.MethodPut, "/v1/admin/rate", &controller, map[string]string{"rate": "3"})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "3", body["reward_rate"])

	status, _ = env.do(http.MethodPut, "/v1/admin/pause", &controller, map[string]bool{"paused": true})
	require.Equal(t, http.StatusOK, status)
	status, _ = env.do(http.MethodPost, "/v1/approve", &alice, map[string]string{"asset": "STK", "amount": "100"})
	require.Equal(t, http.StatusOK, status)
	status, body = env.do(http.MethodPost, "/v1/stake", &alice, map[string]string{"amount": "100"})
	require.Equal(t, http.StatusServiceUnavailable, status, body)

	status, _ = env.do(http.MethodPut, "/v1/admin/pause", &controller, map[string]bool{"paused": false})
	require.Equal(t, http.StatusOK, status)
	status, body = env.do(http.MethodPost, "/v1/stake", &alice, map[string]string{"amount": "100"})
	require.Equal(t, http.StatusOK, status, body)
}

func TestFundIncreasesReserve(t *testing.T) {
	env := newTestEnv(t, 1)
	env.mint(staking.DefaultRewardAsset, controller, 500)
	status, _ := env.do(http.MethodPost, "/v1/approve", &controller, map[string]string{"asset": "RWD", "amount": "500"})
	require.Equal(t, http.StatusOK, status)
	status, body := env.do(http.MethodPost, "/v1/fund", &controller, map[string]string{"amount": "500"})
	require.Equal(t, http.StatusOK, status, body)
	require.Equal(t, "1000500", body["reserve"])
}

func TestAPYEndpoint(t *testing.T) {
	env := newTestEnv(t, 1)
	status, body := env.do(http.MethodGet, "/v1/apy", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, false, body["defined"])
	require.Equal(t, "0", body["apy_bps"])

	env.mint(staking.DefaultStakeAsset, alice, 100)
	env.approveAndStake(alice, "100")
	status, body = env.do(http.MethodGet, "/v1/apy", nil, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, true, body["defined"])
	require.Equal(t, "3153600000", body["apy_bps"])
	require.Equal(t, "31536000.00", body["apy_percent"])
}

func TestEventsAndExport(t *testing.T) {
	env := newTestEnv(t, 1)
	env.mint(staking.DefaultStakeAsset, alice, 100)
	env.approveAndStake(alice, "100")
	env.advance(5 * time.Second)
	status, _ := env.do(http.MethodPost, "/v1/claim", &alice, nil)
	require.Equal(t, http.StatusOK, status)
	env.waitForEvents(2)

	status, body := env.do(http.MethodGet, "/v1/events?after=0&limit=1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	page := body["events"].([]any)
	require.Len(t, page, 1)
	require.Equal(t, events.TypePoolStaked, page[0].(map[string]any)["type"])
	require.EqualValues(t, 1, body["next"])

	status, body = env.do(http.MethodGet, "/v1/events?after=1", nil, nil)
	require.Equal(t, http.StatusOK, status)
	page = body["events"].([]any)
	require.Len(t, page, 1)
	require.Equal(t, events.TypePoolRewardPaid, page[0].(map[string]any)["type"])

	resp, err := env.srv.Client().Get(env.srv.URL + "/v1/events/export?format=csv")
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	sum := sha256.Sum256(data)
	require.Equal(t, hex.EncodeToString(sum[:]), resp.Header.Get("X-Checksum-SHA256"))
	require.Contains(t, string(data), events.TypePoolStaked)

	resp, err = env.srv.Client().Get(env.srv.URL + "/v1/events/export?format=parquet")
	require.NoError(t, err)
	data, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, bytes.HasPrefix(data, []byte("PAR1")))

	status, _ = env.do(http.MethodGet, "/v1/events/export?format=xml", nil, nil)
	require.Equal(t, http.StatusBadRequest, status)
	status, _ = env.do(http.MethodGet, "/v1/events?limit=-1", nil, nil)
	require.Equal(t, http.StatusBadRequest, status)
}

func TestEventStreamReplaysAndFollows(t *testing.T) {
	env := newTestEnv(t, 1)
	env.mint(staking.DefaultStakeAsset, alice, 200)
	env.approveAndStake(alice, "100")
	env.waitForEvents(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/events/ws?after=0"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() storage.Record {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var record storage.Record
		require.NoError(t, json.Unmarshal(data, &record))
		return record
	}
	first := read()
	require.Equal(t, events.TypePoolStaked, first.Type)
	require.Equal(t, "100", first.Attributes["amount"])

	env.approveAndStake(alice, "100")
	second := read()
	require.Equal(t, events.TypePoolStaked, second.Type)
	require.Greater(t, second.Seq, first.Seq)
	require.Equal(t, "200", second.Attributes["newStake"])
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	drops := &dropCounter{}
	hub := NewHub(drops)
	updates, cancel := hub.Subscribe()
	defer cancel()
	for i := 0; i < subscriberCapacity+3; i++ {
		hub.Publish(storage.Record{Seq: int64(i + 1)})
	}
	require.EqualValues(t, 3, drops.n.Load())
	require.Len(t, updates, subscriberCapacity)

	hub.Close()
	_, stillOpen := <-updates
	require.True(t, stillOpen, "buffered records remain readable after close")
	late, _ := hub.Subscribe()
	_, ok := <-late
	require.False(t, ok)
}

func TestRecorderDropsAfterClose(t *testing.T) {
	env := newTestEnv(t, 1)
	counter := &eventCounterStub{}
	recorder := NewJournalRecorder(env.journal, nil, counter, nil)
	recorder.Emit(events.PoolPauseToggled{Controller: controller, Paused: true, Timestamp: 1})
	recorder.Close()
	recorder.Emit(events.PoolPauseToggled{Controller: controller, Paused: false, Timestamp: 2})

	records, err := env.journal.List(context.Background(), 0, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "true", records[0].Attributes["paused"])
	require.EqualValues(t, 2, counter.events.Load())
	require.EqualValues(t, 1, counter.drops.Load())
}

func TestMonitorPublishesSolvency(t *testing.T) {
	env := newTestEnv(t, 1)
	env.mint(staking.DefaultStakeAsset, alice, 100)
	env.approveAndStake(alice, "100")
	env.advance(30 * time.Second)

	audit := &auditStub{}
	monitor := NewMonitor(env.engine, time.Hour, audit, nil)
	require.NoError(t, monitor.Check(context.Background()))
	require.Equal(t, 1, audit.checks)
	require.NoError(t, audit.err)
	require.Equal(t, "1000000", audit.reserve.String())
}

func TestMonitorRunStopsWithContext(t *testing.T) {
	env := newTestEnv(t, 1)
	audit := &auditStub{}
	monitor := NewMonitor(env.engine, time.Hour, audit, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, monitor.Run(ctx), context.Canceled)
	require.Equal(t, 1, audit.checks)

	var unset *Monitor
	require.Error(t, unset.Run(context.Background()))
}

func TestServerErrorsHideInternals(t *testing.T) {
	env := newTestEnv(t, 1)
	require.NoError(t, env.journal.Close())

	status, body := env.do(http.MethodGet, "/v1/events", nil, nil)
	require.Equal(t, http.StatusInternalServerError, status)
	require.Equal(t, http.StatusText(http.StatusInternalServerError), body["error"])
}

func TestExportIsBoundedAndPaged(t *testing.T) {
	env := newTestEnvWithConfig(t, 1, Config{ExportLimit: 2})
	env.mint(staking.DefaultStakeAsset, alice, 300)
	for i := 0; i < 3; i++ {
		env.approveAndStake(alice, "100")
	}
	env.waitForEvents(3)

	export := func(query string) (*http.Response, []byte) {
		resp, err := env.srv.Client().Get(env.srv.URL + "/v1/events/export?" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp, data
	}

	resp, data := export("format=jsonl")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, bytes.Count(data, []byte("\n")))
	require.Equal(t, "2", resp.Header.Get("X-Export-Next"))

	resp, data = export("format=jsonl&after=2&limit=50")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, bytes.Count(data, []byte("\n")))
	require.Empty(t, resp.Header.Get("X-Export-Next"))

	resp, _ = export("format=csv&limit=0")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = export("format=csv&after=-3")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEventStreamRejectsForeignOrigins(t *testing.T) {
	dial := func(env *testEnv, origin string) (*websocket.Conn, *http.Response, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		wsURL := "ws" + strings.TrimPrefix(env.srv.URL, "http") + "/v1/events/ws"
		return websocket.Dial(ctx, wsURL, &websocket.DialOptions{
			HTTPHeader: http.Header{"Origin": []string{origin}},
		})
	}

	env := newTestEnv(t, 1)
	_, resp, err := dial(env, "https://elsewhere.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	allowed := newTestEnvWithConfig(t, 1, Config{CORSOrigins: []string{"https://app.example"}})
	conn, _, err := dial(allowed, "https://app.example")
	require.NoError(t, err)
	conn.Close(websocket.StatusNormalClosure, "")
}

type dropCounter struct{ n atomic.Int32 }

func (d *dropCounter) RecordDrop(string) { d.n.Add(1) }

type eventCounterStub struct {
	events atomic.Int32
	drops  atomic.Int32
}

func (c *eventCounterStub) RecordEvent(string) { c.events.Add(1) }
func (c *eventCounterStub) RecordDrop(string)  { c.drops.Add(1) }

type auditStub struct {
	checks      int
	err         error
	reserve     *big.Int
	outstanding *big.Int
}

func (a *auditStub) SetSolvency(reserve, outstanding *big.Int) {
	a.reserve, a.outstanding = reserve, outstanding
}

func (a *auditStub) ObserveCheck(_ int, _ *big.Int, err error, _ time.Duration) {
	a.checks++
	a.err = err
}

func TestFaucetMintsStakeAssetInDev(t *testing.T) {
	env := newTestEnvWithConfig(t, 1, Config{FaucetAmount: big.NewInt(100)})

	status, _ := env.do(http.MethodPost, "/v1/faucet", nil, nil)
	require.Equal(t, http.StatusUnauthorized, status)

	status, body := env.do(http.MethodPost, "/v1/faucet", &alice, nil)
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "100", body["amount"])
	require.Equal(t, "STK", body["asset"])

	status, _ = env.do(http.MethodPost, "/v1/faucet", &alice, nil)
	require.Equal(t, http.StatusOK, status)
	token, err := env.ledger.Token(staking.DefaultStakeAsset)
	require.NoError(t, err)
	balance, err := token.BalanceOf(context.Background(), alice)
	require.NoError(t, err)
	require.Equal(t, "200", balance.String())

	env.approveAndStake(alice, "150")
	_, err = env.engine.CheckInvariants()
	require.NoError(t, err)
}

func TestFaucetRouteAbsentByDefault(t *testing.T) {
	env := newTestEnv(t, 1)
	status, _ := env.do(http.MethodPost, "/v1/faucet", &alice, nil)
	require.Equal(t, http.StatusNotFound, status)
}
