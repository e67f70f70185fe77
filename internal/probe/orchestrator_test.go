package probe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/routstr/gateway-monitor/internal/pricing"
	"github.com/routstr/gateway-monitor/internal/provider"
	"github.com/routstr/gateway-monitor/internal/session"
	"github.com/routstr/gateway-monitor/internal/wallet"
)

// fakeProvider is a configurable payment-gateway stand-in.
type fakeProvider struct {
	catalogJSON  string
	catalogCode  int
	chatContent  string
	chatCode     int
	chatChange   string // x-cashu response header
	balance      int64
	balanceCode  int
	promptTokens int64

	chatCalls    atomic.Int64
	refundCalls  atomic.Int64
	lastAuth     atomic.Value // string
	lastModel    atomic.Value // string
}

func defaultCatalog() string {
	return `{"models":[
		{"id":"a","sats_pricing":{"prompt":1,"completion":1,"max_cost":4}},
		{"id":"b","sats_pricing":{"prompt":1,"completion":1,"max_cost":12}},
		{"id":"c","sats_pricing":{"prompt":1,"completion":1,"max_cost":20}}
	]}`
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		catalogJSON:  defaultCatalog(),
		catalogCode:  http.StatusOK,
		chatContent:  "Bitcoin fixes this.",
		chatCode:     http.StatusOK,
		balance:      26980,
		balanceCode:  http.StatusOK,
		promptTokens: 40,
	}
}

func (f *fakeProvider) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(f.catalogCode)
			_, _ = w.Write([]byte(f.catalogJSON))
		case "/v1/chat/completions":
			f.chatCalls.Add(1)
			f.lastAuth.Store(r.Header.Get("Authorization"))
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if m, ok := body["model"].(string); ok {
				f.lastModel.Store(m)
			}
			if f.chatChange != "" {
				w.Header().Set("x-cashu", f.chatChange)
			}
			w.WriteHeader(f.chatCode)
			if f.chatCode == http.StatusOK {
				fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}],`+
					`"usage":{"prompt_tokens":%d,"completion_tokens":10}}`,
					f.chatContent, f.promptTokens)
			}
		case "/v1/wallet/info":
			w.WriteHeader(f.balanceCode)
			if f.balanceCode == http.StatusOK {
				fmt.Fprintf(w, `{"balance":%d}`, f.balance)
			}
		case "/v1/wallet/refund":
			f.refundCalls.Add(1)
			_, _ = w.Write([]byte(`{"refunded":980}`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

// fakeWallet counts issuance calls.
type fakeWallet struct {
	sendCalls    atomic.Int64
	receiveCalls atomic.Int64
	lastReceived atomic.Value // string
}

func (f *fakeWallet) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/send":
			n := f.sendCalls.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"data":    map[string]any{"token": fmt.Sprintf("cashuAissued%d", n)},
			})
		case "/api/receive":
			f.receiveCalls.Add(1)
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			if tok, ok := body["token"].(string); ok {
				f.lastReceived.Store(tok)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "data": map[string]any{}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOrchestrator(t *testing.T, walletURL string, opts ...provider.ClientOption) (*Orchestrator, *session.Store) {
	t.Helper()
	store, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	o := New(
		provider.NewClient(5*time.Second, opts...),
		wallet.NewClient(walletURL),
		store,
		Config{
			Bracket:      pricing.Bracket{Floor: 5, Range: 10},
			SafetyMargin: 15,
			Fallback:     true,
			MaxProviders: 5,
		},
	)
	return o, store
}

func TestProbeProvider_HappyPath(t *testing.T) {
	fp := newFakeProvider()
	fw := &fakeWallet{}
	psrv := fp.serve(t)
	wsrv := fw.serve(t)
	o, store := newOrchestrator(t, wsrv.URL)

	out := o.ProbeProvider(context.Background(), psrv.URL, "say something witty")

	assert.True(t, out.Up)
	assert.Empty(t, out.FailReason)
	// Bracket [5,15) admits only b (max_cost 12).
	assert.Equal(t, "b", out.ModelID)
	assert.Equal(t, "b", fp.lastModel.Load())
	assert.Equal(t, "Bitcoin fixes this.", out.Response)
	assert.Equal(t, 3, out.ModelsTotal)

	// Ceiling ceil(12)+15 = 27 sats -> synthetic prior 27000; observed 26980.
	assert.False(t, out.ReconcileSkipped)
	assert.Equal(t, int64(20), out.ActualSpend)
	// usage.prompt_tokens=40, completion=10, both at 1 sat/token.
	assert.Equal(t, 50.0, out.EstimatedCost)

	sess, found, err := store.Get(context.Background(), psrv.URL)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(1), sess.UsageCount)
	assert.Equal(t, int64(26980), sess.Balance)
	assert.Equal(t, int64(1), fw.sendCalls.Load())
}

func TestProbeProvider_CredentialIsIdempotent(t *testing.T) {
	fp := newFakeProvider()
	fw := &fakeWallet{}
	psrv := fp.serve(t)
	wsrv := fw.serve(t)
	o, _ := newOrchestrator(t, wsrv.URL)

	out1 := o.ProbeProvider(context.Background(), psrv.URL, "p")
	auth1 := fp.lastAuth.Load()
	out2 := o.ProbeProvider(context.Background(), psrv.URL, "p")
	auth2 := fp.lastAuth.Load()

	assert.True(t, out1.Up)
	assert.True(t, out2.Up)
	// One issuance, same credential on both requests.
	assert.Equal(t, int64(1), fw.sendCalls.Load())
	assert.Equal(t, auth1, auth2)
}

func TestProbeProvider_CatalogFailure(t *testing.T) {
	fp := newFakeProvider()
	fp.catalogCode = http.StatusServiceUnavailable
	fw := &fakeWallet{}
	psrv := fp.serve(t)
	wsrv := fw.serve(t)
	o, _ := newOrchestrator(t, wsrv.URL)

	out := o.ProbeProvider(context.Background(), psrv.URL, "p")

	assert.False(t, out.Up)
	assert.Equal(t, "catalog fetch failed", out.FailReason)
	// No payment was attempted.
	assert.Equal(t, int64(0), fw.sendCalls.Load())
	assert.Equal(t, int64(0), fp.chatCalls.Load())
}

func TestProbeProvider_NoUsableModel(t *testing.T) {
	fp := newFakeProvider()
	fp.catalogJSON = `{"models":[{"id":"junk","sats_pricing":{"prompt":"abc"}},{"id":"bare"}]}`
	fw := &fakeWallet{}
	psrv := fp.serve(t)
	wsrv := fw.serve(t)
	o, _ := newOrchestrator(t, wsrv.URL)

	out := o.ProbeProvider(context.Background(), psrv.URL, "p")

	assert.False(t, out.Up)
	assert.Equal(t, "no model in price range", out.FailReason)
	assert.Equal(t, int64(0), fw.sendCalls.Load())
}

func TestProbeProvider_InferenceFailure(t *testing.T) {
	fp := newFakeProvider()
	fp.chatCode = http.StatusPaymentRequired
	fw := &fakeWallet{}
	psrv := fp.serve(t)
	wsrv := fw.serve(t)
	o, store := newOrchestrator(t, wsrv.URL)

	out := o.ProbeProvider(context.Background(), psrv.URL, "p")

	assert.False(t, out.Up)
	assert.Equal(t, "inference request failed", out.FailReason)

	// No reconciliation happened: the session has the token but no usage.
	sess, found, err := store.Get(context.Background(), psrv.URL)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, int64(0), sess.UsageCount)
	assert.False(t, sess.HasBalance)
}

func TestProbeProvider_BalanceUnavailableKeepsUpVerdict(t *testing.T) {
	fp := newFakeProvider()
	fp.balanceCode = http.StatusInternalServerError
	fw := &fakeWallet{}
	psrv := fp.serve(t)
	wsrv := fw.serve(t)
	o, store := newOrchestrator(t, wsrv.URL)

	out := o.ProbeProvider(context.Background(), psrv.URL, "p")

	assert.True(t, out.Up)
	assert.True(t, out.ReconcileSkipped)
	assert.Equal(t, int64(0), out.ActualSpend)

	// Skipped reconciliation mutates nothing.
	sess, _, err := store.Get(context.Background(), psrv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sess.UsageCount)
	assert.False(t, sess.HasBalance)
}

func TestProbeProvider_SweepsDustResidual(t *testing.T) {
	fp := newFakeProvider()
	fp.balance = 5005 // 5005 % 1000 = 5, under the dust threshold
	fw := &fakeWallet{}
	psrv := fp.serve(t)
	wsrv := fw.serve(t)
	o, _ := newOrchestrator(t, wsrv.URL)

	out := o.ProbeProvider(context.Background(), psrv.URL, "p")

	assert.True(t, out.Up)
	assert.True(t, out.SweepDone)
	assert.Equal(t, int64(1), fp.refundCalls.Load())
}

func TestProbeProvider_ChangeHeaderSkipsBalanceReconciliation(t *testing.T) {
	fp := newFakeProvider()
	fp.chatChange = "cashuAchange"
	fw := &fakeWallet{}
	psrv := fp.serve(t)
	wsrv := fw.serve(t)
	o, store := newOrchestrator(t, wsrv.URL, provider.WithHeaderStyle(provider.HeaderXCashu))

	out := o.ProbeProvider(context.Background(), psrv.URL, "p")

	assert.True(t, out.Up)
	assert.True(t, out.ReconcileSkipped)
	// Change was imported back into the wallet.
	assert.Equal(t, int64(1), fw.receiveCalls.Load())
	assert.Equal(t, "cashuAchange", fw.lastReceived.Load())

	sess, _, err := store.Get(context.Background(), psrv.URL)
	require.NoError(t, err)
	assert.Equal(t, int64(0), sess.UsageCount)
}

func TestRunCycle_IndependentProviders(t *testing.T) {
	up := newFakeProvider()
	down := newFakeProvider()
	down.catalogCode = http.StatusBadGateway
	fw := &fakeWallet{}
	upSrv := up.serve(t)
	downSrv := down.serve(t)
	wsrv := fw.serve(t)
	o, _ := newOrchestrator(t, wsrv.URL)

	outs := o.RunCycle(context.Background(),
		[]string{downSrv.URL, upSrv.URL},
		[]string{" topic one ", " topic two "},
		"seed note")

	require.Len(t, outs, 2)
	assert.False(t, outs[0].Up)
	// The first provider's failure does not poison the second.
	assert.True(t, outs[1].Up)
}

func TestRunCycle_HonorsMaxProviders(t *testing.T) {
	fp := newFakeProvider()
	fw := &fakeWallet{}
	psrv := fp.serve(t)
	wsrv := fw.serve(t)

	store, err := session.Open(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	o := New(provider.NewClient(5*time.Second), wallet.NewClient(wsrv.URL), store, Config{
		Bracket:      pricing.Bracket{Floor: 5, Range: 10},
		SafetyMargin: 15,
		Fallback:     true,
		MaxProviders: 1,
	})

	outs := o.RunCycle(context.Background(),
		[]string{psrv.URL, psrv.URL, psrv.URL}, []string{"t"}, "seed")
	assert.Len(t, outs, 1)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("some note", " Bitcoin relates to it. ")
	assert.Contains(t, p, "'some note'")
	assert.Contains(t, p, "' Bitcoin relates to it. '")
	assert.Contains(t, p, "within 2 sentences")
}
