package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/config"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/dbhelper"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/mailer"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/models"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/payments"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/utils"
)

const (
	testPassword      = "Sup3r!SecurePass#7890"
	testWebhookSecret = "whsec_routes_test"
)

type sentOTP struct {
	to      string
	code    string
	purpose mailer.Purpose
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentOTP
}

func (m *fakeMailer) SendOTP(_ context.Context, to, _, code string, purpose mailer.Purpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentOTP{to: to, code: code, purpose: purpose})
	return nil
}

func (m *fakeMailer) last(t *testing.T) sentOTP {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatal("no otp email sent")
	}
	return m.sent[len(m.sent)-1]
}

type testEnv struct {
	router *mux.Router
	store  *dbhelper.Store
	mail   *fakeMailer
	cfg    *config.AppConfig
}

func testConfig() *config.AppConfig {
	return &config.AppConfig{
		App: config.AppSettings{Name: "test", Env: "test"},
		Auth: config.AuthSettings{
			SessionSecret:           "test-session-secret",
			TokenTTL:                time.Hour,
			OTPTTL:                  5 * time.Minute,
			OTPMaxAttempts:          3,
			RegistrationMaxAttempts: 3,
			CookieName:              "admin",
			AdminPolicy:             config.LockoutPolicy{MaxAttempts: 3, LockDuration: time.Hour},
			UserPolicy:              config.LockoutPolicy{MaxAttempts: 4, LockDuration: 30 * time.Minute},
		},
		Payments: config.PaymentSettings{
			WebhookSecret:      testWebhookSecret,
			SignatureTolerance: 5 * time.Minute,
			MaxBodyBytes:       65536,
		},
	}
}

func newTestEnv(t *testing.T, mutate ...func(*config.AppConfig)) *testEnv {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}

	db, err := dbhelper.OpenDB(config.DatabaseSettings{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "routes.db")})
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	if err := dbhelper.InitDB(db); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	store := dbhelper.New(db)

	log := zaptest.NewLogger(t)
	metrics, err := payments.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	mail := &fakeMailer{}
	server := NewServer(Deps{
		Config:     cfg,
		Store:      store,
		Signer:     utils.NewTokenSigner(cfg.Auth.SessionSecret, cfg.App.Name, cfg.Auth.TokenTTL),
		Mailer:     mail,
		Verifier:   payments.NewVerifier(cfg.Payments),
		Reconciler: payments.NewReconciler(store, log, metrics),
		Logger:     log,
	})
	server.dispatch = func(f func()) { f() }

	r := mux.NewRouter()
	CreateRoutes(r, server)
	return &testEnv{router: r, store: store, mail: mail, cfg: cfg}
}

var (
	hashOnce   sync.Once
	cachedHash string
)

func (e *testEnv) seedUser(t *testing.T, email, role string) *models.User {
	t.Helper()
	hashOnce.Do(func() {
		h, err := utils.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		cachedHash = h
	})
	user := &models.User{Name: "Seeded", Email: email, PasswordHash: cachedHash, Role: role, Verified: true}
	if err := e.store.DB().Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

// seedOrder creates order id for a buyer with one item per (stock, quantity) pair.
func (e *testEnv) seedOrder(t *testing.T, id uint, email string, stockQty ...[2]int) []uint {
	t.Helper()
	buyer := e.seedUser(t, email, models.RoleUser)
	order := models.Order{ID: id, UserID: buyer.ID, AddressID: 1, TotalAmount: decimal.NewFromInt(45), Status: models.OrderPending}
	if err := e.store.DB().Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	var variants []uint
	for _, sq := range stockQty {
		v := models.ProductVariant{ProductID: 1, SKU: "SKU", Stock: sq[0], Price: decimal.NewFromInt(15)}
		if err := e.store.DB().Create(&v).Error; err != nil {
			t.Fatalf("seed variant: %v", err)
		}
		item := models.OrderItem{OrderID: id, ProductVariantID: v.ID, Quantity: sq[1], PriceAtPurchase: v.Price}
		if err := e.store.DB().Create(&item).Error; err != nil {
			t.Fatalf("seed item: %v", err)
		}
		cart := models.Cart{UserID: buyer.ID, ProductVariantID: v.ID, Quantity: sq[1]}
		if err := e.store.DB().Create(&cart).Error; err != nil {
			t.Fatalf("seed cart: %v", err)
		}
		variants = append(variants, v.ID)
	}
	return variants
}

func (e *testEnv) stockOf(t *testing.T, variantID uint) int {
	t.Helper()
	var v models.ProductVariant
	if err := e.store.DB().First(&v, variantID).Error; err != nil {
		t.Fatalf("load variant: %v", err)
	}
	return v.Stock
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "routes-test")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return v
}

func expectStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Fatalf("status = %d, want %d, body %s", rr.Code, want, rr.Body.String())
	}
}

func sessionCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rr.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// loginAdmin runs the full two-step admin login and returns the session response.
func (e *testEnv) loginAdmin(t *testing.T, email string) (SessionResponse, *httptest.ResponseRecorder) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/admin/login", LoginAttempt{Email: email, Password: testPassword}, nil)
	expectStatus(t, rr, http.StatusOK)
	code := e.mail.last(t).code
	rr = e.do(t, http.MethodPost, "/api/admin/verify-otp", OTPAttempt{Email: email, OTP: code}, nil)
	expectStatus(t, rr, http.StatusOK)
	return decode[SessionResponse](t, rr), rr
}

func httpRequestWithCookie(method, path string, cookie *http.Cookie) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func serve(e *testEnv, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}
