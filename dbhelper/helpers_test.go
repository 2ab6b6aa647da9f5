package dbhelper

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/config"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/models"
	"github.com/JohinSpiderWorks/spiderworks-kerala-backend-sub000/utils"
)

const testPassword = "Sup3r!SecurePass#7890"

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	db, err := OpenDB(config.DatabaseSettings{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "test.db"),
	})
	if err != nil {
		t.Fatalf("OpenDB: %v", err)
	}
	if err := InitDB(db); err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	clock := newFakeClock()
	return New(db).WithClock(clock.Now), clock
}

var (
	hashOnce   sync.Once
	cachedHash string
)

func passwordHash(t *testing.T) string {
	t.Helper()
	hashOnce.Do(func() {
		h, err := utils.HashPassword(testPassword)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		cachedHash = h
	})
	return cachedHash
}

func seedUser(t *testing.T, s *Store, email, role string) *models.User {
	t.Helper()
	user := &models.User{
		Name:         "Test " + role,
		Email:        email,
		PasswordHash: passwordHash(t),
		Role:         role,
		Verified:     true,
	}
	if err := s.DB().Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func reloadUser(t *testing.T, s *Store, id uint) models.User {
	t.Helper()
	var user models.User
	if err := s.DB().First(&user, id).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	return user
}

func loginAttempts(t *testing.T, s *Store) []models.LoginAttempt {
	t.Helper()
	var attempts []models.LoginAttempt
	if err := s.DB().Order("id").Find(&attempts).Error; err != nil {
		t.Fatalf("load login attempts: %v", err)
	}
	return attempts
}

type orderFixture struct {
	user     *models.User
	order    models.Order
	variants []models.ProductVariant
}

// seedOrder creates an order owned by a fresh user with one item per (stock, quantity) pair
// and one cart row per item.
func seedOrder(t *testing.T, s *Store, orderID uint, stockQty ...[2]int) orderFixture {
	t.Helper()
	user := seedUser(t, s, "buyer@example.com", models.RoleUser)
	order := models.Order{
		ID:          orderID,
		UserID:      user.ID,
		AddressID:   1,
		TotalAmount: decimal.RequireFromString("45.00"),
		Status:      models.OrderPending,
	}
	if err := s.DB().Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	var variants []models.ProductVariant
	for i, sq := range stockQty {
		v := models.ProductVariant{ProductID: 1, SKU: "SKU", Stock: sq[0], Price: decimal.NewFromInt(15)}
		if err := s.DB().Create(&v).Error; err != nil {
			t.Fatalf("seed variant %d: %v", i, err)
		}
		item := models.OrderItem{OrderID: order.ID, ProductVariantID: v.ID, Quantity: sq[1], PriceAtPurchase: v.Price}
		if err := s.DB().Create(&item).Error; err != nil {
			t.Fatalf("seed item %d: %v", i, err)
		}
		cart := models.Cart{UserID: user.ID, ProductVariantID: v.ID, Quantity: sq[1]}
		if err := s.DB().Create(&cart).Error; err != nil {
			t.Fatalf("seed cart %d: %v", i, err)
		}
		variants = append(variants, v)
	}
	return orderFixture{user: user, order: order, variants: variants}
}

func stockOf(t *testing.T, s *Store, variantID uint) int {
	t.Helper()
	var v models.ProductVariant
	if err := s.DB().First(&v, variantID).Error; err != nil {
		t.Fatalf("load variant: %v", err)
	}
	return v.Stock
}

func countRows(t *testing.T, s *Store, model interface{}, query string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := s.DB().Model(model)
	if query != "" {
		q = q.Where(query, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func withinSecond(a, b time.Time) bool {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return d < time.Second
}
