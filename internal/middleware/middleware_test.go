package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/cbuike/wallet-service/internal/apperrors"
	"github.com/cbuike/wallet-service/internal/logging"
)

func newApp(handler fiber.Handler) *fiber.App {
	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logger)})
	app.Use(RequestID())
	app.Use(Audit(logger))
	app.All("/x", handler)
	return app
}

func decode(t *testing.T, app *fiber.App, method string) (int, errorResponse) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest(method, "/x", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var body errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return resp.StatusCode, body
}

func TestErrorHandlerMapsDomainErrors(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperrors.NotFound("wallet", "w1"), fiber.StatusNotFound, "NOT_FOUND"},
		{errors.Join(apperrors.NotFound("sender", "a"), apperrors.NotFound("receiver", "b")), fiber.StatusNotFound, "NOT_FOUND"},
		{apperrors.Duplicate("k"), fiber.StatusConflict, "DUPLICATE_OPERATION"},
		{apperrors.ErrInsufficientFunds, fiber.StatusConflict, "INSUFFICIENT_FUNDS"},
		{apperrors.ErrInvalidAmount, fiber.StatusConflict, "INVALID_AMOUNT"},
		{apperrors.InvalidType("REFUND"), fiber.StatusConflict, "INVALID_TRANSACTION_TYPE"},
		{apperrors.ErrSelfTransfer, fiber.StatusConflict, "SELF_TRANSFER"},
		{apperrors.ErrMissingIdempotencyKey, fiber.StatusBadRequest, "MISSING_IDEMPOTENCY_KEY"},
		{fmt.Errorf("debit: %w", apperrors.ErrInsufficientFunds), fiber.StatusConflict, "INSUFFICIENT_FUNDS"},
	}

	for _, tc := range cases {
		err := tc.err
		app := newApp(func(*fiber.Ctx) error { return err })
		status, body := decode(t, app, fiber.MethodPost)
		if status != tc.status {
			t.Fatalf("%v: expected status %d got %d", tc.err, tc.status, status)
		}
		if body.Code != tc.code {
			t.Fatalf("%v: expected code %s got %s", tc.err, tc.code, body.Code)
		}
		if body.Message != tc.err.Error() {
			t.Fatalf("%v: unexpected message %q", tc.err, body.Message)
		}
	}
}

func TestErrorHandlerHidesInternalErrors(t *testing.T) {
	app := newApp(func(*fiber.Ctx) error { return errors.New("connection refused to 10.0.0.3") })
	status, body := decode(t, app, fiber.MethodGet)
	if status != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", status)
	}
	if strings.Contains(body.Message, "10.0.0.3") {
		t.Fatalf("internal detail leaked: %q", body.Message)
	}
	if body.Code != "" {
		t.Fatalf("expected no code, got %q", body.Code)
	}
}

func TestErrorHandlerKeepsFiberStatus(t *testing.T) {
	app := newApp(func(*fiber.Ctx) error { return fiber.NewError(fiber.StatusBadRequest, "invalid request body") })
	status, body := decode(t, app, fiber.MethodPost)
	if status != fiber.StatusBadRequest || body.Message != "invalid request body" {
		t.Fatalf("unexpected response %d %+v", status, body)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	app := newApp(func(c *fiber.Ctx) error { return c.SendString(RequestIDFrom(c)) })

	req := httptest.NewRequest(fiber.MethodGet, "/x", nil)
	req.Header.Set(requestIDHeader, "req-42")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if got := resp.Header.Get(requestIDHeader); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/x", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}
}

func TestRateLimitBlocksWritesOverLimit(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Use(RateLimit(cache, 2))
	app.All("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/x", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusNoContent {
			t.Fatalf("request %d: expected 204 got %d", i, resp.StatusCode)
		}
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/x", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusTooManyRequests {
		t.Fatalf("expected 429 got %d", resp.StatusCode)
	}

	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/x", nil))
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("reads must not be limited, got %d", resp.StatusCode)
	}
}

func TestRateLimitWindowAlwaysExpires(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer mr.Close()
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer cache.Close()

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler(logging.Discard())})
	app.Use(RateLimit(cache, 1))
	app.Post("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	post := func() int {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/x", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		return resp.StatusCode
	}

	if got := post(); got != fiber.StatusNoContent {
		t.Fatalf("first request: expected 204 got %d", got)
	}
	if got := post(); got != fiber.StatusTooManyRequests {
		t.Fatalf("second request: expected 429 got %d", got)
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("expected one counter, got %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("counter %s has ttl %v", keys[0], ttl)
	}

	mr.FastForward(61 * time.Second)
	if got := post(); got != fiber.StatusNoContent {
		t.Fatalf("after window: expected 204 got %d", got)
	}
}

func TestRateLimitFailsOpen(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer cache.Close()
	mr.Close()

	app := fiber.New()
	app.Use(RateLimit(cache, 1))
	app.Post("/x", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })

	for i := 0; i < 3; i++ {
		resp, err := app.Test(httptest.NewRequest(fiber.MethodPost, "/x", nil))
		if err != nil {
			t.Fatalf("app.Test: %v", err)
		}
		if resp.StatusCode != fiber.StatusNoContent {
			t.Fatalf("expected pass-through on redis failure, got %d", resp.StatusCode)
		}
	}
}
