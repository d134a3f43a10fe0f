package apperr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yourusername/eleme-backend/internal/logging"
)

func respond(t *testing.T, err error) (int, map[string]string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(rec)
	Respond(ctx, err)

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return rec.Code, payload
}

func TestRespondTypedError(t *testing.T) {
	wrapped := fmt.Errorf("lookup: %w", NotFound("BUSINESS_NOT_FOUND", "商家不存在"))
	status, payload := respond(t, wrapped)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
	if payload["code"] != "BUSINESS_NOT_FOUND" {
		t.Fatalf("unexpected code: %s", payload["code"])
	}
}

func TestRespondCanceled(t *testing.T) {
	status, payload := respond(t, context.Canceled)
	if status != http.StatusRequestTimeout || payload["code"] != "REQUEST_CANCELED" {
		t.Fatalf("unexpected response: %d %v", status, payload)
	}
}

func TestRespondUnknownError(t *testing.T) {
	status, payload := respond(t, errors.New("boom"))
	if status != http.StatusInternalServerError || payload["code"] != "INTERNAL_ERROR" {
		t.Fatalf("unexpected response: %d %v", status, payload)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("db down")
	err := Wrap(cause, http.StatusInternalServerError, "DB_ERROR", "保存失败")
	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped error to match cause")
	}
	if CodeOf(err) != "DB_ERROR" {
		t.Fatalf("CodeOf = %q", CodeOf(err))
	}
	if CodeOf(cause) != "" {
		t.Fatal("CodeOf should be empty for plain errors")
	}
}

func TestRespondLogsToRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zap.ErrorLevel)
	ctx, _ := gin.CreateTestContext(httptest.NewRecorder())
	ctx.Set(logging.LoggerKey, zap.New(core).With(zap.String("request_id", "req-1")))

	Respond(ctx, errors.New("boom"))
	Respond(ctx, NotFound("BUSINESS_NOT_FOUND", "商家不存在"))

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	if entries[0].Message != "unexpected error" || entries[0].ContextMap()["request_id"] != "req-1" {
		t.Fatalf("unexpected entry: %s %v", entries[0].Message, entries[0].ContextMap())
	}
}
