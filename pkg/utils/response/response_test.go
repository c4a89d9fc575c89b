package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"codeduel/pkg/errors"
	"codeduel/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
)

func newContext() (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set(string(contextkey.TraceID), "trace-1")
	return c, w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	return resp
}

func TestSuccess(t *testing.T) {
	c, w := newContext()
	Success(c, map[string]string{"status": "ok"})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp.Code != errors.Success || resp.TraceID != "trace-1" {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
}

func TestErrorMapsStatusAndDetails(t *testing.T) {
	c, w := newContext()
	Error(c, errors.NotFoundError(errors.MatchNotFound, "m1"))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	resp := decode(t, w)
	if resp.Code != errors.MatchNotFound || resp.Message != "Match not found" || resp.Details == nil {
		t.Fatalf("unexpected envelope: %+v", resp)
	}
}

func TestErrorHidesServerCause(t *testing.T) {
	c, w := newContext()
	Error(c, errors.Wrapf(stderrors.New("dial tcp 10.0.0.3:6379: refused"), errors.CacheError, "zadd lobby failed"))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if resp := decode(t, w); resp.Message != errors.CacheError.Message() {
		t.Fatalf("server cause leaked: %q", resp.Message)
	}
}

func TestAbortWithErrorCode(t *testing.T) {
	c, w := newContext()
	AbortWithErrorCode(c, errors.TooManyRequests, "")

	if !c.IsAborted() || w.Code != http.StatusTooManyRequests {
		t.Fatalf("aborted=%v status=%d", c.IsAborted(), w.Code)
	}
}
