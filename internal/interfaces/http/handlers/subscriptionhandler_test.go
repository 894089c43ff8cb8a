package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/veilnet-io/veilnet/internal/application/subscription"
	"github.com/veilnet-io/veilnet/internal/shared/errors"
	"github.com/veilnet-io/veilnet/internal/shared/logger"
)

type fakeFetcher struct {
	result    *subscription.Result
	err       error
	gotToken  string
	gotSig    string
	gotSource string
}

func (f *fakeFetcher) Fetch(_ context.Context, token, sourceIP, clientSig string) (*subscription.Result, error) {
	f.gotToken = token
	f.gotSource = sourceIP
	f.gotSig = clientSig
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeFetcher) ProfileTitle() string { return "veilnet" }

func (f *fakeFetcher) UpdateIntervalHours() int { return 12 }

func newSubscriptionRouter(fetcher SubscriptionFetcher) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewSubscriptionHandler(fetcher, logger.NewNop())
	r.GET("/sub/:token", h.Fetch)
	return r
}

func TestSubscriptionHandler_FetchReturnsPlainText(t *testing.T) {
	fetcher := &fakeFetcher{
		result: &subscription.Result{
			Body:        "vless://a@h:443#1_rl\nss://b@h:8388#1_ss",
			NodesServed: 2,
		},
	}
	router := newSubscriptionRouter(fetcher)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sub/good-token", nil)
	req.Header.Set("User-Agent", "v2rayN/6.23")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "vless://a@h:443#1_rl\nss://b@h:8388#1_ss", w.Body.String())
	assert.Equal(t, "veilnet", w.Header().Get("Profile-Title"))
	assert.Equal(t, "12", w.Header().Get("Profile-Update-Interval"))
	assert.Equal(t, "good-token", fetcher.gotToken)
	assert.Equal(t, "v2rayN/6.23", fetcher.gotSig)
	assert.NotEmpty(t, fetcher.gotSource)
}

func TestSubscriptionHandler_FetchErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name           string
		err            error
		want           int
		wantRetryAfter string
	}{
		{"invalid token", errors.NewUnauthorizedError("invalid token"), http.StatusUnauthorized, ""},
		{"not entitled", errors.NewForbiddenError("subscription not active"), http.StatusForbidden, ""},
		{"rate limited", errors.NewTooManyRequestsError("rate limit exceeded").WithRetryAfter(42 * time.Second), http.StatusTooManyRequests, "42"},
		{"banned", errors.NewForbiddenError("address temporarily banned").WithRetryAfter(10 * time.Minute), http.StatusForbidden, "600"},
		{"backend failure", errors.NewInternalError("storage unavailable"), http.StatusInternalServerError, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newSubscriptionRouter(&fakeFetcher{err: tc.err})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sub/whatever", nil))

			assert.Equal(t, tc.want, w.Code)
			assert.Empty(t, w.Body.String())
			assert.Equal(t, tc.wantRetryAfter, w.Header().Get("Retry-After"))
		})
	}
}

func TestSubscriptionHandler_RetryAfterRoundsUp(t *testing.T) {
	err := errors.NewTooManyRequestsError("rate limit exceeded").WithRetryAfter(1500 * time.Millisecond)
	router := newSubscriptionRouter(&fakeFetcher{err: err})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sub/whatever", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "2", w.Header().Get("Retry-After"))
}

func TestSubscriptionHandler_EmptyBodyIsStillOK(t *testing.T) {
	router := newSubscriptionRouter(&fakeFetcher{result: &subscription.Result{Body: ""}})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sub/good-token", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Body.String())
}
