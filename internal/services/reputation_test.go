package services

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veldt/imagegate/internal/config"
)

func reputationTestConfig(baseURL string) *config.Config {
	return &config.Config{
		Reputation: config.ReputationConfig{
			BaseURL:  baseURL,
			Token:    "test-token",
			Timeout:  5 * time.Second,
			CacheTTL: time.Hour,
		},
	}
}

func TestReputationService_Check(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		allowed bool
		reason  string
	}{
		{"clean address", `{"bogon":false,"privacy":{"vpn":false,"proxy":false,"tor":false,"hosting":false}}`, true, ""},
		{"bogon", `{"bogon":true,"privacy":{}}`, false, "bogon"},
		{"vpn", `{"privacy":{"vpn":true}}`, false, "vpn"},
		{"proxy", `{"privacy":{"proxy":true}}`, false, "proxy"},
		{"tor exit", `{"privacy":{"tor":true}}`, false, "tor"},
		{"hosting range", `{"privacy":{"hosting":true}}`, false, "hosting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lookup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/203.0.113.7", r.URL.Path)
				assert.Equal(t, "test-token", r.URL.Query().Get("token"))
				fmt.Fprint(w, tt.body)
			}))
			defer lookup.Close()

			svc := NewReputationService(reputationTestConfig(lookup.URL), testLogger(), nil)

			result, err := svc.Check(context.Background(), "203.0.113.7")

			require.NoError(t, err)
			assert.Equal(t, tt.allowed, result.Allowed)
			assert.Equal(t, tt.reason, result.Reason)
		})
	}
}

func TestReputationService_CachedVerdicts(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	lookupCalls := 0
	lookup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookupCalls++
		fmt.Fprint(w, `{"bogon":false,"privacy":{}}`)
	}))
	defer lookup.Close()

	svc := NewReputationService(reputationTestConfig(lookup.URL), testLogger(), client)

	t.Run("cached allow skips the lookup", func(t *testing.T) {
		require.NoError(t, mr.Set("reputation:ip:198.51.100.1", "allow"))

		result, err := svc.Check(context.Background(), "198.51.100.1")

		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Zero(t, lookupCalls)
	})

	t.Run("cached deny carries the reason", func(t *testing.T) {
		require.NoError(t, mr.Set("reputation:ip:198.51.100.2", "vpn"))

		result, err := svc.Check(context.Background(), "198.51.100.2")

		require.NoError(t, err)
		assert.False(t, result.Allowed)
		assert.Equal(t, "vpn", result.Reason)
		assert.Zero(t, lookupCalls)
	})
}

func TestReputationService_CachesLookupVerdict(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	lookup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"privacy":{"proxy":true}}`)
	}))
	defer lookup.Close()

	svc := NewReputationService(reputationTestConfig(lookup.URL), testLogger(), client)

	result, err := svc.Check(context.Background(), "203.0.113.7")

	require.NoError(t, err)
	assert.False(t, result.Allowed)

	cached, err := mr.Get("reputation:ip:203.0.113.7")
	require.NoError(t, err)
	assert.Equal(t, "proxy", cached)
	assert.Equal(t, time.Hour, mr.TTL("reputation:ip:203.0.113.7"))
}

func TestReputationService_CacheOutageFallsBackToLookup(t *testing.T) {
	// Nothing listens on this address: every cache read and write fails.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})

	lookupCalls := 0
	lookup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lookupCalls++
		fmt.Fprint(w, `{"bogon":false,"privacy":{}}`)
	}))
	defer lookup.Close()

	svc := NewReputationService(reputationTestConfig(lookup.URL), testLogger(), client)

	result, err := svc.Check(context.Background(), "203.0.113.7")

	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, 1, lookupCalls)
}

func TestReputationService_FailsClosedOnLookupError(t *testing.T) {
	t.Run("upstream error status", func(t *testing.T) {
		lookup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
		}))
		defer lookup.Close()

		svc := NewReputationService(reputationTestConfig(lookup.URL), testLogger(), nil)

		_, err := svc.Check(context.Background(), "203.0.113.7")
		assert.Error(t, err)
	})

	t.Run("unreachable upstream", func(t *testing.T) {
		lookup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		lookup.Close()

		svc := NewReputationService(reputationTestConfig(lookup.URL), testLogger(), nil)

		_, err := svc.Check(context.Background(), "203.0.113.7")
		assert.Error(t, err)
	})

	t.Run("malformed response", func(t *testing.T) {
		lookup := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "not json")
		}))
		defer lookup.Close()

		svc := NewReputationService(reputationTestConfig(lookup.URL), testLogger(), nil)

		_, err := svc.Check(context.Background(), "203.0.113.7")
		assert.Error(t, err)
	})
}
