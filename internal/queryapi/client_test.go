package queryapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(srv.URL, 5*time.Second, zerolog.Nop()), srv
}

func TestGetSuccessJSON(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nearby" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("lat"); got != "51.5" {
			t.Errorf("lat param = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "req-123")
		w.Write([]byte(`{"devices":[]}`))
	})

	res, err := c.Get(context.Background(), "/nearby", map[string]string{"lat": "51.5"})
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !res.JSON {
		t.Fatal("expected JSON content kind")
	}
	if res.CorrelationID != "req-123" {
		t.Fatalf("correlation id = %q", res.CorrelationID)
	}
}

func TestGetFailureUsesStructuredErrorField(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Request-Id", "req-9")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"error":"upstream exploded"}`))
	})

	_, err := c.Get(context.Background(), "/nearby", nil)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error type = %T", err)
	}
	if reqErr.Message != "upstream exploded" {
		t.Fatalf("message = %q", reqErr.Message)
	}
	if reqErr.CorrelationID != "req-9" {
		t.Fatalf("correlation id = %q", reqErr.CorrelationID)
	}
	if !strings.Contains(reqErr.Error(), "req-9") {
		t.Fatalf("Error() should surface the correlation id: %q", reqErr.Error())
	}
}

func TestGetFailureTruncatesTextBody(t *testing.T) {
	long := strings.Repeat("x", 500)
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(long))
	})

	_, err := c.Get(context.Background(), "/nearby", nil)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error type = %T", err)
	}
	if len(reqErr.Message) != 180 {
		t.Fatalf("message length = %d, want 180", len(reqErr.Message))
	}
}

func TestGetFailureEmptyBodyFallsBack(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := c.Get(context.Background(), "/nearby", nil)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("error type = %T", err)
	}
	if reqErr.Message != "Request failed" {
		t.Fatalf("message = %q", reqErr.Message)
	}
}

func TestGetNetworkFailureIsRequestError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	c := New(srv.URL, 5*time.Second, zerolog.Nop())

	_, err := c.Get(context.Background(), "/nearby", nil)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("network failure should be a RequestError, got %T", err)
	}
}

func TestNearbyDecodesDevicesAndMeta(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("mode"); got != "wifi" {
			t.Errorf("mode param = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"devices":[{"ssid":"Home","lat":51.5,"lon":-0.09,"type":"wifi"}],"meta":{"cached":true}}`))
	})

	res, err := c.Nearby(context.Background(), 51.5, -0.09, "wifi")
	if err != nil {
		t.Fatalf("Nearby() error: %v", err)
	}
	if len(res.Devices) != 1 {
		t.Fatalf("devices = %d, want 1", len(res.Devices))
	}
	if res.Devices[0].DisplayName() != "Home" {
		t.Fatalf("device name = %q", res.Devices[0].DisplayName())
	}
	if !res.Cached {
		t.Fatal("meta.cached should decode true")
	}
	if !strings.Contains(string(res.Raw), `"ssid":"Home"`) {
		t.Fatal("raw payload should be kept verbatim")
	}
}

func TestTowersDecodesBareArray(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"id":"t1","lat":51.5,"lon":-0.09},{"id":"t2","lat":"51.6","lon":"-0.08"}]`))
	})

	res, err := c.Towers(context.Background(), 51.5, -0.09)
	if err != nil {
		t.Fatalf("Towers() error: %v", err)
	}
	if len(res.Towers) != 2 {
		t.Fatalf("towers = %d, want 2", len(res.Towers))
	}
}

func TestMalformedBodyIsRequestError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"devices": nope`))
	})

	_, err := c.Nearby(context.Background(), 51.5, -0.09, "wifi")
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("malformed body should be a RequestError, got %T", err)
	}
}

func TestStatusDecodesProviders(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"providers":{"wigle":true,"opencellid":false,"shodan":true}}`))
	})

	providers, err := c.Status(context.Background())
	if err != nil {
		t.Fatalf("Status() error: %v", err)
	}
	if !providers["wigle"] || providers["opencellid"] || !providers["shodan"] {
		t.Fatalf("providers = %v", providers)
	}
}
