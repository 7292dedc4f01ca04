package serialmux

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

// localHostRequest creates an httptest request that appears to come from localhost.
// This bypasses tsweb.AllowDebugAccess which checks for loopback IPs.
func localHostRequest(method, path string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, path, body)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes_Send(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)

	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	tests := []struct {
		name           string
		method         string
		formData       url.Values
		expectedStatus int
		wantWritten    string
	}{
		{
			name:           "framed with checksum",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"PMTK220,1000"}},
			expectedStatus: http.StatusOK,
			wantWritten:    "$PMTK220,1000*1F\r\n",
		},
		{
			name:           "raw command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"reset"}, "raw": {"1"}},
			expectedStatus: http.StatusOK,
			wantWritten:    "reset\r\n",
		},
		{
			name:           "whitespace-only command",
			method:         http.MethodPost,
			formData:       url.Values{"command": {"   "}},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "GET not allowed",
			method:         http.MethodGet,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(port.Written())
			var body io.Reader
			if tt.formData != nil {
				body = strings.NewReader(tt.formData.Encode())
			}
			req := localHostRequest(tt.method, "/debug/gps/send", body)
			if tt.formData != nil {
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			}
			w := httptest.NewRecorder()
			httpMux.ServeHTTP(w, req)

			if w.Code != tt.expectedStatus {
				t.Fatalf("Expected status %d, got %d. Body: %s", tt.expectedStatus, w.Code, w.Body.String())
			}
			if got := port.Written()[before:]; got != tt.wantWritten {
				t.Errorf("written %q, want %q", got, tt.wantWritten)
			}
		})
	}
}

func TestAttachAdminRoutes_SendWriteError(t *testing.T) {
	port := NewTestableSerialPort()
	port.WriteError = errors.New("unplugged")
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodPost, "/debug/gps/send", strings.NewReader("command=PMTK000"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", w.Code)
	}
}

func TestAttachAdminRoutes_Tail(t *testing.T) {
	port := NewTestableSerialPort()
	mux := NewSerialMux(port)
	httpMux := http.NewServeMux()
	mux.AttachAdminRoutes(httpMux)

	srv := httptest.NewServer(httpMux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	defer port.Close()
	go func() { _ = mux.Monitor(ctx) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/debug/gps/tail", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	ping, err := r.ReadString('\n')
	if err != nil || !strings.HasPrefix(ping, ": ping") {
		t.Fatalf("expected ping, got %q (%v)", ping, err)
	}

	// The handler subscribed before the ping was written.
	port.AddReadData(rmc + "\r\n")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			if got := strings.TrimSpace(strings.TrimPrefix(line, "data: ")); got != rmc {
				t.Errorf("got %q, want %q", got, rmc)
			}
			break
		}
	}
}

func TestDisabledSerialMux_AdminRoutes(t *testing.T) {
	d := NewDisabledSerialMux()
	httpMux := http.NewServeMux()
	d.AttachAdminRoutes(httpMux)

	req := localHostRequest(http.MethodPost, "/debug/gps/send", strings.NewReader("command=PMTK000"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	httpMux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
}
