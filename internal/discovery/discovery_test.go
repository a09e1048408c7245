package discovery

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/clickedinc/axr/internal/address"
)

func endpointOf(t *testing.T, srv *httptest.Server) address.LinkAddress {
	t.Helper()
	host, port, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(err)
	}
	return address.LinkAddress{Host: host, Port: p}
}

func TestGetLinkage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != LinkagePath {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if r.Method != http.MethodGet {
			t.Errorf("unexpected method %q", r.Method)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"address":"10.0.0.7:56723"}`))
	}))
	defer srv.Close()

	c := New(srv.Client(), nil)
	addr, err := c.GetLinkage(context.Background(), endpointOf(t, srv))
	if err != nil {
		t.Fatal(err)
	}
	if addr.Host != "10.0.0.7" || addr.Port != 56723 {
		t.Fatalf("got %v", addr)
	}
}

func TestGetLinkageErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   Code
	}{
		{"not found", http.StatusNotFound, "", CodeNoLinkageAvailable},
		{"busy", http.StatusServiceUnavailable, "all streamers busy", CodeBusy},
		{"server error", http.StatusInternalServerError, "", CodeHTTP},
		{"forbidden", http.StatusForbidden, "", CodeHTTP},
		{"bad address", http.StatusOK, `{"address":"nope"}`, CodeNoLinkageAvailable},
		{"empty address", http.StatusOK, `{}`, CodeNoLinkageAvailable},
		{"bad json", http.StatusOK, `{`, CodeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := New(srv.Client(), nil).GetLinkage(context.Background(), endpointOf(t, srv))
			var de *Error
			if !errors.As(err, &de) {
				t.Fatalf("expected *Error, got %v", err)
			}
			if de.Code != tt.want {
				t.Fatalf("code: got %v, want %v", de.Code, tt.want)
			}
			if tt.status != http.StatusOK && de.Status != tt.status {
				t.Fatalf("status: got %d, want %d", de.Status, tt.status)
			}
		})
	}
}

func TestGetLinkageBusyReason(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "streamer busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.Client(), nil).GetLinkage(context.Background(), endpointOf(t, srv))
	var de *Error
	if !errors.As(err, &de) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if de.Reason != "streamer busy" {
		t.Fatalf("reason: got %q", de.Reason)
	}
}

func TestGetLinkageNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := endpointOf(t, srv)
	srv.Close()

	_, err := New(nil, nil).GetLinkage(context.Background(), endpoint)
	var de *Error
	if !errors.As(err, &de) || de.Code != CodeNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestGetLinkageInvalidEndpoint(t *testing.T) {
	_, err := New(nil, nil).GetLinkage(context.Background(), address.LinkAddress{})
	var de *Error
	if !errors.As(err, &de) || de.Code != CodeInvalidEndpoint {
		t.Fatalf("expected invalid endpoint error, got %v", err)
	}
}

func TestGetLinkageCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New(srv.Client(), nil).GetLinkage(ctx, endpointOf(t, srv)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}

func TestCodeString(t *testing.T) {
	if CodeBusy.String() != "Busy" || CodeNoLinkageAvailable.String() != "NoLinkageAvailable" {
		t.Fatal("unexpected code names")
	}
	if int(CodeInvalidState) != 1001 {
		t.Fatalf("CodeInvalidState = %d", CodeInvalidState)
	}
}
