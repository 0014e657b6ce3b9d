package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"telecom-signaling/internal/config"

	"github.com/golang-jwt/jwt/v5"
)

func newTestLiveKit(t *testing.T, apiURL string) *LiveKit {
	t.Helper()
	lk, err := NewLiveKit(config.LiveKitConfig{
		APIKey:    "devkey",
		APISecret: "devsecret-devsecret-devsecret-00",
		URL:       "wss://media.example.com",
		APIURL:    apiURL,
		TokenTTL:  time.Hour,
	}, nil)
	if err != nil {
		t.Fatalf("new livekit: %v", err)
	}
	return lk
}

func TestIssueCredential_ScopesTokenToRoom(t *testing.T) {
	lk := newTestLiveKit(t, "https://media.example.com")

	creds, err := lk.IssueCredential(context.Background(), "call-1", "user-1", "Alice")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if creds.RoomName != "call-1" || creds.URL != "wss://media.example.com" {
		t.Fatalf("unexpected credentials: %+v", creds)
	}

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(creds.Token, claims, func(*jwt.Token) (any, error) {
		return []byte("devsecret-devsecret-devsecret-00"), nil
	})
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if claims["sub"] != "user-1" || claims["iss"] != "devkey" || claims["name"] != "Alice" {
		t.Fatalf("unexpected identity claims: %v", claims)
	}
	video, ok := claims["video"].(map[string]any)
	if !ok {
		t.Fatalf("missing video grant: %v", claims)
	}
	if video["room"] != "call-1" || video["roomJoin"] != true || video["canPublish"] != true || video["canSubscribe"] != true {
		t.Fatalf("unexpected video grant: %v", video)
	}
}

func TestIssueCredential_RequiresRoomAndIdentity(t *testing.T) {
	lk := newTestLiveKit(t, "https://media.example.com")
	if _, err := lk.IssueCredential(context.Background(), "", "user-1", "A"); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDestroyRoom_NotFoundIsSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if !strings.HasSuffix(r.URL.Path, "/DeleteRoom") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			t.Errorf("missing service token")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":"not_found","msg":"room not found"}`))
	}))
	defer srv.Close()

	lk := newTestLiveKit(t, srv.URL)
	if err := lk.DestroyRoom(context.Background(), "call-1"); err != nil {
		t.Fatalf("expected idempotent teardown, got %v", err)
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one request, got %d", hits.Load())
	}
}

func TestDestroyRoom_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/protobuf")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	lk := newTestLiveKit(t, srv.URL)
	if err := lk.DestroyRoom(context.Background(), "call-1"); err != nil {
		t.Fatalf("destroy: %v", err)
	}
}

func TestDestroyRoom_ServerErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":"internal","msg":"boom"}`))
	}))
	defer srv.Close()

	lk := newTestLiveKit(t, srv.URL)
	if err := lk.DestroyRoom(context.Background(), "call-1"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
