package l2client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildCmdBuf(t *testing.T) {
	// cmdBuf[0] = (nonce<<16) | ((len(args)+1)<<8) | opcode, per spec §6.
	buf := buildCmdBuf(5, 2, 1, 2, 0, 3)
	require.Len(t, buf, 5)
	wantHeader := (uint64(5) << 16) | (uint64(5) << 8) | uint64(2)
	require.Equal(t, wantHeader, buf[0])
	require.Equal(t, []uint64{1, 2, 0, 3}, buf[1:])
}

func TestBuildCmdBuf_CreatePlayerNoArgs(t *testing.T) {
	buf := buildCmdBuf(0, OpcodeCreatePlayer)
	require.Len(t, buf, 1)
	wantHeader := uint64(0)<<16 | uint64(1)<<8 | uint64(OpcodeCreatePlayer)
	require.Equal(t, wantHeader, buf[0])
}

func TestHTTPClient_GetNonce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/data/nonce", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]uint64{"nonce": 42})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "admin", 2, 3)
	nonce, err := c.GetNonce(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(42), nonce)
}

func TestHTTPClient_CreatePlayer_IgnoresAlreadyExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "player already exists"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "admin", 2, 3)
	err := c.CreatePlayer(context.Background(), 0)
	require.NoError(t, err)
}

func TestHTTPClient_CreatePlayer_PropagatesOtherErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "boom"})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "admin", 2, 3)
	err := c.CreatePlayer(context.Background(), 0)
	require.Error(t, err)
}

func TestHTTPClient_CheckDeposit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": map[string]any{"ok": true}})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "admin", 2, 3)
	verified, err := c.CheckDeposit(context.Background(), 1, 1, 2, 0, 5)
	require.NoError(t, err)
	require.True(t, verified)
}

func TestHTTPClient_CheckDeposit_NullData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": nil})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "admin", 2, 3)
	verified, err := c.CheckDeposit(context.Background(), 1, 1, 2, 0, 5)
	require.NoError(t, err)
	require.False(t, verified)
}
