package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"partnerflow/profile"
)

// fakeAPI serves just enough of the partner API for the CLI. The
// agreement flag shows up on the second profile read after acceptance.
type fakeAPI struct {
	mu        sync.Mutex
	accepted  bool
	lagReads  int
	acceptReq int
}

func (f *fakeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, data any, msg string) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]any{"success": status < 300, "message": msg, "data": data})
	}
	authed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				reply(w, http.StatusUnauthorized, nil, "invalid or expired token")
				return
			}
			next(w, r)
		}
	}

	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body struct{ Email, Password string }
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			reply(w, http.StatusBadRequest, nil, "invalid request body")
			return
		}
		if body.Password != "secret123" {
			reply(w, http.StatusUnauthorized, nil, "Invalid credentials")
			return
		}
		reply(w, http.StatusOK, map[string]any{
			"token": "tok-1",
			"user":  map[string]any{"id": "p1", "role": "partner", "fullName": "Asha Rao", "email": body.Email},
		}, "")
	})
	mux.HandleFunc("GET /api/users/me", authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		visible := false
		if f.accepted {
			if f.lagReads > 0 {
				f.lagReads--
			} else {
				visible = true
			}
		}
		f.mu.Unlock()
		reply(w, http.StatusOK, profile.UserProfile{
			ID: "p1", Role: profile.RolePartner, FullName: "Asha Rao", Email: "asha@example.com",
			Partner: &profile.PartnerDetails{PartnerCode: "MSP-00007", AgreementAccepted: visible},
		}, "")
	}))
	mux.HandleFunc("POST /api/partner/agreement/accept", authed(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.acceptReq++
		f.accepted = true
		f.mu.Unlock()
		reply(w, http.StatusOK, nil, "Agreement accepted")
	}))
	mux.HandleFunc("GET /api/commissions", authed(func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, []map[string]any{
			{"id": "c1", "leadId": "l1", "amount": 150050, "status": "paid", "createdAt": "2024-04-01T10:00:00Z"},
			{"id": "c2", "leadId": "l2", "amount": 2500000, "status": "pending", "createdAt": "2024-04-02T10:00:00Z"},
		}, "")
	}))
	mux.HandleFunc("GET /api/commissions/summary", authed(func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"pending": 2500000, "approved": 0, "paid": 150050, "count": 2}, "")
	}))
	return mux
}

type cliEnv struct {
	baseURL   string
	tokenFile string
	config    string
}

func newCLIEnv(t *testing.T, api *fakeAPI) cliEnv {
	t.Helper()
	ts := httptest.NewServer(api.handler())
	t.Cleanup(ts.Close)

	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "partnerctl.yaml")
	cfg := "reconcile:\n  max_attempts: 3\n  delay: 10ms\n  initial_delay: 5ms\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	return cliEnv{baseURL: ts.URL, tokenFile: filepath.Join(dir, "token"), config: cfgPath}
}

func (e cliEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PARTNERFLOW_TOKEN", "")
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--base-url", e.baseURL, "--token-file", e.tokenFile, "--config", e.config}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestLoginSavesSessionForLaterCommands(t *testing.T) {
	env := newCLIEnv(t, &fakeAPI{})

	_, err := env.run(t, "whoami")
	require.Error(t, err, "whoami without a session must fail")

	out, err := env.run(t, "login", "--email", "asha@example.com", "--password", "secret123")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as Asha Rao (partner)")

	saved, err := os.ReadFile(env.tokenFile)
	require.NoError(t, err)
	assert.Equal(t, "tok-1\n", string(saved))

	out, err = env.run(t, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "MSP-00007")
	assert.Contains(t, out, "Agreement: not accepted")

	_, err = env.run(t, "logout")
	require.NoError(t, err)
	_, err = os.Stat(env.tokenFile)
	assert.True(t, os.IsNotExist(err))
}

func TestLoginRejected(t *testing.T) {
	env := newCLIEnv(t, &fakeAPI{})

	_, err := env.run(t, "login", "--email", "asha@example.com", "--password", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid credentials")
	_, statErr := os.Stat(env.tokenFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAcceptAgreementWaitsForConfirmation(t *testing.T) {
	api := &fakeAPI{lagReads: 1}
	env := newCLIEnv(t, api)

	out, err := env.run(t, "--token", "tok-1", "accept-agreement")
	require.NoError(t, err)
	assert.Contains(t, out, "Agreement accepted and confirmed")
	assert.Equal(t, 1, api.acceptReq)
}

func TestAcceptAgreementJSON(t *testing.T) {
	env := newCLIEnv(t, &fakeAPI{})

	out, err := env.run(t, "--token", "tok-1", "--format", "json", "accept-agreement")
	require.NoError(t, err)

	var got acceptOutput
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "confirmed", string(got.Outcome))
	assert.True(t, got.Accepted)
	assert.Equal(t, 1, got.Reads)
}

func TestCommissionsFormatsAmounts(t *testing.T) {
	env := newCLIEnv(t, &fakeAPI{})

	out, err := env.run(t, "--token", "tok-1", "commissions", "--status", "paid")
	require.NoError(t, err)
	assert.Contains(t, out, "₹1,500.50")
	assert.NotContains(t, out, "c2")
	assert.Contains(t, out, "Pending ₹25,000.00")
}

func TestRegisterReportsFirstIncompleteStep(t *testing.T) {
	env := newCLIEnv(t, &fakeAPI{})

	out, err := env.run(t, "register", "--full-name", "Asha Rao", "--email", "not-an-email")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "personal step is incomplete")
	assert.Contains(t, out, "email")
}

func TestInvalidFormat(t *testing.T) {
	env := newCLIEnv(t, &fakeAPI{})

	_, err := env.run(t, "--format", "xml", "whoami")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestPaise(t *testing.T) {
	cases := map[int64]string{
		0:         "₹0.00",
		5:         "₹0.05",
		150050:    "₹1,500.50",
		123456789: "₹1,234,567.89",
		-2500:     "-₹25.00",
	}
	for in, want := range cases {
		assert.Equal(t, want, paise(in), "paise(%d)", in)
	}
}
