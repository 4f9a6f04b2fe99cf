package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"partnerflow/profile"
	"partnerflow/resource"
)

func writeEnvelope(t *testing.T, w http.ResponseWriter, status int, success bool, message string, data any) {
	t.Helper()
	env := map[string]any{"success": success}
	if message != "" {
		env["message"] = message
	}
	if data != nil {
		env["data"] = data
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	require.NoError(t, json.NewEncoder(w).Encode(env))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Token: "tok", Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{BaseURL: "ftp://example.com"})
	require.Error(t, err)
}

func TestCurrentUser_DecodesProfile(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/users/me", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		writeEnvelope(t, w, http.StatusOK, true, "", map[string]any{
			"id":       "u1",
			"role":     "partner",
			"fullName": "Asha Rao",
			"email":    "asha@example.com",
			"partner": map[string]any{
				"partnerCode":       "MSP-0001",
				"agreementAccepted": true,
			},
		})
	})

	got, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "u1", got.ID)
	assert.Equal(t, profile.RolePartner, got.Role)
	assert.True(t, profile.AgreementConfirmed(got))
}

func TestAcceptAgreement_SendsIdempotencyKey(t *testing.T) {
	var keys []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/partner/agreement/accept", r.URL.Path)
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		writeEnvelope(t, w, http.StatusAccepted, true, "agreement accepted", nil)
	})

	require.NoError(t, c.AcceptAgreement(context.Background()))
	require.NoError(t, c.AcceptAgreement(context.Background()))

	require.Len(t, keys, 2)
	for _, k := range keys {
		_, err := uuid.Parse(k)
		assert.NoError(t, err)
	}
	assert.NotEqual(t, keys[0], keys[1])
}

func TestDo_ErrorStatusUsesEnvelopeMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusForbidden, false, "only partners can accept the agreement", nil)
	})

	err := c.AcceptAgreement(context.Background())
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
	assert.Equal(t, "only partners can accept the agreement", resource.Message(err))
}

func TestDo_ErrorStatusWithoutEnvelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})

	_, err := c.CurrentUser(context.Background())
	var apiErr *Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Message)
}

func TestDo_SuccessFalseIsError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusOK, false, "lead is locked", nil)
	})

	_, err := c.GetLead(context.Background(), "l1")
	require.Error(t, err)
	assert.Equal(t, "lead is locked", resource.Message(err))
}

func TestIsUnauthorized(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(t, w, http.StatusUnauthorized, false, "invalid token", nil)
	})

	_, err := c.CurrentUser(context.Background())
	assert.True(t, IsUnauthorized(err))
	assert.False(t, IsNotFound(err))
}

func TestLogin_StoresToken(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/auth/login" {
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "asha@example.com", body["email"])
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			writeEnvelope(t, w, http.StatusOK, true, "", map[string]any{
				"token": "fresh",
				"user":  map[string]any{"id": "u1", "role": "partner"},
			})
			return
		}
		assert.Equal(t, "Bearer fresh", r.Header.Get("Authorization"))
		writeEnvelope(t, w, http.StatusOK, true, "", map[string]any{"id": "u1", "role": "partner"})
	})

	s, err := c.Login(context.Background(), "asha@example.com", "secret123")
	require.NoError(t, err)
	assert.Equal(t, "fresh", s.Token)
	assert.Equal(t, "fresh", c.Token())

	_, err = c.CurrentUser(context.Background())
	require.NoError(t, err)

	c.Logout()
	assert.Empty(t, c.Token())
}

func TestListLeads_EncodesQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "submitted", q.Get("status"))
		assert.Equal(t, "rao", q.Get("search"))
		assert.Equal(t, "2", q.Get("page"))
		assert.Empty(t, q.Get("pageSize"))
		writeEnvelope(t, w, http.StatusOK, true, "", map[string]any{
			"items": []map[string]any{{"id": "l1", "customerName": "Ravi Rao", "status": "submitted"}},
			"total": 11,
		})
	})

	page, err := c.ListLeads(context.Background(), LeadQuery{Status: "submitted", Search: "rao", Page: 2})
	require.NoError(t, err)
	assert.Equal(t, 11, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Ravi Rao", page.Items[0].CustomerName)
}

func TestRegisterPartner_Multipart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/partners/register", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))

		var reg PartnerRegistration
		require.NoError(t, json.Unmarshal([]byte(r.FormValue("registration")), &reg))
		assert.Equal(t, "ABCDE1234F", reg.PAN)

		f, hdr, err := r.FormFile(DocPANCard)
		require.NoError(t, err)
		defer f.Close()
		content, err := io.ReadAll(f)
		require.NoError(t, err)
		assert.Equal(t, "pan.pdf", hdr.Filename)
		assert.Equal(t, "%PDF", string(content))

		writeEnvelope(t, w, http.StatusCreated, true, "", RegisteredPartner{UserID: "u9", PartnerCode: "MSP-0009"})
	})

	out, err := c.RegisterPartner(context.Background(),
		PartnerRegistration{FullName: "Asha Rao", PAN: "ABCDE1234F"},
		[]Document{{Kind: DocPANCard, Filename: "pan.pdf", Content: []byte("%PDF")}},
	)
	require.NoError(t, err)
	assert.Equal(t, "MSP-0009", out.PartnerCode)
}
