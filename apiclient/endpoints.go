package apiclient

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"partnerflow/profile"
)

// Login exchanges credentials for a session and stores its token.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	body := map[string]string{"email": email, "password": password}
	s, err := send[Session](ctx, c, http.MethodPost, "/api/auth/login", body)
	if err != nil {
		return Session{}, err
	}
	c.SetToken(s.Token)
	return s, nil
}

// RequestOTP asks the server to send a one-time login code.
func (c *Client) RequestOTP(ctx context.Context, email string) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/api/auth/otp", body: map[string]string{"email": email}}, nil)
}

// VerifyOTP exchanges a one-time code for a session and stores its token.
func (c *Client) VerifyOTP(ctx context.Context, email, code string) (Session, error) {
	body := map[string]string{"email": email, "code": code}
	s, err := send[Session](ctx, c, http.MethodPost, "/api/auth/otp/verify", body)
	if err != nil {
		return Session{}, err
	}
	c.SetToken(s.Token)
	return s, nil
}

// ForgotPassword requests a password reset code.
func (c *Client) ForgotPassword(ctx context.Context, email string) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/api/auth/forgot-password", body: map[string]string{"email": email}}, nil)
}

// ResetPassword sets a new password using a reset code.
func (c *Client) ResetPassword(ctx context.Context, email, code, newPassword string) error {
	body := map[string]string{"email": email, "code": code, "password": newPassword}
	return c.do(ctx, request{method: http.MethodPost, path: "/api/auth/reset-password", body: body}, nil)
}

// Logout drops the bearer token.
func (c *Client) Logout() { c.SetToken("") }

// CurrentUser fetches the signed-in user's profile.
func (c *Client) CurrentUser(ctx context.Context) (profile.UserProfile, error) {
	return get[profile.UserProfile](ctx, c, "/api/users/me", nil)
}

// AcceptAgreement records acceptance of the partner agreement. Each call
// carries a fresh idempotency key.
func (c *Client) AcceptAgreement(ctx context.Context) error {
	header := http.Header{}
	header.Set("Idempotency-Key", uuid.NewString())
	return c.do(ctx, request{method: http.MethodPost, path: "/api/partner/agreement/accept", header: header}, nil)
}

// ListLeads returns a page of the caller's leads.
func (c *Client) ListLeads(ctx context.Context, q LeadQuery) (Page[Lead], error) {
	v := url.Values{}
	if q.Status != "" {
		v.Set("status", q.Status)
	}
	if q.Search != "" {
		v.Set("search", q.Search)
	}
	if q.Page > 0 {
		v.Set("page", strconv.Itoa(q.Page))
	}
	if q.PageSize > 0 {
		v.Set("pageSize", strconv.Itoa(q.PageSize))
	}
	if q.SortKey != "" {
		v.Set("sort", q.SortKey)
	}
	if q.SortOrder != "" {
		v.Set("order", q.SortOrder)
	}
	return get[Page[Lead]](ctx, c, "/api/leads", v)
}

// GetLead fetches one lead.
func (c *Client) GetLead(ctx context.Context, id string) (Lead, error) {
	return get[Lead](ctx, c, "/api/leads/"+url.PathEscape(id), nil)
}

// CreateLead submits a new lead.
func (c *Client) CreateLead(ctx context.Context, in LeadInput) (Lead, error) {
	return send[Lead](ctx, c, http.MethodPost, "/api/leads", in)
}

// UpdateLead replaces the editable fields of a lead.
func (c *Client) UpdateLead(ctx context.Context, id string, in LeadInput) (Lead, error) {
	return send[Lead](ctx, c, http.MethodPatch, "/api/leads/"+url.PathEscape(id), in)
}

// UpdateLeadStatus moves a lead to status.
func (c *Client) UpdateLeadStatus(ctx context.Context, id, status string) (Lead, error) {
	return send[Lead](ctx, c, http.MethodPatch, "/api/leads/"+url.PathEscape(id)+"/status", map[string]string{"status": status})
}

// DeleteLead removes a lead.
func (c *Client) DeleteLead(ctx context.Context, id string) error {
	return c.do(ctx, request{method: http.MethodDelete, path: "/api/leads/" + url.PathEscape(id)}, nil)
}

// LeadTimeline returns a lead's events, oldest first.
func (c *Client) LeadTimeline(ctx context.Context, id string) ([]TimelineEvent, error) {
	return get[[]TimelineEvent](ctx, c, "/api/leads/"+url.PathEscape(id)+"/timeline", nil)
}

// LeadRemarks returns a lead's remarks, newest first.
func (c *Client) LeadRemarks(ctx context.Context, id string) ([]Remark, error) {
	return get[[]Remark](ctx, c, "/api/leads/"+url.PathEscape(id)+"/remarks", nil)
}

// AddLeadRemark attaches a remark to a lead.
func (c *Client) AddLeadRemark(ctx context.Context, id, body string) (Remark, error) {
	return send[Remark](ctx, c, http.MethodPost, "/api/leads/"+url.PathEscape(id)+"/remarks", map[string]string{"body": body})
}

// ListCommissions returns the caller's commissions, optionally filtered by
// status.
func (c *Client) ListCommissions(ctx context.Context, status string) ([]Commission, error) {
	v := url.Values{}
	if status != "" {
		v.Set("status", status)
	}
	return get[[]Commission](ctx, c, "/api/commissions", v)
}

// CommissionSummary totals the caller's commissions.
func (c *Client) CommissionSummary(ctx context.Context) (CommissionSummary, error) {
	return get[CommissionSummary](ctx, c, "/api/commissions/summary", nil)
}

// ListAssociates returns the caller's team.
func (c *Client) ListAssociates(ctx context.Context) ([]Associate, error) {
	return get[[]Associate](ctx, c, "/api/associates", nil)
}

// CreateAssociate adds a team member.
func (c *Client) CreateAssociate(ctx context.Context, in AssociateInput) (Associate, error) {
	return send[Associate](ctx, c, http.MethodPost, "/api/associates", in)
}

// ListOffers returns currently active offers.
func (c *Client) ListOffers(ctx context.Context) ([]Offer, error) {
	return get[[]Offer](ctx, c, "/api/offers", nil)
}

// ListProducts returns the loan product catalog.
func (c *Client) ListProducts(ctx context.Context) ([]Product, error) {
	return get[[]Product](ctx, c, "/api/products", nil)
}

// SupportInfo returns support contact details.
func (c *Client) SupportInfo(ctx context.Context) (SupportInfo, error) {
	return get[SupportInfo](ctx, c, "/api/support", nil)
}
