package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// SupabaseVerifier checks access tokens against Supabase Auth's /user endpoint.
type SupabaseVerifier struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

var _ domain.IdentityVerifier = (*SupabaseVerifier)(nil)

func NewSupabaseVerifier(baseURL, apiKey string, timeout time.Duration) *SupabaseVerifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SupabaseVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type supabaseUser struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Verify makes one call to Supabase. Any rejection, and any failure to reach
// Supabase, is ErrInvalidCredential.
func (v *SupabaseVerifier) Verify(ctx context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("build supabase request: %w: %w", domain.ErrInvalidCredential, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("apikey", v.apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("supabase request failed: %w: %w", domain.ErrInvalidCredential, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read supabase response: %w: %w", domain.ErrInvalidCredential, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("supabase status=%d: %w", resp.StatusCode, domain.ErrInvalidCredential)
	}

	var user supabaseUser
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("parse supabase user: %w: %w", domain.ErrInvalidCredential, err)
	}
	if user.ID == "" {
		return nil, fmt.Errorf("supabase returned no user id: %w", domain.ErrInvalidCredential)
	}

	return &domain.Identity{UserID: domain.UserID(user.ID), Email: user.Email}, nil
}
