package auth

import (
	"context"
	"fmt"
	"strings"

	"github.com/PabloGalante/secretary-agent/internal/domain"
)

// StaticVerifier resolves tokens from a fixed table. It is meant for local
// mode and tests, where there is no identity provider.
type StaticVerifier struct {
	identities map[string]domain.Identity
}

var _ domain.IdentityVerifier = (*StaticVerifier)(nil)

func NewStaticVerifier(identities map[string]domain.Identity) *StaticVerifier {
	return &StaticVerifier{identities: identities}
}

// ParseStaticTokens reads "token:user_id[:email]" entries separated by commas.
func ParseStaticTokens(raw string) (*StaticVerifier, error) {
	identities := make(map[string]domain.Identity)
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("static token %q: want token:user_id[:email]", entry)
		}
		id := domain.Identity{UserID: domain.UserID(parts[1])}
		if len(parts) == 3 {
			id.Email = parts[2]
		}
		identities[parts[0]] = id
	}
	if len(identities) == 0 {
		return nil, fmt.Errorf("no static tokens configured")
	}
	return NewStaticVerifier(identities), nil
}

func (v *StaticVerifier) Verify(_ context.Context, token string) (*domain.Identity, error) {
	if token == "" {
		return nil, domain.ErrUnauthenticated
	}
	id, ok := v.identities[token]
	if !ok {
		return nil, domain.ErrInvalidCredential
	}
	return &id, nil
}
