package ports

import (
	"context"

	"github.com/bnema/chatshell/internal/domain"
)

// Authenticator turns a credential into a grant accepted by the chat service. Rejected
// credentials are reported with domain.ErrAuth, transport failures with domain.ErrNetwork.
type Authenticator interface {
	Authenticate(ctx context.Context, credential domain.Credential) (domain.Grant, error)
}
