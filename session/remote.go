package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Session is a server-validated identity grant. The refresh token rotates on
// every refresh; the previous one becomes invalid and must not be reused.
type Session struct {
	UserID       string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// Query shapes a row query against the remote service.
type Query struct {
	// Filter matches column = value pairs.
	Filter map[string]string
	// OrderBy names the column to sort on.
	OrderBy string
	// Descending sorts newest-first when ordering on a timestamp column.
	Descending bool
}

// RowQuerier is the narrow read surface domain sync adapters pull from.
type RowQuerier interface {
	QueryRows(ctx context.Context, table string, q Query) ([]json.RawMessage, error)
}

// RemoteClient is the boundary to the remote service. The service itself is
// an external collaborator; implementations speak whatever protocol it
// exposes. HTTPRemote is the reference REST/JSON implementation.
type RemoteClient interface {
	SignUp(ctx context.Context, email, password string) (Session, error)
	SignIn(ctx context.Context, email, password string) (Session, error)
	RefreshSession(ctx context.Context, refreshToken string) (Session, error)
	SignOut(ctx context.Context, accessToken string) error

	// UpdateAuthEmail updates the auth-provider identity email. It may
	// fail independently of the user row (e.g., pending verification).
	UpdateAuthEmail(ctx context.Context, accessToken, email string) error

	FetchRow(ctx context.Context, table, id string) (json.RawMessage, error)
	UpdateRow(ctx context.Context, table, id string, fields map[string]any) error
	RowQuerier
}

// tokenExpiry extracts the exp claim from a JWT access token without
// verifying the signature; verification is the server's job, the client only
// needs the timestamp for diagnostics.
func tokenExpiry(accessToken string) time.Time {
	var claims jwt.RegisteredClaims
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, &claims); err != nil {
		return time.Time{}
	}
	if claims.ExpiresAt == nil {
		return time.Time{}
	}
	return claims.ExpiresAt.Time
}
