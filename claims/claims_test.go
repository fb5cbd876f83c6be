package claims

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unsignedToken(t *testing.T, c *IDTokenClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodNone, c)
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	return s
}

func TestExtractIDTokenClaims(t *testing.T) {
	oid := uuid.New()
	tid := uuid.New()
	issued := time.Now().Add(-time.Minute).Truncate(time.Second)

	raw := unsignedToken(t, &IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://login.microsoftonline.com/" + tid.String() + "/v2.0",
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(time.Hour)),
		},
		ObjectID:          oid.String(),
		TenantID:          tid.String(),
		Name:              "Alice Example",
		PreferredUsername: "alice@contoso.com",
		Roles:             []string{"Offers.Read"},
	})

	p, err := ExtractIDTokenClaims(raw)
	require.NoError(t, err)
	assert.Equal(t, oid, p.ObjectID)
	assert.Equal(t, tid, p.TenantID)
	assert.Equal(t, "Alice Example", p.Name)
	assert.Equal(t, "alice@contoso.com", p.Username)
	assert.Equal(t, "alice@contoso.com", p.Email, "email falls back to preferred_username")
	assert.True(t, p.IssuedAt.Equal(issued))
	assert.True(t, p.HasRole("Offers.Read"))
	assert.False(t, p.HasRole("Offers.Write"))
}

func TestExtractIDTokenClaimsExpiredTokenStillParses(t *testing.T) {
	raw := unsignedToken(t, &IDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
		ObjectID: uuid.NewString(),
		TenantID: uuid.NewString(),
	})

	_, err := ExtractIDTokenClaims(raw)
	assert.NoError(t, err)
}

func TestExtractIDTokenClaimsErrors(t *testing.T) {
	tests := []struct {
		name   string
		claims *IDTokenClaims
		want   string
	}{
		{"missing oid", &IDTokenClaims{TenantID: uuid.NewString()}, "oid"},
		{"invalid oid", &IDTokenClaims{ObjectID: "nope", TenantID: uuid.NewString()}, "invalid oid"},
		{"missing tid", &IDTokenClaims{ObjectID: uuid.NewString()}, "tid"},
		{"invalid tid", &IDTokenClaims{ObjectID: uuid.NewString(), TenantID: "contoso"}, "invalid tid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractIDTokenClaims(unsignedToken(t, tt.claims))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	t.Run("garbage", func(t *testing.T) {
		_, err := ExtractIDTokenClaims("not-a-jwt")
		assert.Error(t, err)
	})
}
