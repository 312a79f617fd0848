package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

func sign(t *testing.T, claims Claims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return tok
}

func TestParseToken(t *testing.T) {
	exp := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	raw := sign(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1", ExpiresAt: jwt.NewNumericDate(exp)},
		EmployeeID:       "emp-9",
	})

	info, err := ParseToken(raw)
	require.NoError(t, err)
	assert.Equal(t, "user-1", info.Subject)
	assert.Equal(t, "emp-9", info.EmployeeID)
	require.NotNil(t, info.ExpiresAt)
	assert.True(t, info.ExpiresAt.Equal(exp))

	assert.False(t, info.Expired(exp.Add(-time.Second)))
	assert.True(t, info.Expired(exp))
}

func TestParseToken_NoExpiryNeverExpires(t *testing.T) {
	info, err := ParseToken(sign(t, Claims{EmployeeID: "emp"}))
	require.NoError(t, err)
	assert.Nil(t, info.ExpiresAt)
	assert.False(t, info.Expired(time.Now()))
}

func TestParseToken_Errors(t *testing.T) {
	_, err := ParseToken("")
	require.ErrorIs(t, err, ErrEmptyToken)

	_, err = ParseToken("not-a-valid-jwt")
	require.Error(t, err)
}

func TestUnaryClientInterceptor(t *testing.T) {
	token := "tok-1"
	icpt := UnaryClientInterceptor(func() string { return token })

	var seen []string
	invoker := func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		seen = md.Get(common.AccessTokenHeaderName)
		return nil
	}

	ctx := WithAccessToken(context.Background(), "stale")
	require.NoError(t, icpt(ctx, "/svc/M", nil, nil, nil, invoker))
	assert.Equal(t, []string{"tok-1"}, seen)

	token = ""
	require.NoError(t, icpt(context.Background(), "/svc/M", nil, nil, nil, invoker))
	assert.Empty(t, seen)
}
