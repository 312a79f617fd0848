// Package auth inspects the bearer token handed to the engine and attaches
// it to outbound gRPC calls. Signature verification is the server's job;
// the device only reads the claims it needs to decide whether a preload is
// worth attempting.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/dmitrijs2005/fieldsync/internal/common"
)

var ErrEmptyToken = errors.New("empty auth token")

// Claims are the token claims the engine reads.
type Claims struct {
	jwt.RegisteredClaims
	EmployeeID string `json:"employeeId,omitempty"`
}

// TokenInfo is the decoded view of a bearer token.
type TokenInfo struct {
	Subject    string
	EmployeeID string
	ExpiresAt  *time.Time
}

// Expired reports whether the token has an expiry at or before now.
func (t TokenInfo) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && !now.Before(*t.ExpiresAt)
}

// ParseToken decodes raw without verifying its signature.
func ParseToken(raw string) (TokenInfo, error) {
	if raw == "" {
		return TokenInfo{}, ErrEmptyToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return TokenInfo{}, fmt.Errorf("parse token: %w", err)
	}

	info := TokenInfo{Subject: claims.Subject, EmployeeID: claims.EmployeeID}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.Time.UTC()
		info.ExpiresAt = &exp
	}
	return info, nil
}

// WithAccessToken returns ctx carrying token in the outgoing metadata,
// replacing any previous value.
func WithAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Set(common.AccessTokenHeaderName, token)
	return metadata.NewOutgoingContext(ctx, md)
}

// UnaryClientInterceptor attaches the token returned by token() to every
// call. Calls go out bare while the token is empty.
func UnaryClientInterceptor(token func() string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if t := token(); t != "" {
			ctx = WithAccessToken(ctx, t)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}
