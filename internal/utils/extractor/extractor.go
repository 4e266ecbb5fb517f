package extractor

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"google.golang.org/grpc/metadata"
)

type Extractor interface {
	Get(ctx context.Context, name string) []string
	GetFirst(ctx context.Context, name string) string
	GetUserID(ctx context.Context) (uint64, error)
	GetRoleIDs(ctx context.Context) []string
	GetXForwardedFor(ctx context.Context) string
	GetRequestID(ctx context.Context) string
}

type extractor struct {
}

func New() Extractor {
	return &extractor{}
}

func (t *extractor) Get(ctx context.Context, name string) []string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return nil
	}

	return md.Get(name)
}

func (t *extractor) GetFirst(ctx context.Context, name string) string {
	values := t.Get(ctx, name)
	if len(values) == 0 {
		return ""
	}

	return values[0]
}

func (t *extractor) GetUserID(ctx context.Context) (uint64, error) {
	values := t.Get(ctx, UserID)
	if len(values) == 0 {
		return 0, errors.New("metadata does not have x-user-id")
	}

	return strconv.ParseUint(values[0], 10, 64)
}

func (t *extractor) GetRoleIDs(ctx context.Context) []string {
	return t.Get(ctx, RoleID)
}

func (t *extractor) GetXForwardedFor(ctx context.Context) string {
	values := t.Get(ctx, XForwardedFor)
	if len(values) == 0 {
		return ""
	}

	return strings.Join(values[:], ",")
}

func (t *extractor) GetRequestID(ctx context.Context) string {
	return t.GetFirst(ctx, XRequestID)
}
