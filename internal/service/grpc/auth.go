package grpcsvc

import (
	"context"
	"crypto/subtle"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// APIKeyHeader — metadata-ключ с API-ключом администратора.
const APIKeyHeader = "x-api-key"

// APIKeyInterceptor проверяет x-api-key для методов AdminService.
// Пустой список ключей отключает проверку; health и reflection не защищаются.
func APIKeyInterceptor(keys []string) grpc.UnaryServerInterceptor {
	allowed := make([][]byte, 0, len(keys))
	for _, key := range keys {
		if key = strings.TrimSpace(key); key != "" {
			allowed = append(allowed, []byte(key))
		}
	}

	prefix := "/" + AdminServiceName + "/"
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if len(allowed) == 0 || !strings.HasPrefix(info.FullMethod, prefix) {
			return handler(ctx, req)
		}
		if !validAPIKey(ctx, allowed) {
			return nil, status.Error(codes.Unauthenticated, "invalid or missing API key")
		}
		return handler(ctx, req)
	}
}

func validAPIKey(ctx context.Context, allowed [][]byte) bool {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return false
	}
	for _, presented := range md.Get(APIKeyHeader) {
		candidate := []byte(strings.TrimSpace(presented))
		for _, key := range allowed {
			if subtle.ConstantTimeCompare(candidate, key) == 1 {
				return true
			}
		}
	}
	return false
}
