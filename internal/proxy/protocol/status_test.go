package protocol

import (
	"testing"

	"google.golang.org/grpc/codes"
)

func TestGRPCStatusToHTTP(t *testing.T) {
	tests := []struct {
		code codes.Code
		want int
	}{
		{codes.OK, 200},
		{codes.InvalidArgument, 400},
		{codes.Unauthenticated, 401},
		{codes.PermissionDenied, 403},
		{codes.NotFound, 404},
		{codes.AlreadyExists, 409},
		{codes.ResourceExhausted, 429},
		{codes.Canceled, 499},
		{codes.Internal, 500},
		{codes.Unknown, 500},
		{codes.Unimplemented, 501},
		{codes.Unavailable, 503},
		{codes.DeadlineExceeded, 504},
	}
	for _, tt := range tests {
		if got := GRPCStatusToHTTP(tt.code); got != tt.want {
			t.Errorf("GRPCStatusToHTTP(%v) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
