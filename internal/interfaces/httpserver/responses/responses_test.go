package responses

import (
	"fmt"
	"net/http"
	"testing"

	"bella-server/internal/domain/conversation"
	flowerrors "bella-server/internal/domain/errors"
	"bella-server/internal/infrastructure/sharding"
)

func TestStatusForKind_CoversEveryKind(t *testing.T) {
	for _, kind := range flowerrors.Kinds {
		if status := StatusForKind(kind); status < 400 {
			t.Errorf("StatusForKind(%s) = %d, want an error status", kind, status)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"stopping idle", flowerrors.StoppingIdle("m1"), http.StatusConflict, "STOPPING_IDLE"},
		{"data access", flowerrors.DataAccess(fmt.Errorf("conn reset"), "start conversation"), http.StatusServiceUnavailable, "DATA_ACCESS_ERROR"},
		{"wrapped flow error", fmt.Errorf("route: %w", flowerrors.Generation(nil, "model failed")), http.StatusBadGateway, "GENERATION_ERROR"},
		{"invalid message", fmt.Errorf("%w: no parts", conversation.ErrInvalidMessage), http.StatusBadRequest, "INVALID_MESSAGE"},
		{"not owner", sharding.ErrNotOwner, http.StatusMisdirectedRequest, "NOT_SHARD_OWNER"},
		{"no runners", sharding.ErrNoRunners, http.StatusServiceUnavailable, "SHARD_UNAVAILABLE"},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := describe(tt.err)
			if status != tt.wantStatus || body.Code != tt.wantCode {
				t.Errorf("describe() = %d %s, want %d %s", status, body.Code, tt.wantStatus, tt.wantCode)
			}
		})
	}
}
