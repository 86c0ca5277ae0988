package sharding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"bella-server/internal/domain/conversation"
	flowerrors "bella-server/internal/domain/errors"
)

// Error codes of the internal entity endpoint that are not flow error kinds.
const (
	CodeNotOwner       = "NOT_SHARD_OWNER"
	CodeInvalidMessage = "INVALID_MESSAGE"
)

// EntityPath is the internal route a runner serves forwarded calls on.
const EntityPath = "/internal/entities/conversation/{id}"

var (
	// ErrRunnerUnreachable is returned when the owning runner cannot be reached.
	ErrRunnerUnreachable = errors.New("runner unreachable")
	// ErrNotOwner is returned by a runner asked to serve a shard it does not own.
	ErrNotOwner = errors.New("runner does not own shard")
	// ErrNoRunners is returned when the registry lists no live runner.
	ErrNoRunners = errors.New("no live runners")
)

// Forwarder sends an entity call to another runner.
type Forwarder interface {
	Forward(ctx context.Context, owner Runner, entityID string, call EntityCall) (EntityResponse, error)
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// HTTPForwarder forwards entity calls over HTTP.
type HTTPForwarder struct {
	httpClient *resty.Client
}

// NewHTTPForwarder creates a forwarder whose calls time out after timeout.
func NewHTTPForwarder(timeout time.Duration) *HTTPForwarder {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPForwarder{
		httpClient: resty.New().
			SetHeader("Content-Type", "application/json").
			SetTimeout(timeout),
	}
}

func (f *HTTPForwarder) Forward(ctx context.Context, owner Runner, entityID string, call EntityCall) (EntityResponse, error) {
	var (
		out     EntityResponse
		failure errorBody
	)
	resp, err := f.httpClient.R().
		SetContext(ctx).
		SetPathParam("id", entityID).
		SetBody(call).
		SetResult(&out).
		SetError(&failure).
		Post(strings.TrimRight(owner.Address, "/") + EntityPath)
	if err != nil {
		if ctx.Err() != nil {
			return EntityResponse{}, ctx.Err()
		}
		return EntityResponse{}, fmt.Errorf("%w: %s: %v", ErrRunnerUnreachable, owner.ID, err)
	}
	if !resp.IsError() {
		return out, nil
	}
	return EntityResponse{}, decodeRemoteError(owner, resp.StatusCode(), failure)
}

func decodeRemoteError(owner Runner, statusCode int, body errorBody) error {
	kind := flowerrors.Kind(body.Code)
	for _, k := range flowerrors.Kinds {
		if kind == k {
			return flowerrors.New(kind, body.Message, nil)
		}
	}

	switch {
	case body.Code == CodeNotOwner || statusCode == http.StatusMisdirectedRequest:
		return fmt.Errorf("%w: %s", ErrNotOwner, owner.ID)
	case body.Code == CodeInvalidMessage || statusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", conversation.ErrInvalidMessage, body.Message)
	case statusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s answered %d", ErrRunnerUnreachable, owner.ID, statusCode)
	default:
		return fmt.Errorf("forward to %s: status %d: %s", owner.ID, statusCode, body.Message)
	}
}
