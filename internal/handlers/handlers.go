// Package handlers is the hosted variant of the hub: the same action
// protocol served from an API Gateway websocket API backed by Lambda
// and DynamoDB instead of a long-running daemon.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi"
	"github.com/aws/aws-sdk-go-v2/service/apigatewaymanagementapi/types"
	"go.uber.org/zap"

	"github.com/spotiduck/spotiduck/internal/auth"
	"github.com/spotiduck/spotiduck/internal/ratelimit"
	"github.com/spotiduck/spotiduck/internal/spotify"
	"github.com/spotiduck/spotiduck/internal/store"
	"github.com/spotiduck/spotiduck/pkg/model"
)

const (
	RouteKeyConnect    = "$connect"
	RouteKeyDisconnect = "$disconnect"

	MaxRequestBodySize = 1024

	ErrInvalidPayload  = "invalid payload"
	ErrInvalidRoute    = "invalid route"
	ErrRateLimited     = "rate limit exceeded"
	ErrMessageTooLarge = "request body too large"
)

// Sender posts a payload to one websocket connection. ErrGone marks a
// connection that no longer exists.
type Sender interface {
	Send(ctx context.Context, req events.APIGatewayWebsocketProxyRequest, connectionID string, payload []byte) error
}

var ErrGone = errors.New("connection gone")

// Commander executes transport commands against the playback API.
type Commander interface {
	Command(ctx context.Context, token, command string, params map[string]string) error
}

type Handler struct {
	logger       *zap.Logger
	store        store.Store
	connections  Connections
	sender       Sender
	commander    Commander
	tokenURL     string
	http         *http.Client
	refreshLimit *ratelimit.Limiter
}

func NewHandler(logger *zap.Logger, s store.Store, connections Connections, sender Sender, commander Commander, tokenURL string) *Handler {
	if tokenURL == "" {
		tokenURL = auth.DefaultTokenURL
	}
	return &Handler{
		logger:       logger,
		store:        s,
		connections:  connections,
		sender:       sender,
		commander:    commander,
		tokenURL:     tokenURL,
		http:         &http.Client{Timeout: 10 * time.Second},
		refreshLimit: ratelimit.New(ratelimit.DefaultRefreshLimit, ratelimit.DefaultWindow),
	}
}

// HandleRequest routes one API Gateway websocket event. The route key
// is the action field of the message body, selected by the API's
// routeSelectionExpression.
func (h *Handler) HandleRequest(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	switch req.RequestContext.RouteKey {
	case RouteKeyConnect:
		return h.handleConnect(ctx, req)
	case RouteKeyDisconnect:
		return h.handleDisconnect(ctx, req)
	case model.ActionGetToken:
		return h.handleGetToken(ctx, req)
	case model.ActionUpdateToken:
		return h.handleUpdateToken(ctx, req)
	case model.ActionRefreshToken:
		return h.handleRefreshToken(ctx, req)
	case model.ActionUpdateVolume:
		return h.handleUpdateVolume(ctx, req)
	case model.ActionCommand:
		return h.handleCommand(ctx, req)
	default:
		h.logger.Warn("unknown route key", zap.String("routeKey", req.RequestContext.RouteKey))
		return errorResponse(400, ErrInvalidRoute), nil
	}
}

func (h *Handler) handleConnect(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID
	if err := h.connections.Add(ctx, connectionID); err != nil {
		h.logger.Error("failed to add connection", zap.String("connectionID", connectionID), zap.Error(err))
		return errorResponse(500, "failed to add connection"), nil
	}
	h.logger.Info("client connected", zap.String("connectionID", connectionID))
	return successResponse(), nil
}

func (h *Handler) handleDisconnect(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID
	if err := h.connections.Remove(ctx, connectionID); err != nil {
		h.logger.Error("failed to delete connection", zap.String("connectionID", connectionID), zap.Error(err))
		return errorResponse(500, "failed to delete connection"), nil
	}
	h.logger.Info("client disconnected", zap.String("connectionID", connectionID))
	return successResponse(), nil
}

func (h *Handler) handleGetToken(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	msg, resp := h.parseBody(req)
	if resp != nil {
		return *resp, nil
	}

	token, err := h.store.Get(ctx, store.KeyAccessToken)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("failed to read token", zap.Error(err))
		return errorResponse(500, "failed to read token"), nil
	}

	reply := model.Message{Action: model.ActionGetToken, ID: msg.ID, Token: token}
	if err := h.sendTo(ctx, req, req.RequestContext.ConnectionID, reply); err != nil {
		h.logger.Error("failed to send token", zap.Error(err))
		return errorResponse(500, "failed to send token"), nil
	}
	return successResponse(), nil
}

func (h *Handler) handleUpdateToken(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	msg, resp := h.parseBody(req)
	if resp != nil {
		return *resp, nil
	}
	if msg.Token == "" {
		return errorResponse(400, ErrInvalidPayload), nil
	}

	if err := h.store.Set(ctx, store.KeyAccessToken, msg.Token); err != nil {
		h.logger.Error("failed to store token", zap.Error(err))
		return errorResponse(500, "failed to store token"), nil
	}
	return successResponse(), nil
}

func (h *Handler) handleRefreshToken(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	connectionID := req.RequestContext.ConnectionID
	if !h.refreshLimit.Allow(connectionID) {
		h.logger.Warn("refresh request rate limited", zap.String("connectionID", connectionID))
		return errorResponse(429, ErrRateLimited), nil
	}

	token, err := h.refresh(ctx)
	if err != nil {
		h.logger.Error("token refresh failed", zap.Error(err))
		return errorResponse(500, "token refresh failed"), nil
	}

	h.broadcast(ctx, req, model.Message{Action: model.ActionTokenRefreshed, Token: token}, "")
	return successResponse(), nil
}

func (h *Handler) handleUpdateVolume(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	msg, resp := h.parseBody(req)
	if resp != nil {
		return *resp, nil
	}
	if msg.Volume == nil {
		return errorResponse(400, ErrInvalidPayload), nil
	}
	if err := store.SaveTargetVolume(ctx, h.store, *msg.Volume); err != nil {
		return errorResponse(400, err.Error()), nil
	}

	h.broadcast(ctx, req, msg, req.RequestContext.ConnectionID)
	return successResponse(), nil
}

func (h *Handler) handleCommand(ctx context.Context, req events.APIGatewayWebsocketProxyRequest) (events.APIGatewayProxyResponse, error) {
	msg, resp := h.parseBody(req)
	if resp != nil {
		return *resp, nil
	}
	if msg.Command == "" {
		return errorResponse(400, ErrInvalidPayload), nil
	}

	token, err := h.store.Get(ctx, store.KeyAccessToken)
	if err != nil || token == "" {
		return errorResponse(409, "no access token available"), nil
	}

	err = h.commander.Command(ctx, token, msg.Command, msg.Params)
	if errors.Is(err, spotify.ErrTokenExpired) {
		fresh, rerr := h.refresh(ctx)
		if rerr != nil {
			h.logger.Error("token refresh failed", zap.Error(rerr))
			return errorResponse(500, "token refresh failed"), nil
		}
		h.broadcast(ctx, req, model.Message{Action: model.ActionTokenRefreshed, Token: fresh}, "")
		err = h.commander.Command(ctx, fresh, msg.Command, msg.Params)
	}
	if err != nil {
		h.logger.Error("spotify command failed", zap.String("command", msg.Command), zap.Error(err))
		return errorResponse(502, "command failed"), nil
	}
	return successResponse(), nil
}

// refresh mints a fresh access token and persists it with its expiry.
func (h *Handler) refresh(ctx context.Context) (string, error) {
	creds, err := store.GetCredentials(ctx, h.store)
	if err != nil {
		return "", err
	}

	tr, err := auth.Exchange(ctx, h.http, h.tokenURL, creds)
	if err != nil {
		return "", err
	}

	if err := h.store.Set(ctx, store.KeyAccessToken, tr.AccessToken); err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	expiry := time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second).Unix()
	if err := h.store.Set(ctx, store.KeyTokenExpiry, strconv.FormatInt(expiry, 10)); err != nil {
		h.logger.Warn("failed to store token expiry", zap.Error(err))
	}

	h.logger.Info("access token refreshed", zap.Int("expiresIn", tr.ExpiresIn))
	return tr.AccessToken, nil
}

// broadcast sends msg to every known connection except exclude,
// dropping connections that are gone.
func (h *Handler) broadcast(ctx context.Context, req events.APIGatewayWebsocketProxyRequest, msg model.Message, exclude string) {
	connectionIDs, err := h.connections.List(ctx)
	if err != nil {
		h.logger.Error("failed to list connections", zap.Error(err))
		return
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshal broadcast", zap.Error(err))
		return
	}

	for _, connID := range connectionIDs {
		if connID == exclude {
			continue
		}
		if err := h.sender.Send(ctx, req, connID, payload); err != nil {
			if errors.Is(err, ErrGone) {
				_ = h.connections.Remove(ctx, connID)
				continue
			}
			h.logger.Error("failed to send", zap.String("connectionID", connID), zap.Error(err))
		}
	}
}

func (h *Handler) sendTo(ctx context.Context, req events.APIGatewayWebsocketProxyRequest, connectionID string, msg model.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	return h.sender.Send(ctx, req, connectionID, payload)
}

// parseBody validates and decodes the request body. On failure the
// second return value is the response to send back.
func (h *Handler) parseBody(req events.APIGatewayWebsocketProxyRequest) (model.Message, *events.APIGatewayProxyResponse) {
	if len(req.Body) > MaxRequestBodySize {
		resp := errorResponse(400, ErrMessageTooLarge)
		return model.Message{}, &resp
	}
	var msg model.Message
	if err := json.Unmarshal([]byte(req.Body), &msg); err != nil {
		resp := errorResponse(400, ErrInvalidPayload)
		return model.Message{}, &resp
	}
	return msg, nil
}

func successResponse() events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: 200}
}

func errorResponse(statusCode int, message string) events.APIGatewayProxyResponse {
	return events.APIGatewayProxyResponse{StatusCode: statusCode, Body: message}
}

// APISender posts payloads through the API Gateway management API.
type APISender struct {
	awsConfig aws.Config
}

func NewAPISender(awsConfig aws.Config) *APISender {
	return &APISender{awsConfig: awsConfig}
}

func (s *APISender) Send(ctx context.Context, req events.APIGatewayWebsocketProxyRequest, connectionID string, payload []byte) error {
	client := s.newAPIClient(req.RequestContext.APIID, req.RequestContext.Stage)
	_, err := client.PostToConnection(ctx, &apigatewaymanagementapi.PostToConnectionInput{
		ConnectionId: &connectionID,
		Data:         payload,
	})
	if err != nil {
		var gone *types.GoneException
		if errors.As(err, &gone) {
			return ErrGone
		}
		return fmt.Errorf("post to connection %s: %w", connectionID, err)
	}
	return nil
}

func (s *APISender) newAPIClient(apiID, stage string) *apigatewaymanagementapi.Client {
	endpoint := fmt.Sprintf("https://%s.execute-api.%s.amazonaws.com/%s", apiID, s.awsConfig.Region, stage)
	return apigatewaymanagementapi.NewFromConfig(
		s.awsConfig,
		func(o *apigatewaymanagementapi.Options) {
			o.EndpointResolver = apigatewaymanagementapi.EndpointResolverFromURL(endpoint)
		},
		apigatewaymanagementapi.WithSigV4SigningName("execute-api"),
		apigatewaymanagementapi.WithSigV4SigningRegion(s.awsConfig.Region),
	)
}
