// Package gateway composes the request pipeline: credential validation,
// prefix routing, the billing gate and JSON-RPC dispatch, shared identically
// by the HTTP and WebSocket transports.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/viant/jsonrpc"
	proto "github.com/viant/mcp-protocol/schema"

	"github.com/relayforge/relayforge/adapter"
	"github.com/relayforge/relayforge/billing"
	"github.com/relayforge/relayforge/gateway/authgate"
	"github.com/relayforge/relayforge/gateway/router"
	"github.com/relayforge/relayforge/schema"
	"github.com/relayforge/relayforge/store"
)

// Dispatcher normalizes envelopes, answers system methods and orchestrates
// Auth→Route→Bill→Invoke→Track. It is the single place where typed errors and
// adapter panics become protocol-correct responses: no request goes
// unanswered, no failure crashes the process.
type Dispatcher struct {
	router       *router.Router
	billing      *billing.Gate
	logger       *slog.Logger
	info         proto.Implementation
	instructions *string
}

// NewDispatcher creates the dispatcher shared by both transports.
func NewDispatcher(serviceRouter *router.Router, billingGate *billing.Gate, logger *slog.Logger, info proto.Implementation) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		router:  serviceRouter,
		billing: billingGate,
		logger:  logger,
		info:    info,
	}
}

// Dispatch handles one envelope for an already-authenticated caller. The env
// map carries caller-supplied environment harvested by the transport from
// X-Env headers, keyed {SERVICE}_{VAR}.
func (d *Dispatcher) Dispatch(ctx context.Context, caller *authgate.Context, request *jsonrpc.Request, env map[string]string) (response *jsonrpc.Response) {
	response = &jsonrpc.Response{Jsonrpc: jsonrpc.Version, Id: request.Id}
	defer func() {
		if recovered := recover(); recovered != nil {
			d.logger.Error("dispatch panic", "method", request.Method, "panic", recovered)
			response.Error = jsonrpc.NewInternalError(fmt.Sprintf("%v", recovered), nil)
			response.Result = nil
		}
	}()
	if request.Jsonrpc != "" && request.Jsonrpc != jsonrpc.Version {
		response.Error = jsonrpc.NewInvalidRequest("invalid JSON-RPC version", nil)
		return response
	}

	switch request.Method {
	case proto.MethodInitialize:
		response.Result = schema.MustMarshal(d.initializeResult())
	case proto.MethodNotificationInitialized:
		// Acknowledged with an empty result on HTTP; the WebSocket transport
		// drops the reply since notifications carry no id.
		response.Result = schema.EmptyResult
	case proto.MethodPing:
		response.Result = schema.EmptyResult
	case proto.MethodToolsList:
		d.listTools(ctx, response)
	case proto.MethodToolsCall:
		routedMethod, rewritten, jsonErr := d.rewriteToolCall(request)
		if jsonErr != nil {
			response.Error = jsonErr
			return response
		}
		d.invoke(ctx, caller, routedMethod, request.Method, rewritten, env, response)
	default:
		d.invoke(ctx, caller, request.Method, request.Method, request, env, response)
	}
	return response
}

func (d *Dispatcher) initializeResult() *proto.InitializeResult {
	return &proto.InitializeResult{
		ProtocolVersion: proto.LatestProtocolVersion,
		ServerInfo:      d.info,
		Capabilities:    proto.ServerCapabilities{Tools: &proto.ServerCapabilitiesTools{}},
		Instructions:    d.instructions,
	}
}

// listTools fans tools/list out to every registered adapter and concatenates
// the catalogs, prefixing each tool with its service so calls can be routed
// back. One broken service never blanks the whole catalog: its failure is
// logged and its tools are omitted.
func (d *Dispatcher) listTools(ctx context.Context, response *jsonrpc.Response) {
	aggregated := &schema.ListToolsResult{Tools: []schema.Tool{}}
	for _, service := range d.router.Services() {
		tools, err := d.ServiceTools(ctx, service)
		if err != nil {
			d.logger.Warn("tools/list failed for service", "service", service.Name, "error", err)
			continue
		}
		for _, tool := range tools {
			tool.Name = router.Join(service.Prefix, tool.Name)
			aggregated.Tools = append(aggregated.Tools, tool)
		}
	}
	response.Result = schema.MustMarshal(aggregated)
}

// ServiceTools queries one adapter's catalog, unprefixed.
func (d *Dispatcher) ServiceTools(ctx context.Context, service *router.Registration) ([]schema.Tool, error) {
	request, err := jsonrpc.NewRequest(proto.MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	serviceResponse, err := d.safeInvoke(ctx, service, request)
	if err != nil {
		return nil, err
	}
	if serviceResponse.Error != nil {
		return nil, fmt.Errorf("tools/list rejected: %v", serviceResponse.Error.Message)
	}
	var listed schema.ListToolsResult
	if err := json.Unmarshal(serviceResponse.Result, &listed); err != nil {
		return nil, err
	}
	return listed.Tools, nil
}

// rewriteToolCall derives the target service from the tool name's prefix.
// "calendar_listEvents" routes as "calendar_tools/call" while the adapter
// sees plain "tools/call" with tool name "listEvents": adapters speak
// unprefixed vanilla MCP.
func (d *Dispatcher) rewriteToolCall(request *jsonrpc.Request) (string, *jsonrpc.Request, *jsonrpc.Error) {
	var params map[string]interface{}
	if err := json.Unmarshal(request.Params, &params); err != nil {
		return "", nil, jsonrpc.NewInvalidParamsError(fmt.Sprintf("failed to parse: %v", err), request.Params)
	}
	name, _ := params["name"].(string)
	if name == "" {
		return "", nil, jsonrpc.NewInvalidParamsError("missing tool name", request.Params)
	}
	prefix, inner, ok := router.Split(name)
	if !ok {
		// Unprefixed legacy tool name: let the router's default-service
		// fallback decide.
		return proto.MethodToolsCall, request, nil
	}
	params["name"] = inner
	rewrittenParams, err := json.Marshal(params)
	if err != nil {
		return "", nil, jsonrpc.NewInternalError(err.Error(), nil)
	}
	rewritten := &jsonrpc.Request{
		Jsonrpc: request.Jsonrpc,
		Id:      request.Id,
		Method:  request.Method,
		Params:  rewrittenParams,
	}
	return router.Join(prefix, proto.MethodToolsCall), rewritten, nil
}

// invoke runs the billable path: resolve, check credits, inject auth
// material, call the adapter, charge only on success and track exactly once
// with the real outcome.
func (d *Dispatcher) invoke(ctx context.Context, caller *authgate.Context, routedMethod, externalMethod string, request *jsonrpc.Request, env map[string]string, response *jsonrpc.Response) {
	resolution, err := d.router.ResolveWithAuth(ctx, routedMethod, caller.UserID)
	if err != nil {
		response.Error = d.translateRoutingError(err)
		return
	}
	service := resolution.Service

	quote, err := d.billing.CheckCredits(ctx, caller.UserID, service.Name)
	if err != nil {
		var unavailable *billing.ServiceUnavailableError
		if errors.As(err, &unavailable) {
			response.Error = schema.NewServiceUnavailable(unavailable.Error())
		} else {
			d.logger.Error("credit check failed", "service", service.Name, "error", err)
			response.Error = jsonrpc.NewInternalError("credit check failed", nil)
		}
		d.track(ctx, caller, service.Name, externalMethod, 0, false)
		return
	}
	if !quote.Allowed {
		response.Error = schema.NewInsufficientCredits(service.Name, quote.UserCredits, quote.Price)
		d.track(ctx, caller, service.Name, externalMethod, 0, false)
		return
	}

	callCtx := d.credentialContext(ctx, resolution, env)

	innerRequest := &jsonrpc.Request{
		Jsonrpc: jsonrpc.Version,
		Id:      request.Id,
		Method:  resolution.InnerMethod,
		Params:  request.Params,
	}
	adapterResponse, err := d.safeInvoke(callCtx, service, innerRequest)
	if err != nil {
		// Adapter failure is answered, never crashes the gateway; no charge.
		data, _ := json.Marshal(err.Error())
		response.Error = &jsonrpc.Error{Code: schema.CodeInternalError, Message: "Internal error", Data: data}
		d.track(ctx, caller, service.Name, externalMethod, 0, false)
		return
	}

	response.Result = adapterResponse.Result
	response.Error = adapterResponse.Error
	success := adapterResponse.Error == nil

	var charged int64
	if success {
		// Credits are debited only after the downstream call reports success.
		ok, chargeErr := d.billing.Charge(ctx, caller.UserID, quote.Price)
		switch {
		case chargeErr != nil:
			d.logger.Error("post-success charge failed", "service", service.Name, "user", caller.UserID, "error", chargeErr)
		case !ok:
			d.logger.Warn("post-success charge rejected, balance raced to zero", "service", service.Name, "user", caller.UserID)
		default:
			charged = quote.Price
		}
	}
	d.track(ctx, caller, service.Name, externalMethod, charged, success)
}

func (d *Dispatcher) translateRoutingError(err error) *jsonrpc.Error {
	var notFound *router.ServiceNotFoundError
	if errors.As(err, &notFound) {
		return jsonrpc.NewMethodNotFound(notFound.Error(), nil)
	}
	var notMapped *router.ProviderNotMappedError
	if errors.As(err, &notMapped) {
		// Deployment misconfiguration, not a user error.
		d.logger.Error("provider not mapped", "service", notMapped.Service)
		return jsonrpc.NewInternalError(notMapped.Error(), nil)
	}
	var tokenErr *router.OAuthTokenError
	if errors.As(err, &tokenErr) {
		data, _ := json.Marshal(map[string]string{"service": tokenErr.Service})
		return schema.NewUnauthorized(tokenErr.Err.Error(), data)
	}
	return jsonrpc.NewInternalError(err.Error(), nil)
}

// credentialContext attaches this call's credentials to the context handed to
// the adapter. Credentials never touch adapter state: concurrent calls for
// different users share one adapter instance, and each must carry only its
// own material. OAuth tokens were fetched fresh during resolution; API-key
// environment comes from the caller's headers, filtered to the target
// service's namespace.
func (d *Dispatcher) credentialContext(ctx context.Context, resolution *router.Resolution, env map[string]string) context.Context {
	service := resolution.Service
	switch service.Injection {
	case adapter.InjectOAuth:
		if resolution.Token != nil {
			ctx = adapter.WithAccessToken(ctx, resolution.Token.AccessToken)
		}
	case adapter.InjectAPIKey:
		if resolution.NeedsEnv {
			namespace := strings.ToUpper(service.Name) + "_"
			vars := map[string]string{}
			for key, value := range env {
				if strings.HasPrefix(key, namespace) {
					vars[key] = value
				}
			}
			ctx = adapter.WithEnvironment(ctx, vars)
		}
	}
	return ctx
}

// safeInvoke shields the pipeline from panicking adapters.
func (d *Dispatcher) safeInvoke(ctx context.Context, service *router.Registration, request *jsonrpc.Request) (response *jsonrpc.Response, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			response = nil
			err = fmt.Errorf("adapter panic: %v", recovered)
		}
	}()
	response, err = service.Adapter.HandleRequest(ctx, request)
	if err == nil && response == nil {
		err = fmt.Errorf("adapter for %q returned no response", service.Name)
	}
	return response, err
}

func (d *Dispatcher) track(ctx context.Context, caller *authgate.Context, service, method string, credits int64, success bool) {
	d.billing.Track(ctx, &store.Usage{
		Identifier: caller.Identifier,
		UserID:     caller.UserID,
		Service:    service,
		Method:     method,
		Credits:    credits,
		Success:    success,
	})
}
