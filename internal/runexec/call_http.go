package runexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"workflowcore/internal/expr"
	"workflowcore/internal/interp"
	"workflowcore/internal/node"
	"workflowcore/internal/wferrors"
)

// OutputMode selects how CallHTTPExecutor shapes a response per spec §4.3.8.
type OutputMode string

const (
	OutputContent  OutputMode = "content"
	OutputRaw      OutputMode = "raw"
	OutputResponse OutputMode = "response"
)

// SecretResolver resolves a named secret for an auth policy, per spec
// §6.3's getSecretByName contract. Concrete sources (env, vault, file) are
// an external collaborator; this package only depends on the interface.
type SecretResolver interface {
	GetSecretByName(ctx context.Context, name string) (string, error)
}

// CallHTTPExecutor implements `call: http` tasks: method/endpoint/headers/
// query/body from `with`, PATCH rejected as a CONFIGURATION error per spec
// §4.3.8, output reshaped per OutputMode, and Basic/Bearer/OAuth2 auth
// policies resolved through a SecretResolver. This component has no
// teacher analogue (Station's workflow runtime never calls arbitrary HTTP
// endpoints); it is built fresh against net/http and
// golang.org/x/oauth2/clientcredentials, both already present across the
// retrieved example pack (serverlessworkflow-sdk-go, jordigilh-kubernaut).
type CallHTTPExecutor struct {
	Client   *http.Client
	Secrets  SecretResolver
	Eval     *expr.Evaluator
}

func (e *CallHTTPExecutor) SupportedKinds() []node.Kind { return []node.Kind{node.KindCallHTTP} }

func (e *CallHTTPExecutor) Execute(ctx context.Context, rc *interp.RunContext, n *node.Node) (any, error) {
	with := n.Task.Call.With
	method, _ := with["method"].(string)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	if method == http.MethodPatch {
		return nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "PATCH is not a supported call.http method")
	}

	endpoint, _ := with["endpoint"].(string)
	if endpoint == "" {
		return nil, wferrors.New(wferrors.KindConfiguration, n.Position, nil, "call.http requires an endpoint")
	}
	if query, ok := with["query"].(map[string]any); ok && len(query) > 0 {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, wferrors.New(wferrors.KindConfiguration, n.Position, err, "")
		}
		q := u.Query()
		for k, v := range query {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	var bodyReader io.Reader
	if body, ok := with["body"]; ok {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, wferrors.New(wferrors.KindRuntime, n.Position, err, "")
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bodyReader)
	if err != nil {
		return nil, wferrors.New(wferrors.KindConfiguration, n.Position, err, "")
	}
	if bodyReader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if headers, ok := with["headers"].(map[string]any); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprintf("%v", v))
		}
	}

	if err := e.applyAuth(ctx, req, with); err != nil {
		return nil, err
	}

	client := e.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	// redirect: false means 3xx responses must surface as a COMMUNICATION
	// error carrying the status code, per spec §4.3.8, rather than the
	// default http.Client behavior of transparently following them.
	redirectDisabled := false
	if follow, ok := with["redirect"].(bool); ok && !follow {
		redirectDisabled = true
		derived := *client
		derived.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
		client = &derived
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, wferrors.New(wferrors.KindCommunication, n.Position, err, "")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, wferrors.New(wferrors.KindCommunication, n.Position, err, "")
	}

	if resp.StatusCode >= 400 || (redirectDisabled && resp.StatusCode >= 300 && resp.StatusCode < 400) {
		return nil, &wferrors.WorkflowError{
			Type:     "https://serverlessworkflow.io/spec/1.0.0/errors/communication",
			Title:    string(wferrors.KindCommunication),
			Status:   resp.StatusCode,
			Detail:   string(data),
			Instance: n.Position,
		}
	}

	mode := OutputMode(stringOr(with["output"], string(OutputContent)))
	switch mode {
	case OutputRaw:
		return string(data), nil
	case OutputResponse:
		return map[string]any{
			"statusCode": resp.StatusCode,
			"headers":    flattenHeaders(resp.Header),
			"content":    decodeOrString(data),
			"request": map[string]any{
				"method":  method,
				"uri":     endpoint,
				"headers": flattenHeaders(req.Header),
			},
		}, nil
	default:
		return decodeOrString(data), nil
	}
}

func (e *CallHTTPExecutor) applyAuth(ctx context.Context, req *http.Request, with map[string]any) error {
	auth, ok := with["authentication"].(map[string]any)
	if !ok {
		return nil
	}
	switch authType, _ := auth["type"].(string); authType {
	case "basic":
		user, _ := auth["username"].(string)
		pass, _ := e.resolveSecret(ctx, auth["password"])
		req.SetBasicAuth(user, pass)
	case "bearer":
		token, _ := e.resolveSecret(ctx, auth["token"])
		req.Header.Set("Authorization", "Bearer "+token)
	case "oauth2":
		clientID, _ := auth["clientId"].(string)
		clientSecret, _ := e.resolveSecret(ctx, auth["clientSecret"])
		tokenURL, _ := auth["tokenUrl"].(string)
		cfg := clientcredentials.Config{ClientID: clientID, ClientSecret: clientSecret, TokenURL: tokenURL}
		tok, err := cfg.Token(ctx)
		if err != nil {
			return wferrors.New(wferrors.KindAuthentication, "", err, "")
		}
		tok.SetAuthHeader(req)
	}
	return nil
}

func (e *CallHTTPExecutor) resolveSecret(ctx context.Context, v any) (string, error) {
	s, _ := v.(string)
	if e.Secrets == nil || !strings.HasPrefix(s, "secret:") {
		return s, nil
	}
	return e.Secrets.GetSecretByName(ctx, strings.TrimPrefix(s, "secret:"))
}

func stringOr(v any, def string) string {
	if s, ok := v.(string); ok && s != "" {
		return s
	}
	return def
}

func decodeOrString(data []byte) any {
	var v any
	if err := json.Unmarshal(data, &v); err == nil {
		return v
	}
	return string(data)
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
