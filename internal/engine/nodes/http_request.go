package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/worldline-go/klient"

	"github.com/rakunlabs/at-engine/internal/engine/model"
	"github.com/rakunlabs/at-engine/internal/engine/param"
	"github.com/rakunlabs/at-engine/internal/engine/registry"
)

// httpRequestNode makes an HTTP request and returns the parsed response,
// adapted from httpRequestNode
// (internal/service/workflow/nodes/http-request.go): template-rendered
// URL/method/headers/body dropped in favor of the typed inputs this
// model already provides (url, method, headers, body), the klient HTTP
// client kept as-is. There is no status-based routing: every response,
// whatever its status code, is returned on the same outputs.
type httpRequestNode struct {
	method             string
	timeout            time.Duration
	proxy              string
	insecureSkipVerify bool
	retry              bool
}

func (n *httpRequestNode) Run(ctx context.Context, rc registry.Context) registry.Outcome {
	ctx, cancel := context.WithTimeout(ctx, n.timeout)
	defer cancel()

	url, _ := asString(raw(rc.Inputs, "url"))
	if url == "" {
		return registry.Outcome{Err: fmt.Errorf("http_request: 'url' is required")}
	}

	method := n.method
	if m, ok := asString(raw(rc.Inputs, "method")); ok && m != "" {
		method = strings.ToUpper(m)
	}
	if method == "" {
		method = "GET"
	}

	var body io.Reader
	if b := raw(rc.Inputs, "body"); b != nil {
		switch v := b.(type) {
		case string:
			body = strings.NewReader(v)
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return registry.Outcome{Err: fmt.Errorf("http_request: marshal body: %w", err)}
			}
			body = bytes.NewReader(encoded)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return registry.Outcome{Err: fmt.Errorf("http_request: create request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if headers, ok := raw(rc.Inputs, "headers").(map[string]any); ok {
		for k, v := range headers {
			if s, ok := v.(string); ok {
				req.Header.Set(k, s)
			}
		}
	}

	client, err := n.buildClient()
	if err != nil {
		return registry.Outcome{Err: fmt.Errorf("http_request: build client: %w", err)}
	}

	resp, err := client.HTTP.Do(req)
	if err != nil {
		return registry.Outcome{Err: fmt.Errorf("http_request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return registry.Outcome{Err: fmt.Errorf("http_request: read response: %w", err)}
	}

	var parsed any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		parsed = string(respBody)
	}

	respHeaders := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return registry.Outcome{Outputs: map[string]param.EngineValue{
		"response":   {Kind: model.TypeJSON, Raw: parsed},
		"statusCode": {Kind: model.TypeNumber, Raw: float64(resp.StatusCode)},
		"headers":    {Kind: model.TypeJSON, Raw: respHeaders},
	}}
}

func (n *httpRequestNode) buildClient() (*klient.Client, error) {
	opts := []klient.OptionClientFn{
		klient.WithDisableBaseURLCheck(true),
		klient.WithDisableEnvValues(true),
	}
	if n.proxy != "" {
		opts = append(opts, klient.WithProxy(n.proxy))
	}
	if n.insecureSkipVerify {
		opts = append(opts, klient.WithInsecureSkipVerify(true))
	}
	opts = append(opts, klient.WithDisableRetry(!n.retry))

	return klient.New(opts...)
}

var httpRequestDescriptor = registry.Descriptor{
	ID:          "http_request",
	Type:        "http_request",
	Name:        "HTTP Request",
	Description: "Makes an HTTP request and returns the parsed response.",
	Inputs: []model.InputParam{
		{Name: "url", Type: model.TypeString, Required: true},
		{Name: "method", Type: model.TypeString, Required: false, Default: "GET"},
		{Name: "headers", Type: model.TypeJSON, Required: false},
		{Name: "body", Type: model.TypeAny, Required: false},
	},
	Outputs: []model.OutputParam{
		{Name: "response", Type: model.TypeJSON},
		{Name: "statusCode", Type: model.TypeNumber},
		{Name: "headers", Type: model.TypeJSON},
	},
	ComputeCost: 2,
	Factory: func(node model.Node) (registry.Executable, error) {
		timeout := 30.0
		if t, ok := node.Values["timeout"].(float64); ok && t > 0 {
			timeout = t
		}
		proxy, _ := node.Values["proxy"].(string)
		insecure, _ := node.Values["insecureSkipVerify"].(bool)
		retry, _ := node.Values["retry"].(bool)
		method, _ := node.Values["method"].(string)

		return &httpRequestNode{
			method:             strings.ToUpper(method),
			timeout:            time.Duration(timeout * float64(time.Second)),
			proxy:              proxy,
			insecureSkipVerify: insecure,
			retry:              retry,
		}, nil
	},
}
