package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/deepnoodle-ai/runnel/eval"
	"github.com/deepnoodle-ai/runnel/events"
	"github.com/deepnoodle-ai/runnel/script"
	"github.com/deepnoodle-ai/runnel/workflow"
)

const (
	// DefaultHTTPTimeout bounds httpRequest and slack calls.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultDelay is used by delay nodes without a duration.
	DefaultDelay = 1000 * time.Millisecond

	defaultSlackChannel = "#general"
	defaultEmailSender  = "noreply@runnel.local"
)

func (e *Engine) registerBuiltins() {
	e.registry.Register(workflow.TypeWebhook, e.webhook)
	e.registry.Register(workflow.TypeHTTPRequest, e.httpRequest)
	e.registry.Register(workflow.TypeSlack, e.slack)
	e.registry.Register(workflow.TypeEmail, e.email)
	e.registry.Register(workflow.TypeDelay, e.delay)
	e.registry.Register(workflow.TypeCondition, e.condition)
	e.registry.Register(workflow.TypeCode, e.code)
	e.registry.Register(workflow.TypeCron, e.cron)
	e.registry.Register(workflow.TypeNotion, e.stub(workflow.TypeNotion, "databaseId", "pageId", "properties"))
	e.registry.Register(workflow.TypeAirtable, e.stub(workflow.TypeAirtable, "baseId", "tableName", "records"))
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func (e *Engine) webhook(ctx context.Context, node *workflow.Node, ec *ExecutionContext) (any, error) {
	var data any = ec.Data
	if webhook, ok := ec.Data["webhook"]; ok && webhook != nil {
		data = webhook
	}
	return map[string]any{
		"type":      workflow.TypeWebhook,
		"data":      data,
		"timestamp": timestamp(),
	}, nil
}

func (e *Engine) httpRequest(ctx context.Context, node *workflow.Node, ec *ExecutionContext) (any, error) {
	url, ok := node.String("url")
	if !ok {
		return nil, errors.New("HTTP Request node requires a URL")
	}
	method := "GET"
	if m, ok := node.String("method"); ok {
		method = strings.ToUpper(m)
	}

	var body io.Reader
	var contentType string
	if raw, ok := node.Value("body"); ok {
		switch value := raw.(type) {
		case string:
			body = strings.NewReader(ec.Resolve(value))
		default:
			encoded, err := json.Marshal(value)
			if err != nil {
				return nil, fmt.Errorf("failed to encode request body: %w", err)
			}
			body = bytes.NewReader(encoded)
			contentType = "application/json"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, e.httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, ec.Resolve(url), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := node.Value("headers"); ok {
		if m, ok := headers.(map[string]any); ok {
			for key, value := range m {
				req.Header.Set(key, ec.Resolve(eval.Stringify(value)))
			}
		}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("Request failed with status code %d", resp.StatusCode)
	}
	return map[string]any{
		"type":       workflow.TypeHTTPRequest,
		"status":     resp.StatusCode,
		"statusText": http.StatusText(resp.StatusCode),
		"data":       decodeBody(payload),
		"headers":    flattenHeaders(resp.Header),
		"timestamp":  timestamp(),
	}, nil
}

// decodeBody returns the body as JSON when it parses, otherwise as text.
func decodeBody(payload []byte) any {
	if len(bytes.TrimSpace(payload)) == 0 {
		return ""
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err == nil {
		return decoded
	}
	return string(payload)
}

func flattenHeaders(header http.Header) map[string]any {
	out := make(map[string]any, len(header))
	for key, values := range header {
		out[strings.ToLower(key)] = strings.Join(values, ", ")
	}
	return out
}

func (e *Engine) slack(ctx context.Context, node *workflow.Node, ec *ExecutionContext) (any, error) {
	webhookURL, hasURL := node.String("webhookUrl")
	message, hasMessage := node.String("message")
	if !hasURL || !hasMessage {
		return nil, errors.New("Slack node requires webhook URL and message")
	}
	channel, ok := node.String("channel")
	if !ok {
		channel = defaultSlackChannel
	}
	body, err := json.Marshal(map[string]any{
		"text":    ec.Resolve(message),
		"channel": channel,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("Request failed with status code %d", resp.StatusCode)
	}
	return map[string]any{
		"type":      workflow.TypeSlack,
		"success":   resp.StatusCode == http.StatusOK,
		"timestamp": timestamp(),
	}, nil
}

func (e *Engine) email(ctx context.Context, node *workflow.Node, ec *ExecutionContext) (any, error) {
	to, hasTo := node.String("to")
	subject, hasSubject := node.String("subject")
	body, hasBody := node.String("body")
	if !hasTo || !hasSubject || !hasBody {
		return nil, errors.New("Email node requires to, subject, and body")
	}
	from, ok := node.String("from")
	if !ok {
		from = defaultEmailSender
	}
	// Delivery is not implemented; the message is logged instead.
	ec.Logger.Info("email not delivered",
		"node", node.ID,
		"from", from,
		"to", to,
		"subject", ec.Resolve(subject),
		"body", ec.Resolve(body))

	return map[string]any{
		"type":      workflow.TypeEmail,
		"success":   true,
		"timestamp": timestamp(),
	}, nil
}

func (e *Engine) delay(ctx context.Context, node *workflow.Node, ec *ExecutionContext) (any, error) {
	duration := DefaultDelay
	var reported any = DefaultDelay.Milliseconds()
	if raw, ok := node.Value("duration"); ok {
		if ms, ok := milliseconds(raw); ok {
			duration = time.Duration(ms * float64(time.Millisecond))
			reported = raw
		}
	}
	if duration > 0 {
		timer := time.NewTimer(duration)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return map[string]any{
		"type":      workflow.TypeDelay,
		"duration":  reported,
		"timestamp": timestamp(),
	}, nil
}

// milliseconds accepts the numeric shapes produced by the JSON and YAML
// decoders, and numeric strings.
func milliseconds(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func (e *Engine) condition(ctx context.Context, node *workflow.Node, ec *ExecutionContext) (any, error) {
	expr, ok := node.String("condition")
	if !ok {
		return nil, errors.New("Condition node requires a condition expression")
	}
	result, err := eval.EvaluateCondition(expr, ec.Scope())
	if err != nil {
		e.conditionFailed(ctx, ec, node.ID, err)
	}
	return map[string]any{
		"type":      workflow.TypeCondition,
		"condition": expr,
		"result":    result,
		"timestamp": timestamp(),
	}, nil
}

// conditionFailed reports a non-fatal condition evaluation error.
func (e *Engine) conditionFailed(ctx context.Context, ec *ExecutionContext, nodeID string, err error) {
	ec.Logger.Warn("condition evaluation failed", "node", nodeID, "error", err)
	ec.record(ctx, events.EventConditionError, nodeID, map[string]any{
		"error": err.Error(),
	})
}

func (e *Engine) code(ctx context.Context, node *workflow.Node, ec *ExecutionContext) (any, error) {
	source, ok := node.String("code")
	if !ok {
		return nil, errors.New("Code node requires code")
	}
	result, err := e.sandbox.Run(ctx, source, script.Bindings{
		Data:    ec.Data,
		Results: ec.Results,
		Logger:  ec.Logger.With("node", node.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("Code execution error: %w", err)
	}
	return map[string]any{
		"type":      workflow.TypeCode,
		"result":    result,
		"timestamp": timestamp(),
	}, nil
}

func (e *Engine) cron(ctx context.Context, node *workflow.Node, ec *ExecutionContext) (any, error) {
	schedule, ok := node.String("schedule")
	if !ok {
		return nil, errors.New("Cron node requires a schedule expression")
	}
	added, err := e.scheduler.Register(node.ID, schedule, e.tick(ec.graph, node.ID, ec.Data))
	if err != nil {
		return nil, err
	}
	if added {
		ec.record(ctx, events.EventCronRegistered, node.ID, map[string]any{
			"schedule": schedule,
		})
	}
	return map[string]any{
		"type":      workflow.TypeCron,
		"schedule":  schedule,
		"scheduled": true,
		"timestamp": timestamp(),
	}, nil
}

// stub returns a handler for integrations that only log the requested action.
func (e *Engine) stub(nodeType string, fields ...string) Handler {
	return func(ctx context.Context, node *workflow.Node, ec *ExecutionContext) (any, error) {
		action, _ := node.Value("action")
		args := []any{"node", node.ID, "action", action}
		for _, field := range fields {
			if value, ok := node.Value(field); ok {
				args = append(args, field, value)
			}
		}
		ec.Logger.Info(nodeType+" action not performed", args...)
		return map[string]any{
			"type":      nodeType,
			"action":    action,
			"success":   true,
			"timestamp": timestamp(),
		}, nil
	}
}
