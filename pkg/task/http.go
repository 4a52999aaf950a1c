package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/wehubfusion/Courier/pkg/checkpoint"
	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/httpclient"
	"github.com/wehubfusion/Courier/pkg/token"
	"github.com/wehubfusion/Courier/pkg/vars"
)

var tracer = otel.Tracer("github.com/wehubfusion/Courier/pkg/task")

// RequestTemplate is the templated form of an HTTP request.
type RequestTemplate struct {
	URL *token.Token

	// NextPageURL, when it renders non-empty, replaces URL after the first iteration.
	NextPageURL *token.Token

	Method *token.Token
	Header token.Map

	// Body is sent as text. BodyFields, when set, is rendered and sent as a JSON object instead.
	Body       *token.Token
	BodyFields token.Map
}

// HTTPTaskParams holds the compiled definition of an HTTP task.
type HTTPTaskParams struct {
	Name           string
	Request        RequestTemplate
	Auth           Authorizer
	Proxy          *Proxy
	PreProcess     Pipeline
	PostProcess    Pipeline
	StopConditions ConditionGroup

	// IterationCount caps the number of iterations. Zero or negative is unbounded.
	IterationCount int

	Checkpoint *checkpoint.Checkpointer
	Store      checkpoint.Store
	Client     *httpclient.Client
	Logger     *zap.Logger
}

// HTTPTask repeatedly sends a request, processing each response, until a
// stop condition is met, the iteration cap is reached, the server returns
// an error or an empty body, or the run is stopped.
type HTTPTask struct {
	p HTTPTaskParams
}

// NewHTTPTask validates p and returns the task.
func NewHTTPTask(p HTTPTaskParams) (*HTTPTask, error) {
	if p.Request.URL == nil {
		return nil, fmt.Errorf("task %s: url is required", p.Name)
	}
	if p.Client == nil {
		return nil, fmt.Errorf("task %s: http client is required", p.Name)
	}
	if p.Checkpoint != nil && p.Store == nil {
		return nil, fmt.Errorf("task %s: %w", p.Name, cerrors.ErrNoCheckpointStore)
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	return &HTTPTask{p: p}, nil
}

// Name implements Task.
func (t *HTTPTask) Name() string {
	return t.p.Name
}

// Perform implements Task. HTTP failures and empty responses end the loop
// normally; only rendering, pipeline and condition failures are returned.
// Cancelling ctx stops the loop at the next safe point.
func (t *HTTPTask) Perform(ctx context.Context, v vars.Context) ([]vars.Context, error) {
	logger := t.p.Logger.With(zap.String("task", t.p.Name))
	ctx, span := tracer.Start(ctx, "task.http")
	defer span.End()
	span.SetAttributes(attribute.String("task.name", t.p.Name))

	run := &httpRun{task: t, logger: logger}
	err := run.loop(ctx, v)
	span.SetAttributes(
		attribute.Int("task.iterations", run.iteration),
		attribute.String("task.state", run.state.String()),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("task %s: %w", t.p.Name, err)
	}

	logger.Info("Task finished",
		zap.String("state", run.state.String()),
		zap.Int("iterations", run.iteration))
	return []vars.Context{v}, nil
}

// httpRun is the mutable state of one Perform call.
type httpRun struct {
	task      *HTTPTask
	logger    *zap.Logger
	client    *httpclient.Client
	state     State
	iteration int
}

func (r *httpRun) loop(ctx context.Context, v vars.Context) error {
	p := r.task.p

	client, err := r.clientFor(v)
	if err != nil {
		return err
	}
	r.client = client
	r.restore(ctx, v)
	r.state = StateRunning

	for {
		if ctx.Err() != nil {
			r.state = StateStopped
			return nil
		}

		if err := p.PreProcess.Execute(v, r.logger); err != nil {
			return fmt.Errorf("pre_process: %w", err)
		}

		req, err := r.render(v)
		if err != nil {
			return err
		}

		resp, err := r.client.Send(ctx, req)
		if err != nil {
			var httpErr *httpclient.HTTPError
			if errors.As(err, &httpErr) {
				r.logger.Warn("Request failed, ending iteration",
					zap.Int("status", httpErr.Status),
					zap.String("url", req.URL),
					zap.Error(err))
				r.finish(ctx)
				return nil
			}
			return err
		}
		if resp.Empty() {
			r.logger.Info("Empty response body, ending iteration", zap.String("url", req.URL))
			r.finish(ctx)
			return nil
		}

		v[vars.ResponseKey] = map[string]any{
			"body":        resp.Body,
			"header":      resp.HeaderMap(),
			"status_code": resp.StatusCode,
		}
		if ctx.Err() != nil {
			r.state = StateStopped
			return nil
		}

		if err := p.PostProcess.Execute(v, r.logger); err != nil {
			return fmt.Errorf("post_process: %w", err)
		}
		r.save(ctx, v)
		r.iteration++

		if p.IterationCount > 0 && r.iteration >= p.IterationCount {
			r.logger.Debug("Iteration cap reached", zap.Int("iteration_count", p.IterationCount))
			r.state = StateExhausted
			return nil
		}
		stop, err := p.StopConditions.IsMet(v)
		if err != nil {
			return fmt.Errorf("stop condition: %w", err)
		}
		if stop {
			r.logger.Debug("Stop conditions met")
			r.state = StateExhausted
			return nil
		}
	}
}

func (r *httpRun) finish(ctx context.Context) {
	if ctx.Err() != nil {
		r.state = StateStopped
		return
	}
	r.state = StateExhausted
}

func (r *httpRun) clientFor(v vars.Context) (*httpclient.Client, error) {
	p := r.task.p
	if p.Proxy == nil {
		return p.Client, nil
	}
	proxyURL, err := p.Proxy.Render(v)
	if err != nil {
		return nil, err
	}
	if proxyURL == "" {
		return p.Client, nil
	}
	return p.Client.WithProxy(proxyURL)
}

// restore merges the previous checkpoint into v. A missing or unreadable
// checkpoint starts from scratch.
func (r *httpRun) restore(ctx context.Context, v vars.Context) {
	p := r.task.p
	if p.Checkpoint == nil {
		return
	}
	content, found, err := p.Checkpoint.Load(ctx, p.Store, v)
	switch {
	case err != nil:
		r.logger.Warn("Failed to load checkpoint, starting from scratch", zap.Error(err))
	case found:
		r.logger.Debug("Restored checkpoint", zap.Int("keys", len(content)))
		v.Merge(content)
	}
}

func (r *httpRun) save(ctx context.Context, v vars.Context) {
	p := r.task.p
	if p.Checkpoint == nil {
		return
	}
	if err := p.Checkpoint.Save(ctx, p.Store, v); err != nil {
		r.logger.Error("Failed to save checkpoint", zap.Error(err))
	}
}

func (r *httpRun) render(v vars.Context) (httpclient.Request, error) {
	tmpl := r.task.p.Request
	var req httpclient.Request

	target, err := tmpl.URL.RenderString(v)
	if err != nil {
		return req, fmt.Errorf("url: %w", err)
	}
	if r.iteration > 0 && tmpl.NextPageURL != nil {
		next, err := tmpl.NextPageURL.RenderString(v)
		if err != nil {
			return req, fmt.Errorf("nextpage_url: %w", err)
		}
		if next != "" {
			target = next
		}
	}
	req.URL = target

	req.Method = "GET"
	if tmpl.Method != nil {
		method, err := tmpl.Method.RenderString(v)
		if err != nil {
			return req, fmt.Errorf("method: %w", err)
		}
		if method != "" {
			req.Method = method
		}
	}

	req.Header = map[string]string{}
	if tmpl.Header != nil {
		if req.Header, err = tmpl.Header.RenderStrings(v); err != nil {
			return req, fmt.Errorf("headers.%w", err)
		}
	}
	if p := r.task.p; p.Auth != nil {
		if err := p.Auth.Apply(v, req.Header); err != nil {
			return req, fmt.Errorf("auth: %w", err)
		}
	}

	switch {
	case tmpl.BodyFields != nil:
		fields, err := tmpl.BodyFields.Render(v)
		if err != nil {
			return req, fmt.Errorf("body.%w", err)
		}
		raw, err := json.Marshal(fields)
		if err != nil {
			return req, fmt.Errorf("body: %w", err)
		}
		req.Body = string(raw)
		if _, ok := req.Header["Content-Type"]; !ok {
			req.Header["Content-Type"] = "application/json"
		}
	case tmpl.Body != nil:
		if req.Body, err = tmpl.Body.RenderString(v); err != nil {
			return req, fmt.Errorf("body: %w", err)
		}
	}
	return req, nil
}
