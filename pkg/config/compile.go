package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wehubfusion/Courier/pkg/checkpoint"
	"github.com/wehubfusion/Courier/pkg/engine"
	cerrors "github.com/wehubfusion/Courier/pkg/errors"
	"github.com/wehubfusion/Courier/pkg/ext"
	"github.com/wehubfusion/Courier/pkg/httpclient"
	"github.com/wehubfusion/Courier/pkg/task"
	"github.com/wehubfusion/Courier/pkg/token"
	"github.com/wehubfusion/Courier/pkg/vars"
)

var allowedMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, "HEAD": true,
}

// BuildOptions supplies the collaborators compiled tasks use.
type BuildOptions struct {
	// Prefix identifies the host input and is prepended to checkpoint keys.
	Prefix string

	Registry *ext.Registry
	Store    checkpoint.Store
	Client   *httpclient.Client
	Logger   *zap.Logger
}

// Plan is a compiled document: one task list per request.
type Plan struct {
	Requests []CompiledRequest
}

// CompiledRequest is the task list built from one request.
type CompiledRequest struct {
	Name  string
	Tasks []task.Task
}

// Jobs creates one job per request, each starting from its own copy of initial.
func (p *Plan) Jobs(initial vars.Context) []*engine.Job {
	jobs := make([]*engine.Job, 0, len(p.Requests))
	for _, r := range p.Requests {
		jobs = append(jobs, engine.NewJob(r.Tasks, initial.Clone()))
	}
	return jobs
}

// Compile builds every request. It fails with a *errors.ConfigError
// listing every problem found.
func (d *Document) Compile(opts BuildOptions) (*Plan, error) {
	if opts.Registry == nil {
		opts.Registry = ext.NewRegistry(ext.WithLogger(opts.Logger))
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Client == nil {
		client, err := httpclient.New(httpclient.DefaultOptions())
		if err != nil {
			return nil, err
		}
		opts.Client = client
	}

	c := &compiler{opts: opts, issues: &cerrors.ConfigError{}}

	var proxy *task.Proxy
	if s := d.GlobalSettings.Proxy; s != nil {
		p, err := task.NewProxy(*s)
		c.check("global_settings.proxy", err)
		proxy = p
	}

	plan := &Plan{}
	for i := range d.Requests {
		path := fmt.Sprintf("requests[%d]", i)
		plan.Requests = append(plan.Requests, c.request(path, i, &d.Requests[i], proxy))
	}
	if err := c.issues.ErrOrNil(); err != nil {
		return nil, err
	}
	return plan, nil
}

type compiler struct {
	opts   BuildOptions
	issues *cerrors.ConfigError
}

// check records err under path and reports whether err was nil.
func (c *compiler) check(path string, err error) bool {
	if err == nil {
		return true
	}
	c.issues.Add(path, "", err)
	return false
}

func (c *compiler) token(path, src string) *token.Token {
	t, err := token.Compile(src)
	c.check(path, err)
	return t
}

func (c *compiler) request(path string, index int, r *Request, proxy *task.Proxy) CompiledRequest {
	name := strings.TrimSpace(r.Name)
	if name == "" {
		name = fmt.Sprintf("request_%d", index)
	}

	params := task.HTTPTaskParams{
		Name:   name,
		Proxy:  proxy,
		Store:  c.opts.Store,
		Client: c.opts.Client,
		Logger: c.opts.Logger,
	}
	params.Request = c.requestTemplate(path+".options", &r.Options)
	if r.Options.Auth != nil {
		auth, err := task.NewAuthorizer(r.Options.Auth.Type, r.Options.Auth.Options)
		c.check(path+".options.auth", err)
		params.Auth = auth
	}
	params.PreProcess = c.processor(path+".pre_process", &r.PreProcess)
	params.PostProcess = c.processor(path+".post_process", &r.PostProcess)

	if mode, modePath := c.iterationMode(path, r); mode != nil {
		params.IterationCount = int(mode.IterationCount)
		params.StopConditions = c.conditions(modePath+".stop_conditions", mode.StopConditions)
	}

	if r.Checkpoint != nil {
		prefix := name
		if c.opts.Prefix != "" {
			prefix = c.opts.Prefix + "." + name
		}
		cp, err := checkpoint.New(prefix, r.Checkpoint.Namespace, r.Checkpoint.Content)
		if c.check(path+".checkpoint", err) {
			if c.opts.Store == nil {
				c.issues.Add(path+".checkpoint", "no checkpoint store configured", cerrors.ErrNoCheckpointStore)
			}
			params.Checkpoint = cp
		}
	}

	out := CompiledRequest{Name: name}
	if r.Split != nil {
		split, err := task.NewSplitTask(name+".split", r.Split.Source, r.Split.Output, r.Split.Separator, c.opts.Logger)
		if c.check(path+".split", err) {
			out.Tasks = append(out.Tasks, split)
		}
	}

	if params.Request.URL != nil {
		httpTask, err := task.NewHTTPTask(params)
		if c.check(path, err) {
			out.Tasks = append(out.Tasks, httpTask)
		}
	}
	return out
}

func (c *compiler) requestTemplate(path string, o *Options) task.RequestTemplate {
	var rt task.RequestTemplate
	rt.URL = c.token(path+".url", o.URL)
	if o.NextPageURL != "" {
		rt.NextPageURL = c.token(path+".nextpage_url", o.NextPageURL)
	}
	if o.Method != "" {
		rt.Method = c.token(path+".method", o.Method)
		if rt.Method != nil && rt.Method.IsLiteral() && !allowedMethods[strings.ToUpper(o.Method)] {
			c.issues.Add(path+".method", fmt.Sprintf("unsupported method %q", o.Method), nil)
		}
	}
	if len(o.Headers) > 0 {
		headers, err := token.CompileMap(o.Headers)
		c.check(path+".headers", err)
		rt.Header = headers
	}

	body := bytes.TrimSpace(o.Body)
	switch {
	case len(body) == 0 || bytes.Equal(body, []byte("null")):
	case body[0] == '"':
		var text string
		if c.check(path+".body", json.Unmarshal(body, &text)) {
			rt.Body = c.token(path+".body", text)
		}
	case body[0] == '{':
		var fields map[string]string
		if c.check(path+".body", json.Unmarshal(body, &fields)) && len(fields) > 0 {
			compiled, err := token.CompileMap(fields)
			c.check(path+".body", err)
			rt.BodyFields = compiled
		}
	default:
		c.issues.Add(path+".body", "must be a string or an object of strings", nil)
	}
	return rt
}

func (c *compiler) processor(path string, p *Processor) task.Pipeline {
	skip := append(c.conditions(path+".skip_conditions", p.SkipConditions),
		c.conditions(path+".conditions", p.Conditions)...)

	steps := make([]*task.Step, 0, len(p.Pipeline))
	for i, call := range p.Pipeline {
		step, err := task.NewStep(c.opts.Registry, call.Method, call.Input, call.Output)
		if c.check(fmt.Sprintf("%s.pipeline[%d]", path, i), err) {
			steps = append(steps, step)
		}
	}
	return task.Pipeline{Skip: skip, Steps: steps}
}

func (c *compiler) conditions(path string, calls []Call) task.ConditionGroup {
	var group task.ConditionGroup
	for i, call := range calls {
		cond, err := task.NewCondition(c.opts.Registry, call.Method, call.Input)
		if c.check(fmt.Sprintf("%s[%d]", path, i), err) {
			group = append(group, cond)
		}
	}
	return group
}

func (c *compiler) iterationMode(path string, r *Request) (*IterationMode, string) {
	var (
		found     *IterationMode
		foundPath string
	)
	for _, m := range []struct {
		key  string
		mode *IterationMode
	}{
		{"iteration_mode", r.IterationMode},
		{"repeat_mode", r.RepeatMode},
		{"loop_mode", r.LoopMode},
	} {
		if m.mode == nil {
			continue
		}
		if found != nil {
			c.issues.Add(path+"."+m.key, "conflicts with "+foundPath, nil)
			continue
		}
		found, foundPath = m.mode, path+"."+m.key
	}
	return found, foundPath
}
