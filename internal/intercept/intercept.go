// Package intercept watches decoded text messages for the "/gem <prompt>"
// command, routes matching prompts to the text generator through a bounded
// worker pool, and injects the generated reply back onto the radio link and
// out to all connected clients.
package intercept

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/hlnode/meshgem-proxy/internal/generator"
	"github.com/hlnode/meshgem-proxy/internal/logging"
	"github.com/hlnode/meshgem-proxy/internal/meshproto"
	"github.com/hlnode/meshgem-proxy/internal/meshwire"
	"github.com/hlnode/meshgem-proxy/internal/metrics"
	"github.com/hlnode/meshgem-proxy/internal/registry"
	"github.com/hlnode/meshgem-proxy/internal/transport"
)

// RadioSender is the subset of *radio.Link the interceptor depends on,
// kept as an interface so tests can substitute a fake without a live
// socket.
type RadioSender interface {
	Send([]byte) error
}

const (
	commandPrefix = "/gem"
	// defaultResponseDelay mirrors the upstream pacing pause before
	// injecting a reply, giving the mesh a moment of quiet after the
	// triggering packet; overridden by WithResponseDelay (--response-delay).
	defaultResponseDelay = 2 * time.Second
	// transportClipChars is a legacy 200-char clip applied independently of
	// the generator's own [200,600] length shaping; the two are not
	// reconciled into a single bound on purpose (see generator package).
	transportClipChars = 200
	generateTimeout    = 20 * time.Second
)

// Job is a single /gem command awaiting a generated response.
type Job struct {
	Sender  string
	Channel uint32
	Prompt  string
}

// Interceptor wires command detection to the generator and back out to the
// radio and registry.
type Interceptor struct {
	gen    *generator.Client
	link   RadioSender
	reg    *registry.Registry
	filter cel.Program

	pool           *transport.AsyncTx[Job]
	randFn         func() uint32
	sleepFn        func(time.Duration)
	responseDelay  time.Duration
	defaultChannel uint32
}

// Option customizes an Interceptor.
type Option func(*Interceptor)

// WithFilter installs a compiled CEL boolean expression evaluated against
// `sender` (string), `channel` (int), and `text` (string) variables; a
// command is processed only when the expression evaluates true. A nil
// filter accepts every command.
func WithFilter(prg cel.Program) Option {
	return func(i *Interceptor) { i.filter = prg }
}

// WithRandFn overrides the packet-id random source (test seam).
func WithRandFn(fn func() uint32) Option {
	return func(i *Interceptor) { i.randFn = fn }
}

// WithSleepFn overrides the response-pacing sleep (test seam).
func WithSleepFn(fn func(time.Duration)) Option {
	return func(i *Interceptor) { i.sleepFn = fn }
}

// WithResponseDelay sets the pause before injecting a reply (--response-delay).
func WithResponseDelay(d time.Duration) Option {
	return func(i *Interceptor) {
		if d > 0 {
			i.responseDelay = d
		}
	}
}

// WithDefaultChannel sets the channel used for an injected reply when the
// triggering message carried no usable channel of its own (--channel).
func WithDefaultChannel(ch uint32) Option {
	return func(i *Interceptor) { i.defaultChannel = ch }
}

// New constructs an Interceptor with a bounded job pool of the given
// capacity and worker concurrency.
func New(gen *generator.Client, link RadioSender, reg *registry.Registry, poolBuffer, workers int, opts ...Option) *Interceptor {
	i := &Interceptor{
		gen:           gen,
		link:          link,
		reg:           reg,
		sleepFn:       time.Sleep,
		randFn:        rand.Uint32,
		responseDelay: defaultResponseDelay,
	}
	for _, o := range opts {
		o(i)
	}
	i.pool = transport.NewAsyncTx[Job](context.Background(), poolBuffer, workers, i.handleJob, transport.Hooks[Job]{
		OnError: func(j Job, err error) {
			logging.L().Warn("gem_job_error", "sender", j.Sender, "error", err)
		},
		OnDrop: func(j Job) error {
			metrics.GemJobsDropped.Inc()
			i.injectText(j.Channel, "[Busy processing other requests, try again shortly]")
			return nil
		},
	})
	return i
}

// Close stops the job pool, waiting for in-flight jobs to finish.
func (i *Interceptor) Close() { i.pool.Close() }

// Detect reports whether text begins with the /gem command prefix and
// extracts whatever follows it as the prompt. No word boundary is required
// after the prefix: "/gemini hello" matches, with prompt "ini hello".
func Detect(text string) (prompt string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, commandPrefix) {
		return "", false
	}
	rest := strings.TrimSpace(strings.TrimPrefix(trimmed, commandPrefix))
	return rest, true
}

// Submit inspects a decoded text message and, if it is a /gem command,
// enqueues (or rejects, or replies with a diagnostic for) a generation job.
func (i *Interceptor) Submit(sender string, channel uint32, text string) {
	prompt, ok := Detect(text)
	if !ok {
		return
	}
	metrics.IncGemCommand()
	if channel == 0 && i.defaultChannel != 0 {
		channel = i.defaultChannel
	}

	if prompt == "" {
		i.injectText(channel, "[Please provide a question after /gem]")
		return
	}

	if i.filter != nil {
		out, _, err := i.filter.Eval(map[string]any{
			"sender":  sender,
			"channel": int64(channel),
			"text":    text,
		})
		if err != nil || out.Value() != true {
			metrics.GemJobsFiltered.Inc()
			return
		}
	}

	if i.gen == nil {
		i.injectText(channel, "[Gemini AI not available - GEMINI_API_KEY not set]")
		return
	}

	_ = i.pool.Send(Job{Sender: sender, Channel: channel, Prompt: prompt})
}

// handleJob runs in a pool worker: calls the generator, shapes the result
// into a diagnostic on failure, and injects the reply.
func (i *Interceptor) handleJob(j Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), generateTimeout)
	defer cancel()

	text, err := i.gen.Respond(ctx, j.Prompt)
	if err != nil {
		text = fmt.Sprintf("[AI Error: %v]", err)
	}

	i.sleepFn(i.responseDelay)
	i.injectText(j.Channel, text)
	return nil
}

// injectText clips text to the legacy transport limit, frames it as both a
// ToRadio (so the mesh carries it over RF) and FromRadio (so local clients
// see it immediately) envelope, and sends/broadcasts accordingly.
func (i *Interceptor) injectText(channel uint32, text string) {
	if len(text) > transportClipChars {
		text = text[:transportClipChars]
	}
	id := i.nextPacketID()
	toRadio, fromRadio := meshproto.BuildResponse(id, channel, []byte(text))

	if radioFrame, err := meshwire.Build(toRadio); err == nil {
		if err := i.link.Send(radioFrame); err != nil {
			logging.L().Warn("gem_radio_send_failed", "error", err)
		}
	}

	if clientFrame, err := meshwire.Build(fromRadio); err == nil {
		i.reg.Broadcast(clientFrame, 0)
	}
}

// nextPacketID mirrors upstream's randomized 32-bit packet id allocation.
func (i *Interceptor) nextPacketID() uint32 {
	return i.randFn()&0x7FFFFFFF + 1
}

// NewFilter compiles a CEL boolean expression over sender/channel/text.
func NewFilter(expr string) (cel.Program, error) {
	env, err := cel.NewEnv(
		cel.Variable("sender", cel.StringType),
		cel.Variable("channel", cel.IntType),
		cel.Variable("text", cel.StringType),
	)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	return env.Program(ast)
}
