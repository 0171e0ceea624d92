// Package processor implements spec §4.E: the abstract worker contract and
// its state machine, plus the decode→validate→process→publish→ack pipeline
// of spec §1/§4.B.
//
// Runner is the behavioural contract spec.md's Design Notes call for in
// place of the original's deep inheritance chain
// (AbstractProcessor -> Processor -> {Collector, Parser, ...}); Worker is
// the runtime boilerplate, grounded on cellorg/public/agent/base.go +
// framework.go (BaseAgent / AgentFramework.Run), with operation order taken
// from original_source/lib/processor/abstractProcessor.py's start()/process().
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aaronkaplan/yellowsub/internal/broker"
	"github.com/aaronkaplan/yellowsub/internal/config"
	"github.com/aaronkaplan/yellowsub/internal/dedup"
	"github.com/aaronkaplan/yellowsub/internal/envelope"
	"github.com/aaronkaplan/yellowsub/internal/yslog"
)

// Group is the behavioural tag replacing the original's class hierarchy
// (spec.md Design Notes): wiring policy differs by group, not by type.
type Group string

const (
	GroupCollector Group = "collector"
	GroupParser    Group = "parser"
	GroupEnricher  Group = "enricher"
	GroupFilter    Group = "filter"
	GroupOutput    Group = "output"
)

// Runner is the single behavioural contract every processor plugin
// implements (spec.md Design Notes: "single behavioural contract plus a
// group tag", replacing AbstractProcessor's inheritance chain).
type Runner interface {
	// Validate performs per-processor input checking (spec §4.E validate()).
	Validate(raw []byte) bool
	// OnMessage is the domain hook. Returning (nil, nil) signals "drop":
	// ack, no publish. An error signals HandlerError (spec §7): do not ack.
	OnMessage(ctx context.Context, env *envelope.Envelope) (*envelope.Envelope, error)
}

// CollectorRunner is additionally implemented by processors in the
// collector group: start() invokes ProduceForever instead of consuming
// (spec §4.E point 3).
type CollectorRunner interface {
	Runner
	ProduceForever(ctx context.Context, publish func(*envelope.Envelope) error) error
}

// delivery is the ack/nack seam handleDelivery drives. *broker.Delivery
// satisfies it against a live channel; tests drive handleDelivery with a
// hand-rolled fake in the same spirit as the corpus's mock-runner fakes,
// without needing a live broker.
type delivery interface {
	Body() []byte
	Ack() error
	RejectNoRequeue() error
	NackRequeue() error
}

// publisher is the seam handleDelivery uses to publish downstream.
// *broker.Producer satisfies it; tests fake it to exercise the
// publish-unconfirmed branch without a live broker.
type publisher interface {
	Publish(ctx context.Context, body []byte) error
}

// State is a node in the worker state machine of spec §4.E.
type State int

const (
	StateCreated State = iota
	StateConfigLoaded
	StateWired
	StateRunning
	StatePaused
	StateStopping
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateConfigLoaded:
		return "config-loaded"
	case StateWired:
		return "wired"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Descriptor is the processor descriptor of spec §3.
type Descriptor struct {
	Name       string
	Module     string
	Group      Group
	Parameters config.Map
}

// Worker is the runtime boilerplate around a Runner: connects, wires
// ingress/egress in the spec-mandated order, and drives the consume loop.
type Worker struct {
	name   string
	group  Group
	runner Runner
	cfg    config.Map
	logger *yslog.Logger
	dedup  *dedup.Cache
	validateMsg bool

	mu    sync.Mutex
	state State

	brokerConn *broker.Conn
	producer   publisher
	consumer   *broker.Consumer

	fromQ, toEx, toQ string
}

// New constructs a worker in state "config-loaded", since the caller has
// already loaded cfg. name must be non-empty
// (spec §4.E constructor assertion).
func New(name string, group Group, runner Runner, cfg config.Map, logger *yslog.Logger, cache *dedup.Cache) (*Worker, error) {
	if name == "" {
		return nil, fmt.Errorf("processor: name must not be empty")
	}
	return &Worker{
		name:        name,
		group:       group,
		runner:      runner,
		cfg:         cfg,
		logger:      logger,
		dedup:       cache,
		validateMsg: config.GetBool(cfg, "validate_msg", false),
		state:       StateConfigLoaded, // config is already loaded by the caller before New()
	}, nil
}

func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// Start performs the spec §4.E wiring step, in its invariant order:
//  1. output side (producer + exchange + optional bound queue)
//  2. input side (consumer + queue)
// Broker connect/declare failure here is fatal (spec §7): the caller should
// exit non-zero.
func (w *Worker) Start(ctx context.Context, brokerCfg broker.Config, fromQ, toEx, toQ string) error {
	w.fromQ, w.toEx, w.toQ = fromQ, toEx, toQ

	conn, err := broker.Connect(ctx, brokerCfg)
	if err != nil {
		w.setState(StateStopping)
		return err
	}
	w.brokerConn = conn

	if toEx != "" {
		p, err := broker.NewProducer(conn, toEx, toQ)
		if err != nil {
			w.setState(StateStopping)
			return err
		}
		w.producer = p
	}

	if fromQ != "" {
		c, err := broker.NewConsumer(conn, fromQ)
		if err != nil {
			w.setState(StateStopping)
			return err
		}
		w.consumer = c
	}

	w.setState(StateWired)
	w.setState(StateRunning)
	w.logger.Info("worker %s wired: from_q=%s to_ex=%s to_q=%s", w.name, fromQ, toEx, toQ)
	return nil
}

// Run drives the consume loop until ctx is cancelled. Collector-group
// workers instead call RunCollector.
func (w *Worker) Run(ctx context.Context) error {
	if w.consumer == nil {
		return fmt.Errorf("processor: %s has no input queue to consume", w.name)
	}
	for d := range w.consumer.Deliveries(ctx) {
		if w.State() == StatePaused {
			// paused: do not process and do not ack; requeue it so the
			// broker redelivers it, to another worker or to this one.
			d.NackRequeue()
			continue
		}
		w.handleDelivery(ctx, &d)
	}
	return ctx.Err()
}

func (w *Worker) handleDelivery(ctx context.Context, d delivery) {
	env, err := envelope.Parse(d.Body())
	if err != nil {
		w.logger.Warn("decode error, rejecting: %v", err)
		d.RejectNoRequeue()
		return
	}

	if w.validateMsg {
		if err := env.Validate(); err != nil {
			w.logger.Warn("schema invalid, rejecting: %v", err)
			d.RejectNoRequeue()
			return
		}
	}

	if w.dedup != nil {
		ttl := time.Duration(config.GetInt(w.cfg, "cache_ttl_seconds", 0)) * time.Second
		proceed, err := w.dedup.Dedup(ctx, env.Meta.UUID, ttl)
		if err != nil {
			w.logger.Error("dedup store error: %v", err)
			// do not ack; treat as a transient failure, allow redelivery
			return
		}
		if !proceed {
			w.logger.Debug("dedup skip: %s", env.Meta.UUID)
			d.Ack()
			return
		}
	}

	out, err := w.runner.OnMessage(ctx, env)
	if err != nil {
		w.logger.Error("handler error for %s: %v", env.Meta.UUID, err)
		return // do not ack; broker redelivers
	}

	if out == nil {
		// "drop": ack, no publish.
		d.Ack()
		return
	}

	if w.group == GroupOutput || w.producer == nil {
		// output group: on_message performed the side effect itself.
		d.Ack()
		return
	}

	body, err := out.Serialize()
	if err != nil {
		w.logger.Error("serialize error for %s: %v", out.Meta.UUID, err)
		return
	}
	if err := w.producer.Publish(ctx, body); err != nil {
		w.logger.Warn("publish not confirmed for %s: %v", out.Meta.UUID, err)
		return // do not ack upstream on publish failure
	}
	d.Ack()
}

// RunCollector drives a collector-group worker's own generator loop
// (spec §4.E point 3): no from_q, produce_forever() instead.
func (w *Worker) RunCollector(ctx context.Context) error {
	cr, ok := w.runner.(CollectorRunner)
	if !ok {
		return fmt.Errorf("processor: %s is a collector but does not implement CollectorRunner", w.name)
	}
	publish := func(env *envelope.Envelope) error {
		body, err := env.Serialize()
		if err != nil {
			return err
		}
		if w.producer == nil {
			return fmt.Errorf("collector %s has no output exchange", w.name)
		}
		return w.producer.Publish(ctx, body)
	}
	return cr.ProduceForever(ctx, publish)
}

// Reload reloads config and re-derives the logger; safe to call while
// paused (spec §4.E).
func (w *Worker) Reload(cfg config.Map, logger *yslog.Logger) {
	w.mu.Lock()
	w.cfg = cfg
	w.logger = logger
	w.validateMsg = config.GetBool(cfg, "validate_msg", false)
	w.mu.Unlock()
}

// Pause stops consuming without closing connections.
func (w *Worker) Pause() { w.setState(StatePaused) }

// Resume resumes consuming.
func (w *Worker) Resume() { w.setState(StateRunning) }

// Stop unbinds queues, closes the channel/connection, and is idempotent.
func (w *Worker) Stop() error {
	w.mu.Lock()
	if w.state == StateTerminated || w.state == StateStopping {
		w.mu.Unlock()
		return nil
	}
	w.state = StateStopping
	w.mu.Unlock()

	if w.brokerConn != nil {
		if w.toQ != "" && w.toEx != "" {
			w.brokerConn.Unbind(w.toQ, w.toEx)
		}
		w.brokerConn.Close()
	}
	w.setState(StateTerminated)
	return nil
}
