package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/jamesprial/netio-mcp/internal/config"
	"github.com/jamesprial/netio-mcp/internal/netio"
	"github.com/jamesprial/netio-mcp/internal/safety"
)

const (
	defaultTimeout  = 5 * time.Second
	disconnectQuiet = 250 // ms
)

var (
	ErrNotCommandTopic = errors.New("mqtt: not a switch command topic")
	ErrUnknownPayload  = errors.New("mqtt: unknown command payload")
	ErrOutletDenied    = errors.New("mqtt: outlet denied by safety filter")
	ErrTimeout         = errors.New("mqtt: operation timed out")
)

// commandActions maps accepted command payloads to outlet actions.
var commandActions = map[string]netio.OutletAction{
	PayloadOn:      netio.ActionOn,
	PayloadOff:     netio.ActionOff,
	PayloadToggle:  netio.ActionToggle,
	PayloadRestart: netio.ActionShortOff,
}

// Switcher is the device operation the bridge needs to serve commands.
type Switcher interface {
	SetOutletAction(ctx context.Context, id netio.OutletID, action netio.OutletAction) error
}

// RefreshFunc performs an immediate read, used to publish the new outlet
// state right after a command.
type RefreshFunc func(ctx context.Context) (*netio.Snapshot, error)

// Option configures a Bridge.
type Option func(*Bridge)

func WithLogger(logger zerolog.Logger) Option {
	return func(b *Bridge) {
		b.logger = logger.With().Str("component", "mqtt").Logger()
	}
}

// WithFilter refuses commands for outlets the filter denies.
func WithFilter(f *safety.Filter) Option {
	return func(b *Bridge) {
		b.filter = f
	}
}

// WithCommandObserver reports the outcome of every command sent to the device.
func WithCommandObserver(fn func(netio.OutletAction, error)) Option {
	return func(b *Bridge) {
		b.observe = fn
	}
}

func WithRefresh(fn RefreshFunc) Option {
	return func(b *Bridge) {
		b.refresh = fn
	}
}

// Bridge publishes snapshots to MQTT and forwards switch commands to the PDU.
type Bridge struct {
	client  paho.Client
	cfg     config.MQTTConfig
	topics  Topics
	device  Switcher
	logger  zerolog.Logger
	filter  *safety.Filter
	observe func(netio.OutletAction, error)
	refresh RefreshFunc
	timeout time.Duration

	publishMu sync.Mutex
	last      atomic.Pointer[netio.Snapshot]
	announced atomic.Bool
}

// New creates a bridge with a paho client built from cfg. Connect must be
// called before anything is published.
func New(cfg config.MQTTConfig, device Switcher, opts ...Option) *Bridge {
	b := newBridge(cfg, device, opts...)
	po := OptsFromConfig(cfg)
	po.SetOnConnectHandler(b.onConnect)
	po.SetConnectionLostHandler(b.onConnectionLost)
	b.client = paho.NewClient(po)
	return b
}

// NewWithClient creates a bridge around an existing client. The caller is
// responsible for invoking the bridge's connect handling.
func NewWithClient(client paho.Client, cfg config.MQTTConfig, device Switcher, opts ...Option) *Bridge {
	b := newBridge(cfg, device, opts...)
	b.client = client
	return b
}

func newBridge(cfg config.MQTTConfig, device Switcher, opts ...Option) *Bridge {
	b := &Bridge{
		cfg:     cfg,
		topics:  NewTopics(cfg.BaseTopic, cfg.HADiscoveryTopic),
		device:  device,
		logger:  zerolog.Nop(),
		timeout: cfg.Timeout,
	}
	if b.timeout <= 0 {
		b.timeout = defaultTimeout
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Topics returns the topic layout in use.
func (b *Bridge) Topics() Topics {
	return b.topics
}

// IsConnected reports whether the broker connection is up.
func (b *Bridge) IsConnected() bool {
	return b.client.IsConnected()
}

// Connect starts the broker connection. The client keeps retrying in the
// background after a timeout, so a timeout is not fatal.
func (b *Bridge) Connect(ctx context.Context) error {
	token := b.client.Connect()
	timer := time.NewTimer(b.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", b.cfg.Broker, err)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: connect %s", ErrTimeout, b.cfg.Broker)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close marks the bridge offline and disconnects.
func (b *Bridge) Close() {
	if b.client.IsConnected() {
		if err := b.publish(b.topics.BridgeState(), PayloadOffline, true); err != nil {
			b.logger.Warn().Err(err).Msg("Failed to publish offline state")
		}
	}
	b.client.Disconnect(disconnectQuiet)
}

func (b *Bridge) onConnect(client paho.Client) {
	b.logger.Info().Str("broker", b.cfg.Broker).Msg("Connected to MQTT broker")
	b.announced.Store(false)

	if err := b.publish(b.topics.BridgeState(), PayloadOnline, true); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to publish online state")
	}

	token := client.Subscribe(b.topics.CommandSubscription(), 1, b.handleMessage)
	if !token.WaitTimeout(b.timeout) {
		b.logger.Error().Str("topic", b.topics.CommandSubscription()).Msg("MQTT subscribe timed out")
	} else if err := token.Error(); err != nil {
		b.logger.Error().Err(err).Str("topic", b.topics.CommandSubscription()).Msg("MQTT subscribe failed")
	}

	if snap := b.last.Load(); snap != nil {
		b.OnSnapshot(snap)
	}
}

func (b *Bridge) onConnectionLost(_ paho.Client, err error) {
	b.logger.Warn().Err(err).Msg("MQTT connection lost")
}

// OnSnapshot publishes a snapshot and logs any failure. It matches the
// poller update callback.
func (b *Bridge) OnSnapshot(snap *netio.Snapshot) {
	if err := b.Publish(snap); err != nil {
		b.logger.Warn().Err(err).Msg("Failed to publish snapshot")
	}
}

// Publish sends discovery configs (once per connection) and the state of
// every outlet and meter in snap. While disconnected the snapshot is only
// remembered and published on the next connect.
func (b *Bridge) Publish(snap *netio.Snapshot) error {
	if snap == nil {
		return nil
	}
	b.last.Store(snap)
	if !b.client.IsConnected() {
		return nil
	}

	b.publishMu.Lock()
	defer b.publishMu.Unlock()

	var errs []error
	if b.cfg.HADiscovery && !b.announced.Load() {
		if err := b.announce(snap); err != nil {
			errs = append(errs, err)
		} else {
			b.announced.Store(true)
		}
	}

	for _, o := range snap.Outputs {
		state := PayloadOff
		if o.IsOn() {
			state = PayloadOn
		}
		errs = append(errs, b.publish(b.topics.SwitchState(SwitchID(o.ID)), state, true))
		for _, s := range outletSensors(o.ID, "") {
			errs = append(errs, b.publish(b.topics.SensorState(s.id), s.value(snap), false))
		}
	}
	for _, s := range globalSensors() {
		errs = append(errs, b.publish(b.topics.SensorState(s.id), s.value(snap), false))
	}
	return errors.Join(errs...)
}

func (b *Bridge) announce(snap *netio.Snapshot) error {
	nodeID := NodeID(snap.Agent, b.cfg.ClientID)
	var errs []error
	for _, m := range DiscoveryMessages(b.topics, snap, nodeID) {
		payload, err := json.Marshal(m.Config)
		if err != nil {
			errs = append(errs, fmt.Errorf("encode discovery %s: %w", m.Topic, err))
			continue
		}
		errs = append(errs, b.publish(m.Topic, payload, true))
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	b.logger.Info().Str("node_id", nodeID).Int("outlets", len(snap.Outputs)).Msg("Published Home Assistant discovery")
	return nil
}

func (b *Bridge) publish(topic string, payload any, retain bool) error {
	token := b.client.Publish(topic, 0, retain, payload)
	if !token.WaitTimeout(b.timeout) {
		return fmt.Errorf("%w: publish %s", ErrTimeout, topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (b *Bridge) handleMessage(_ paho.Client, msg paho.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.HandleCommand(ctx, msg.Topic(), msg.Payload()); err != nil {
		b.logger.Warn().
			Err(err).
			Str("topic", msg.Topic()).
			Str("payload", string(msg.Payload())).
			Msg("Rejected MQTT command")
	}
}

// HandleCommand executes a switch command received on topic. Payloads are
// on, off, toggle and restart, case-insensitive.
func (b *Bridge) HandleCommand(ctx context.Context, topic string, payload []byte) error {
	switchID, ok := b.topics.ParseSwitchCommand(topic)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotCommandTopic, topic)
	}
	id, err := netio.ParseOutletID(switchID)
	if err != nil {
		return err
	}
	if id == netio.AllOutlets {
		return fmt.Errorf("%w: %q is not a single outlet", netio.ErrInvalidSelector, switchID)
	}

	action, ok := commandActions[strings.ToLower(strings.TrimSpace(string(payload)))]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPayload, payload)
	}

	snap := b.last.Load()
	if snap == nil && b.filter.Restricts() {
		// Name rules cannot be checked before the first reading.
		if b.refresh == nil {
			return fmt.Errorf("%w: %s: outlet names not yet known", ErrOutletDenied, safety.OutletKey(id))
		}
		if snap, err = b.refresh(ctx); err != nil {
			return fmt.Errorf("%w: %s: cannot read outlet names: %w", ErrOutletDenied, safety.OutletKey(id), err)
		}
		b.last.CompareAndSwap(nil, snap)
	}
	var name string
	if o, ok := snap.Outlet(id); ok {
		name = o.Name
	}
	if !b.filter.AllowsOutlet(id, name) {
		return fmt.Errorf("%w: %s", ErrOutletDenied, safety.OutletKey(id))
	}

	err = b.device.SetOutletAction(ctx, id, action)
	if b.observe != nil {
		b.observe(action, err)
	}
	if err != nil {
		return fmt.Errorf("outlet %d %s: %w", int(id), action, err)
	}
	b.logger.Info().Int("outlet", int(id)).Str("action", action.String()).Msg("Executed MQTT command")

	if b.refresh != nil {
		snap, err := b.refresh(ctx)
		if err != nil {
			b.logger.Debug().Err(err).Msg("Refresh after command failed")
			return nil
		}
		b.OnSnapshot(snap)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
