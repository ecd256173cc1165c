package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ChaosChain/fin-studio-go/identity"
	"github.com/ChaosChain/fin-studio-go/internal/metrics"
	"github.com/ChaosChain/fin-studio-go/types"
)

var errNotConnected = errors.New("relay not connected")

// Config holds directory configuration.
type Config struct {
	// RelayURLs is the redundant set of relay endpoints.
	RelayURLs []string `yaml:"relay_urls" json:"relay_urls"`
	// DialTimeout bounds each relay dial attempt.
	DialTimeout time.Duration `yaml:"dial_timeout" json:"dial_timeout"`
	// RequestTimeout is the default caller-side wait for a service response.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
	// PublishRate and PublishBurst throttle outbound publishes.
	PublishRate  float64 `yaml:"publish_rate" json:"publish_rate"`
	PublishBurst int     `yaml:"publish_burst" json:"publish_burst"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DialTimeout:    10 * time.Second,
		RequestTimeout: 30 * time.Second,
		PublishRate:    50,
		PublishBurst:   100,
	}
}

// RequestHandler is invoked for inbound service requests addressed to (or
// observable by) this participant. sender is the requester's identity.
type RequestHandler func(ctx context.Context, req *ServiceRequest, sender string)

// Directory is the decentralized discovery and coordination service for one
// participant identity.
type Directory struct {
	id      *identity.Identity
	cfg     Config
	logger  *zap.Logger
	limiter *rate.Limiter
	metrics *metrics.Collector

	mu            sync.RWMutex
	conns         []*relayConn
	profiles      map[string]*AgentProfile // keyed by sender identity
	pending       map[string]chan *ServiceResponse
	inbound       map[string]string // request id -> requester identity
	coordinations map[string]*Coordination
	ownProfile    *AgentProfile
	handler       RequestHandler
	running       bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDirectory creates a directory for the given identity. A nil config uses
// defaults; a nil logger logs nothing.
func NewDirectory(id *identity.Identity, cfg *Config, logger *zap.Logger) *Directory {
	if logger == nil {
		logger = zap.NewNop()
	}
	conf := DefaultConfig()
	if cfg != nil {
		conf = *cfg
		defaults := DefaultConfig()
		if conf.DialTimeout <= 0 {
			conf.DialTimeout = defaults.DialTimeout
		}
		if conf.RequestTimeout <= 0 {
			conf.RequestTimeout = defaults.RequestTimeout
		}
		if conf.PublishRate <= 0 {
			conf.PublishRate = defaults.PublishRate
		}
		if conf.PublishBurst <= 0 {
			conf.PublishBurst = defaults.PublishBurst
		}
	}
	return &Directory{
		id:            id,
		cfg:           conf,
		logger:        logger.With(zap.String("component", "relay_directory")),
		limiter:       rate.NewLimiter(rate.Limit(conf.PublishRate), conf.PublishBurst),
		profiles:      make(map[string]*AgentProfile),
		pending:       make(map[string]chan *ServiceResponse),
		inbound:       make(map[string]string),
		coordinations: make(map[string]*Coordination),
	}
}

// Identity returns this participant's identity string (hex public key).
func (d *Directory) Identity() string {
	return d.id.PublicKeyHex()
}

// SetRequestHandler installs the handler for inbound service requests. Must be
// called before Start.
func (d *Directory) SetRequestHandler(handler RequestHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handler = handler
}

// SetMetrics installs the pipeline metrics collector so publishes and the
// connection count are counted. Must be called before Start; a nil collector
// is tolerated.
func (d *Directory) SetMetrics(collector *metrics.Collector) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.metrics = collector
}

// Start dials every configured relay concurrently. It succeeds when at least
// one relay connects; each failed connection is logged and the endpoint is
// marked disconnected.
func (d *Directory) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return types.NewError(types.ErrInvalidTransition, "directory already started")
	}
	if len(d.cfg.RelayURLs) == 0 {
		d.mu.Unlock()
		return types.NewError(types.ErrRelayUnavailable, "no relay endpoints configured")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	conns := make([]*relayConn, 0, len(d.cfg.RelayURLs))
	for _, url := range d.cfg.RelayURLs {
		conns = append(conns, newRelayConn(url, d.logger))
	}
	d.conns = conns
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, conn := range conns {
		wg.Add(1)
		go func(c *relayConn) {
			defer wg.Done()
			dialCtx, dialCancel := context.WithTimeout(ctx, d.cfg.DialTimeout)
			defer dialCancel()
			if err := c.dial(dialCtx); err != nil {
				d.logger.Warn("relay dial failed", zap.String("relay_url", c.url), zap.Error(err))
				return
			}
			d.wg.Add(1)
			go d.readLoop(runCtx, c)
		}(conn)
	}
	wg.Wait()

	connected := d.ConnectedRelays()
	if connected == 0 {
		cancel()
		return types.NewErrorf(types.ErrRelayUnavailable, "no relay reachable out of %d configured", len(conns)).WithRetryable(true)
	}

	d.mu.Lock()
	d.running = true
	collector := d.metrics
	d.mu.Unlock()
	collector.SetConnectedRelays(connected)
	d.logger.Info("relay directory started",
		zap.Int("connected", connected),
		zap.Int("configured", len(conns)),
	)
	return nil
}

// Stop closes every relay connection and waits for reader shutdown.
func (d *Directory) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	cancel := d.cancel
	conns := d.conns
	collector := d.metrics
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	for _, conn := range conns {
		conn.close()
	}
	d.wg.Wait()
	collector.SetConnectedRelays(0)
	d.logger.Info("relay directory stopped")
	return nil
}

// ConnectedRelays returns the number of currently connected relay endpoints.
func (d *Directory) ConnectedRelays() int {
	d.mu.RLock()
	conns := d.conns
	d.mu.RUnlock()
	count := 0
	for _, conn := range conns {
		if conn.connected.Load() {
			count++
		}
	}
	return count
}

// publish signs nothing itself; it fans a pre-built envelope out to every
// connected relay with all-settled semantics: partial failures are tolerated
// and only a total failure is an error.
func (d *Directory) publish(ctx context.Context, env *Envelope) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("publish throttled: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return types.NewError(types.ErrPublishFailed, "encode envelope").WithCause(err)
	}

	d.mu.RLock()
	conns := d.conns
	collector := d.metrics
	d.mu.RUnlock()

	succeeded := 0
	for _, conn := range conns {
		if err := conn.write(ctx, data); err != nil {
			if !errors.Is(err, errNotConnected) {
				d.logger.Warn("relay publish failed", zap.String("relay_url", conn.url), zap.Error(err))
			}
			continue
		}
		succeeded++
	}
	collector.RelayPublish(string(env.Kind), succeeded > 0)
	if succeeded == 0 {
		return types.NewErrorf(types.ErrPublishFailed, "publish %s reached no relay", env.Kind).WithRetryable(true)
	}
	d.logger.Debug("envelope published",
		zap.String("kind", string(env.Kind)),
		zap.Int("relays", succeeded),
	)
	return nil
}

// Announce signs and publishes the profile to every connected relay. The
// identity fields are stamped from the directory's own keypair onto a private
// copy; the caller's profile is never modified, and concurrent re-announces
// (one per relay delivering a discovery query) each work on their own copy.
func (d *Directory) Announce(ctx context.Context, profile *AgentProfile) error {
	stamped := *profile
	stamped.PublicKey = d.Identity()
	stamped.LastSeen = time.Now().UTC()

	content, err := json.Marshal(&stamped)
	if err != nil {
		return types.NewError(types.ErrPublishFailed, "encode profile").WithCause(err)
	}
	tags := make([][]string, 0, len(stamped.Capabilities)+len(stamped.Specialties))
	for _, c := range stamped.Capabilities {
		tags = append(tags, Tag(TagCapability, c))
	}
	for _, s := range stamped.Specialties {
		tags = append(tags, Tag(TagSpecialty, s))
	}
	env, err := NewEnvelope(d.id, KindAnnouncement, tags, string(content))
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.ownProfile = &stamped
	d.mu.Unlock()

	return d.publish(ctx, env)
}

// Discover returns an immediate snapshot filtered from locally cached
// announcements and fires an asynchronous discovery broadcast to expand the
// cache for future calls. It never blocks on network replies.
func (d *Directory) Discover(ctx context.Context, capabilities, specialties []string) []*AgentProfile {
	query := DiscoveryQuery{Capabilities: capabilities, Specialties: specialties}

	d.mu.RLock()
	matched := make([]*AgentProfile, 0)
	for _, profile := range d.profiles {
		if query.Matches(profile) {
			clone := *profile
			matched = append(matched, &clone)
		}
	}
	running := d.running
	d.mu.RUnlock()

	if running {
		go func() {
			content, err := json.Marshal(query)
			if err != nil {
				return
			}
			env, err := NewEnvelope(d.id, KindDiscovery, nil, string(content))
			if err != nil {
				return
			}
			bctx, cancel := context.WithTimeout(context.Background(), d.cfg.DialTimeout)
			defer cancel()
			if err := d.publish(bctx, env); err != nil {
				d.logger.Debug("discovery broadcast failed", zap.Error(err))
			}
		}()
	}
	return matched
}

// RequestService publishes a signed service request and waits for the
// correlated response until the request's (or the default) timeout elapses.
func (d *Directory) RequestService(ctx context.Context, req *ServiceRequest) (*ServiceResponse, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = d.cfg.RequestTimeout
	}

	content, err := json.Marshal(req)
	if err != nil {
		return nil, types.NewError(types.ErrPublishFailed, "encode request").WithCause(err)
	}
	tags := [][]string{Tag(TagRequest, req.RequestID)}
	if req.Target != "" {
		tags = append(tags, Tag(TagTarget, req.Target))
	}
	env, err := NewEnvelope(d.id, KindRequest, tags, string(content))
	if err != nil {
		return nil, err
	}

	ch := make(chan *ServiceResponse, 1)
	d.mu.Lock()
	d.pending[req.RequestID] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, req.RequestID)
		d.mu.Unlock()
	}()

	if err := d.publish(ctx, env); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, types.NewErrorf(types.ErrRequestTimeout, "request %s timed out after %s", req.RequestID, timeout).WithRetryable(true)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond addresses a response back to the identity that sent the tracked
// request with the given id.
func (d *Directory) Respond(ctx context.Context, requestID string, payload json.RawMessage) error {
	d.mu.RLock()
	requester, ok := d.inbound[requestID]
	d.mu.RUnlock()
	if !ok {
		return types.NewErrorf(types.ErrRequestNotFound, "no tracked request %s", requestID)
	}

	resp := ServiceResponse{RequestID: requestID, From: d.Identity(), Payload: payload}
	content, err := json.Marshal(resp)
	if err != nil {
		return types.NewError(types.ErrPublishFailed, "encode response").WithCause(err)
	}
	env, err := NewEnvelope(d.id, KindResponse, [][]string{
		Tag(TagTarget, requester),
		Tag(TagRequest, requestID),
	}, string(content))
	if err != nil {
		return err
	}
	return d.publish(ctx, env)
}

// CoordinateTask publishes one coordination event tagged with every
// participant identity and records local coordination state.
func (d *Directory) CoordinateTask(ctx context.Context, taskID string, agentIdentities []string, taskData any) error {
	data, err := json.Marshal(taskData)
	if err != nil {
		return types.NewError(types.ErrPublishFailed, "encode task data").WithCause(err)
	}
	coordination := &Coordination{
		TaskID:       taskID,
		Participants: agentIdentities,
		Status:       types.CoordinationPending,
		Data:         data,
		UpdatedAt:    time.Now().UTC(),
	}
	content, err := json.Marshal(coordination)
	if err != nil {
		return types.NewError(types.ErrPublishFailed, "encode coordination").WithCause(err)
	}

	tags := [][]string{Tag(TagTask, taskID), Tag(TagStatus, string(coordination.Status))}
	for _, agent := range agentIdentities {
		tags = append(tags, Tag(TagParticipant, agent))
	}
	env, err := NewEnvelope(d.id, KindCoordination, tags, string(content))
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.coordinations[taskID] = coordination
	d.mu.Unlock()

	return d.publish(ctx, env)
}

// Coordination returns the locally known coordination state for a task.
func (d *Directory) Coordination(taskID string) (*Coordination, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	coordination, ok := d.coordinations[taskID]
	if !ok {
		return nil, false
	}
	clone := *coordination
	return &clone, true
}

// KnownProfiles returns a snapshot of every cached announcement.
func (d *Directory) KnownProfiles() []*AgentProfile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*AgentProfile, 0, len(d.profiles))
	for _, profile := range d.profiles {
		clone := *profile
		out = append(out, &clone)
	}
	return out
}

// readLoop consumes envelopes from one relay until the connection breaks or
// the directory stops.
func (d *Directory) readLoop(ctx context.Context, conn *relayConn) {
	defer d.wg.Done()
	for {
		data, err := conn.read(ctx)
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			d.logger.Warn("malformed envelope dropped", zap.Error(err))
			continue
		}
		d.handleEnvelope(ctx, &env)
	}
}

// handleEnvelope dispatches one verified inbound envelope. Unverifiable
// envelopes and the directory's own echoes are dropped.
func (d *Directory) handleEnvelope(ctx context.Context, env *Envelope) {
	if env.SenderPublicKey == d.Identity() {
		return
	}
	if !env.Verify() {
		d.logger.Warn("envelope signature invalid, dropped", zap.String("envelope", env.String()))
		return
	}

	switch env.Kind {
	case KindAnnouncement:
		d.handleAnnouncement(env)
	case KindRequest:
		d.handleRequest(ctx, env)
	case KindResponse:
		d.handleResponse(env)
	case KindDiscovery:
		d.handleDiscovery(ctx, env)
	case KindCoordination:
		d.handleCoordination(env)
	default:
		d.logger.Debug("unknown envelope kind dropped", zap.String("kind", string(env.Kind)))
	}
}

func (d *Directory) handleAnnouncement(env *Envelope) {
	var profile AgentProfile
	if err := json.Unmarshal([]byte(env.Content), &profile); err != nil {
		d.logger.Warn("malformed announcement dropped", zap.Error(err))
		return
	}
	profile.PublicKey = env.SenderPublicKey
	profile.LastSeen = env.Timestamp

	d.mu.Lock()
	defer d.mu.Unlock()
	existing, ok := d.profiles[env.SenderPublicKey]
	if ok && existing.LastSeen.After(env.Timestamp) {
		return // stale announcement
	}
	d.profiles[env.SenderPublicKey] = &profile
	d.logger.Debug("profile cached",
		zap.String("agent_id", profile.AgentID),
		zap.Strings("capabilities", profile.Capabilities),
	)
}

func (d *Directory) handleRequest(ctx context.Context, env *Envelope) {
	if !env.AddressedTo(d.Identity()) {
		return
	}
	var req ServiceRequest
	if err := json.Unmarshal([]byte(env.Content), &req); err != nil {
		d.logger.Warn("malformed request dropped", zap.Error(err))
		return
	}
	d.mu.Lock()
	d.inbound[req.RequestID] = env.SenderPublicKey
	handler := d.handler
	d.mu.Unlock()

	if handler != nil {
		go handler(ctx, &req, env.SenderPublicKey)
	}
}

func (d *Directory) handleResponse(env *Envelope) {
	if !env.AddressedTo(d.Identity()) {
		return
	}
	var resp ServiceResponse
	if err := json.Unmarshal([]byte(env.Content), &resp); err != nil {
		d.logger.Warn("malformed response dropped", zap.Error(err))
		return
	}
	d.mu.RLock()
	ch, ok := d.pending[resp.RequestID]
	d.mu.RUnlock()
	if !ok {
		return // late or foreign response
	}
	select {
	case ch <- &resp:
	default:
	}
}

// handleDiscovery re-announces the own profile when it matches the query, so
// the querier's cache converges without a central registry.
func (d *Directory) handleDiscovery(ctx context.Context, env *Envelope) {
	var query DiscoveryQuery
	if err := json.Unmarshal([]byte(env.Content), &query); err != nil {
		return
	}
	d.mu.RLock()
	profile := d.ownProfile
	d.mu.RUnlock()
	if profile == nil || !query.Matches(profile) {
		return
	}
	go func() {
		actx, cancel := context.WithTimeout(context.Background(), d.cfg.DialTimeout)
		defer cancel()
		if err := d.Announce(actx, profile); err != nil {
			d.logger.Debug("discovery re-announce failed", zap.Error(err))
		}
	}()
}

func (d *Directory) handleCoordination(env *Envelope) {
	var coordination Coordination
	if err := json.Unmarshal([]byte(env.Content), &coordination); err != nil {
		d.logger.Warn("malformed coordination dropped", zap.Error(err))
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.coordinations[coordination.TaskID] = &coordination
}
