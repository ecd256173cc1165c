package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChaosChain/fin-studio-go/identity"
	"github.com/ChaosChain/fin-studio-go/internal/metrics"
	"github.com/ChaosChain/fin-studio-go/types"
)

// relayHub is a minimal in-process relay: every frame received from any client
// is rebroadcast to all connected clients, sender included.
type relayHub struct {
	srv     *httptest.Server
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func startRelayHub(t *testing.T) *relayHub {
	t.Helper()
	hub := &relayHub{clients: make(map[*websocket.Conn]struct{})}
	hub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		hub.mu.Lock()
		hub.clients[c] = struct{}{}
		hub.mu.Unlock()
		defer func() {
			hub.mu.Lock()
			delete(hub.clients, c)
			hub.mu.Unlock()
			_ = c.Close(websocket.StatusNormalClosure, "")
		}()
		for {
			_, data, err := c.Read(r.Context())
			if err != nil {
				return
			}
			hub.broadcast(data)
		}
	}))
	t.Cleanup(hub.srv.Close)
	return hub
}

func (h *relayHub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.Write(context.Background(), websocket.MessageText, data)
	}
}

func (h *relayHub) url() string {
	return "ws://" + strings.TrimPrefix(h.srv.URL, "http://")
}

func startDirectory(t *testing.T, urls ...string) *Directory {
	t.Helper()
	id, err := identity.Generate()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.RelayURLs = urls
	cfg.DialTimeout = 2 * time.Second
	d := NewDirectory(id, &cfg, nil)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })
	return d
}

func TestDirectory_StartTolerantOfUnreachableRelays(t *testing.T) {
	hubA := startRelayHub(t)
	hubB := startRelayHub(t)

	// Five configured endpoints, only two reachable.
	d := startDirectory(t,
		"ws://127.0.0.1:1/relay",
		hubA.url(),
		"ws://127.0.0.1:2/relay",
		hubB.url(),
		"ws://127.0.0.1:3/relay",
	)
	assert.Equal(t, 2, d.ConnectedRelays())

	err := d.Announce(context.Background(), &AgentProfile{
		AgentID:      "agent-1",
		Name:         "Market Researcher",
		Capabilities: []string{"market_research"},
	})
	require.NoError(t, err)
}

func TestDirectory_StartFailsWithNoReachableRelay(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.RelayURLs = []string{"ws://127.0.0.1:1/relay", "ws://127.0.0.1:2/relay"}
	cfg.DialTimeout = time.Second
	d := NewDirectory(id, &cfg, nil)

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrRelayUnavailable, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestDirectory_StartFailsWithNoEndpointsConfigured(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	d := NewDirectory(id, nil, nil)

	err = d.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, types.ErrRelayUnavailable, types.GetErrorCode(err))
}

func TestDirectory_DiscoverFiltersByCapability(t *testing.T) {
	hub := startRelayHub(t)
	observer := startDirectory(t, hub.url())

	profiles := []*AgentProfile{
		{AgentID: "researcher", Name: "Researcher", Capabilities: []string{"market_research"}},
		{AgentID: "technician", Name: "Technician", Capabilities: []string{"technical_analysis"}, Specialties: []string{"equities"}},
		{AgentID: "sentimenter", Name: "Sentimenter", Capabilities: []string{"sentiment_analysis"}},
	}
	for _, profile := range profiles {
		announcer := startDirectory(t, hub.url())
		require.NoError(t, announcer.Announce(context.Background(), profile))
	}

	require.Eventually(t, func() bool {
		return len(observer.KnownProfiles()) == 3
	}, 3*time.Second, 10*time.Millisecond, "expected all announcements to reach the observer")

	matched := observer.Discover(context.Background(), []string{"technical_analysis"}, nil)
	require.Len(t, matched, 1)
	assert.Equal(t, "technician", matched[0].AgentID)
	assert.True(t, matched[0].HasSpecialty("equities"))

	none := observer.Discover(context.Background(), []string{"technical_analysis"}, []string{"bonds"})
	assert.Empty(t, none)
}

func TestDirectory_AnnounceDoesNotMutateCallerProfile(t *testing.T) {
	hub := startRelayHub(t)
	d := startDirectory(t, hub.url())

	profile := &AgentProfile{
		AgentID:      "agent-1",
		Name:         "Agent",
		Capabilities: []string{"market_research"},
	}
	require.NoError(t, d.Announce(context.Background(), profile))

	assert.Empty(t, profile.PublicKey)
	assert.True(t, profile.LastSeen.IsZero())

	cached := d.KnownProfiles()
	assert.Empty(t, cached, "own announcement must not land in the peer cache")
}

func TestDirectory_ConcurrentDiscoveryReannounces(t *testing.T) {
	hubA := startRelayHub(t)
	hubB := startRelayHub(t)

	// Both parties share both relays, so every discovery broadcast is
	// delivered to the announcer once per relay and the matching re-announce
	// runs on two reader goroutines at the same time.
	announcer := startDirectory(t, hubA.url(), hubB.url())
	require.NoError(t, announcer.Announce(context.Background(), &AgentProfile{
		AgentID:      "agent-1",
		Name:         "Agent",
		Capabilities: []string{"market_research"},
	}))

	observer := startDirectory(t, hubA.url(), hubB.url())
	for i := 0; i < 5; i++ {
		observer.Discover(context.Background(), []string{"market_research"}, nil)
	}

	require.Eventually(t, func() bool {
		known := observer.KnownProfiles()
		return len(known) == 1 && known[0].AgentID == "agent-1"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestDirectory_NewerAnnouncementSupersedes(t *testing.T) {
	hub := startRelayHub(t)
	observer := startDirectory(t, hub.url())
	announcer := startDirectory(t, hub.url())

	require.NoError(t, announcer.Announce(context.Background(), &AgentProfile{
		AgentID:      "agent-1",
		Name:         "First Name",
		Capabilities: []string{"market_research"},
	}))
	require.NoError(t, announcer.Announce(context.Background(), &AgentProfile{
		AgentID:      "agent-1",
		Name:         "Second Name",
		Capabilities: []string{"market_research", "sentiment_analysis"},
	}))

	require.Eventually(t, func() bool {
		known := observer.KnownProfiles()
		return len(known) == 1 && known[0].Name == "Second Name"
	}, 3*time.Second, 10*time.Millisecond)

	known := observer.KnownProfiles()
	require.Len(t, known, 1)
	assert.Equal(t, announcer.Identity(), known[0].PublicKey)
	assert.True(t, known[0].HasCapability("sentiment_analysis"))
}

func TestDirectory_RequestResponseRoundTrip(t *testing.T) {
	hub := startRelayHub(t)

	responderID, err := identity.Generate()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.RelayURLs = []string{hub.url()}
	responder := NewDirectory(responderID, &cfg, nil)
	responder.SetRequestHandler(func(ctx context.Context, req *ServiceRequest, sender string) {
		payload, _ := json.Marshal(map[string]string{"echo": req.TaskType, "requester": sender})
		_ = responder.Respond(ctx, req.RequestID, payload)
	})
	require.NoError(t, responder.Start(context.Background()))
	t.Cleanup(func() { _ = responder.Stop(context.Background()) })

	requester := startDirectory(t, hub.url())

	resp, err := requester.RequestService(context.Background(), &ServiceRequest{
		TaskType: "technical_analysis",
		Target:   responder.Identity(),
		Timeout:  3 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, responder.Identity(), resp.From)

	var payload map[string]string
	require.NoError(t, json.Unmarshal(resp.Payload, &payload))
	assert.Equal(t, "technical_analysis", payload["echo"])
	assert.Equal(t, requester.Identity(), payload["requester"])
}

func TestDirectory_RequestServiceTimesOut(t *testing.T) {
	hub := startRelayHub(t)
	requester := startDirectory(t, hub.url())

	_, err := requester.RequestService(context.Background(), &ServiceRequest{
		TaskType: "market_research",
		Timeout:  100 * time.Millisecond,
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrRequestTimeout, types.GetErrorCode(err))
	assert.True(t, types.IsRetryable(err))
}

func TestDirectory_RespondWithoutTrackedRequest(t *testing.T) {
	hub := startRelayHub(t)
	d := startDirectory(t, hub.url())

	err := d.Respond(context.Background(), "no-such-request", nil)
	require.Error(t, err)
	assert.Equal(t, types.ErrRequestNotFound, types.GetErrorCode(err))
}

func TestDirectory_CoordinationPropagates(t *testing.T) {
	hub := startRelayHub(t)
	coordinator := startDirectory(t, hub.url())
	participant := startDirectory(t, hub.url())

	participants := []string{coordinator.Identity(), participant.Identity()}
	err := coordinator.CoordinateTask(context.Background(), "task-7", participants, map[string]string{"subject": "AAPL"})
	require.NoError(t, err)

	// Local state is recorded immediately.
	local, ok := coordinator.Coordination("task-7")
	require.True(t, ok)
	assert.Equal(t, types.CoordinationPending, local.Status)

	require.Eventually(t, func() bool {
		_, ok := participant.Coordination("task-7")
		return ok
	}, 3*time.Second, 10*time.Millisecond)

	remote, ok := participant.Coordination("task-7")
	require.True(t, ok)
	assert.Equal(t, participants, remote.Participants)
	assert.Equal(t, types.CoordinationPending, remote.Status)
}

func TestDirectory_DropsTamperedEnvelopes(t *testing.T) {
	hub := startRelayHub(t)
	observer := startDirectory(t, hub.url())

	forger, err := identity.Generate()
	require.NoError(t, err)
	profile, err := json.Marshal(&AgentProfile{AgentID: "forged", Name: "Forged", Capabilities: []string{"market_research"}})
	require.NoError(t, err)
	env, err := NewEnvelope(forger, KindAnnouncement, nil, string(profile))
	require.NoError(t, err)
	env.Content = strings.Replace(env.Content, "Forged", "Altered", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	raw, _, err := websocket.Dial(ctx, hub.url(), nil)
	require.NoError(t, err)
	defer raw.Close(websocket.StatusNormalClosure, "")

	data, err := json.Marshal(env)
	require.NoError(t, err)
	require.NoError(t, raw.Write(ctx, websocket.MessageText, data))

	// A valid announcement published afterwards proves delivery ordering: once
	// it lands, the tampered one has already been seen and dropped.
	announcer := startDirectory(t, hub.url())
	require.NoError(t, announcer.Announce(context.Background(), &AgentProfile{
		AgentID:      "genuine",
		Name:         "Genuine",
		Capabilities: []string{"market_research"},
	}))

	require.Eventually(t, func() bool {
		return len(observer.KnownProfiles()) == 1
	}, 3*time.Second, 10*time.Millisecond)
	known := observer.KnownProfiles()
	require.Len(t, known, 1)
	assert.Equal(t, "genuine", known[0].AgentID)
}

func TestDirectory_PublishesCounted(t *testing.T) {
	hub := startRelayHub(t)
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	id, err := identity.Generate()
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.RelayURLs = []string{hub.url()}
	d := NewDirectory(id, &cfg, nil)
	d.SetMetrics(collector)
	require.NoError(t, d.Start(context.Background()))
	t.Cleanup(func() { _ = d.Stop(context.Background()) })

	require.NoError(t, d.Announce(context.Background(), &AgentProfile{AgentID: "agent-1"}))
	require.NoError(t, d.Announce(context.Background(), &AgentProfile{AgentID: "agent-1"}))
	require.NoError(t, d.CoordinateTask(context.Background(), "task-1", nil, map[string]string{"subject": "AAPL"}))

	assert.Equal(t, 2.0, counterValue(t, registry, "finstudio_relay_publishes_total",
		map[string]string{"kind": string(KindAnnouncement), "outcome": "ok"}))
	assert.Equal(t, 1.0, counterValue(t, registry, "finstudio_relay_publishes_total",
		map[string]string{"kind": string(KindCoordination), "outcome": "ok"}))
	assert.Equal(t, 1.0, gaugeValue(t, registry, "finstudio_relay_connections"))

	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 0.0, gaugeValue(t, registry, "finstudio_relay_connections"))
}

func counterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matched := true
			for _, pair := range metric.GetLabel() {
				if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
					matched = false
					break
				}
			}
			if matched {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func gaugeValue(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() == name {
			return family.GetMetric()[0].GetGauge().GetValue()
		}
	}
	return 0
}
