package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Wyydra/meshcall/internal/core/domain"
	"github.com/Wyydra/meshcall/internal/core/port"
)

// fakeChannel records outbound messages and lets tests inject events.
type fakeChannel struct {
	mu     sync.Mutex
	sent   []domain.Message
	closed bool
	events chan port.ChannelEvent
	// onSend, when set, is called after a message has been recorded.
	onSend func(domain.Message)
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{events: make(chan port.ChannelEvent, 1024)}
}

func (c *fakeChannel) Send(ctx context.Context, msg domain.Message) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrChannelClosed
	}
	c.sent = append(c.sent, msg)
	onSend := c.onSend
	c.mu.Unlock()

	if onSend != nil {
		onSend(msg)
	}
	return nil
}

func (c *fakeChannel) Subscribe() (<-chan port.ChannelEvent, func()) {
	return c.events, func() {}
}

func (c *fakeChannel) setClosed(closed bool) {
	c.mu.Lock()
	c.closed = closed
	c.mu.Unlock()
}

func (c *fakeChannel) messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Message(nil), c.sent...)
}

func (c *fakeChannel) count(t domain.MessageType) int {
	n := 0
	for _, m := range c.messages() {
		if m.Type() == t {
			n++
		}
	}
	return n
}

func (c *fakeChannel) offersTo(peer domain.PeerID) int {
	n := 0
	for _, m := range c.messages() {
		if o, ok := m.(domain.Offer); ok && o.Peer == peer {
			n++
		}
	}
	return n
}

type fakeTrack struct {
	mu      sync.Mutex
	id      string
	kind    domain.MediaKind
	enabled bool
	stopped bool
	ended   []func()
}

func newFakeTrack(id string, kind domain.MediaKind) *fakeTrack {
	return &fakeTrack{id: id, kind: kind, enabled: true}
}

func (t *fakeTrack) ID() string             { return t.id }
func (t *fakeTrack) Kind() domain.MediaKind { return t.kind }

func (t *fakeTrack) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *fakeTrack) SetEnabled(enabled bool) {
	t.mu.Lock()
	t.enabled = enabled
	t.mu.Unlock()
}

func (t *fakeTrack) OnEnded(fn func()) {
	t.mu.Lock()
	t.ended = append(t.ended, fn)
	t.mu.Unlock()
}

// Stop ends the track and fires OnEnded handlers, like a capture source
// that goes away.
func (t *fakeTrack) Stop() {
	t.mu.Lock()
	if t.stopped {
		t.mu.Unlock()
		return
	}
	t.stopped = true
	handlers := t.ended
	t.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

func (t *fakeTrack) isStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

type fakeCapturer struct {
	mu         sync.Mutex
	userErr    error
	displayErr error
	audio      *fakeTrack
	video      *fakeTrack
	screens    []*fakeTrack
	// gate, when set, blocks CaptureUserMedia until closed.
	gate chan struct{}
}

func newFakeCapturer() *fakeCapturer {
	return &fakeCapturer{
		audio: newFakeTrack("mic", domain.KindAudio),
		video: newFakeTrack("camera", domain.KindVideo),
	}
}

func (c *fakeCapturer) CaptureUserMedia(ctx context.Context) (port.LocalStream, error) {
	if c.gate != nil {
		<-c.gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.userErr != nil {
		return port.LocalStream{}, c.userErr
	}
	return port.LocalStream{Audio: c.audio, Video: c.video}, nil
}

func (c *fakeCapturer) CaptureDisplay(ctx context.Context) (port.LocalTrack, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.displayErr != nil {
		return nil, c.displayErr
	}
	screen := newFakeTrack(fmt.Sprintf("screen-%d", len(c.screens)+1), domain.KindVideo)
	c.screens = append(c.screens, screen)
	return screen, nil
}

func (c *fakeCapturer) lastScreen() *fakeTrack {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.screens) == 0 {
		return nil
	}
	return c.screens[len(c.screens)-1]
}

type fakeSender struct {
	mu         sync.Mutex
	track      port.LocalTrack
	replaced   int
	replaceErr error
}

func (s *fakeSender) Track() port.LocalTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *fakeSender) ReplaceTrack(track port.LocalTrack) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replaceErr != nil {
		return s.replaceErr
	}
	s.track = track
	s.replaced++
	return nil
}

// appliedCandidate records a candidate together with whether a remote
// description existed when it was applied.
type appliedCandidate struct {
	candidate domain.ICECandidate
	afterSDP  bool
}

type fakeConn struct {
	mu       sync.Mutex
	peer     domain.PeerID
	handlers port.ConnectionHandlers
	senders  []*fakeSender
	recvOnly []domain.MediaKind
	local    *domain.SessionDescription
	remote   *domain.SessionDescription
	applied  []appliedCandidate
	offers   int
	answers  int
	closed   bool

	offerErr    error
	remoteErr   error
	addTrackErr error
}

func (c *fakeConn) AddTrack(track port.LocalTrack) (port.Sender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.addTrackErr != nil {
		return nil, c.addTrackErr
	}
	s := &fakeSender{track: track}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *fakeConn) AddRecvOnly(kind domain.MediaKind) error {
	c.mu.Lock()
	c.recvOnly = append(c.recvOnly, kind)
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) CreateOffer(ctx context.Context) (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offerErr != nil {
		return domain.SessionDescription{}, c.offerErr
	}
	c.offers++
	return domain.SessionDescription{Type: domain.SDPOffer, SDP: fmt.Sprintf("offer-to-%s-%d", c.peer, c.offers)}, nil
}

func (c *fakeConn) CreateAnswer(ctx context.Context) (domain.SessionDescription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remote == nil {
		return domain.SessionDescription{}, errors.New("no remote offer")
	}
	c.answers++
	return domain.SessionDescription{Type: domain.SDPAnswer, SDP: fmt.Sprintf("answer-to-%s-%d", c.peer, c.answers)}, nil
}

func (c *fakeConn) SetLocalDescription(ctx context.Context, desc domain.SessionDescription) error {
	c.mu.Lock()
	c.local = &desc
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) SetRemoteDescription(ctx context.Context, desc domain.SessionDescription) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.remoteErr != nil {
		return c.remoteErr
	}
	c.remote = &desc
	return nil
}

func (c *fakeConn) AddICECandidate(ctx context.Context, candidate domain.ICECandidate) error {
	c.mu.Lock()
	c.applied = append(c.applied, appliedCandidate{candidate: candidate, afterSDP: c.remote != nil})
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) appliedCandidates() []appliedCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]appliedCandidate(nil), c.applied...)
}

func (c *fakeConn) videoSender() *fakeSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range c.senders {
		if s.Track() != nil && s.Track().Kind() == domain.KindVideo {
			return s
		}
	}
	return nil
}

type fakeEngine struct {
	mu    sync.Mutex
	conns map[domain.PeerID][]*fakeConn
	err   error
	// addTrackErr is copied into every new connection.
	addTrackErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{conns: make(map[domain.PeerID][]*fakeConn)}
}

func (e *fakeEngine) NewConnection(peer domain.PeerID, handlers port.ConnectionHandlers) (port.Connection, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	c := &fakeConn{peer: peer, handlers: handlers, addTrackErr: e.addTrackErr}
	e.conns[peer] = append(e.conns[peer], c)
	return c, nil
}

// conn returns the latest connection created for peer.
func (e *fakeEngine) conn(peer domain.PeerID) *fakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	conns := e.conns[peer]
	if len(conns) == 0 {
		return nil
	}
	return conns[len(conns)-1]
}

func (e *fakeEngine) connCount(peer domain.PeerID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns[peer])
}

type fakeRemoteStream struct {
	id   string
	kind domain.MediaKind
}

func (s fakeRemoteStream) StreamID() string       { return s.id }
func (s fakeRemoteStream) TrackID() string        { return s.id + "-track" }
func (s fakeRemoteStream) Kind() domain.MediaKind { return s.kind }

type recordingSink struct {
	mu      sync.Mutex
	added   []domain.PeerID
	removed []domain.PeerID
	streams map[domain.PeerID]int
	states  []domain.MediaState
	notices []domain.Notice
}

func newRecordingSink() *recordingSink {
	return &recordingSink{streams: make(map[domain.PeerID]int)}
}

func (r *recordingSink) OnParticipantAdded(id domain.PeerID) {
	r.mu.Lock()
	r.added = append(r.added, id)
	r.mu.Unlock()
}

func (r *recordingSink) OnParticipantRemoved(id domain.PeerID) {
	r.mu.Lock()
	r.removed = append(r.removed, id)
	r.mu.Unlock()
}

func (r *recordingSink) OnRemoteStream(id domain.PeerID, stream port.RemoteStream) {
	r.mu.Lock()
	r.streams[id]++
	r.mu.Unlock()
}

func (r *recordingSink) OnLocalMediaStateChanged(state domain.MediaState) {
	r.mu.Lock()
	r.states = append(r.states, state)
	r.mu.Unlock()
}

func (r *recordingSink) OnSystemNotice(notice domain.Notice) {
	r.mu.Lock()
	r.notices = append(r.notices, notice)
	r.mu.Unlock()
}

func (r *recordingSink) removedIDs() []domain.PeerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.PeerID(nil), r.removed...)
}

func (r *recordingSink) noticeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notices)
}

func (r *recordingSink) lastState() domain.MediaState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) == 0 {
		return domain.MediaState{}
	}
	return r.states[len(r.states)-1]
}

// countingMetrics tracks the peer link balance.
type countingMetrics struct {
	port.NopMetrics

	mu     sync.Mutex
	opened int
	closed int
}

func (m *countingMetrics) PeerLinkOpened(domain.Role) {
	m.mu.Lock()
	m.opened++
	m.mu.Unlock()
}

func (m *countingMetrics) PeerLinkClosed(domain.CloseReason) {
	m.mu.Lock()
	m.closed++
	m.mu.Unlock()
}

// active is the number of links opened and not yet closed.
func (m *countingMetrics) active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opened - m.closed
}

// harness runs one CallService against fakes.
type harness struct {
	t        *testing.T
	ctx      context.Context
	svc      *CallService
	channel  *fakeChannel
	engine   *fakeEngine
	capturer *fakeCapturer
	sink     *recordingSink
	metrics  *countingMetrics
}

var fixedNow = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func newHarness(t *testing.T, self domain.PeerID) *harness {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	h := &harness{
		t:        t,
		ctx:      ctx,
		channel:  newFakeChannel(),
		engine:   newFakeEngine(),
		capturer: newFakeCapturer(),
		sink:     newRecordingSink(),
		metrics:  &countingMetrics{},
	}
	h.svc = NewCallService(self, h.channel, h.engine, h.capturer, h.sink, WithClock(fixedNow), WithMetrics(h.metrics))

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = h.svc.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	return h
}

func (h *harness) join() {
	h.t.Helper()
	if err := h.svc.Join(h.ctx); err != nil {
		h.t.Fatalf("Join: %v", err)
	}
}

func (h *harness) deliver(msgs ...domain.Message) {
	h.t.Helper()
	for _, m := range msgs {
		if err := h.svc.HandleMessage(h.ctx, m); err != nil {
			h.t.Fatalf("HandleMessage(%s): %v", m.Type(), err)
		}
	}
}

func (h *harness) snapshot() Snapshot {
	h.t.Helper()
	snap, err := h.svc.Snapshot(h.ctx)
	if err != nil {
		h.t.Fatalf("Snapshot: %v", err)
	}
	return snap
}

// links copies the live peer links. The pointers stay valid after the
// service closes them.
func (h *harness) links() map[domain.PeerID]*PeerLink {
	h.t.Helper()
	out, err := ask(h.ctx, h.svc, func(ctx context.Context) (map[domain.PeerID]*PeerLink, error) {
		m := make(map[domain.PeerID]*PeerLink, len(h.svc.peers))
		for id, l := range h.svc.peers {
			m[id] = l
		}
		return m, nil
	})
	if err != nil {
		h.t.Fatalf("links: %v", err)
	}
	return out
}

func (h *harness) peerState(id domain.PeerID) (domain.NegotiationState, bool) {
	h.t.Helper()
	for _, p := range h.snapshot().Peers {
		if p.ID == id {
			return p.State, true
		}
	}
	return 0, false
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func offerFrom(peer domain.PeerID) domain.Offer {
	return domain.Offer{Peer: peer, Description: domain.SessionDescription{Type: domain.SDPOffer, SDP: "offer-from-" + string(peer)}}
}

func answerFrom(peer domain.PeerID) domain.Answer {
	return domain.Answer{Peer: peer, Description: domain.SessionDescription{Type: domain.SDPAnswer, SDP: "answer-from-" + string(peer)}}
}

func iceFrom(peer domain.PeerID, candidate string) domain.ICE {
	return domain.ICE{Peer: peer, Candidate: domain.ICECandidate{Candidate: candidate}}
}
