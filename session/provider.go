// Package session owns the process-wide session state the rest of the
// front-end makes decisions on.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/artvinci-web/credentials"
	"github.com/jrsteele09/artvinci-web/identity"
	"github.com/jrsteele09/artvinci-web/internal/metrics"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Phase is where the session is in its lifecycle. Booting is left exactly
// once and never re-entered.
type Phase int

const (
	Booting Phase = iota
	ReadyAuthenticated
	ReadyUnauthenticated
)

func (p Phase) String() string {
	switch p {
	case Booting:
		return "booting"
	case ReadyAuthenticated:
		return "authenticated"
	case ReadyUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// State is a read-only snapshot of the session.
type State struct {
	Phase         Phase                `json:"phase"`
	Initialized   bool                 `json:"initialized"`
	Authenticated bool                 `json:"authenticated"`
	User          *credentials.Profile `json:"user,omitempty"`
	Token         string               `json:"-"`
	// Err is why the startup check could not confirm a session, if it failed.
	Err error `json:"-"`
}

// IdentityClient is the part of identity.Client the provider drives.
type IdentityClient interface {
	Initialize(ctx context.Context) identity.Result
	Login(ctx context.Context, returnURL string) (string, error)
	Signup(ctx context.Context, returnURL string) (string, error)
	HandleCallback(ctx context.Context, state, code string) (string, error)
	Logout(ctx context.Context) (string, error)
	EndSession(ctx context.Context, accessToken string)
	Session() (credentials.Session, bool)
}

var _ IdentityClient = (*identity.Client)(nil)

// Provider is the sole writer of session State.
type Provider struct {
	identity IdentityClient
	limiter  *rate.Limiter

	startOnce sync.Once
	ready     chan struct{}

	mu    sync.RWMutex
	phase Phase
	err   error
}

// NewProvider creates a provider in the Booting phase. At most one
// session-expired login redirect is issued per escalationInterval.
func NewProvider(client IdentityClient, escalationInterval time.Duration) *Provider {
	limit := rate.Inf
	if escalationInterval > 0 {
		limit = rate.Every(escalationInterval)
	}
	return &Provider{
		identity: client,
		limiter:  rate.NewLimiter(limit, 1),
		ready:    make(chan struct{}),
		phase:    Booting,
	}
}

// Start runs the startup session check in the background. Only the first
// call has any effect.
func (p *Provider) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		go p.boot(ctx)
	})
}

func (p *Provider) boot(ctx context.Context) {
	res := p.identity.Initialize(ctx)

	p.mu.Lock()
	p.err = res.Err
	if res.Authenticated {
		p.phase = ReadyAuthenticated
	} else {
		p.phase = ReadyUnauthenticated
	}
	phase := p.phase
	p.mu.Unlock()
	close(p.ready)

	log.Info().Str("phase", phase.String()).Msg("Session ready")
}

// Ready is closed when the provider leaves Booting.
func (p *Provider) Ready() <-chan struct{} {
	return p.ready
}

// Wait blocks until the provider leaves Booting or ctx is done.
func (p *Provider) Wait(ctx context.Context) (State, error) {
	select {
	case <-p.ready:
		return p.State(), nil
	case <-ctx.Done():
		return p.State(), ctx.Err()
	}
}

// State returns the current snapshot. User and Token come straight from the
// token store, so a cleared store can never be reported as authenticated.
func (p *Provider) State() State {
	p.mu.RLock()
	phase, err := p.phase, p.err
	p.mu.RUnlock()

	state := State{Phase: phase, Initialized: phase != Booting, Err: err}
	if phase != ReadyAuthenticated {
		return state
	}

	session, ok := p.identity.Session()
	if !ok {
		state.Phase = ReadyUnauthenticated
		return state
	}
	state.Authenticated = true
	state.User = &session.Profile
	state.Token = session.Credentials.AccessToken
	return state
}

// Login returns the provider URL to send the browser to.
func (p *Provider) Login(ctx context.Context, returnURL string) (string, error) {
	return p.identity.Login(ctx, returnURL)
}

// Signup returns the provider registration URL.
func (p *Provider) Signup(ctx context.Context, returnURL string) (string, error) {
	return p.identity.Signup(ctx, returnURL)
}

// Complete finishes a login redirect and returns where the user was headed.
func (p *Provider) Complete(ctx context.Context, state, code string) (string, error) {
	if _, err := p.Wait(ctx); err != nil {
		return "", err
	}
	returnURL, err := p.identity.HandleCallback(ctx, state, code)
	if err != nil {
		if _, ok := p.identity.Session(); !ok {
			p.setPhase(ReadyUnauthenticated)
		}
		return "", err
	}
	p.setPhase(ReadyAuthenticated)
	return returnURL, nil
}

// Logout ends the session locally and returns the provider logout URL.
// Logging out twice is harmless.
func (p *Provider) Logout(ctx context.Context) (string, error) {
	if _, err := p.Wait(ctx); err != nil {
		return "", err
	}
	logoutURL, err := p.identity.Logout(ctx)
	p.setPhase(ReadyUnauthenticated)
	return logoutURL, err
}

// Expire handles a session that the backend no longer accepts. The stored
// credentials are dropped if they still hold accessToken, the provider moves
// to unauthenticated and, unless a redirect was issued recently, a login URL
// is returned. A throttled call returns an empty URL. A session that was
// replaced by a newer login in the meantime stays authenticated.
func (p *Provider) Expire(ctx context.Context, accessToken, returnURL string) (string, error) {
	p.identity.EndSession(ctx, accessToken)
	if _, ok := p.identity.Session(); ok {
		log.Debug().Msg("Expired credentials already replaced")
		return "", nil
	}
	p.setPhase(ReadyUnauthenticated)

	if !p.limiter.Allow() {
		metrics.RecordEscalation(false)
		log.Debug().Msg("Session expired escalation throttled")
		return "", nil
	}
	metrics.RecordEscalation(true)
	log.Warn().Str("return_url", returnURL).Msg("Session expired, login required")
	return p.identity.Login(ctx, returnURL)
}

// setPhase moves between the Ready phases. It never leaves Booting; only
// the startup check does that.
func (p *Provider) setPhase(phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase == Booting {
		return
	}
	p.phase = phase
}
