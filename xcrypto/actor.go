package xcrypto

import "github.com/creditmesh/meshnode/meshtypes"

// signRequest is one pending signature request sent to the signing actor.
type signRequest struct {
	msg    []byte
	result chan meshtypes.Signature
}

// ActorSigner serializes signing behind a channel so the router's main
// task never touches the private key directly: it sends a request and
// later receives a completion event, matching spec.md §5's "identity
// signing client is similarly actor-based" and the teacher's htlcPlex/
// linkControl request-channel pattern in htlcswitch/switch.go.
type ActorSigner struct {
	identity *Identity
	requests chan signRequest
	quit     chan struct{}
}

// NewActorSigner starts the signing actor goroutine backed by identity.
func NewActorSigner(identity *Identity) *ActorSigner {
	a := &ActorSigner{
		identity: identity,
		requests: make(chan signRequest),
		quit:     make(chan struct{}),
	}
	go a.run()
	return a
}

func (a *ActorSigner) run() {
	for {
		select {
		case req := <-a.requests:
			req.result <- a.identity.Sign(req.msg)
		case <-a.quit:
			return
		}
	}
}

// PublicKey returns the wrapped identity's public key.
func (a *ActorSigner) PublicKey() meshtypes.PublicKey {
	return a.identity.PublicKey()
}

// Sign requests a signature from the actor and blocks until it completes.
// Although this method itself blocks the caller, it is intended to be
// called from a worker goroutine so the router's main select loop is never
// the one blocking on it (spec.md §5 "Suspension points").
func (a *ActorSigner) Sign(msg []byte) meshtypes.Signature {
	req := signRequest{msg: msg, result: make(chan meshtypes.Signature, 1)}
	select {
	case a.requests <- req:
	case <-a.quit:
		return meshtypes.Signature{}
	}
	select {
	case sig := <-req.result:
		return sig
	case <-a.quit:
		return meshtypes.Signature{}
	}
}

// Stop shuts down the signing actor goroutine.
func (a *ActorSigner) Stop() {
	close(a.quit)
}
