package dispatcher

import (
	"context"
	"time"

	"github.com/didcomm-mediator/mediator/apperr"
	"github.com/didcomm-mediator/mediator/did"
	"github.com/didcomm-mediator/mediator/envelope"
	"github.com/didcomm-mediator/mediator/session"
)

// BuildRequest runs the envelope pipeline (spec §4.1-4.3) over a raw inbound
// frame and assembles a dispatcher Request, bound to an already-resolved
// session (transport-specific: a bearer token for HTTP, the session the
// socket authenticated as for the websocket worker). Both the HTTP /inbound
// handler and the websocket worker share this rather than duplicating the
// parse/verify/decrypt/classify sequence auth.Authenticate already performs
// for its own, narrower AffinidiAuthenticate case.
func BuildRequest(ctx context.Context, raw []byte, resolver did.Resolver, decryptor *envelope.Decryptor, rec *session.Record, now time.Time) (*Request, error) {
	parsed, err := envelope.Parse(raw)
	if err != nil {
		return nil, envelope.ToAppErr(err)
	}
	if err := envelope.VerifyDIDComm(parsed); err != nil {
		return nil, envelope.ToAppErr(err)
	}
	me, _, err := envelope.BuildMetaEnvelope(ctx, parsed, resolver)
	if err != nil {
		return nil, envelope.ToAppErr(err)
	}
	result, err := decryptor.Unpack(ctx, me)
	if err != nil {
		return nil, envelope.ToAppErr(err)
	}
	inner, err := ParseInner(result.Plaintext)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindMalformed, "decode inner message", err)
	}

	toHash := did.DID(me.ToDID).Hash()
	fromHash := ""
	if !me.Metadata.AnonymousSender {
		fromDID, _ := did.SplitKid(me.FromKid)
		fromHash = did.DID(fromDID).Hash()
	}

	return &Request{
		Session:  rec,
		FromHash: fromHash,
		ToHash:   toHash,
		Inner:    inner,
		Now:      now,
	}, nil
}
