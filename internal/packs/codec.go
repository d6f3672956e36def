package packs

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warband/battlecore/pkg/streaming"
)

var (
	// ErrMalformedPack is returned for payloads that cannot be decoded.
	ErrMalformedPack = errors.New("malformed pack")
	// ErrUnknownPackType is returned for envelope types with no pack.
	ErrUnknownPackType = errors.New("unknown pack type")
)

var factories = map[string]func() Pack{
	streaming.TypeBattleStart:    func() Pack { return &BattleStart{} },
	streaming.TypeStacksInjured:  func() Pack { return &StacksInjured{} },
	streaming.TypeStacksHealed:   func() Pack { return &StacksHealed{} },
	streaming.TypeStackMoved:     func() Pack { return &StackMoved{} },
	streaming.TypePackageApplied: func() Pack { return &PackageApplied{} },
}

// Encode wraps p into an envelope with the given sequence number.
func Encode(p Pack, seq uint64) (streaming.Envelope, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return streaming.Envelope{}, fmt.Errorf("marshal %s: %w", p.Type(), err)
	}
	return streaming.Envelope{Type: p.Type(), Seq: seq, Payload: payload}, nil
}

// Marshal encodes p straight to wire bytes.
func Marshal(p Pack, seq uint64) ([]byte, error) {
	env, err := Encode(p, seq)
	if err != nil {
		return nil, err
	}
	return json.Marshal(env)
}

// Decode turns an envelope back into its pack.
func Decode(env streaming.Envelope) (Pack, error) {
	newPack, ok := factories[env.Type]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPackType, env.Type)
	}
	p := newPack()
	if len(env.Payload) == 0 {
		return nil, fmt.Errorf("%w: %s without payload", ErrMalformedPack, env.Type)
	}
	if err := json.Unmarshal(env.Payload, p); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedPack, env.Type, err)
	}
	return p, nil
}

// Unmarshal decodes wire bytes into a pack and its sequence number.
func Unmarshal(data []byte) (Pack, uint64, error) {
	var env streaming.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, 0, fmt.Errorf("%w: envelope: %v", ErrMalformedPack, err)
	}
	p, err := Decode(env)
	if err != nil {
		return nil, env.Seq, err
	}
	return p, env.Seq, nil
}
