package aggregate

import (
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"accounts/internal/eventsourcing/entity"
	"accounts/internal/user/models"
	"accounts/pkg/platform/sentinel"
)

// Codec stores events as JSON keyed by manifest and snapshots as canonical CBOR.
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var (
	_ entity.EventCodec[models.Event] = (*Codec)(nil)
	_ entity.StateCodec[models.State] = (*Codec)(nil)
)

func NewCodec() (*Codec, error) {
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{ExtraReturnErrors: cbor.ExtraDecErrorUnknownField}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}
	return &Codec{enc: enc, dec: dec}, nil
}

func (c *Codec) MarshalEvent(evt models.Event) (string, []byte, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return "", nil, fmt.Errorf("marshal %s: %w", evt.Manifest(), err)
	}
	return evt.Manifest(), payload, nil
}

func (c *Codec) UnmarshalEvent(manifest string, payload []byte) (models.Event, error) {
	switch manifest {
	case models.ManifestUserRegistered:
		var evt models.UserRegistered
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", manifest, err)
		}
		return evt, nil
	case models.ManifestUserUpdated:
		var evt models.UserUpdated
		if err := json.Unmarshal(payload, &evt); err != nil {
			return nil, fmt.Errorf("unmarshal %s: %w", manifest, err)
		}
		return evt, nil
	default:
		return nil, fmt.Errorf("unknown event manifest %q: %w", manifest, sentinel.ErrInvalidState)
	}
}

func (c *Codec) MarshalState(state models.State) ([]byte, error) {
	return c.enc.Marshal(state)
}

func (c *Codec) UnmarshalState(payload []byte) (models.State, error) {
	var state models.State
	if err := c.dec.Unmarshal(payload, &state); err != nil {
		return models.State{}, fmt.Errorf("unmarshal user state: %w", err)
	}
	return state, nil
}
