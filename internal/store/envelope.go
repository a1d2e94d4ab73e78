package store

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"proctord/internal/security"
)

var ErrTamperedEnvelope = errors.New("store: envelope authentication failed")

// Codec encodes submission envelopes for the spool: CBOR for the
// structure, zstd for the (image-heavy) size, HMAC for at-rest
// integrity.
type Codec struct {
	key     []byte
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCodec creates a Codec authenticating with the given derived key.
func NewCodec(key []byte) (*Codec, error) {
	if err := security.ValidateKeyStrength(key); err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("init zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("init zstd decoder: %w", err)
	}

	return &Codec{key: key, encoder: enc, decoder: dec}, nil
}

// Encode serializes v and returns the compressed payload with its
// authentication tag.
func (c *Codec) Encode(v interface{}) (payload, tag []byte, err error) {
	raw, err := cbor.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("encode envelope: %w", err)
	}

	payload = c.encoder.EncodeAll(raw, nil)
	tag = security.Authenticate(c.key, payload)
	return payload, tag, nil
}

// Decode verifies the tag and deserializes the payload into v.
func (c *Codec) Decode(payload, tag []byte, v interface{}) error {
	if !security.VerifyTag(c.key, payload, tag) {
		return ErrTamperedEnvelope
	}

	raw, err := c.decoder.DecodeAll(payload, nil)
	if err != nil {
		return fmt.Errorf("decompress envelope: %w", err)
	}

	if err := cbor.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}
	return nil
}

// Close releases the compressor resources.
func (c *Codec) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
