package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// SetupProfile is the client profile sent when a link opens.
type SetupProfile struct {
	DeviceID     string `cbor:"1,keyasint"`
	UserID       string `cbor:"2,keyasint,omitempty"`
	VideoWidth   int    `cbor:"3,keyasint"`
	VideoHeight  int    `cbor:"4,keyasint"`
	FrameRate    int    `cbor:"5,keyasint"`
	Stereoscopic bool   `cbor:"6,keyasint"`
	BitrateMin   int    `cbor:"7,keyasint,omitempty"`
	BitrateStart int    `cbor:"8,keyasint,omitempty"`
	BitrateMax   int    `cbor:"9,keyasint,omitempty"`
	Volumetric   bool   `cbor:"10,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("protocol: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("protocol: CBOR decoder initialization failed: " + err.Error())
	}
}

func marshalSetup(p *SetupProfile) ([]byte, error) {
	b, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode setup: %w", err)
	}
	return b, nil
}

func unmarshalSetup(b []byte, p *SetupProfile) error {
	if len(b) == 0 {
		return ErrShortPayload
	}
	if err := decMode.Unmarshal(b, p); err != nil {
		return fmt.Errorf("decode setup: %w", err)
	}
	return nil
}
