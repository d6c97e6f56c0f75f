package gossip

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hashicorp/go-msgpack/codec"
)

type frameKind byte

const (
	frameBroadcast frameKind = iota + 1
	frameDirect
)

var errMalformedFrame = errors.New("malformed frame")

// encodeFrame prepends the frame header: the kind byte, and for direct frames
// the length-prefixed id of the addressee.
func encodeFrame(kind frameKind, target string, payload []byte) ([]byte, error) {
	if len(target) > 255 {
		return nil, fmt.Errorf("member id is too long: %d bytes", len(target))
	}

	buf := make([]byte, 0, len(payload)+len(target)+2)
	buf = append(buf, byte(kind))

	if kind == frameDirect {
		buf = append(buf, byte(len(target)))
		buf = append(buf, target...)
	}

	return append(buf, payload...), nil
}

func decodeFrame(b []byte) (kind frameKind, target string, payload []byte, err error) {
	if len(b) < 1 {
		return 0, "", nil, errMalformedFrame
	}

	kind = frameKind(b[0])

	switch kind {
	case frameBroadcast:
		return kind, "", b[1:], nil
	case frameDirect:
		if len(b) < 2 || len(b) < 2+int(b[1]) {
			return 0, "", nil, errMalformedFrame
		}

		n := int(b[1])

		return kind, string(b[2 : 2+n]), b[2+n:], nil
	default:
		return 0, "", nil, fmt.Errorf("%w: unknown kind %d", errMalformedFrame, kind)
	}
}

func encodeMeta(meta map[string]string) ([]byte, error) {
	var buf bytes.Buffer

	if err := codec.NewEncoder(&buf, &codec.MsgpackHandle{}).Encode(meta); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeMeta(b []byte) (map[string]string, error) {
	meta := make(map[string]string)
	if len(b) == 0 {
		return meta, nil
	}

	if err := codec.NewDecoderBytes(b, &codec.MsgpackHandle{}).Decode(&meta); err != nil {
		return nil, err
	}

	return meta, nil
}
