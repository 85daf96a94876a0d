package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/drawguess/internal/models"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrUnknownKind = errors.New("unknown message kind")
	ErrMalformed   = errors.New("malformed envelope")
)

// Envelope field numbers.
const (
	fieldKind    protowire.Number = 1
	fieldRoom    protowire.Number = 2
	fieldAuthor  protowire.Number = 3
	fieldSentAt  protowire.Number = 4
	fieldPayload protowire.Number = 5
)

// Stroke field numbers.
const (
	strokeID        protowire.Number = 1
	strokeAuthor    protowire.Number = 2
	strokeTool      protowire.Number = 3
	strokeColor     protowire.Number = 4
	strokeWidth     protowire.Number = 5
	strokePoints    protowire.Number = 6
	strokeTimestamp protowire.Number = 7
)

// Encode serializes an envelope. Drawing payloads use a compact binary stroke
// encoding since they dominate traffic; other payloads are JSON.
func Encode(env Envelope) ([]byte, error) {
	if env.Message == nil {
		return nil, fmt.Errorf("%w: nil message", ErrMalformed)
	}
	var payload []byte
	switch m := env.Message.(type) {
	case DrawingMessage:
		payload = encodeStroke(m.Stroke)
	case ClearMessage, ChangeMessage, StateMessage, PresenceMessage:
		var err error
		payload, err = json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", env.Message.Kind(), err)
		}
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, env.Message)
	}

	b := make([]byte, 0, len(payload)+64)
	b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.Message.Kind()))
	b = protowire.AppendTag(b, fieldRoom, protowire.BytesType)
	b = protowire.AppendString(b, env.Room)
	b = protowire.AppendTag(b, fieldAuthor, protowire.BytesType)
	b = protowire.AppendBytes(b, env.Author[:])
	b = protowire.AppendTag(b, fieldSentAt, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(env.SentAt.UnixMilli()))
	b = protowire.AppendTag(b, fieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, payload)
	return b, nil
}

// Decode parses an envelope produced by Encode. Unknown fields are skipped;
// unknown kinds return ErrUnknownKind.
func Decode(data []byte) (Envelope, error) {
	var (
		env     Envelope
		kind    Kind
		payload []byte
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]
		switch {
		case num == fieldKind && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return Envelope{}, fmt.Errorf("%w: kind", ErrMalformed)
			}
			kind = Kind(v)
			n = m
		case num == fieldRoom && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return Envelope{}, fmt.Errorf("%w: room", ErrMalformed)
			}
			env.Room = v
			n = m
		case num == fieldAuthor && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return Envelope{}, fmt.Errorf("%w: author", ErrMalformed)
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return Envelope{}, fmt.Errorf("%w: author: %v", ErrMalformed, err)
			}
			env.Author = id
			n = m
		case num == fieldSentAt && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return Envelope{}, fmt.Errorf("%w: sent_at", ErrMalformed)
			}
			env.SentAt = time.UnixMilli(int64(v))
			n = m
		case num == fieldPayload && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return Envelope{}, fmt.Errorf("%w: payload", ErrMalformed)
			}
			payload = v
			n = m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return Envelope{}, fmt.Errorf("%w: field %d", ErrMalformed, num)
			}
		}
		data = data[n:]
	}

	msg, err := decodePayload(kind, payload)
	if err != nil {
		return Envelope{}, err
	}
	env.Message = msg
	return env, nil
}

func decodePayload(kind Kind, payload []byte) (Message, error) {
	switch kind {
	case KindDrawing:
		s, err := decodeStroke(payload)
		if err != nil {
			return nil, err
		}
		return DrawingMessage{Stroke: s}, nil
	case KindClear:
		var m ClearMessage
		if err := unmarshalPayload(kind, payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindChange:
		var m ChangeMessage
		if err := unmarshalPayload(kind, payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindState:
		var m StateMessage
		if err := unmarshalPayload(kind, payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	case KindPresence:
		var m PresenceMessage
		if err := unmarshalPayload(kind, payload, &m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
}

func unmarshalPayload(kind Kind, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, kind, err)
	}
	return nil
}

func encodeStroke(s models.Stroke) []byte {
	b := make([]byte, 0, 64+len(s.Points)*8)
	b = protowire.AppendTag(b, strokeID, protowire.BytesType)
	b = protowire.AppendString(b, s.ID)
	b = protowire.AppendTag(b, strokeAuthor, protowire.BytesType)
	b = protowire.AppendBytes(b, s.AuthorID[:])
	b = protowire.AppendTag(b, strokeTool, protowire.BytesType)
	b = protowire.AppendString(b, string(s.Tool))
	b = protowire.AppendTag(b, strokeColor, protowire.BytesType)
	b = protowire.AppendString(b, s.Color)
	b = protowire.AppendTag(b, strokeWidth, protowire.Fixed32Type)
	b = protowire.AppendFixed32(b, math.Float32bits(s.Width))

	packed := make([]byte, 0, len(s.Points)*8)
	for _, p := range s.Points {
		packed = protowire.AppendFixed32(packed, math.Float32bits(p.X))
		packed = protowire.AppendFixed32(packed, math.Float32bits(p.Y))
	}
	b = protowire.AppendTag(b, strokePoints, protowire.BytesType)
	b = protowire.AppendBytes(b, packed)
	b = protowire.AppendTag(b, strokeTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(s.Timestamp))
	return b
}

func decodeStroke(data []byte) (models.Stroke, error) {
	var s models.Stroke
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return s, fmt.Errorf("%w: stroke tag", ErrMalformed)
		}
		data = data[n:]
		switch {
		case num == strokeID && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return s, fmt.Errorf("%w: stroke id", ErrMalformed)
			}
			s.ID, n = v, m
		case num == strokeAuthor && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 {
				return s, fmt.Errorf("%w: stroke author", ErrMalformed)
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return s, fmt.Errorf("%w: stroke author: %v", ErrMalformed, err)
			}
			s.AuthorID, n = id, m
		case num == strokeTool && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return s, fmt.Errorf("%w: stroke tool", ErrMalformed)
			}
			if !models.Tool(v).Valid() {
				return s, fmt.Errorf("%w: unknown stroke tool %q", ErrMalformed, v)
			}
			s.Tool, n = models.Tool(v), m
		case num == strokeColor && typ == protowire.BytesType:
			v, m := protowire.ConsumeString(data)
			if m < 0 {
				return s, fmt.Errorf("%w: stroke color", ErrMalformed)
			}
			s.Color, n = v, m
		case num == strokeWidth && typ == protowire.Fixed32Type:
			v, m := protowire.ConsumeFixed32(data)
			if m < 0 {
				return s, fmt.Errorf("%w: stroke width", ErrMalformed)
			}
			s.Width, n = math.Float32frombits(v), m
		case num == strokePoints && typ == protowire.BytesType:
			v, m := protowire.ConsumeBytes(data)
			if m < 0 || len(v)%8 != 0 {
				return s, fmt.Errorf("%w: stroke points", ErrMalformed)
			}
			s.Points = make([]models.Point, 0, len(v)/8)
			for len(v) > 0 {
				x, _ := protowire.ConsumeFixed32(v)
				y, _ := protowire.ConsumeFixed32(v[4:])
				s.Points = append(s.Points, models.Point{X: math.Float32frombits(x), Y: math.Float32frombits(y)})
				v = v[8:]
			}
			n = m
		case num == strokeTimestamp && typ == protowire.VarintType:
			v, m := protowire.ConsumeVarint(data)
			if m < 0 {
				return s, fmt.Errorf("%w: stroke timestamp", ErrMalformed)
			}
			s.Timestamp, n = int64(v), m
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return s, fmt.Errorf("%w: stroke field %d", ErrMalformed, num)
			}
		}
		data = data[n:]
	}
	if !s.Tool.Valid() {
		return s, fmt.Errorf("%w: stroke without a tool", ErrMalformed)
	}
	return s, nil
}
