// Package binrpc implements the BIN-RPC transport: a length-prefixed binary
// framing carried over plain TCP.
package binrpc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/thatsimonsguy/hmsim/internal/rpc"
)

const (
	typeInteger = 0x01
	typeBool    = 0x02
	typeString  = 0x03
	typeDouble  = 0x04
	typeBase64  = 0x11
	typeArray   = 0x100
	typeStruct  = 0x101
)

const (
	msgRequest  byte = 0x00
	msgResponse byte = 0x01
	msgFault    byte = 0xff
)

const maxFrameBytes = 64 << 20

var magic = []byte("Bin")

var errShortFrame = errors.New("binrpc: short frame")

// ReadFrame reads one message and returns its type byte and body.
func ReadFrame(r io.Reader) (byte, []byte, error) {
	var header [8]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return 0, nil, err
	}
	if !bytes.Equal(header[:3], magic) {
		return 0, nil, fmt.Errorf("binrpc: bad magic %q", header[:3])
	}
	size := binary.BigEndian.Uint32(header[4:])
	if size > maxFrameBytes {
		return 0, nil, fmt.Errorf("binrpc: frame of %d bytes exceeds limit", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return header[3], body, nil
}

func frame(msgType byte, body []byte) []byte {
	out := make([]byte, 0, 8+len(body))
	out = append(out, magic...)
	out = append(out, msgType)
	out = binary.BigEndian.AppendUint32(out, uint32(len(body)))
	return append(out, body...)
}

func EncodeRequest(method string, params []any) ([]byte, error) {
	var body []byte
	body = appendString(body, method)
	body = binary.BigEndian.AppendUint32(body, uint32(len(params)))
	for i, p := range params {
		var err error
		body, err = appendValue(body, reflect.ValueOf(p))
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
	}
	return frame(msgRequest, body), nil
}

func EncodeResponse(v any) ([]byte, error) {
	body, err := appendValue(nil, reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	return frame(msgResponse, body), nil
}

func EncodeFault(f *rpc.Fault) []byte {
	// a fault struct only holds an int and a string
	body, _ := appendValue(nil, reflect.ValueOf(f.Map()))
	return frame(msgFault, body)
}

// DecodeRequest parses the body of a request frame.
func DecodeRequest(body []byte) (string, []any, error) {
	d := &decoder{b: body}
	method, err := d.string()
	if err != nil {
		return "", nil, err
	}
	n, err := d.uint32()
	if err != nil {
		return "", nil, err
	}
	params := make([]any, 0, min(int(n), 64))
	for i := uint32(0); i < n; i++ {
		v, err := d.value()
		if err != nil {
			return "", nil, fmt.Errorf("param %d: %w", i, err)
		}
		params = append(params, v)
	}
	return method, params, nil
}

// DecodeResponse interprets a response or fault frame.
func DecodeResponse(msgType byte, body []byte) (any, error) {
	if len(body) == 0 {
		return nil, nil
	}
	d := &decoder{b: body}
	v, err := d.value()
	if err != nil {
		return nil, err
	}
	switch msgType {
	case msgResponse:
		return v, nil
	case msgFault:
		if f, ok := rpc.FaultFromMap(v); ok {
			return nil, f
		}
		return nil, &rpc.Fault{Code: -1, String: fmt.Sprint(v)}
	default:
		return nil, fmt.Errorf("binrpc: unexpected message type 0x%02x", msgType)
	}
}

func appendString(b []byte, s string) []byte {
	b = binary.BigEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

var timeType = reflect.TypeOf(time.Time{})

func appendValue(b []byte, rv reflect.Value) ([]byte, error) {
	for rv.IsValid() && (rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer) {
		if rv.IsNil() {
			rv = reflect.Value{}
			break
		}
		rv = rv.Elem()
	}
	if !rv.IsValid() {
		// no nil on the wire, an empty string is what clients expect
		b = binary.BigEndian.AppendUint32(b, typeString)
		return appendString(b, ""), nil
	}

	if rv.Type() == timeType {
		b = binary.BigEndian.AppendUint32(b, typeString)
		return appendString(b, rv.Interface().(time.Time).Format("20060102T15:04:05")), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		b = binary.BigEndian.AppendUint32(b, typeBool)
		if rv.Bool() {
			return append(b, 1), nil
		}
		return append(b, 0), nil
	case reflect.String:
		b = binary.BigEndian.AppendUint32(b, typeString)
		return appendString(b, rv.String()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return appendInt(b, rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt32 {
			return appendDouble(b, float64(u)), nil
		}
		return appendInt(b, int64(u)), nil
	case reflect.Float32, reflect.Float64:
		return appendDouble(b, rv.Float()), nil
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			raw := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(raw), rv)
			b = binary.BigEndian.AppendUint32(b, typeBase64)
			b = binary.BigEndian.AppendUint32(b, uint32(len(raw)))
			return append(b, raw...), nil
		}
		b = binary.BigEndian.AppendUint32(b, typeArray)
		b = binary.BigEndian.AppendUint32(b, uint32(rv.Len()))
		for i := 0; i < rv.Len(); i++ {
			var err error
			if b, err = appendValue(b, rv.Index(i)); err != nil {
				return nil, err
			}
		}
		return b, nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		b = binary.BigEndian.AppendUint32(b, typeStruct)
		b = binary.BigEndian.AppendUint32(b, uint32(len(keys)))
		for _, k := range keys {
			b = appendString(b, k)
			var err error
			if b, err = appendValue(b, rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))); err != nil {
				return nil, fmt.Errorf("member %s: %w", k, err)
			}
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported value type %s", rv.Type())
	}
}

func appendInt(b []byte, i int64) []byte {
	if i < math.MinInt32 || i > math.MaxInt32 {
		return appendDouble(b, float64(i))
	}
	b = binary.BigEndian.AppendUint32(b, typeInteger)
	return binary.BigEndian.AppendUint32(b, uint32(int32(i)))
}

// Doubles travel as a 30-bit fixed point mantissa and a power of two.
func appendDouble(b []byte, f float64) []byte {
	var mantissa, exponent int32
	if f != 0 && !math.IsNaN(f) && !math.IsInf(f, 0) {
		exponent = int32(math.Floor(math.Log2(math.Abs(f)))) + 1
		mantissa = int32(f * math.Pow(2, float64(-exponent)) * (1 << 30))
	}
	b = binary.BigEndian.AppendUint32(b, typeDouble)
	b = binary.BigEndian.AppendUint32(b, uint32(mantissa))
	return binary.BigEndian.AppendUint32(b, uint32(exponent))
}

type decoder struct {
	b   []byte
	off int
}

func (d *decoder) take(n int) ([]byte, error) {
	if n < 0 || d.off+n > len(d.b) {
		return nil, errShortFrame
	}
	out := d.b[d.off : d.off+n]
	d.off += n
	return out, nil
}

func (d *decoder) uint32() (uint32, error) {
	raw, err := d.take(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(raw), nil
}

func (d *decoder) string() (string, error) {
	n, err := d.uint32()
	if err != nil {
		return "", err
	}
	raw, err := d.take(int(n))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (d *decoder) value() (any, error) {
	t, err := d.uint32()
	if err != nil {
		return nil, err
	}
	switch t {
	case typeInteger:
		u, err := d.uint32()
		if err != nil {
			return nil, err
		}
		return int(int32(u)), nil
	case typeBool:
		raw, err := d.take(1)
		if err != nil {
			return nil, err
		}
		return raw[0] != 0, nil
	case typeString:
		return d.string()
	case typeDouble:
		m, err := d.uint32()
		if err != nil {
			return nil, err
		}
		e, err := d.uint32()
		if err != nil {
			return nil, err
		}
		return float64(int32(m)) / (1 << 30) * math.Pow(2, float64(int32(e))), nil
	case typeBase64:
		n, err := d.uint32()
		if err != nil {
			return nil, err
		}
		raw, err := d.take(int(n))
		if err != nil {
			return nil, err
		}
		return append([]byte(nil), raw...), nil
	case typeArray:
		n, err := d.uint32()
		if err != nil {
			return nil, err
		}
		out := make([]any, 0, min(int(n), 1024))
		for i := uint32(0); i < n; i++ {
			v, err := d.value()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case typeStruct:
		n, err := d.uint32()
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, min(int(n), 1024))
		for i := uint32(0); i < n; i++ {
			k, err := d.string()
			if err != nil {
				return nil, err
			}
			v, err := d.value()
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", k, err)
			}
			out[k] = v
		}
		return out, nil
	default:
		return nil, fmt.Errorf("binrpc: unknown value type 0x%x", t)
	}
}
