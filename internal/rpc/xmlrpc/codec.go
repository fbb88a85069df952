// Package xmlrpc implements the XML-RPC transport: the server-side codec,
// an HTTP server dispatching to an rpc.Handler and an rpc.Caller client
// built on github.com/kolo/xmlrpc.
package xmlrpc

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"

	"github.com/thatsimonsguy/hmsim/internal/rpc"
)

const iso8601 = "20060102T15:04:05"

type xValue struct {
	Int      *string   `xml:"int"`
	I4       *string   `xml:"i4"`
	I8       *string   `xml:"i8"`
	Boolean  *string   `xml:"boolean"`
	String   *string   `xml:"string"`
	Double   *string   `xml:"double"`
	Base64   *string   `xml:"base64"`
	DateTime *string   `xml:"dateTime.iso8601"`
	Array    *xArray   `xml:"array"`
	Struct   *xStruct  `xml:"struct"`
	Nil      *struct{} `xml:"nil"`
	Text     string    `xml:",chardata"`
}

type xArray struct {
	Data []xValue `xml:"data>value"`
}

type xStruct struct {
	Members []xMember `xml:"member"`
}

type xMember struct {
	Name  string `xml:"name"`
	Value xValue `xml:"value"`
}

type xMethodCall struct {
	XMLName    xml.Name `xml:"methodCall"`
	MethodName string   `xml:"methodName"`
	Params     []xValue `xml:"params>param>value"`
}

func (x *xValue) decode() (any, error) {
	switch {
	case x.I4 != nil:
		return parseInt(*x.I4)
	case x.Int != nil:
		return parseInt(*x.Int)
	case x.I8 != nil:
		return parseInt(*x.I8)
	case x.Boolean != nil:
		switch strings.TrimSpace(*x.Boolean) {
		case "1", "true":
			return true, nil
		case "0", "false":
			return false, nil
		default:
			return nil, fmt.Errorf("invalid boolean %q", *x.Boolean)
		}
	case x.String != nil:
		return *x.String, nil
	case x.Double != nil:
		f, err := strconv.ParseFloat(strings.TrimSpace(*x.Double), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid double %q: %w", *x.Double, err)
		}
		return f, nil
	case x.Base64 != nil:
		b, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(*x.Base64), ""))
		if err != nil {
			return nil, fmt.Errorf("invalid base64: %w", err)
		}
		return b, nil
	case x.DateTime != nil:
		s := strings.TrimSpace(*x.DateTime)
		if t, err := time.ParseInLocation(iso8601, s, time.Local); err == nil {
			return t, nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return nil, fmt.Errorf("invalid dateTime %q: %w", s, err)
		}
		return t, nil
	case x.Array != nil:
		out := make([]any, 0, len(x.Array.Data))
		for i := range x.Array.Data {
			v, err := x.Array.Data[i].decode()
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case x.Struct != nil:
		out := make(map[string]any, len(x.Struct.Members))
		for i := range x.Struct.Members {
			m := &x.Struct.Members[i]
			v, err := m.Value.decode()
			if err != nil {
				return nil, fmt.Errorf("member %s: %w", m.Name, err)
			}
			out[m.Name] = v
		}
		return out, nil
	case x.Nil != nil:
		return nil, nil
	default:
		return x.Text, nil
	}
}

func parseInt(s string) (any, error) {
	i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid integer %q: %w", s, err)
	}
	return int(i), nil
}

func charsetReader(label string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(label) {
	case "iso-8859-1", "latin1", "latin-1":
		return charmap.ISO8859_1.NewDecoder().Reader(input), nil
	case "utf-8", "us-ascii":
		return input, nil
	default:
		return nil, fmt.Errorf("unsupported charset %q", label)
	}
}

func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charsetReader
	return dec
}

// DecodeCall parses a methodCall document.
func DecodeCall(r io.Reader) (string, []any, error) {
	var call xMethodCall
	if err := newDecoder(r).Decode(&call); err != nil {
		return "", nil, fmt.Errorf("decode methodCall: %w", err)
	}
	params := make([]any, 0, len(call.Params))
	for i := range call.Params {
		v, err := call.Params[i].decode()
		if err != nil {
			return "", nil, fmt.Errorf("param %d: %w", i, err)
		}
		params = append(params, v)
	}
	return strings.TrimSpace(call.MethodName), params, nil
}

func EncodeResponse(result any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><params><param>")
	if err := encodeValue(&buf, result); err != nil {
		return nil, err
	}
	buf.WriteString("</param></params></methodResponse>")
	return buf.Bytes(), nil
}

func EncodeFault(f *rpc.Fault) []byte {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodResponse><fault>")
	// a fault struct only holds an int and a string
	_ = encodeValue(&buf, f.Map())
	buf.WriteString("</fault></methodResponse>")
	return buf.Bytes()
}

func escape(buf *bytes.Buffer, s string) {
	_ = xml.EscapeText(buf, []byte(s))
}

var timeType = reflect.TypeOf(time.Time{})

func encodeValue(buf *bytes.Buffer, v any) error {
	if v == nil {
		buf.WriteString("<value><nil/></value>")
		return nil
	}
	return encodeReflect(buf, reflect.ValueOf(v))
}

func encodeReflect(buf *bytes.Buffer, rv reflect.Value) error {
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			buf.WriteString("<value><nil/></value>")
			return nil
		}
		rv = rv.Elem()
	}

	if rv.Type() == timeType {
		buf.WriteString("<value><dateTime.iso8601>")
		buf.WriteString(rv.Interface().(time.Time).Format(iso8601))
		buf.WriteString("</dateTime.iso8601></value>")
		return nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			buf.WriteString("<value><boolean>1</boolean></value>")
		} else {
			buf.WriteString("<value><boolean>0</boolean></value>")
		}
	case reflect.String:
		buf.WriteString("<value><string>")
		escape(buf, rv.String())
		buf.WriteString("</string></value>")
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		encodeInt(buf, rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			encodeDouble(buf, float64(u))
		} else {
			encodeInt(buf, int64(u))
		}
	case reflect.Float32, reflect.Float64:
		encodeDouble(buf, rv.Float())
	case reflect.Slice, reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			buf.WriteString("<value><base64>")
			buf.WriteString(base64.StdEncoding.EncodeToString(b))
			buf.WriteString("</base64></value>")
			return nil
		}
		buf.WriteString("<value><array><data>")
		for i := 0; i < rv.Len(); i++ {
			if err := encodeReflect(buf, rv.Index(i)); err != nil {
				return err
			}
		}
		buf.WriteString("</data></array></value>")
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return fmt.Errorf("unsupported map key type %s", rv.Type().Key())
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		buf.WriteString("<value><struct>")
		for _, k := range keys {
			buf.WriteString("<member><name>")
			escape(buf, k)
			buf.WriteString("</name>")
			if err := encodeReflect(buf, rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))); err != nil {
				return fmt.Errorf("member %s: %w", k, err)
			}
			buf.WriteString("</member>")
		}
		buf.WriteString("</struct></value>")
	default:
		return fmt.Errorf("unsupported value type %s", rv.Type())
	}
	return nil
}

func encodeInt(buf *bytes.Buffer, i int64) {
	if i < math.MinInt32 || i > math.MaxInt32 {
		encodeDouble(buf, float64(i))
		return
	}
	buf.WriteString("<value><i4>")
	buf.WriteString(strconv.FormatInt(i, 10))
	buf.WriteString("</i4></value>")
}

func encodeDouble(buf *bytes.Buffer, f float64) {
	buf.WriteString("<value><double>")
	buf.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
	buf.WriteString("</double></value>")
}
