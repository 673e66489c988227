package service

import (
	"fmt"
	"math"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"strata/domain/model"
	"strata/infra/memory"
)

// Value kinds a node can hold.
const (
	KindFolder  = "folder"
	KindFloat   = "float"
	KindInt     = "int"
	KindString  = "string"
	KindBool    = "bool"
	KindSamples = "samples"
)

var ErrUnsupported = fmt.Errorf("%w: unsupported value type", model.ErrKind)

func KindOf(v any) (string, error) {
	switch v.(type) {
	case model.Folder:
		return KindFolder, nil
	case float64:
		return KindFloat, nil
	case int64:
		return KindInt, nil
	case string:
		return KindString, nil
	case bool:
		return KindBool, nil
	case model.Samples:
		return KindSamples, nil
	}
	return "", fmt.Errorf("%w: %T", ErrUnsupported, v)
}

// EncodeValue wraps v in a one-field struct keyed by its kind. Ints travel as
// decimal strings so they survive the float-only number model.
func EncodeValue(v any) (*structpb.Value, error) {
	kind, err := KindOf(v)
	if err != nil {
		return nil, err
	}
	var inner *structpb.Value
	switch x := v.(type) {
	case model.Folder:
		inner = structpb.NewStructValue(&structpb.Struct{})
	case float64:
		inner = structpb.NewNumberValue(x)
	case int64:
		inner = structpb.NewStringValue(strconv.FormatInt(x, 10))
	case string:
		inner = structpb.NewStringValue(x)
	case bool:
		inner = structpb.NewBoolValue(x)
	case model.Samples:
		vals := x.Values()
		list := make([]*structpb.Value, len(vals))
		for i, f := range vals {
			list[i] = structpb.NewNumberValue(f)
		}
		inner = structpb.NewListValue(&structpb.ListValue{Values: list})
	}
	return structpb.NewStructValue(&structpb.Struct{
		Fields: map[string]*structpb.Value{kind: inner},
	}), nil
}

// DecodeValue reverses EncodeValue. Samples are allocated from a.
func DecodeValue(pv *structpb.Value, a memory.Allocator) (any, error) {
	st := pv.GetStructValue()
	if st == nil || len(st.Fields) != 1 {
		return nil, fmt.Errorf("%w: expected a single kind field", model.ErrKind)
	}
	for kind, inner := range st.Fields {
		return decodeKind(kind, inner, a)
	}
	return nil, model.ErrKind
}

func decodeKind(kind string, inner *structpb.Value, a memory.Allocator) (any, error) {
	bad := func() (any, error) {
		return nil, fmt.Errorf("%w: malformed %s value", model.ErrKind, kind)
	}
	switch kind {
	case KindFolder:
		if inner.GetStructValue() == nil {
			return bad()
		}
		return model.Folder{}, nil
	case KindFloat:
		n, ok := inner.GetKind().(*structpb.Value_NumberValue)
		if !ok {
			return bad()
		}
		return n.NumberValue, nil
	case KindInt:
		switch k := inner.GetKind().(type) {
		case *structpb.Value_StringValue:
			i, err := strconv.ParseInt(k.StringValue, 10, 64)
			if err != nil {
				return bad()
			}
			return i, nil
		case *structpb.Value_NumberValue:
			if k.NumberValue != math.Trunc(k.NumberValue) {
				return bad()
			}
			return int64(k.NumberValue), nil
		}
		return bad()
	case KindString:
		s, ok := inner.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return bad()
		}
		return s.StringValue, nil
	case KindBool:
		b, ok := inner.GetKind().(*structpb.Value_BoolValue)
		if !ok {
			return bad()
		}
		return b.BoolValue, nil
	case KindSamples:
		list := inner.GetListValue()
		if list == nil {
			return bad()
		}
		vals := make([]float64, len(list.Values))
		for i, e := range list.Values {
			n, ok := e.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return bad()
			}
			vals[i] = n.NumberValue
		}
		return model.NewSamples(a, vals...), nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", model.ErrKind, kind)
}

func MarshalValue(v any) ([]byte, error) {
	pv, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(pv)
}

func UnmarshalValue(b []byte, a memory.Allocator) (any, error) {
	var pv structpb.Value
	if err := proto.Unmarshal(b, &pv); err != nil {
		return nil, err
	}
	return DecodeValue(&pv, a)
}

// ParseValue converts a plain YAML or JSON value into a node value of kind.
func ParseValue(kind string, raw any, a memory.Allocator) (any, error) {
	if raw == nil {
		return zeroValue(kind, a)
	}
	if kind == KindFolder {
		return model.Folder{}, nil
	}
	pv, err := structpb.NewValue(normalize(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrKind, err)
	}
	return decodeKind(kind, pv, a)
}

func normalize(raw any) any {
	switch x := raw.(type) {
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	}
	return raw
}

func zeroValue(kind string, a memory.Allocator) (any, error) {
	switch kind {
	case KindFolder:
		return model.Folder{}, nil
	case KindFloat:
		return float64(0), nil
	case KindInt:
		return int64(0), nil
	case KindString:
		return "", nil
	case KindBool:
		return false, nil
	case KindSamples:
		return model.NewSamples(a), nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", model.ErrKind, kind)
}

// attachValue creates a child whose value type is v's dynamic type.
func attachValue(tx *model.Transaction, parent model.Noder, name string, v any) (model.Noder, error) {
	switch x := v.(type) {
	case model.Folder:
		return attach(tx, parent, name, x)
	case float64:
		return attach(tx, parent, name, x)
	case int64:
		return attach(tx, parent, name, x)
	case string:
		return attach(tx, parent, name, x)
	case bool:
		return attach(tx, parent, name, x)
	case model.Samples:
		return attach(tx, parent, name, x)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupported, v)
}

func attach[T any](tx *model.Transaction, parent model.Noder, name string, v T) (model.Noder, error) {
	n, err := model.Attach(tx, parent, name, v)
	if err != nil {
		return nil, err
	}
	return n, nil
}
