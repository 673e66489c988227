package grpcserver

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/types/known/structpb"

	"strata/infra/memory"
	"strata/service"
)

// Serials travel as decimal strings; Struct numbers are doubles.
func serialValue(v uint64) *structpb.Value {
	return structpb.NewStringValue(strconv.FormatUint(v, 10))
}

func parseSerial(v *structpb.Value) (uint64, error) {
	return strconv.ParseUint(v.GetStringValue(), 10, 64)
}

func encodeNode(nv service.NodeValue) (*structpb.Struct, error) {
	v, err := service.EncodeValue(nv.Value)
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"path":   structpb.NewStringValue(nv.Path),
		"kind":   structpb.NewStringValue(nv.Kind),
		"serial": serialValue(nv.Serial),
		"value":  v,
	}}, nil
}

func decodeNode(st *structpb.Struct, a memory.Allocator) (service.NodeValue, error) {
	f := st.GetFields()
	serial, err := parseSerial(f["serial"])
	if err != nil {
		return service.NodeValue{}, fmt.Errorf("grpcserver: bad serial: %w", err)
	}
	v, err := service.DecodeValue(f["value"], a)
	if err != nil {
		return service.NodeValue{}, err
	}
	return service.NodeValue{
		Path:   f["path"].GetStringValue(),
		Kind:   f["kind"].GetStringValue(),
		Serial: serial,
		Value:  v,
	}, nil
}
