// Package wire converts tasks and results to protobuf Struct messages. Both
// execution-context providers use it: the thread provider to copy values
// across the isolation boundary, the process provider as its gRPC payload.
package wire

import (
	"encoding/json"
	"fmt"
	"reflect"
	"unicode/utf8"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nemanja-m/goparallel/pkg/core"
)

const (
	fieldID           = "id"
	fieldJobID        = "job_id"
	fieldTaskID       = "task_id"
	fieldKind         = "kind"
	fieldFn           = "fn"
	fieldIndex        = "index"
	fieldData         = "data"
	fieldEnv          = "env"
	fieldNamespace    = "namespace"
	fieldRequirements = "requirements"
	fieldName         = "name"
	fieldSymbol       = "symbol"
	fieldLibrary      = "library"
	fieldOK           = "ok"
	fieldValue        = "value"
	fieldError        = "error"
	fieldMessage      = "message"
	fieldStack        = "stack"
)

// EncodeValue converts v to a protobuf Value. Values outside the JSON model
// (typed slices, structs) are normalized through encoding/json first. Strings
// must be valid UTF-8.
func EncodeValue(v any) (*structpb.Value, error) {
	val, err := structpb.NewValue(v)
	if err == nil {
		return val, nil
	}

	raw, jerr := json.Marshal(v)
	if jerr != nil {
		return nil, &core.SerializationError{Name: fmt.Sprintf("value of type %T", v), Err: jerr}
	}
	// encoding/json replaces invalid UTF-8 instead of failing.
	if bad, ok := invalidUTF8(reflect.ValueOf(v)); ok {
		return nil, &core.SerializationError{
			Name:    fmt.Sprintf("value of type %T", v),
			Message: fmt.Sprintf("cannot serialize value of type %T: invalid UTF-8 in string %q", v, bad),
		}
	}
	var normalized any
	if jerr := json.Unmarshal(raw, &normalized); jerr != nil {
		return nil, &core.SerializationError{Name: fmt.Sprintf("value of type %T", v), Err: jerr}
	}
	val, err = structpb.NewValue(normalized)
	if err != nil {
		return nil, &core.SerializationError{Name: fmt.Sprintf("value of type %T", v), Err: err}
	}
	return val, nil
}

// invalidUTF8 returns the first string reachable from v the way encoding/json
// walks it that is not valid UTF-8. v must be acyclic.
func invalidUTF8(v reflect.Value) (string, bool) {
	switch v.Kind() {
	case reflect.String:
		if !utf8.ValidString(v.String()) {
			return v.String(), true
		}
	case reflect.Pointer, reflect.Interface:
		if !v.IsNil() {
			return invalidUTF8(v.Elem())
		}
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.Uint8 {
			return "", false
		}
		for i := range v.Len() {
			if bad, ok := invalidUTF8(v.Index(i)); ok {
				return bad, true
			}
		}
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			if bad, ok := invalidUTF8(iter.Key()); ok {
				return bad, true
			}
			if bad, ok := invalidUTF8(iter.Value()); ok {
				return bad, true
			}
		}
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			f := t.Field(i)
			if (!f.IsExported() && !f.Anonymous) || f.Tag.Get("json") == "-" {
				continue
			}
			if bad, ok := invalidUTF8(v.Field(i)); ok {
				return bad, true
			}
		}
	}
	return "", false
}

// Normalize returns v as it would look after crossing the wire.
func Normalize(v any) (any, error) {
	val, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return val.AsInterface(), nil
}

func EncodeTask(task *core.Task) (*structpb.Struct, error) {
	data, err := EncodeValue(task.Data)
	if err != nil {
		return nil, err
	}
	env, err := EncodeValue(mapOrEmpty(task.Env))
	if err != nil {
		return nil, err
	}

	reqs := make([]*structpb.Value, 0, len(task.Requirements))
	for _, r := range task.Requirements {
		reqs = append(reqs, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			fieldName:    structpb.NewStringValue(r.Name),
			fieldSymbol:  structpb.NewStringValue(r.Symbol),
			fieldLibrary: structpb.NewBoolValue(r.Library),
		}}))
	}

	return &structpb.Struct{Fields: map[string]*structpb.Value{
		fieldID:           structpb.NewStringValue(task.ID.String()),
		fieldJobID:        structpb.NewStringValue(task.JobID.String()),
		fieldKind:         structpb.NewStringValue(string(task.Kind)),
		fieldFn:           structpb.NewStringValue(task.Fn),
		fieldIndex:        structpb.NewNumberValue(float64(task.Index)),
		fieldData:         data,
		fieldEnv:          env,
		fieldNamespace:    structpb.NewStringValue(task.Namespace),
		fieldRequirements: structpb.NewListValue(&structpb.ListValue{Values: reqs}),
	}}, nil
}

func DecodeTask(msg *structpb.Struct) (*core.Task, error) {
	f := msg.GetFields()

	id, err := parseUUID(f[fieldID])
	if err != nil {
		return nil, fmt.Errorf("invalid task id: %w", err)
	}
	jobID, err := parseUUID(f[fieldJobID])
	if err != nil {
		return nil, fmt.Errorf("invalid job id: %w", err)
	}
	kind := core.Kind(f[fieldKind].GetStringValue())
	if !kind.Valid() {
		return nil, fmt.Errorf("invalid task kind: %q", kind)
	}

	var env map[string]any
	if s := f[fieldEnv].GetStructValue(); s != nil {
		env = s.AsMap()
	}

	var reqs []core.Requirement
	for _, v := range f[fieldRequirements].GetListValue().GetValues() {
		rf := v.GetStructValue().GetFields()
		reqs = append(reqs, core.Requirement{
			Name:    rf[fieldName].GetStringValue(),
			Symbol:  rf[fieldSymbol].GetStringValue(),
			Library: rf[fieldLibrary].GetBoolValue(),
		})
	}

	var data any
	if v := f[fieldData]; v != nil {
		data = v.AsInterface()
	}

	return &core.Task{
		ID:           id,
		JobID:        jobID,
		Kind:         kind,
		Fn:           f[fieldFn].GetStringValue(),
		Index:        int(f[fieldIndex].GetNumberValue()),
		Data:         data,
		Env:          env,
		Namespace:    f[fieldNamespace].GetStringValue(),
		Requirements: reqs,
	}, nil
}

// EncodeResult never fails: a value that cannot be encoded turns the result
// into a serialization failure.
func EncodeResult(result *core.TaskResult) *structpb.Struct {
	fields := map[string]*structpb.Value{
		fieldTaskID: structpb.NewStringValue(result.TaskID.String()),
		fieldIndex:  structpb.NewNumberValue(float64(result.Index)),
	}

	taskErr := result.Err
	if taskErr == nil {
		val, err := EncodeValue(result.Value)
		if err == nil {
			fields[fieldOK] = structpb.NewBoolValue(true)
			fields[fieldValue] = val
			return &structpb.Struct{Fields: fields}
		}
		taskErr = core.NewTaskError(err)
	}

	fields[fieldOK] = structpb.NewBoolValue(false)
	fields[fieldError] = structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		fieldKind:    structpb.NewStringValue(string(taskErr.Kind)),
		fieldMessage: structpb.NewStringValue(taskErr.Message),
		fieldStack:   structpb.NewStringValue(taskErr.Stack),
	}})
	return &structpb.Struct{Fields: fields}
}

func DecodeResult(msg *structpb.Struct) (*core.TaskResult, error) {
	f := msg.GetFields()

	id, err := parseUUID(f[fieldTaskID])
	if err != nil {
		return nil, fmt.Errorf("invalid task id: %w", err)
	}
	result := &core.TaskResult{
		TaskID: id,
		Index:  int(f[fieldIndex].GetNumberValue()),
	}

	if f[fieldOK].GetBoolValue() {
		if v := f[fieldValue]; v != nil {
			result.Value = v.AsInterface()
		}
		return result, nil
	}

	ef := f[fieldError].GetStructValue().GetFields()
	kind := core.ErrorKind(ef[fieldKind].GetStringValue())
	if kind == "" {
		kind = core.ErrorKindExecution
	}
	result.Err = &core.TaskError{
		Kind:    kind,
		Message: ef[fieldMessage].GetStringValue(),
		Stack:   ef[fieldStack].GetStringValue(),
	}
	return result, nil
}

func MarshalTask(task *core.Task) ([]byte, error) {
	msg, err := EncodeTask(task)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(msg)
}

func UnmarshalTask(b []byte) (*core.Task, error) {
	msg := &structpb.Struct{}
	if err := proto.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return DecodeTask(msg)
}

func MarshalResult(result *core.TaskResult) ([]byte, error) {
	return proto.Marshal(EncodeResult(result))
}

func UnmarshalResult(b []byte) (*core.TaskResult, error) {
	msg := &structpb.Struct{}
	if err := proto.Unmarshal(b, msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return DecodeResult(msg)
}

func parseUUID(v *structpb.Value) (uuid.UUID, error) {
	return uuid.Parse(v.GetStringValue())
}

func mapOrEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
