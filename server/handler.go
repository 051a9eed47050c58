package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/akhenakh/biceplsp/jsonrpc2"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	connType    = reflect.TypeOf((*jsonrpc2.Conn)(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// typedHandler wraps a user handler such as
// func(context.Context, *protocol.CompletionParams) (*protocol.CompletionList, error).
type typedHandler struct {
	h           reflect.Value
	paramType   reflect.Type // element type when the handler takes a pointer
	paramIsPtr  bool
	takesConn   bool
	takesParams bool
	returnsErr  bool
	returnsVal  bool
}

// invoke decodes params and calls the handler.
func (th *typedHandler) invoke(ctx context.Context, conn *jsonrpc2.Conn, params json.RawMessage) (any, error) {
	args := []reflect.Value{reflect.ValueOf(ctx)}
	if th.takesConn {
		args = append(args, reflect.ValueOf(conn))
	}
	if th.takesParams {
		ptr := reflect.New(th.paramType)
		if len(params) > 0 && string(params) != "null" {
			if err := json.Unmarshal(params, ptr.Interface()); err != nil {
				return nil, jsonrpc2.Errorf(jsonrpc2.InvalidParams, "failed to decode params: %v", err)
			}
		} else if !th.paramIsPtr && !emptyStruct(th.paramType) {
			return nil, jsonrpc2.NewError(jsonrpc2.InvalidParams, "missing non-nullable params")
		}
		if th.paramIsPtr {
			args = append(args, ptr)
		} else {
			args = append(args, ptr.Elem())
		}
	}

	results := th.h.Call(args)

	if th.returnsErr {
		if errVal := results[len(results)-1]; !errVal.IsNil() {
			return nil, toRPCError(errVal.Interface().(error))
		}
	}
	if !th.returnsVal || isNil(results[0]) {
		return nil, nil
	}
	return results[0].Interface(), nil
}

// toRPCError keeps JSON-RPC errors as they are and wraps anything else as an
// internal error.
func toRPCError(err error) *jsonrpc2.ErrorObject {
	var rpcErr *jsonrpc2.ErrorObject
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return jsonrpc2.NewError(jsonrpc2.InternalError, err.Error())
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		return v.IsNil()
	}
	return !v.IsValid()
}

func emptyStruct(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t.NumField() == 0
}

// newTypedHandler validates a handler signature:
//
//	func(ctx context.Context [, conn *jsonrpc2.Conn] [, params P]) [(result R,] [error)]
func newTypedHandler(h any) (*typedHandler, error) {
	hType := reflect.TypeOf(h)
	if hType == nil || hType.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function, got %T", h)
	}
	if hType.NumIn() < 1 || hType.In(0) != contextType {
		return nil, errors.New("handler must accept context.Context as first argument")
	}

	th := &typedHandler{h: reflect.ValueOf(h)}
	argIndex := 1
	if hType.NumIn() > argIndex && hType.In(argIndex) == connType {
		th.takesConn = true
		argIndex++
	}
	if hType.NumIn() > argIndex {
		paramType := hType.In(argIndex)
		th.takesParams = true
		if paramType.Kind() == reflect.Pointer {
			th.paramIsPtr = true
			paramType = paramType.Elem()
		}
		th.paramType = paramType
		argIndex++
	}
	if hType.NumIn() > argIndex {
		return nil, errors.New("handler has too many input arguments (max context, [conn], [params])")
	}

	switch hType.NumOut() {
	case 0:
	case 1:
		if hType.Out(0) == errorType {
			th.returnsErr = true
		} else {
			th.returnsVal = true
		}
	case 2:
		if hType.Out(1) != errorType {
			return nil, errors.New("handler's last return value must be error")
		}
		th.returnsVal = true
		th.returnsErr = true
	default:
		return nil, errors.New("handler has too many return values (max result, error)")
	}
	return th, nil
}
