package calls

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"solvernet-order/pkg/types"
)

var signaturePattern = regexp.MustCompile(`^\s*([A-Za-z_$][A-Za-z0-9_$]*)\s*\((.*)\)\s*$`)

// ParseSignature parses "name(type a, type b)" into a nonpayable function fragment.
// Parameter names are optional; unnamed parameters are addressed as arg0, arg1, ...
func ParseSignature(sig string) (types.Function, error) {
	m := signaturePattern.FindStringSubmatch(sig)
	if m == nil {
		return types.Function{}, types.NewError(types.KindInvalidArgument, fmt.Sprintf("invalid function signature %q", sig), nil)
	}

	fn := types.Function{Type: "function", Name: m[1], Inputs: []types.Param{}, Outputs: []types.Param{}, StateMutability: "nonpayable"}
	if strings.TrimSpace(m[2]) == "" {
		return fn, nil
	}
	for _, part := range strings.Split(m[2], ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 || len(fields) > 2 {
			return types.Function{}, types.NewError(types.KindInvalidArgument, fmt.Sprintf("invalid parameter %q in %q", part, sig), nil)
		}
		if _, err := abi.NewType(fields[0], "", nil); err != nil {
			return types.Function{}, types.NewError(types.KindInvalidArgument, fmt.Sprintf("unsupported type %q", fields[0]), err)
		}
		p := types.Param{Type: fields[0]}
		if len(fields) == 2 {
			p.Name = fields[1]
		}
		fn.Inputs = append(fn.Inputs, p)
	}
	return fn, nil
}

// ParseABI decodes a JSON ABI and returns its function fragments
func ParseABI(raw string) ([]types.Function, error) {
	var entries []types.Function
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("failed to parse ABI: %w", err)
	}
	fns := make([]types.Function, 0, len(entries))
	for _, e := range entries {
		if e.Type == "function" {
			fns = append(fns, e)
		}
	}
	return fns, nil
}

// WriteFunctions keeps only state-changing functions
func WriteFunctions(fns []types.Function) []types.Function {
	out := make([]types.Function, 0, len(fns))
	for _, fn := range fns {
		if fn.IsWrite() {
			out = append(out, fn)
		}
	}
	return out
}

// FindFunction selects a fragment by name or full signature
func FindFunction(fns []types.Function, nameOrSig string) (types.Function, error) {
	var matches []types.Function
	for _, fn := range fns {
		if fn.Signature() == strings.ReplaceAll(nameOrSig, " ", "") {
			return fn, nil
		}
		if fn.Name == nameOrSig {
			matches = append(matches, fn)
		}
	}
	switch len(matches) {
	case 0:
		return types.Function{}, types.NewError(types.KindInvalidArgument, fmt.Sprintf("function %q not found", nameOrSig), nil)
	case 1:
		return matches[0], nil
	}
	return types.Function{}, types.NewError(types.KindInvalidArgument, fmt.Sprintf("function %q is overloaded, use the full signature", nameOrSig), nil)
}

// Calldata ABI-encodes the call; value-only calls encode to nil
func Calldata(spec types.CallSpec) ([]byte, error) {
	if spec.FunctionName == "" {
		return nil, nil
	}
	if spec.Incomplete {
		return nil, types.NewError(types.KindInvalidArgument, fmt.Sprintf("call to %s has incomplete arguments", spec.FunctionName), nil)
	}
	fn, ok := spec.Fragment()
	if !ok {
		return nil, fmt.Errorf("no ABI fragment for %s", spec.FunctionName)
	}

	raw, err := json.Marshal([]types.Function{fn})
	if err != nil {
		return nil, fmt.Errorf("failed to encode ABI fragment: %w", err)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse ABI fragment: %w", err)
	}
	method, ok := parsed.Methods[fn.Name]
	if !ok {
		return nil, fmt.Errorf("method %s missing from parsed ABI", fn.Name)
	}
	if len(spec.Args) != len(method.Inputs) {
		return nil, fmt.Errorf("%s expects %d arguments, got %d", fn.Name, len(method.Inputs), len(spec.Args))
	}

	args := make([]any, len(spec.Args))
	for i, arg := range spec.Args {
		v, err := toABIValue(arg, method.Inputs[i].Type)
		if err != nil {
			return nil, fmt.Errorf("argument %d of %s: %w", i, fn.Name, err)
		}
		args[i] = v
	}
	data, err := parsed.Pack(fn.Name, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s data: %w", fn.Name, err)
	}
	return data, nil
}

// SplitCalldata separates the 4-byte selector from the encoded parameters
func SplitCalldata(data []byte) ([4]byte, []byte) {
	var selector [4]byte
	if len(data) < 4 {
		return selector, nil
	}
	copy(selector[:], data[:4])
	return selector, data[4:]
}

func toABIValue(arg any, t abi.Type) (any, error) {
	switch t.T {
	case abi.UintTy, abi.IntTy:
		s, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("expected integer text, got %T", arg)
		}
		v, ok := parseInteger(s)
		if !ok {
			return nil, fmt.Errorf("invalid integer %q", s)
		}
		if t.Size > 64 {
			return v, nil
		}
		if t.T == abi.UintTy {
			return reflect.ValueOf(v.Uint64()).Convert(t.GetType()).Interface(), nil
		}
		return reflect.ValueOf(v.Int64()).Convert(t.GetType()).Interface(), nil
	case abi.BoolTy:
		b, ok := arg.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", arg)
		}
		return b, nil
	case abi.AddressTy:
		switch a := arg.(type) {
		case common.Address:
			return a, nil
		case string:
			return common.HexToAddress(a), nil
		}
		return nil, fmt.Errorf("expected address, got %T", arg)
	case abi.StringTy:
		s, ok := arg.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", arg)
		}
		return s, nil
	case abi.BytesTy:
		return decodeHexArg(arg)
	case abi.FixedBytesTy:
		b, err := decodeHexArg(arg)
		if err != nil {
			return nil, err
		}
		if len(b) > t.Size {
			return nil, fmt.Errorf("value longer than %d bytes", t.Size)
		}
		arr := reflect.New(t.GetType()).Elem()
		reflect.Copy(arr, reflect.ValueOf(b))
		return arr.Interface(), nil
	}
	return nil, fmt.Errorf("unsupported argument type %s", t.String())
}

func decodeHexArg(arg any) ([]byte, error) {
	s, ok := arg.(string)
	if !ok {
		return nil, fmt.Errorf("expected hex text, got %T", arg)
	}
	return hexutil.Decode(s)
}
