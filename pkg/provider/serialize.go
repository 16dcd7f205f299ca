package provider

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.starlark.net/starlark"
)

// EncodeValue serializes a Starlark value to JSON. Collections serialize as
// objects keyed by provider display name, providers as objects of their
// fields, both in insertion order. Values without a JSON form report an
// error rather than guessing.
func EncodeValue(v starlark.Value) ([]byte, error) {
	switch v := v.(type) {
	case json.Marshaler:
		return v.MarshalJSON()
	case starlark.NoneType:
		return []byte("null"), nil
	case starlark.Bool:
		return json.Marshal(bool(v))
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return json.Marshal(i)
		}
		// out of int64 range, fall back to the decimal string
		return json.Marshal(v.String())
	case starlark.Float:
		return json.Marshal(float64(v))
	case starlark.String:
		return json.Marshal(string(v))
	case *starlark.List:
		return encodeArray(v.Len(), v.Index)
	case starlark.Tuple:
		return encodeArray(len(v), func(i int) starlark.Value { return v[i] })
	case *starlark.Dict:
		return encodeDict(v)
	default:
		return nil, fmt.Errorf("cannot serialize %s value %s", v.Type(), v.String())
	}
}

func encodeArray(n int, at func(int) starlark.Value) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		elem, err := EncodeValue(at(i))
		if err != nil {
			return nil, err
		}
		buf.Write(elem)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func encodeDict(d *starlark.Dict) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, item := range d.Items() {
		key, ok := starlark.AsString(item[0])
		if !ok {
			return nil, fmt.Errorf("cannot serialize dict with %s key %s", item[0].Type(), item[0].String())
		}
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, key, item[1]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeMember(buf *bytes.Buffer, key string, v starlark.Value) error {
	name, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(name)
	buf.WriteByte(':')
	val, err := EncodeValue(v)
	if err != nil {
		return err
	}
	buf.Write(val)
	return nil
}

func marshalProviderMap(m *providerMap) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, e.id.Name(), e.value); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON serializes the collection as provider name to provider value,
// in insertion order.
func (c *Collection) MarshalJSON() ([]byte, error) { return marshalProviderMap(&c.m) }

// MarshalJSON serializes the collection as provider name to provider value,
// in insertion order.
func (c *FrozenCollection) MarshalJSON() ([]byte, error) { return marshalProviderMap(&c.m) }

// MarshalJSON serializes the instance as an object of its fields, in
// declaration order.
func (inst *UserInstance) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, field := range inst.callable.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, field, inst.values[i]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON serializes the provider's outputs and sub-target tree.
func (d *DefaultInfo) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeMember(&buf, "default_outputs", d.defaultOutputs); err != nil {
		return nil, err
	}
	buf.WriteByte(',')
	if err := writeMember(&buf, "other_outputs", d.otherOutputs); err != nil {
		return nil, err
	}
	buf.WriteString(`,"sub_targets":{`)
	for i, st := range d.subTargets {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, st.name, st.value); err != nil {
			return nil, err
		}
	}
	buf.WriteString("}}")
	return buf.Bytes(), nil
}
