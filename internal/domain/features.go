package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Feature is a single named entry of a FeatureVector.
type Feature struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// FeatureVector maps feature names to values while preserving insertion order, which is
// the order the model expects its inputs in. The zero value is an empty, usable vector.
type FeatureVector struct {
	entries []Feature
	index   map[string]int
}

// NewFeatureVector returns an empty vector with room for n features.
func NewFeatureVector(n int) *FeatureVector {
	return &FeatureVector{
		entries: make([]Feature, 0, n),
		index:   make(map[string]int, n),
	}
}

// FeatureVectorFrom builds a vector from ordered features. Later duplicates overwrite earlier values.
func FeatureVectorFrom(features ...Feature) *FeatureVector {
	fv := NewFeatureVector(len(features))
	for _, f := range features {
		fv.Set(f.Name, f.Value)
	}
	return fv
}

// Set stores value under name, keeping the original position when name already exists.
func (fv *FeatureVector) Set(name string, value Value) {
	if fv.index == nil {
		fv.index = make(map[string]int)
	}
	if i, ok := fv.index[name]; ok {
		fv.entries[i].Value = value
		return
	}
	fv.index[name] = len(fv.entries)
	fv.entries = append(fv.entries, Feature{Name: name, Value: value})
}

// Get returns the value stored under the exact name.
func (fv *FeatureVector) Get(name string) (Value, bool) {
	if fv == nil || fv.index == nil {
		return Absent(), false
	}
	i, ok := fv.index[name]
	if !ok {
		return Absent(), false
	}
	return fv.entries[i].Value, true
}

// Lookup finds the first feature, in vector order, whose name matches key ignoring case
// and underscores, so "blood_pressure" matches "BloodPressure".
func (fv *FeatureVector) Lookup(key string) (Value, bool) {
	if fv == nil {
		return Absent(), false
	}
	want := foldKey(key)
	for _, f := range fv.entries {
		if strings.EqualFold(f.Name, key) || foldKey(f.Name) == want {
			return f.Value, true
		}
	}
	return Absent(), false
}

func foldKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "_", "")
}

// Len returns the number of features.
func (fv *FeatureVector) Len() int {
	if fv == nil {
		return 0
	}
	return len(fv.entries)
}

// Names returns the feature names in order.
func (fv *FeatureVector) Names() []string {
	if fv == nil {
		return nil
	}
	names := make([]string, len(fv.entries))
	for i, f := range fv.entries {
		names[i] = f.Name
	}
	return names
}

// Features returns a copy of the ordered entries.
func (fv *FeatureVector) Features() []Feature {
	if fv == nil {
		return nil
	}
	out := make([]Feature, len(fv.entries))
	copy(out, fv.entries)
	return out
}

// Clone returns an independent copy of the vector.
func (fv *FeatureVector) Clone() *FeatureVector {
	if fv == nil {
		return NewFeatureVector(0)
	}
	return FeatureVectorFrom(fv.entries...)
}

// Map returns the vector as a plain map of natural Go values, for collaborators that do
// not care about order.
func (fv *FeatureVector) Map() map[string]any {
	out := make(map[string]any, fv.Len())
	if fv == nil {
		return out
	}
	for _, f := range fv.entries {
		out[f.Name] = f.Value.Interface()
	}
	return out
}

// MarshalJSON encodes the vector as a JSON object whose keys keep vector order.
func (fv FeatureVector) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fv.entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		val, err := f.Value.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order.
func (fv *FeatureVector) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding feature vector: %w", err)
	}
	if tok == nil {
		*fv = FeatureVector{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("decoding feature vector: expected object, got %v", tok)
	}
	out := NewFeatureVector(8)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decoding feature vector key: %w", err)
		}
		key, _ := keyTok.(string)
		var v Value
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("decoding feature %q: %w", key, err)
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decoding feature vector: %w", err)
	}
	*fv = *out
	return nil
}

// MappingResult is the output of feature mapping: a complete vector, the features that had
// no direct or aliased source (before imputation) and one warning per imputed feature.
type MappingResult struct {
	Features *FeatureVector `json:"features"`
	Missing  []string       `json:"missing"`
	Warnings []string       `json:"warnings"`
}
