package aggregate

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Tally is a string-keyed counter that remembers the order in
// which keys were first seen. Ties in rankings are broken by
// that order. The zero value is ready to use. Tally is not safe
// for concurrent use; the Aggregator serializes access.
type Tally struct {
	keys   []string
	counts map[string]int
}

// Entry is one key of a Tally with its count.
type Entry struct {
	Key   string
	Count int
}

// Add increments key by n, recording key on first sight.
func (t *Tally) Add(key string, n int) {
	if t.counts == nil {
		t.counts = make(map[string]int)
	}
	if _, ok := t.counts[key]; !ok {
		t.keys = append(t.keys, key)
	}
	t.counts[key] += n
}

// Get returns the count for key.
func (t Tally) Get(key string) int {
	return t.counts[key]
}

// Has reports whether key was ever added.
func (t Tally) Has(key string) bool {
	_, ok := t.counts[key]
	return ok
}

// Len returns the number of distinct keys.
func (t Tally) Len() int { return len(t.keys) }

// Keys returns the keys in first-seen order.
func (t Tally) Keys() []string {
	return append([]string(nil), t.keys...)
}

// Entries returns every key and count in first-seen order.
func (t Tally) Entries() []Entry {
	out := make([]Entry, len(t.keys))
	for i, k := range t.keys {
		out[i] = Entry{Key: k, Count: t.counts[k]}
	}
	return out
}

// Total returns the sum of all counts.
func (t Tally) Total() int {
	total := 0
	for _, c := range t.counts {
		total += c
	}
	return total
}

// Clone returns an independent copy.
func (t Tally) Clone() Tally {
	c := Tally{keys: append([]string(nil), t.keys...)}
	if t.counts != nil {
		c.counts = make(map[string]int, len(t.counts))
		for k, v := range t.counts {
			c.counts[k] = v
		}
	}
	return c
}

// MarshalJSON writes the tally as an object in first-seen order.
func (t Tally) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range t.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", t.counts[k])
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads an object, keeping document key order.
func (t *Tally) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("tally: expected object, got %v", tok)
	}
	*t = Tally{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("tally: expected key, got %v", tok)
		}
		var n int
		if err := dec.Decode(&n); err != nil {
			return fmt.Errorf("tally: value of %q: %w", key, err)
		}
		t.Add(key, n)
	}
	_, err = dec.Token()
	return err
}
