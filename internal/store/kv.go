// Package store implements the key/value and stream data engine: the
// in-memory key space with lazy expiry and the per-key stream log, both
// guarded by confining mutation to a single lock per store.
package store

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Kind identifies the shape of a stored value. The data model only ever
// stores a byte-string or a hash of fields - nothing in the required
// command set needs a list, set, or sorted-set kind, so none exists.
type Kind int

const (
	KindString Kind = iota
	KindHash
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindHash:
		return "hash"
	default:
		return "none"
	}
}

type entry struct {
	kind      Kind
	str       string
	hash      map[string]string
	expiresAt time.Time // zero value means no expiry
}

func (e *entry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || e.expiresAt.After(now)
}

// KV is the in-memory key space. All access funnels through a single
// mutex: single-writer semantics on the key space, and lazy expiry
// deletion counts as a write.
type KV struct {
	mu   sync.Mutex
	data map[string]*entry
}

// NewKV creates an empty key space.
func NewKV() *KV {
	return &KV{data: make(map[string]*entry)}
}

// getLive returns the live entry for key, deleting it first if it has
// expired. Caller must hold mu.
func (kv *KV) getLive(key string, now time.Time) (*entry, bool) {
	e, ok := kv.data[key]
	if !ok {
		return nil, false
	}
	if !e.live(now) {
		delete(kv.data, key)
		return nil, false
	}
	return e, true
}

// SetOptions configures SET's NX/XX and expiry behavior.
type SetOptions struct {
	NX        bool
	XX        bool
	HasExpiry bool
	ExpireAt  time.Time
}

// Set stores value under key per SetOptions. It returns false (no-op) if
// NX found a live key or XX found none.
func (kv *KV) Set(key, value string, opts SetOptions) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	now := time.Now()
	_, exists := kv.getLive(key, now)
	if opts.NX && exists {
		return false
	}
	if opts.XX && !exists {
		return false
	}

	e := &entry{kind: KindString, str: value}
	if opts.HasExpiry {
		e.expiresAt = opts.ExpireAt
	}
	kv.data[key] = e
	return true
}

// Get returns the live string value for key.
func (kv *KV) Get(key string) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.getLive(key, time.Now())
	if !ok || e.kind != KindString {
		return "", false
	}
	return e.str, true
}

// GetSet atomically sets key to value and returns the previous live
// string value, if any. Any expiry on the previous value is discarded,
// matching standard GETSET semantics.
func (kv *KV) GetSet(key, value string) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.getLive(key, time.Now())
	var old string
	var hadOld bool
	if ok && e.kind == KindString {
		old, hadOld = e.str, true
	}
	kv.data[key] = &entry{kind: KindString, str: value}
	return old, hadOld
}

// Del removes the given keys (live or not) and returns how many existed.
func (kv *KV) Del(keys ...string) int {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	count := 0
	now := time.Now()
	for _, key := range keys {
		if _, ok := kv.getLive(key, now); ok {
			delete(kv.data, key)
			count++
		}
	}
	return count
}

// Exists reports whether key currently holds a live value.
func (kv *KV) Exists(key string) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	_, ok := kv.getLive(key, time.Now())
	return ok
}

// TypeOf reports the RESP TYPE name for key: "string", "hash", "stream",
// or "none". Stream lookups are injected by the caller (command
// dispatcher) since streams live in a separate store.
func (kv *KV) TypeOf(key string) string {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	e, ok := kv.getLive(key, time.Now())
	if !ok {
		return "none"
	}
	return e.kind.String()
}

// Keys returns all live keys matching pattern. "*" matches every key;
// any other pattern is compared with each key for plain equality - glob
// syntax is not interpreted.
func (kv *KV) Keys(pattern string) []string {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	now := time.Now()
	var keys []string
	for k, e := range kv.data {
		if !e.live(now) {
			continue
		}
		if pattern == "*" || k == pattern {
			keys = append(keys, k)
		}
	}
	return keys
}

func (kv *KV) incrBy(key string, delta int64) (int64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.getLive(key, time.Now())
	var cur int64
	if ok {
		if e.kind != KindString {
			return 0, fmt.Errorf("WRONGTYPE Operation against a key holding the wrong kind of value")
		}
		n, err := strconv.ParseInt(e.str, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("ERR value is not an integer or out of range")
		}
		cur = n
	}

	next := cur + delta
	if ok {
		e.str = strconv.FormatInt(next, 10)
	} else {
		kv.data[key] = &entry{kind: KindString, str: strconv.FormatInt(next, 10)}
	}
	return next, nil
}

// Incr increments key (default 0) by 1.
func (kv *KV) Incr(key string) (int64, error) { return kv.incrBy(key, 1) }

// Decr decrements key (default 0) by 1.
func (kv *KV) Decr(key string) (int64, error) { return kv.incrBy(key, -1) }

// IncrBy increments key (default 0) by delta.
func (kv *KV) IncrBy(key string, delta int64) (int64, error) { return kv.incrBy(key, delta) }

// DecrBy decrements key (default 0) by delta.
func (kv *KV) DecrBy(key string, delta int64) (int64, error) { return kv.incrBy(key, -delta) }

// Append appends value to key's string (treating a missing key as
// empty) and returns the resulting length.
func (kv *KV) Append(key, value string) (int, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.getLive(key, time.Now())
	if !ok {
		e = &entry{kind: KindString}
		kv.data[key] = e
	} else if e.kind != KindString {
		return 0, fmt.Errorf("WRONGTYPE Operation against a key holding the wrong kind of value")
	}
	e.str += value
	return len(e.str), nil
}

// SetBit sets the bit at offset (0 or 1) within key's string value,
// growing it with zero bytes as needed, and returns the prior bit value.
func (kv *KV) SetBit(key string, offset int64, bit int) (int, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	if offset < 0 {
		return 0, fmt.Errorf("ERR bit offset is not an integer or out of range")
	}
	if bit != 0 && bit != 1 {
		return 0, fmt.Errorf("ERR bit is not an integer or out of range")
	}

	e, ok := kv.getLive(key, time.Now())
	if !ok {
		e = &entry{kind: KindString}
		kv.data[key] = e
	} else if e.kind != KindString {
		return 0, fmt.Errorf("WRONGTYPE Operation against a key holding the wrong kind of value")
	}

	byteIdx := int(offset / 8)
	bitIdx := uint(7 - offset%8)
	buf := []byte(e.str)
	if byteIdx >= len(buf) {
		grown := make([]byte, byteIdx+1)
		copy(grown, buf)
		buf = grown
	}

	old := (buf[byteIdx] >> bitIdx) & 1
	if bit == 1 {
		buf[byteIdx] |= 1 << bitIdx
	} else {
		buf[byteIdx] &^= 1 << bitIdx
	}
	e.str = string(buf)
	return int(old), nil
}

// SetEx sets key to value with an absolute expiry seconds from now -
// the SETEX command's contract (unconditional SET + EX).
func (kv *KV) SetEx(key, value string, seconds int64) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = &entry{
		kind:      KindString,
		str:       value,
		expiresAt: time.Now().Add(time.Duration(seconds) * time.Second),
	}
}

// MSet sets every key/value pair unconditionally.
func (kv *KV) MSet(pairs map[string]string) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	for k, v := range pairs {
		kv.data[k] = &entry{kind: KindString, str: v}
	}
}

// MSetNX sets every key/value pair only if none of the keys already
// exist (all-or-nothing); returns false if any key was already present.
func (kv *KV) MSetNX(pairs map[string]string) bool {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	now := time.Now()
	for k := range pairs {
		if _, ok := kv.getLive(k, now); ok {
			return false
		}
	}
	for k, v := range pairs {
		kv.data[k] = &entry{kind: KindString, str: v}
	}
	return true
}

// HSet sets the given fields on key's hash (creating it if absent) and
// returns how many fields were newly created (as opposed to updated).
func (kv *KV) HSet(key string, fields map[string]string) (int, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.getLive(key, time.Now())
	if !ok {
		e = &entry{kind: KindHash, hash: make(map[string]string)}
		kv.data[key] = e
	} else if e.kind != KindHash {
		return 0, fmt.Errorf("WRONGTYPE Operation against a key holding the wrong kind of value")
	}

	created := 0
	for f, v := range fields {
		if _, exists := e.hash[f]; !exists {
			created++
		}
		e.hash[f] = v
	}
	return created, nil
}

// HSetNX sets field on key's hash only if it is absent; returns whether
// the field was set.
func (kv *KV) HSetNX(key, field, value string) (bool, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.getLive(key, time.Now())
	if !ok {
		e = &entry{kind: KindHash, hash: make(map[string]string)}
		kv.data[key] = e
	} else if e.kind != KindHash {
		return false, fmt.Errorf("WRONGTYPE Operation against a key holding the wrong kind of value")
	}

	if _, exists := e.hash[field]; exists {
		return false, nil
	}
	e.hash[field] = value
	return true, nil
}

// HGet returns a single field from key's hash.
func (kv *KV) HGet(key, field string) (string, bool) {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.getLive(key, time.Now())
	if !ok || e.kind != KindHash {
		return "", false
	}
	v, ok := e.hash[field]
	return v, ok
}

// HGetAll returns a copy of key's full hash.
func (kv *KV) HGetAll(key string) map[string]string {
	kv.mu.Lock()
	defer kv.mu.Unlock()

	e, ok := kv.getLive(key, time.Now())
	if !ok || e.kind != KindHash {
		return nil
	}
	out := make(map[string]string, len(e.hash))
	for k, v := range e.hash {
		out[k] = v
	}
	return out
}

// Restore installs key unconditionally from the RDB load path.
// expiresAt is the zero Time for no expiry.
func (kv *KV) Restore(key, value string, expiresAt time.Time) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = &entry{kind: KindString, str: value, expiresAt: expiresAt}
}

// RestoreHash installs a hash value unconditionally from RDB load paths.
func (kv *KV) RestoreHash(key string, fields map[string]string, expiresAt time.Time) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	kv.data[key] = &entry{kind: KindHash, hash: fields, expiresAt: expiresAt}
}

// ParseSetArgs parses the trailing NX|XX and EX|PX tokens of a SET
// command's argument list.
func ParseSetArgs(args []string) (SetOptions, error) {
	var opts SetOptions
	now := time.Now()

	for i := 0; i < len(args); i++ {
		switch strings.ToUpper(args[i]) {
		case "NX":
			opts.NX = true
		case "XX":
			opts.XX = true
		case "EX":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("ERR syntax error")
			}
			secs, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return opts, fmt.Errorf("ERR value is not an integer or out of range")
			}
			opts.HasExpiry = true
			opts.ExpireAt = now.Add(time.Duration(secs) * time.Second)
			i++
		case "PX":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("ERR syntax error")
			}
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return opts, fmt.Errorf("ERR value is not an integer or out of range")
			}
			opts.HasExpiry = true
			opts.ExpireAt = now.Add(time.Duration(ms) * time.Millisecond)
			i++
		default:
			return opts, fmt.Errorf("ERR syntax error")
		}
	}
	if opts.NX && opts.XX {
		return opts, fmt.Errorf("ERR syntax error")
	}
	return opts, nil
}
