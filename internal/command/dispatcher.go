// Package command maps uppercased command names to handlers that read
// and write the key/value and stream stores, produce RESP responses,
// and report which commands are writes so the connection handler can
// propagate their raw frame bytes to replicas.
package command

import (
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"redisd/internal/replication"
	"redisd/internal/resp"
	"redisd/internal/store"
)

// writable is the exact set of commands whose raw frame bytes get
// forwarded to every connected replica when applied on a master.
var writable = map[string]bool{
	"SET": true, "DEL": true, "INCR": true, "DECR": true, "INCRBY": true,
	"DECRBY": true, "APPEND": true, "SETBIT": true, "SETEX": true,
	"GETSET": true, "MSET": true, "MSETNX": true, "HSET": true,
	"HSETNX": true, "HMSET": true,
}

// IsWrite reports whether name is in the writable command set.
func IsWrite(name string) bool {
	return writable[strings.ToUpper(name)]
}

// ConnContext carries the per-connection state a handler needs beyond
// its arguments: the socket (for REPLCONF listening-port upgrade to a
// replica connection) and the replica id once that upgrade happens.
type ConnContext struct {
	Conn      net.Conn
	ReplicaID string
}

// Dispatcher holds every store the command set operates over.
type Dispatcher struct {
	KV      *store.KV
	Streams *store.Streams
	Repl    *replication.State
	Config  *Config
	Log     *logrus.Logger
}

// New creates a dispatcher wired to the given stores.
func New(kv *store.KV, streams *store.Streams, repl *replication.State, cfg *Config, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{KV: kv, Streams: streams, Repl: repl, Config: cfg, Log: log}
}

// Dispatch executes one command and returns its RESP-encoded reply. A
// nil reply means no bytes should be written back (used for REPLCONF
// ACK, which the sender never waits on).
func (d *Dispatcher) Dispatch(args []string, ctx *ConnContext) []byte {
	if len(args) == 0 {
		return resp.EncodeError("ERR empty command")
	}
	name := strings.ToUpper(args[0])

	switch name {
	case "PING":
		if len(args) > 1 {
			return resp.EncodeBulkString(args[1])
		}
		return resp.EncodeSimpleString("PONG")

	case "ECHO":
		if len(args) != 2 {
			return resp.EncodeError("ERR wrong number of arguments for 'echo' command")
		}
		return resp.EncodeBulkString(args[1])

	case "SET":
		return d.cmdSet(args)
	case "GET":
		return d.cmdGet(args)
	case "DEL":
		return d.cmdDel(args)
	case "INCR":
		return d.cmdIncrDecr(args, 1)
	case "DECR":
		return d.cmdIncrDecr(args, -1)
	case "INCRBY":
		return d.cmdIncrDecrBy(args, 1)
	case "DECRBY":
		return d.cmdIncrDecrBy(args, -1)
	case "APPEND":
		return d.cmdAppend(args)
	case "SETBIT":
		return d.cmdSetBit(args)
	case "SETEX":
		return d.cmdSetEx(args)
	case "GETSET":
		return d.cmdGetSet(args)
	case "MSET":
		return d.cmdMSet(args)
	case "MSETNX":
		return d.cmdMSetNX(args)
	case "HSET":
		return d.cmdHSet(args)
	case "HSETNX":
		return d.cmdHSetNX(args)
	case "HMSET":
		return d.cmdHMSet(args)
	case "HGET":
		return d.cmdHGet(args)
	case "HGETALL":
		return d.cmdHGetAll(args)
	case "KEYS":
		return d.cmdKeys(args)
	case "TYPE":
		return d.cmdType(args)
	case "EXISTS":
		return d.cmdExists(args)
	case "CONFIG":
		return d.cmdConfig(args)
	case "INFO":
		return d.cmdInfo(args)
	case "XADD":
		return d.cmdXAdd(args)
	case "XRANGE":
		return d.cmdXRange(args)
	case "XREAD":
		return d.cmdXRead(args)
	case "REPLCONF":
		return d.cmdReplConf(args, ctx)
	case "PSYNC":
		return d.cmdPSync(args)
	case "WAIT":
		return d.cmdWait(args)
	default:
		return resp.EncodeError("ERR unknown command '" + args[0] + "'")
	}
}

func (d *Dispatcher) cmdSet(args []string) []byte {
	if len(args) < 3 {
		return resp.EncodeError("ERR wrong number of arguments for 'set' command")
	}
	opts, err := store.ParseSetArgs(args[3:])
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	if ok := d.KV.Set(args[1], args[2], opts); !ok {
		return resp.EncodeNullBulk()
	}
	return resp.EncodeSimpleString("OK")
}

func (d *Dispatcher) cmdGet(args []string) []byte {
	if len(args) != 2 {
		return resp.EncodeError("ERR wrong number of arguments for 'get' command")
	}
	v, ok := d.KV.Get(args[1])
	if !ok {
		return resp.EncodeNullBulk()
	}
	return resp.EncodeBulkString(v)
}

func (d *Dispatcher) cmdDel(args []string) []byte {
	if len(args) < 2 {
		return resp.EncodeError("ERR wrong number of arguments for 'del' command")
	}
	return resp.EncodeInteger(int64(d.KV.Del(args[1:]...)))
}

func (d *Dispatcher) cmdIncrDecr(args []string, sign int64) []byte {
	if len(args) != 2 {
		return resp.EncodeError("ERR wrong number of arguments for 'incr/decr' command")
	}
	n, err := d.KV.IncrBy(args[1], sign)
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	return resp.EncodeInteger(n)
}

func (d *Dispatcher) cmdIncrDecrBy(args []string, sign int64) []byte {
	if len(args) != 3 {
		return resp.EncodeError("ERR wrong number of arguments for 'incrby/decrby' command")
	}
	delta, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return resp.EncodeError("ERR value is not an integer or out of range")
	}
	n, err := d.KV.IncrBy(args[1], sign*delta)
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	return resp.EncodeInteger(n)
}

func (d *Dispatcher) cmdAppend(args []string) []byte {
	if len(args) != 3 {
		return resp.EncodeError("ERR wrong number of arguments for 'append' command")
	}
	n, err := d.KV.Append(args[1], args[2])
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	return resp.EncodeInteger(int64(n))
}

func (d *Dispatcher) cmdSetBit(args []string) []byte {
	if len(args) != 4 {
		return resp.EncodeError("ERR wrong number of arguments for 'setbit' command")
	}
	offset, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return resp.EncodeError("ERR bit offset is not an integer or out of range")
	}
	bit, err := strconv.Atoi(args[3])
	if err != nil {
		return resp.EncodeError("ERR bit is not an integer or out of range")
	}
	old, err := d.KV.SetBit(args[1], offset, bit)
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	return resp.EncodeInteger(int64(old))
}

func (d *Dispatcher) cmdSetEx(args []string) []byte {
	if len(args) != 4 {
		return resp.EncodeError("ERR wrong number of arguments for 'setex' command")
	}
	secs, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return resp.EncodeError("ERR value is not an integer or out of range")
	}
	d.KV.SetEx(args[1], args[3], secs)
	return resp.EncodeSimpleString("OK")
}

func (d *Dispatcher) cmdGetSet(args []string) []byte {
	if len(args) != 3 {
		return resp.EncodeError("ERR wrong number of arguments for 'getset' command")
	}
	old, ok := d.KV.GetSet(args[1], args[2])
	if !ok {
		return resp.EncodeNullBulk()
	}
	return resp.EncodeBulkString(old)
}

func (d *Dispatcher) cmdMSet(args []string) []byte {
	if len(args) < 3 || len(args)%2 != 1 {
		return resp.EncodeError("ERR wrong number of arguments for 'mset' command")
	}
	pairs := make(map[string]string, (len(args)-1)/2)
	for i := 1; i < len(args); i += 2 {
		pairs[args[i]] = args[i+1]
	}
	d.KV.MSet(pairs)
	return resp.EncodeSimpleString("OK")
}

func (d *Dispatcher) cmdMSetNX(args []string) []byte {
	if len(args) < 3 || len(args)%2 != 1 {
		return resp.EncodeError("ERR wrong number of arguments for 'msetnx' command")
	}
	pairs := make(map[string]string, (len(args)-1)/2)
	for i := 1; i < len(args); i += 2 {
		pairs[args[i]] = args[i+1]
	}
	if d.KV.MSetNX(pairs) {
		return resp.EncodeInteger(1)
	}
	return resp.EncodeInteger(0)
}

func (d *Dispatcher) cmdHSet(args []string) []byte {
	if len(args) < 4 || len(args)%2 != 0 {
		return resp.EncodeError("ERR wrong number of arguments for 'hset' command")
	}
	fields := make(map[string]string, (len(args)-2)/2)
	for i := 2; i < len(args); i += 2 {
		fields[args[i]] = args[i+1]
	}
	n, err := d.KV.HSet(args[1], fields)
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	return resp.EncodeInteger(int64(n))
}

func (d *Dispatcher) cmdHSetNX(args []string) []byte {
	if len(args) != 4 {
		return resp.EncodeError("ERR wrong number of arguments for 'hsetnx' command")
	}
	set, err := d.KV.HSetNX(args[1], args[2], args[3])
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	if set {
		return resp.EncodeInteger(1)
	}
	return resp.EncodeInteger(0)
}

func (d *Dispatcher) cmdHMSet(args []string) []byte {
	if len(args) < 4 || len(args)%2 != 0 {
		return resp.EncodeError("ERR wrong number of arguments for 'hmset' command")
	}
	fields := make(map[string]string, (len(args)-2)/2)
	for i := 2; i < len(args); i += 2 {
		fields[args[i]] = args[i+1]
	}
	if _, err := d.KV.HSet(args[1], fields); err != nil {
		return resp.EncodeError(err.Error())
	}
	return resp.EncodeSimpleString("OK")
}

func (d *Dispatcher) cmdHGet(args []string) []byte {
	if len(args) != 3 {
		return resp.EncodeError("ERR wrong number of arguments for 'hget' command")
	}
	v, ok := d.KV.HGet(args[1], args[2])
	if !ok {
		return resp.EncodeNullBulk()
	}
	return resp.EncodeBulkString(v)
}

func (d *Dispatcher) cmdHGetAll(args []string) []byte {
	if len(args) != 2 {
		return resp.EncodeError("ERR wrong number of arguments for 'hgetall' command")
	}
	fields := d.KV.HGetAll(args[1])
	flat := make([]string, 0, len(fields)*2)
	for k, v := range fields {
		flat = append(flat, k, v)
	}
	return resp.EncodeBulkStringArray(flat)
}

func (d *Dispatcher) cmdKeys(args []string) []byte {
	if len(args) != 2 {
		return resp.EncodeError("ERR wrong number of arguments for 'keys' command")
	}
	return resp.EncodeBulkStringArray(d.KV.Keys(args[1]))
}

func (d *Dispatcher) cmdType(args []string) []byte {
	if len(args) != 2 {
		return resp.EncodeError("ERR wrong number of arguments for 'type' command")
	}
	t := d.KV.TypeOf(args[1])
	if t == "none" && d.Streams.Exists(args[1]) {
		t = "stream"
	}
	return resp.EncodeSimpleString(t)
}

func (d *Dispatcher) cmdExists(args []string) []byte {
	if len(args) < 2 {
		return resp.EncodeError("ERR wrong number of arguments for 'exists' command")
	}
	count := int64(0)
	for _, k := range args[1:] {
		if d.KV.Exists(k) {
			count++
		}
	}
	return resp.EncodeInteger(count)
}

func (d *Dispatcher) cmdConfig(args []string) []byte {
	if len(args) != 3 || strings.ToUpper(args[1]) != "GET" {
		return resp.EncodeError("ERR syntax error")
	}
	v, ok := d.Config.Get(strings.ToLower(args[2]))
	if !ok {
		return resp.EncodeArray(nil)
	}
	return resp.EncodeBulkStringArray([]string{args[2], v})
}

func (d *Dispatcher) cmdInfo(args []string) []byte {
	lines := d.Repl.Info()
	text := strings.Join(lines, "\r\n") + "\r\n"
	return resp.EncodeBulkString(text)
}

func (d *Dispatcher) cmdXAdd(args []string) []byte {
	if len(args) < 5 || len(args)%2 != 1 {
		return resp.EncodeError("ERR wrong number of arguments for 'xadd' command")
	}
	id, err := d.Streams.XAdd(args[1], args[2], args[3:])
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	return resp.EncodeBulkString(id.String())
}

func (d *Dispatcher) cmdXRange(args []string) []byte {
	if len(args) != 4 {
		return resp.EncodeError("ERR wrong number of arguments for 'xrange' command")
	}
	start, err := parseRangeBound(args[2], true)
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	end, err := parseRangeBound(args[3], false)
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	entries := d.Streams.XRange(args[1], start, end)
	items := make([][]byte, 0, len(entries))
	for _, e := range entries {
		items = append(items, resp.EncodeArray([][]byte{
			resp.EncodeBulkString(e.ID.String()),
			resp.EncodeBulkStringArray(e.Fields),
		}))
	}
	return resp.EncodeArray(items)
}

func parseRangeBound(s string, isStart bool) (store.StreamID, error) {
	if s == "-" {
		return store.StreamID{Ms: 0, Seq: 0}, nil
	}
	if s == "+" {
		return store.StreamID{Ms: ^uint64(0), Seq: ^uint64(0)}, nil
	}
	defaultSeq := uint64(0)
	if !isStart {
		defaultSeq = ^uint64(0)
	}
	return store.ParseStreamID(s, defaultSeq)
}

func (d *Dispatcher) cmdXRead(args []string) []byte {
	i := 1
	var block *time.Duration
	for i < len(args) && strings.ToUpper(args[i]) != "STREAMS" {
		if strings.ToUpper(args[i]) == "BLOCK" && i+1 < len(args) {
			ms, err := strconv.ParseInt(args[i+1], 10, 64)
			if err != nil {
				return resp.EncodeError("ERR timeout is not an integer or out of range")
			}
			dur := time.Duration(ms) * time.Millisecond
			block = &dur
			i += 2
			continue
		}
		return resp.EncodeError("ERR syntax error")
	}
	if i >= len(args) || strings.ToUpper(args[i]) != "STREAMS" {
		return resp.EncodeError("ERR syntax error")
	}
	rest := args[i+1:]
	if len(rest) == 0 || len(rest)%2 != 0 {
		return resp.EncodeError("ERR Unbalanced XREAD list of streams: for each stream key an ID or '$' must be specified.")
	}
	n := len(rest) / 2
	keys := rest[:n]
	idSpecs := rest[n:]

	ids := make([]store.StreamID, n)
	for j, spec := range idSpecs {
		if spec == "$" {
			ids[j] = d.Streams.LastID(keys[j])
			continue
		}
		id, err := store.ParseStreamID(spec, 0)
		if err != nil {
			return resp.EncodeError(err.Error())
		}
		ids[j] = id
	}

	results, err := d.Streams.XRead(keys, ids, block)
	if err != nil {
		return resp.EncodeError(err.Error())
	}
	if len(results) == 0 {
		return resp.EncodeNullBulk()
	}

	items := make([][]byte, 0, len(results))
	for _, r := range results {
		entries := make([][]byte, 0, len(r.Entries))
		for _, e := range r.Entries {
			entries = append(entries, resp.EncodeArray([][]byte{
				resp.EncodeBulkString(e.ID.String()),
				resp.EncodeBulkStringArray(e.Fields),
			}))
		}
		items = append(items, resp.EncodeArray([][]byte{
			resp.EncodeBulkString(r.Key),
			resp.EncodeArray(entries),
		}))
	}
	return resp.EncodeArray(items)
}

func (d *Dispatcher) cmdReplConf(args []string, ctx *ConnContext) []byte {
	if len(args) < 2 {
		return resp.EncodeError("ERR wrong number of arguments for 'replconf' command")
	}
	switch strings.ToUpper(args[1]) {
	case "LISTENING-PORT":
		if len(args) != 3 {
			return resp.EncodeError("ERR syntax error")
		}
		port, err := strconv.Atoi(args[2])
		if err != nil {
			return resp.EncodeError("ERR syntax error")
		}
		if ctx != nil && ctx.Conn != nil {
			r := d.Repl.RegisterReplica(ctx.Conn, port)
			ctx.ReplicaID = r.ID
		}
		return resp.EncodeSimpleString("OK")
	case "CAPA":
		return resp.EncodeSimpleString("OK")
	case "ACK":
		if len(args) == 3 && ctx != nil && ctx.ReplicaID != "" {
			offset, err := strconv.ParseInt(args[2], 10, 64)
			if err == nil {
				d.Repl.Ack(ctx.ReplicaID, offset)
			}
		}
		return nil
	case "GETACK":
		return resp.EncodeSimpleString("OK")
	default:
		return resp.EncodeSimpleString("OK")
	}
}

// emptyRDB is the fixed, hard-coded empty RDB blob sent after FULLRESYNC:
// magic, version, immediate EOF opcode, and an (unchecked) 8-byte
// checksum field.
var emptyRDB = func() []byte {
	b := []byte("REDIS0011")
	b = append(b, 0xFF)
	b = append(b, make([]byte, 8)...)
	return b
}()

func (d *Dispatcher) cmdPSync(args []string) []byte {
	line := resp.EncodeSimpleString("FULLRESYNC " + d.Repl.ReplID() + " " + strconv.FormatInt(d.Repl.Offset(), 10))
	bulkHeader := "$" + strconv.Itoa(len(emptyRDB)) + "\r\n"
	out := make([]byte, 0, len(line)+len(bulkHeader)+len(emptyRDB))
	out = append(out, line...)
	out = append(out, bulkHeader...)
	out = append(out, emptyRDB...)
	return out
}

func (d *Dispatcher) cmdWait(args []string) []byte {
	if len(args) != 3 {
		return resp.EncodeError("ERR wrong number of arguments for 'wait' command")
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return resp.EncodeError("ERR value is not an integer or out of range")
	}
	timeoutMs, err := strconv.ParseInt(args[2], 10, 64)
	if err != nil {
		return resp.EncodeError("ERR value is not an integer or out of range")
	}
	count := d.Repl.Wait(n, time.Duration(timeoutMs)*time.Millisecond)
	return resp.EncodeInteger(int64(count))
}
