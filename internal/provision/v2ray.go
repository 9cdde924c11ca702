package provision

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/moby/sys/atomicwriter"
)

// Fixed client attributes written for every new proxy client.
const (
	VMessAlterID  = 0
	VMessSecurity = "auto"
	ClientLevel   = 0
	XrayFlow      = "xtls-rprx-vision"
)

// VMessClient is the client descriptor V2Ray expects under a vmess inbound.
type VMessClient struct {
	ID       string `json:"id"`
	AlterID  int    `json:"alterId"`
	Security string `json:"security"`
	Level    int    `json:"level"`
}

// TrojanClient is the client descriptor for a trojan inbound.
type TrojanClient struct {
	Password string `json:"password"`
	Email    string `json:"email"`
	Level    int    `json:"level"`
}

// XrayClient is the client descriptor for an Xray vless inbound.
type XrayClient struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Flow  string `json:"flow"`
	Level int    `json:"level"`
}

// InboundSelector picks the inbound that receives the new client.
type InboundSelector func(inbounds []map[string]json.RawMessage) (int, error)

// FirstInbound selects inbounds[0].
func FirstInbound(inbounds []map[string]json.RawMessage) (int, error) {
	if len(inbounds) == 0 {
		return 0, errors.New("config has no inbounds")
	}
	return 0, nil
}

// InboundByProtocol selects the first inbound whose protocol equals protocol.
func InboundByProtocol(protocol string) InboundSelector {
	return func(inbounds []map[string]json.RawMessage) (int, error) {
		for i, in := range inbounds {
			var p string
			if raw, ok := in["protocol"]; ok && json.Unmarshal(raw, &p) == nil && p == protocol {
				return i, nil
			}
		}
		return 0, fmt.Errorf("config has no %s inbound", protocol)
	}
}

// ConfigFile is a proxy-server JSON document at a fixed path.
type ConfigFile struct {
	Path string
	// BackupDir, when set, receives a copy of the document before every edit.
	BackupDir string
}

// pathLocks serialises edits to the same document within this process.
var pathLocks sync.Map

func lockFor(path string) *sync.Mutex {
	mu, _ := pathLocks.LoadOrStore(path, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// AppendClient performs one full read, append and write of the document and
// returns the new client count of the chosen inbound. Other processes editing
// the same file can still lose updates; only in-process callers are
// serialised.
func (f ConfigFile) AppendClient(selectInbound InboundSelector, client any) (int, error) {
	mu := lockFor(f.Path)
	mu.Lock()
	defer mu.Unlock()

	info, err := os.Stat(f.Path)
	if err != nil {
		return 0, fmt.Errorf("stat config: %w", err)
	}
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, fmt.Errorf("read config: %w", err)
	}

	updated, n, err := appendClient(data, selectInbound, client)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", f.Path, err)
	}
	if err := f.backup(data); err != nil {
		return 0, err
	}

	if err := atomicwriter.WriteFile(f.Path, updated, info.Mode().Perm()); err != nil {
		return 0, fmt.Errorf("write config: %w", err)
	}
	return n, nil
}

// backup stores the pre-edit document as <BackupDir>/<name>_<timestamp>.bak.
func (f ConfigFile) backup(data []byte) error {
	if f.BackupDir == "" {
		return nil
	}
	if err := os.MkdirAll(f.BackupDir, 0o700); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.bak", filepath.Base(f.Path), time.Now().UTC().Format("20060102150405.000000000"))
	if err := atomicwriter.WriteFile(filepath.Join(f.BackupDir, name), data, 0o600); err != nil {
		return fmt.Errorf("backup config: %w", err)
	}
	return nil
}

// appendClient adds client to the selected inbound's settings.clients list.
// The new client is spliced into the original bytes, so key order, layout
// and existing clients are left exactly as they were.
func appendClient(data []byte, selectInbound InboundSelector, client any) ([]byte, int, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, 0, fmt.Errorf("malformed config document: %w", err)
	}

	var inbounds []map[string]json.RawMessage
	if raw, ok := doc["inbounds"]; ok {
		if err := json.Unmarshal(raw, &inbounds); err != nil {
			return nil, 0, fmt.Errorf("malformed inbounds: %w", err)
		}
	}
	idx, err := selectInbound(inbounds)
	if err != nil {
		return nil, 0, err
	}
	inbound := inbounds[idx]

	settings := map[string]json.RawMessage{}
	rawSettings, hasSettings := inbound["settings"]
	hasSettings = hasSettings && !isNull(rawSettings)
	if hasSettings {
		if err := json.Unmarshal(rawSettings, &settings); err != nil {
			return nil, 0, fmt.Errorf("malformed inbound settings: %w", err)
		}
	}

	var clients []json.RawMessage
	rawClients, hasClients := settings["clients"]
	if hasClients && !isNull(rawClients) {
		if err := json.Unmarshal(rawClients, &clients); err != nil {
			return nil, 0, fmt.Errorf("malformed clients list: %w", err)
		}
	}

	newClient, err := encodeCompact(client)
	if err != nil {
		return nil, 0, fmt.Errorf("encode client: %w", err)
	}
	list := []byte("[" + string(newClient) + "]")

	var (
		path   = []any{"inbounds", idx}
		target []any
		edit   func(data []byte, start, end int) []byte
	)
	switch {
	case hasClients && !isNull(rawClients):
		target = append(path, "settings", "clients")
		edit = func(data []byte, start, end int) []byte { return insertMember(data, start, end, newClient) }
	case hasClients:
		target = append(path, "settings", "clients")
		edit = func(data []byte, start, end int) []byte { return splice(data, start, end, list) }
	case hasSettings:
		target = append(path, "settings")
		edit = func(data []byte, start, end int) []byte {
			return insertMember(data, start, end, []byte(`"clients": `+string(list)))
		}
	case rawSettings != nil:
		target = append(path, "settings")
		edit = func(data []byte, start, end int) []byte {
			return splice(data, start, end, []byte(`{"clients": `+string(list)+`}`))
		}
	default:
		target = path
		edit = func(data []byte, start, end int) []byte {
			return insertMember(data, start, end, []byte(`"settings": {"clients": `+string(list)+`}`))
		}
	}

	start, end, err := locate(data, target...)
	if err != nil {
		return nil, 0, err
	}
	out := edit(data, start, end)
	if !json.Valid(out) {
		return nil, 0, errors.New("edited config is not valid JSON")
	}
	return out, len(clients) + 1, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}

// encodeCompact marshals v without HTML escaping.
func encodeCompact(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// locate returns the byte range of the value reached by path, a sequence of
// object keys and array indices.
func locate(data []byte, path ...any) (int, int, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	for _, step := range path {
		tok, err := dec.Token()
		if err != nil {
			return 0, 0, err
		}
		found := false
		switch step := step.(type) {
		case string:
			if tok != json.Delim('{') {
				return 0, 0, fmt.Errorf("%q: parent is not an object", step)
			}
			for dec.More() {
				key, err := dec.Token()
				if err != nil {
					return 0, 0, err
				}
				if key == step {
					found = true
					break
				}
				if err := skipValue(dec); err != nil {
					return 0, 0, err
				}
			}
		case int:
			if tok != json.Delim('[') {
				return 0, 0, fmt.Errorf("[%d]: parent is not an array", step)
			}
			for i := 0; dec.More(); i++ {
				if i == step {
					found = true
					break
				}
				if err := skipValue(dec); err != nil {
					return 0, 0, err
				}
			}
		}
		if !found {
			return 0, 0, fmt.Errorf("%v: not found", step)
		}
	}

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return 0, 0, err
	}
	end := int(dec.InputOffset())
	return end - len(raw), end, nil
}

func skipValue(dec *json.Decoder) error {
	var raw json.RawMessage
	return dec.Decode(&raw)
}

func splice(data []byte, start, end int, value []byte) []byte {
	out := make([]byte, 0, len(data)-(end-start)+len(value))
	out = append(out, data[:start]...)
	out = append(out, value...)
	return append(out, data[end:]...)
}

// insertMember appends member to the object or array occupying
// data[start:end], reusing the whitespace that precedes its first member.
func insertMember(data []byte, start, end int, member []byte) []byte {
	const space = " \t\r\n"
	inner := data[start+1 : end-1]
	if len(bytes.Trim(inner, space)) == 0 {
		return splice(data, start+1, end-1, member)
	}
	lead := inner[:len(inner)-len(bytes.TrimLeft(inner, space))]
	at := start + 1 + len(bytes.TrimRight(inner, space))

	value := make([]byte, 0, 1+len(lead)+len(member))
	value = append(value, ',')
	value = append(value, lead...)
	value = append(value, member...)
	return splice(data, at, at, value)
}
