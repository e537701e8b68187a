package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
)

type envelope struct {
	Type string `json:"type"`
}

// EncodeControl renders a control message as a tagged JSON object.
func EncodeControl(msg Control) ([]byte, error) {
	switch m := msg.(type) {
	case ChangeDirectory:
		return tagged(m.Type(), m)
	case Delete:
		return tagged(m.Type(), m)
	case Reveal:
		return tagged(m.Type(), m)
	default:
		return nil, fmt.Errorf("encode control: unsupported message %T", msg)
	}
}

// EncodeEvent renders an event message as a tagged JSON object.
func EncodeEvent(msg Event) ([]byte, error) {
	switch m := msg.(type) {
	case DirectoryChange:
		if m.Entries == nil {
			m.Entries = []Entry{}
		}
		return tagged(m.Type(), m)
	case SizeUpdate:
		return tagged(m.Type(), m)
	case Deleting:
		return tagged(m.Type(), m)
	case DeleteFailed:
		return tagged(m.Type(), m)
	default:
		return nil, fmt.Errorf("encode event: unsupported message %T", msg)
	}
}

// tagged marshals v with its discriminant folded into the same object.
func tagged(msgType string, v any) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}
	tag, err := json.Marshal(msgType)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}

	out := make([]byte, 0, len(body)+len(tag)+9)
	out = append(out, `{"type":`...)
	out = append(out, tag...)
	if len(body) > 2 {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

// DecodeEvent parses and validates one inbound payload. Any failure is a
// *ProtocolError; callers are expected to drop the payload and continue.
func DecodeEvent(data []byte) (Event, error) {
	msgType, err := discriminant(data)
	if err != nil {
		return nil, err
	}

	switch msgType {
	case TypeDirectoryChange:
		var m DirectoryChange
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, malformed(msgType, err)
		}
		if err := validateDirectoryChange(m); err != nil {
			return nil, err
		}
		if m.Entries == nil {
			m.Entries = []Entry{}
		}
		return m, nil

	case TypeSizeUpdate:
		var m SizeUpdate
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, malformed(msgType, err)
		}
		if err := validateEntry(msgType, "entry", m.Entry); err != nil {
			return nil, err
		}
		if !m.Entry.IsDir() {
			return nil, invalid(msgType, "entry must be a directory")
		}
		return m, nil

	case TypeDeleting:
		var m Deleting
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, malformed(msgType, err)
		}
		if m.Path == nil {
			return nil, invalid(msgType, "missing path")
		}
		if m.Status != DeletingInProgress && m.Status != DeletingFinished {
			return nil, invalid(msgType, "unknown status %q", m.Status)
		}
		return m, nil

	case TypeDeleteFailed:
		var m DeleteFailed
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, malformed(msgType, err)
		}
		if m.Path == nil {
			return nil, invalid(msgType, "missing path")
		}
		if strings.TrimSpace(m.Reason) == "" {
			return nil, invalid(msgType, "missing reason")
		}
		return m, nil

	default:
		return nil, invalid(msgType, "unknown message type")
	}
}

// DecodeControl parses one control payload, as received by a scan server.
func DecodeControl(data []byte) (Control, error) {
	msgType, err := discriminant(data)
	if err != nil {
		return nil, err
	}

	var path struct {
		Path      Path   `json:"path"`
		RequestID uint64 `json:"requestId"`
	}
	if err := json.Unmarshal(data, &path); err != nil {
		return nil, malformed(msgType, err)
	}
	if path.Path == nil {
		return nil, invalid(msgType, "missing path")
	}

	switch msgType {
	case TypeChangeDirectory:
		return ChangeDirectory{Path: path.Path, RequestID: path.RequestID}, nil
	case TypeDelete:
		return Delete{Path: path.Path}, nil
	case TypeReveal:
		return Reveal{Path: path.Path}, nil
	default:
		return nil, invalid(msgType, "unknown message type")
	}
}

func discriminant(data []byte) (string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return "", malformed("", err)
	}
	if env.Type == "" {
		return "", invalid("", "missing type field")
	}
	return env.Type, nil
}

func validateEntry(msgType, field string, e Entry) error {
	if e.Path == nil {
		return invalid(msgType, "%s: missing path", field)
	}
	switch e.Kind {
	case KindFile:
		return nil
	case KindDirectory:
		if !e.ScanState.Valid() {
			return invalid(msgType, "%s: unknown scanState %q", field, e.ScanState)
		}
		return nil
	default:
		return invalid(msgType, "%s: unknown entry type %q", field, e.Kind)
	}
}

func validateDirectoryChange(m DirectoryChange) error {
	const msgType = TypeDirectoryChange

	current := m.CurrentDirectory
	if err := validateEntry(msgType, "currentDirectory", current); err != nil {
		return err
	}
	if !current.IsDir() {
		return invalid(msgType, "currentDirectory must be a directory")
	}

	if len(m.BreadcrumbEntries) != len(current.Path)+1 {
		return invalid(msgType, "expected %d breadcrumb entries, got %d",
			len(current.Path)+1, len(m.BreadcrumbEntries))
	}
	for i, crumb := range m.BreadcrumbEntries {
		field := fmt.Sprintf("breadcrumbEntries[%d]", i)
		if err := validateEntry(msgType, field, crumb); err != nil {
			return err
		}
		if !crumb.IsDir() {
			return invalid(msgType, "%s must be a directory", field)
		}
		if !crumb.Path.Equal(current.Path[:i]) {
			return invalid(msgType, "%s: path %v is not an ancestor of %v", field, crumb.Path, current.Path)
		}
	}

	seen := make(map[string]struct{}, len(m.Entries))
	for i, e := range m.Entries {
		field := fmt.Sprintf("entries[%d]", i)
		if err := validateEntry(msgType, field, e); err != nil {
			return err
		}
		if e.Path.IsRoot() || !e.Path.Parent().Equal(current.Path) {
			return invalid(msgType, "%s: path %v is not a child of %v", field, e.Path, current.Path)
		}
		id := strings.Join(e.Path, "\x00")
		if _, dup := seen[id]; dup {
			return invalid(msgType, "%s: duplicate path %v", field, e.Path)
		}
		seen[id] = struct{}{}
	}

	return nil
}
